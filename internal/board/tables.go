package board

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

//go:embed plinko_tables.json
var plinkoTablesJSON []byte

var plinkoPayoutTables = mustLoadTables(plinkoTablesJSON)

func mustLoadTables(data []byte) map[string]map[int][]float64 {
	tables, err := loadTables(data)
	if err != nil {
		panic(fmt.Sprintf("failed to parse plinko payout tables: %v", err))
	}
	return tables
}

func loadTables(data []byte) (map[string]map[int][]float64, error) {
	raw := map[string]map[string][]float64{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	result := make(map[string]map[int][]float64, len(raw))
	for risk, rows := range raw {
		if risk == "" {
			return nil, &ConfigurationError{Field: "risk", Reason: "empty risk key in payout tables"}
		}

		result[risk] = make(map[int][]float64, len(rows))
		for rowsKey, multipliers := range rows {
			rowCount, err := strconv.Atoi(rowsKey)
			if err != nil {
				return nil, &ConfigurationError{Field: "rows", Reason: fmt.Sprintf("invalid row key %q for risk %q", rowsKey, risk)}
			}
			if err := ValidateMultipliers(rowCount, multipliers); err != nil {
				return nil, fmt.Errorf("risk %q rows %d: %w", risk, rowCount, err)
			}

			copied := make([]float64, len(multipliers))
			copy(copied, multipliers)
			result[risk][rowCount] = copied
		}
	}

	return result, nil
}

// Table returns a copy of the bundled multiplier table for risk and rows.
func Table(risk string, rows int) ([]float64, error) {
	key := strings.ToLower(strings.TrimSpace(risk))
	riskTables, ok := plinkoPayoutTables[key]
	if !ok {
		return nil, &ConfigurationError{Field: "risk", Reason: fmt.Sprintf("unknown plinko risk %q", risk)}
	}

	table, ok := riskTables[rows]
	if !ok {
		return nil, &ConfigurationError{Field: "rows", Reason: fmt.Sprintf("no payout table for risk %s rows %d (have %v)", risk, rows, RowsFor(key))}
	}

	copied := make([]float64, len(table))
	copy(copied, table)
	return copied, nil
}

// Risks lists the bundled risk profiles in sorted order.
func Risks() []string {
	out := make([]string, 0, len(plinkoPayoutTables))
	for risk := range plinkoPayoutTables {
		out = append(out, risk)
	}
	sort.Strings(out)
	return out
}

// RowsFor lists the row counts that have a bundled table for risk.
func RowsFor(risk string) []int {
	tables := plinkoPayoutTables[risk]
	out := make([]int, 0, len(tables))
	for rows := range tables {
		out = append(out, rows)
	}
	sort.Ints(out)
	return out
}

// ValidateMultipliers checks that a table covers every reachable bucket of a rows-deep walk
// with finite non-negative values and is symmetric around the centre.
func ValidateMultipliers(rows int, multipliers []float64) error {
	if len(multipliers) != rows+1 {
		return &ConfigurationError{
			Field:  "multipliers",
			Reason: fmt.Sprintf("expected %d entries for %d rows, got %d", rows+1, rows, len(multipliers)),
		}
	}
	for i, m := range multipliers {
		if math.IsNaN(m) || math.IsInf(m, 0) || m < 0 {
			return &ConfigurationError{Field: "multipliers", Reason: fmt.Sprintf("bucket %d has invalid multiplier %v", i, m)}
		}
	}
	for i := range multipliers {
		if multipliers[i] != multipliers[rows-i] {
			return &ConfigurationError{
				Field:  "multipliers",
				Reason: fmt.Sprintf("table is not symmetric: bucket %d=%v, bucket %d=%v", i, multipliers[i], rows-i, multipliers[rows-i]),
			}
		}
	}
	return nil
}
