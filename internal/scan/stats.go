package scan

import "math"

// minExpected is the smallest expected count a chi-squared cell may have;
// sparser tail cells are pooled with their neighbours.
const minExpected = 5.0

// BinomialPMF returns P(k rights in rows fair steps) for k = 0..rows.
func BinomialPMF(rows int) []float64 {
	pmf := make([]float64, rows+1)
	for k := 0; k <= rows; k++ {
		lg, _ := math.Lgamma(float64(rows + 1))
		lk, _ := math.Lgamma(float64(k + 1))
		lr, _ := math.Lgamma(float64(rows - k + 1))
		pmf[k] = math.Exp(lg - lk - lr - float64(rows)*math.Ln2)
	}
	return pmf
}

// ChiSquared compares observed bucket counts with the expected probabilities.
// Cells are pooled from the outside in until each holds at least minExpected,
// and the statistic comes with its degrees of freedom.
func ChiSquared(observed []uint64, probs []float64) (chi float64, df int) {
	var total uint64
	for _, c := range observed {
		total += c
	}
	if total == 0 || len(observed) != len(probs) {
		return 0, 0
	}

	type cell struct{ obs, exp float64 }
	var cells []cell
	var acc cell
	for i := range observed {
		acc.obs += float64(observed[i])
		acc.exp += probs[i] * float64(total)
		if acc.exp >= minExpected {
			cells = append(cells, acc)
			acc = cell{}
		}
	}
	if acc.exp > 0 || acc.obs > 0 {
		if len(cells) == 0 {
			cells = append(cells, acc)
		} else {
			last := &cells[len(cells)-1]
			last.obs += acc.obs
			last.exp += acc.exp
		}
	}

	for _, c := range cells {
		if c.exp == 0 {
			continue
		}
		d := c.obs - c.exp
		chi += d * d / c.exp
	}
	return chi, len(cells) - 1
}

// RTP is the mean multiplier over the histogram.
func RTP(histogram []uint64, multipliers []float64) float64 {
	var total uint64
	var sum float64
	for i, c := range histogram {
		total += c
		if i < len(multipliers) {
			sum += float64(c) * multipliers[i]
		}
	}
	if total == 0 {
		return 0
	}
	return sum / float64(total)
}

// ExpectedRTP is the walk's theoretical return for a table.
func ExpectedRTP(multipliers []float64) float64 {
	pmf := BinomialPMF(len(multipliers) - 1)
	var rtp float64
	for i, m := range multipliers {
		rtp += pmf[i] * m
	}
	return rtp
}
