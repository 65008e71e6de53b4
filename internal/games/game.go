package games

import (
	"fmt"
	"strings"
)

// GameSpec describes a game for listings and API payloads.
type GameSpec struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MetricLabel string `json:"metric_label"`
}

// Direction is one deflection of the walk.
type Direction int8

const (
	Left Direction = iota
	Right
)

func (d Direction) String() string {
	if d == Right {
		return "right"
	}
	return "left"
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "left":
		*d = Left
	case "right":
		*d = Right
	default:
		return fmt.Errorf("invalid direction %q", text)
	}
	return nil
}

// Outcome is the result of one walk. Bucket counts the Right steps of Pattern.
type Outcome struct {
	Bucket     int         `json:"bucket"`
	Multiplier float64     `json:"multiplier"`
	Pattern    []Direction `json:"pattern"`
	StartX     float64     `json:"start_x"`
}
