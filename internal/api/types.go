package api

import (
	"github.com/MJE43/plinko-engine/internal/drop"
	"github.com/MJE43/plinko-engine/internal/engine"
	"github.com/MJE43/plinko-engine/internal/scan"
	"github.com/MJE43/plinko-engine/internal/store"
)

// EngineError represents a structured error response with context
type EngineError struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

// Error implements the error interface
func (e EngineError) Error() string {
	return e.Message
}

// Error types with proper categorization
const (
	// Input validation errors
	ErrTypeInvalidParams = "invalid_params"
	ErrTypeInvalidBet    = "invalid_bet"
	ErrTypeValidation    = "validation_error"

	// Account errors
	ErrTypeNotFound            = "not_found"
	ErrTypeInsufficientBalance = "insufficient_balance"
	ErrTypeConflict            = "conflict"

	// Drop errors
	ErrTypeDropFailed = "drop_failed"

	// System errors
	ErrTypeTimeout            = "timeout"
	ErrTypeInternal           = "internal_error"
	ErrTypeServiceUnavailable = "service_unavailable"
)

// ErrorCategory represents error categories for monitoring
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryAccount    ErrorCategory = "account"
	CategoryGame       ErrorCategory = "game"
	CategorySystem     ErrorCategory = "system"
	CategoryTimeout    ErrorCategory = "timeout"
)

// GetErrorCategory returns the category for an error type
func GetErrorCategory(errType string) ErrorCategory {
	switch errType {
	case ErrTypeInvalidParams, ErrTypeInvalidBet, ErrTypeValidation:
		return CategoryValidation
	case ErrTypeNotFound, ErrTypeInsufficientBalance, ErrTypeConflict:
		return CategoryAccount
	case ErrTypeDropFailed:
		return CategoryGame
	case ErrTypeTimeout:
		return CategoryTimeout
	default:
		return CategorySystem
	}
}

// VersionInfo contains engine version information
type VersionInfo struct {
	EngineVersion string `json:"engine_version"`
	GitCommit     string `json:"git_commit,omitempty"`
	BuildTime     string `json:"build_time,omitempty"`
}

// DropRequest asks for one ball on the server's board.
type DropRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Bet    int64  `json:"bet" validate:"required,gt=0"`
}

// DropResponse is a settled drop and the balance after settlement.
type DropResponse struct {
	Drop          drop.Result `json:"drop"`
	Balance       int64       `json:"balance"`
	EngineVersion string      `json:"engine_version"`
}

// CreateUserRequest opens an account. Balance defaults to the configured
// starting balance.
type CreateUserRequest struct {
	Name    string `json:"name" validate:"required,min=1,max=64,excludesall=<>\"'"`
	Balance *int64 `json:"balance,omitempty" validate:"omitempty,gte=0"`
}

// UserResponse is an account with its drop statistics.
type UserResponse struct {
	User  *store.User      `json:"user"`
	Stats *store.GameStats `json:"stats,omitempty"`
}

// ScanRequest is the wire form of a distribution scan.
type ScanRequest struct {
	Mode       string       `json:"mode" validate:"omitempty,oneof=walk physics"`
	Rows       int          `json:"rows,omitempty" validate:"omitempty,min=8,max=16"`
	Risk       string       `json:"risk,omitempty"`
	Seeds      engine.Seeds `json:"seeds"`
	NonceStart uint64       `json:"nonce_start"`
	NonceEnd   uint64       `json:"nonce_end"`
	TargetOp   string       `json:"target_op,omitempty"` // "ge", "le", "eq", "gt", "lt", "between", "outside"
	TargetVal  float64      `json:"target_val,omitempty"`
	TargetVal2 float64      `json:"target_val2,omitempty"` // for "between" and "outside"
	Tolerance  float64      `json:"tolerance,omitempty"`
	Limit      int          `json:"limit,omitempty" validate:"gte=0"`
	TimeoutMs  int          `json:"timeout_ms,omitempty" validate:"gte=0"`
	// Save stores the run so it can be listed later.
	Save bool `json:"save,omitempty"`
}

func (r ScanRequest) toScan() scan.Request {
	req := scan.Request{
		Mode:       scan.Mode(r.Mode),
		Rows:       r.Rows,
		Risk:       r.Risk,
		Seeds:      r.Seeds,
		NonceStart: r.NonceStart,
		NonceEnd:   r.NonceEnd,
		TimeoutMs:  r.TimeoutMs,
	}
	if r.TargetOp != "" {
		req.Target = &scan.Target{
			Op:        scan.TargetOp(r.TargetOp),
			Value:     r.TargetVal,
			Value2:    r.TargetVal2,
			Tolerance: r.Tolerance,
			Limit:     r.Limit,
		}
	}
	return req
}

// ScanResponse represents the complete scan response
type ScanResponse struct {
	RunID         string       `json:"run_id,omitempty"`
	Hits          []scan.Hit   `json:"hits"`
	Summary       scan.Summary `json:"summary"`
	EngineVersion string       `json:"engine_version"`
	Echo          ScanRequest  `json:"echo"`
}
