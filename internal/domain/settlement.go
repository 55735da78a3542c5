package domain

import "time"

// PaymentFailure records why the sweep could not settle one payment.
type PaymentFailure struct {
	PaymentID string `json:"payment_id"`
	Error     string `json:"error"`
}

// SettlementReport is the outcome of one settlement sweep.
type SettlementReport struct {
	RunID          string           `json:"run_id"`
	ThresholdHours int              `json:"threshold_hours"`
	ProcessedCount int              `json:"processed_count"`
	FlaggedCount   int              `json:"flagged_count"`
	Failures       []PaymentFailure `json:"failures"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     time.Time        `json:"finished_at"`
	ArchiveKey     string           `json:"archive_key,omitempty"`
}
