package model

import (
	"time"

	"github.com/google/uuid"
)

type TokenStatus string

const (
	TokenStatusWaiting   TokenStatus = "WAITING"
	TokenStatusCalled    TokenStatus = "CALLED"
	TokenStatusCompleted TokenStatus = "COMPLETED"
	TokenStatusSkipped   TokenStatus = "SKIPPED"
	TokenStatusNoShow    TokenStatus = "NO_SHOW"
	TokenStatusCancelled TokenStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s TokenStatus) Terminal() bool {
	switch s {
	case TokenStatusCompleted, TokenStatusSkipped, TokenStatusNoShow, TokenStatusCancelled:
		return true
	}
	return false
}

type TokenPriority string

const (
	PriorityNormal    TokenPriority = "NORMAL"
	PrioritySenior    TokenPriority = "SENIOR"
	PriorityEmergency TokenPriority = "EMERGENCY"
)

// PriorityRank orders priorities for queue selection; lower rank is served first.
func (p TokenPriority) Rank() int {
	switch p {
	case PriorityEmergency:
		return 0
	case PrioritySenior:
		return 1
	default:
		return 2
	}
}

// Token is one patient's place in a department's queue for a calendar date.
// TokenNumber is unique and monotonically assigned per (department, date),
// starting at 1.
type Token struct {
	Base
	TokenNumber     int           `db:"token_number" json:"token_number"`
	PatientID       uuid.UUID     `db:"patient_id" json:"patient_id"`
	DepartmentID    uuid.UUID     `db:"department_id" json:"department_id"`
	AppointmentDate string        `db:"appointment_date" json:"appointment_date"`
	Priority        TokenPriority `db:"priority" json:"priority"`
	Status          TokenStatus   `db:"status" json:"status"`
	CalledBy        *uuid.UUID    `db:"called_by" json:"called_by,omitempty"`
	CalledAt        *time.Time    `db:"called_at" json:"called_at,omitempty"`
	CompletedAt     *time.Time    `db:"completed_at" json:"completed_at,omitempty"`

	// Derived at read time, never stored.
	WaitingCount int     `db:"-" json:"waiting_count"`
	PatientName  string  `db:"patient_name" json:"patient_name,omitempty"`
	Department   *string `db:"department_name" json:"department,omitempty"`
}

type CreateTokenRequest struct {
	DepartmentID    uuid.UUID     `json:"department_id" binding:"required"`
	AppointmentDate string        `json:"appointment_date" binding:"required,appointmentdate"`
	Priority        TokenPriority `json:"priority" binding:"omitempty,oneof=NORMAL SENIOR EMERGENCY"`
	PatientID       *uuid.UUID    `json:"patient_id"`
}

type CallNextRequest struct {
	DepartmentID uuid.UUID `json:"department_id" binding:"required"`
}

type TokenActionRequest struct {
	TokenID uuid.UUID `json:"token_id" binding:"required"`
}

type TokenPreview struct {
	DepartmentID        uuid.UUID `json:"department_id"`
	AppointmentDate     string    `json:"appointment_date"`
	ExpectedTokenNumber int       `json:"expected_token_number"`
}

type QueueSummary struct {
	DepartmentID uuid.UUID `json:"department_id"`
	Date         string    `json:"date"`
	TotalToday   int       `json:"total_today"`
	Completed    int       `json:"completed"`
	Remaining    int       `json:"remaining"`
	NextWaiting  []*Token  `json:"next_waiting"`
}
