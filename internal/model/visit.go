package model

import (
	"time"

	"github.com/google/uuid"
)

// Visit is the append-only record written when a doctor completes a token.
// Never mutated after creation.
type Visit struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	TokenID       uuid.UUID  `db:"token_id" json:"token_id"`
	DoctorID      uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	Symptoms      string     `db:"symptoms" json:"symptoms,omitempty"`
	Diagnosis     string     `db:"diagnosis" json:"diagnosis,omitempty"`
	Vitals        JSONText   `db:"vitals" json:"vitals,omitempty"`
	Prescriptions JSONText   `db:"prescriptions" json:"prescriptions,omitempty"`
	FollowUpDate  *string    `db:"follow_up_date" json:"follow_up_date,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

type CompleteTokenRequest struct {
	TokenID       uuid.UUID      `json:"token_id" binding:"required"`
	Symptoms      string         `json:"symptoms" binding:"max=2000"`
	Diagnosis     string         `json:"diagnosis" binding:"max=2000"`
	Vitals        map[string]any `json:"vitals"`
	Prescriptions []Prescription `json:"prescriptions"`
	FollowUpDate  *string        `json:"follow_up_date" binding:"omitempty,appointmentdate"`
}

type Prescription struct {
	Medicine  string `json:"medicine" binding:"required,max=200"`
	Dosage    string `json:"dosage" binding:"max=100"`
	Frequency string `json:"frequency" binding:"max=100"`
	Duration  string `json:"duration" binding:"max=100"`
}
