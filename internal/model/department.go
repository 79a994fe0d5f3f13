package model

type Department struct {
	Base
	Name                string  `db:"name" json:"name"`
	IsOpen              bool    `db:"is_open" json:"is_open"`
	MaxCounters         int     `db:"max_counters" json:"max_counters"`
	ConsultationFee     float64 `db:"consultation_fee" json:"consultation_fee"`
	SlotDurationMinutes int     `db:"slot_duration_minutes" json:"slot_duration_minutes"`
}

type CreateDepartmentRequest struct {
	Name                string  `json:"name" binding:"required,max=120"`
	MaxCounters         int     `json:"max_counters" binding:"required,min=1"`
	ConsultationFee     float64 `json:"consultation_fee" binding:"min=0"`
	SlotDurationMinutes int     `json:"slot_duration_minutes" binding:"required,min=1"`
}

type UpdateDepartmentRequest struct {
	Name                *string  `json:"name"`
	MaxCounters         *int     `json:"max_counters"`
	ConsultationFee     *float64 `json:"consultation_fee"`
	SlotDurationMinutes *int     `json:"slot_duration_minutes"`
}
