package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/phihealth/appointments-service/internal/scheduling"
)

type CreateAppointmentRequest struct {
	PatientID       string  `json:"patient_id"`
	ProviderID      string  `json:"provider_id"`
	StartTime       string  `json:"start_time"` // RFC 3339
	AppointmentType string  `json:"appointment_type"`
	Reason          *string `json:"reason,omitempty"`
	ActorID         string  `json:"actor_id,omitempty"`
}

type CancelAppointmentRequest struct {
	Reason  *string `json:"reason,omitempty"`
	ActorID string  `json:"actor_id,omitempty"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID `json:"id"`
	PatientID          uuid.UUID `json:"patient_id"`
	ProviderID         uuid.UUID `json:"provider_id"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	AppointmentType    string    `json:"appointment_type"`
	Status             string    `json:"status"`
	Reason             *string   `json:"reason,omitempty"`
	CancellationReason *string   `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

func newAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		PatientID:          a.PatientID,
		ProviderID:         a.ProviderID,
		StartTime:          a.StartTime,
		EndTime:            a.EndTime,
		AppointmentType:    string(a.Type),
		Status:             string(a.Status),
		Reason:             a.Reason,
		CancellationReason: a.CancellationReason,
		CreatedAt:          a.CreatedAt,
	}
}

type CreateScheduleRequest struct {
	ProviderID string `json:"provider_id"`
	DayOfWeek  int    `json:"day_of_week"` // 0 = Monday
	StartTime  string `json:"start_time"`  // "09:00"
	EndTime    string `json:"end_time"`    // "17:00"
	IsActive   *bool  `json:"is_active,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
}

type ScheduleResponse struct {
	ID         uuid.UUID `json:"id"`
	ProviderID uuid.UUID `json:"provider_id"`
	DayOfWeek  int       `json:"day_of_week"`
	StartTime  string    `json:"start_time"`
	EndTime    string    `json:"end_time"`
	IsActive   bool      `json:"is_active"`
}

func newScheduleResponse(w *scheduling.AvailabilityWindow) ScheduleResponse {
	return ScheduleResponse{
		ID:         w.ID,
		ProviderID: w.ProviderID,
		DayOfWeek:  w.DayOfWeek,
		StartTime:  w.StartTime.String(),
		EndTime:    w.EndTime.String(),
		IsActive:   w.IsActive,
	}
}

type SlotResponse struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

type AvailabilityResponse struct {
	ProviderID uuid.UUID      `json:"provider_id"`
	Date       string         `json:"date"`
	Slots      []SlotResponse `json:"slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
