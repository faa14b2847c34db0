// model/reservation.go
package model

import "time"

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCompleted ReservationStatus = "completed"
)

// Reservation links a user to a book. It is created active, transitions to
// completed exactly once and never back, or is deleted via bulk cancellation.
// UserName and BookTitle are snapshots taken at creation for the read side.
type Reservation struct {
	ReservationID   string            `json:"reservation_id"`
	UserID          string            `json:"user_id"`
	BookID          string            `json:"book_id"`
	UserName        string            `json:"user_name"`
	BookTitle       string            `json:"book_title"`
	Status          ReservationStatus `json:"status"`
	ReservationDate time.Time         `json:"reservation_date"`
	ReturnDeadline  time.Time         `json:"return_deadline"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}
