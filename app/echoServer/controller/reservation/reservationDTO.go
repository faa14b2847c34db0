package reservation

import "time"

type CreateReservationReq struct {
	UserID string `json:"user_id" validate:"required,uuid4"`
	BookID string `json:"book_id" validate:"required,uuid4"`
}

// UpdateReservationReq carries a return (status) or an extension
// (return_deadline), never both: combining them would leave the ordering of
// the book flip and the deadline check ambiguous, so such bodies are rejected.
type UpdateReservationReq struct {
	Status         *string    `json:"status" validate:"omitempty,oneof=completed"`
	ReturnDeadline *time.Time `json:"return_deadline"`
}

type BulkCancelReq struct {
	ReservationIDs []string `json:"reservation_ids" validate:"required,min=1,dive,uuid4"`
}
