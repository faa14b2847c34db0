package model

import "time"

// User is immutable after creation. Username is unique across the system.
type User struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
