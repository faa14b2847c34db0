// model/book.go
package model

import "time"

type BookStatus string

const (
	BookAvailable  BookStatus = "available"
	BookCheckedOut BookStatus = "checked_out"
)

// Book is owned by the book registry. Status is the only mutable field and is
// the serialization point for checkout: it may only change through a
// compare-and-set carrying the version the writer observed.
type Book struct {
	BookID    string     `json:"book_id"`
	Title     string     `json:"title"`
	Status    BookStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}
