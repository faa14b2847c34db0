package model

type EntityKind string

const (
	KindBook        EntityKind = "book"
	KindUser        EntityKind = "user"
	KindReservation EntityKind = "reservation"
)

// Invalidation tells read-side caches that an entity changed and should be
// purged or refetched. The core only emits these; caching policy lives with
// the consumer.
type Invalidation struct {
	Kind EntityKind `json:"entity_kind"`
	ID   string     `json:"entity_id"`
}
