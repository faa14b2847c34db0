// Package notify is the outbound invalidation port. The core emits
// (entity_kind, entity_id) events after every successful mutation; read-side
// caches subscribe and purge or refetch. No caching policy lives here.
package notify

import (
	"log/slog"

	"github.com/MichalRedm/distributed-library-system/model"
)

type Notifier interface {
	Invalidate(ev model.Invalidation)
}

// LogNotifier writes every invalidation to the structured log.
type LogNotifier struct {
	Log *slog.Logger
}

func (n *LogNotifier) Invalidate(ev model.Invalidation) {
	n.Log.Info("invalidation", "entity_kind", ev.Kind, "entity_id", ev.ID)
}

// Fanout delivers each event to every configured sink.
type Fanout struct {
	sinks []Notifier
}

func NewFanout(sinks ...Notifier) *Fanout { return &Fanout{sinks: sinks} }

func (f *Fanout) Invalidate(ev model.Invalidation) {
	for _, sink := range f.sinks {
		sink.Invalidate(ev)
	}
}

// Discard drops all events; used in tests and when no consumer is wired.
type Discard struct{}

func (Discard) Invalidate(model.Invalidation) {}
