package eventstore

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/prefsd/internal/daemon/events"
	"git.home.luguber.info/inful/prefsd/internal/logfields"
)

// Journal copies bus events into a Store.
type Journal struct {
	store      Store
	maxRecords int
	pruneEvery int
	appended   int
}

// NewJournal journals into store. maxRecords > 0 bounds the journal size.
func NewJournal(store Store, maxRecords int) *Journal {
	every := maxRecords / 10
	if every < 1 {
		every = 1
	}
	return &Journal{store: store, maxRecords: maxRecords, pruneEvery: every}
}

// Subscribe registers on bus before Run so no event published after it is missed.
func (j *Journal) Subscribe(bus *events.Bus, buffer int) (<-chan events.Event, func()) {
	return events.Subscribe[events.Event](bus, buffer)
}

// Run appends every event from ch until ctx ends or ch closes.
func (j *Journal) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			j.record(ctx, evt)
		}
	}
}

func (j *Journal) record(ctx context.Context, evt events.Event) {
	r, ok := FromEvent(evt)
	if !ok {
		return
	}
	if err := j.store.Append(ctx, r); err != nil {
		slog.Warn("Failed to journal event", logfields.Event(r.Type), logfields.Key(r.Subject), logfields.Error(err))
		return
	}
	j.appended++
	if j.maxRecords > 0 && j.appended%j.pruneEvery == 0 {
		if n, err := j.store.Prune(ctx, j.maxRecords); err != nil {
			slog.Warn("Failed to prune journal", logfields.Error(err))
		} else if n > 0 {
			slog.Debug("Pruned journal", logfields.Count(int(n)))
		}
	}
}
