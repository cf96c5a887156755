package sync

import (
	"context"
	"fmt"

	"github.com/bikegriffith/chronos-calendar/internal/model"
	"github.com/bikegriffith/chronos-calendar/internal/remote"
)

// flush replays the durable mutation queue in FIFO order. A failing mutation
// stays queued for the next pass and never blocks the mutations behind it.
// Returns the number of mutations acknowledged and the first error.
func (o *Orchestrator) flush(ctx context.Context) (int, error) {
	muts, err := o.cache.Mutations(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading mutation queue: %w", err)
	}
	if len(muts) == 0 {
		return 0, nil
	}

	o.log.Info("flushing queued mutations", "count", len(muts))

	flushed := 0
	var firstErr error
	for _, m := range muts {
		if err := ctx.Err(); err != nil {
			break
		}

		if err := o.replay(ctx, m); err != nil {
			o.log.Error("mutation replay failed, will retry next flush",
				"id", m.ID,
				"kind", m.Kind,
				"calendar", m.CalendarID,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if err := o.cache.DequeueMutation(ctx, m.ID); err != nil {
			o.log.Error("dequeueing acknowledged mutation", "id", m.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		flushed++
	}

	return flushed, firstErr
}

// replay attempts one queued mutation against the remote service.
func (o *Orchestrator) replay(ctx context.Context, m model.Mutation) error {
	switch m.Kind {
	case model.MutationCreate:
		if m.Draft == nil {
			return fmt.Errorf("create mutation %d has no draft", m.ID)
		}
		// The optimistic temp row goes first so the confirmed row can never
		// coexist with it.
		if m.TempEventID != "" {
			if err := o.cache.RemoveEvent(ctx, m.CalendarID, m.TempEventID); err != nil {
				o.log.Warn("removing optimistic row", "temp_id", m.TempEventID, "error", err)
			}
		}
		ev, err := o.remote.CreateEvent(ctx, m.CalendarID, *m.Draft)
		if err != nil {
			return err
		}
		if err := o.cache.ApplyEvent(ctx, ev, false); err != nil {
			o.log.Warn("caching confirmed create", "event", ev.ID, "error", err)
		}
		return nil

	case model.MutationUpdate:
		if m.Patch == nil {
			return fmt.Errorf("update mutation %d has no patch", m.ID)
		}
		ev, err := o.remote.UpdateEvent(ctx, m.CalendarID, m.EventID, *m.Patch)
		if err != nil {
			return err
		}
		if err := o.cache.ApplyEvent(ctx, ev, false); err != nil {
			o.log.Warn("caching confirmed update", "event", ev.ID, "error", err)
		}
		return nil

	case model.MutationDelete:
		err := o.remote.DeleteEvent(ctx, m.CalendarID, m.EventID)
		if err != nil && !remote.IsNotFound(err) {
			return err
		}
		// Not-found counts as success: the optimistic local delete may
		// already reflect a state the server reached on its own.
		if remote.IsNotFound(err) {
			o.log.Debug("delete target already gone on server", "event", m.EventID)
		}
		return nil

	default:
		return fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
}
