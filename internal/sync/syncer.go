package sync

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/bikegriffith/chronos-calendar/internal/model"
	"github.com/bikegriffith/chronos-calendar/internal/remote"
)

// SyncNow runs one full pass: flush the mutation queue, then incrementally
// refresh every known calendar, then prune the cache to the retention window.
// Partial progress is kept — calendars synced before a mid-loop failure keep
// their advanced watermarks. Failures are recorded in the snapshot, never
// thrown past the returned error.
func (o *Orchestrator) SyncNow(ctx context.Context) error {
	o.syncMu.Lock()
	defer o.syncMu.Unlock()

	ctx, span := o.tracer.Start(ctx, spanSync)
	defer span.End()

	o.setSyncing()

	flushed, flushErr := o.flush(ctx)
	if flushed > 0 {
		o.cntFlushed.Add(ctx, int64(flushed))
	}
	span.SetAttributes(attribute.Int("sync.flushed", flushed))

	syncErr := o.syncCalendars(ctx, o.opts.Calendars)

	o.refreshPending(ctx)

	err := flushErr
	if err == nil {
		err = syncErr
	}
	if err != nil {
		span.RecordError(err)
		o.cntErrors.Add(ctx, 1)
		o.setSyncError(err)
		return err
	}

	now := time.Now().UTC()
	o.setIdle(now)
	o.setCacheTimestamp(now)
	return nil
}

// SyncRange refreshes an explicit window for the given calendars, always with
// a full fetch (no watermark narrowing). Used when the UI navigates to a date
// range outside the background sync's default horizon. Same state transitions
// and partial-progress behavior as [Orchestrator.SyncNow].
func (o *Orchestrator) SyncRange(ctx context.Context, calendarIDs []string, r model.Range) error {
	o.syncMu.Lock()
	defer o.syncMu.Unlock()

	ctx, span := o.tracer.Start(ctx, spanSync)
	defer span.End()

	o.setSyncing()

	err := o.syncRange(ctx, calendarIDs, r)
	if err != nil {
		span.RecordError(err)
		o.cntErrors.Add(ctx, 1)
		o.setSyncError(err)
		return err
	}

	now := time.Now().UTC()
	o.setIdle(now)
	o.setCacheTimestamp(now)
	return nil
}

// syncCalendars runs the incremental refresh. calendarIDs narrows the pass;
// nil means every known calendar. Calendars with a watermark fetch only
// changes since it (tombstones included, so server-side deletes do not leave
// ghost rows); calendars that have never synced fetch the full default
// window.
func (o *Orchestrator) syncCalendars(ctx context.Context, calendarIDs []string) error {
	calendars, err := o.knownCalendars(ctx, calendarIDs)
	if err != nil {
		return err
	}

	meta, err := o.cache.AllSyncMeta(ctx)
	if err != nil {
		o.log.Warn("reading watermarks, treating all calendars as never synced", "error", err)
		meta = nil
	}

	window := model.Around(time.Now().UTC(), o.opts.RetentionRadius)

	for _, calID := range calendars {
		opts := remote.ListOptions{}
		if wm, ok := meta[calID]; ok {
			opts.UpdatedMin = &wm
			opts.ShowDeleted = true
		}

		// A failure here stops the pass; earlier calendars keep their
		// advanced watermarks (at-least-once refresh).
		now := time.Now().UTC()
		events, err := o.remote.ListEvents(ctx, calID, window, opts)
		if err != nil {
			return fmt.Errorf("syncing calendar %s: %w", calID, err)
		}
		o.cntFetched.Add(ctx, int64(len(events)))

		if err := o.mergeEvents(ctx, calID, events); err != nil {
			return err
		}
		if err := o.cache.SetSyncMeta(ctx, calID, now); err != nil {
			o.log.Warn("advancing watermark", "calendar", calID, "error", err)
		}
	}

	o.prune(ctx)
	return nil
}

// syncRange is the full-fetch variant used by [Orchestrator.SyncRange].
func (o *Orchestrator) syncRange(ctx context.Context, calendarIDs []string, r model.Range) error {
	calendars, err := o.knownCalendars(ctx, calendarIDs)
	if err != nil {
		return err
	}

	for _, calID := range calendars {
		now := time.Now().UTC()
		events, err := o.remote.ListEvents(ctx, calID, r, remote.ListOptions{})
		if err != nil {
			return fmt.Errorf("syncing range for calendar %s: %w", calID, err)
		}
		o.cntFetched.Add(ctx, int64(len(events)))

		if err := o.mergeEvents(ctx, calID, events); err != nil {
			return err
		}
		if err := o.cache.SetSyncMeta(ctx, calID, now); err != nil {
			o.log.Warn("advancing watermark", "calendar", calID, "error", err)
		}
	}

	o.prune(ctx)
	return nil
}

// knownCalendars resolves the calendar set for a sync pass. With explicit ids
// those are used as-is; otherwise the remote list is fetched (and mirrored)
// when online, falling back to the cached list.
func (o *Orchestrator) knownCalendars(ctx context.Context, calendarIDs []string) ([]string, error) {
	if len(calendarIDs) > 0 {
		return calendarIDs, nil
	}

	if o.probe.Online() {
		list, err := o.remote.ListCalendars(ctx)
		if err == nil {
			if cacheErr := o.cache.SetCalendarList(ctx, list, time.Now().UTC()); cacheErr != nil {
				o.log.Warn("mirroring calendar list to cache", "error", cacheErr)
			}
			return calendarKeys(list), nil
		}
		o.log.Warn("calendar list fetch failed, using cached list", "error", err)
	}

	list, _, err := o.cache.CalendarList(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading cached calendar list: %w", err)
	}
	return calendarKeys(list), nil
}

// mergeEvents applies a fetched batch to the cache: tombstones become
// removals, live events are upserted.
func (o *Orchestrator) mergeEvents(ctx context.Context, calendarID string, events []model.Event) error {
	live := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.Cancelled() {
			if err := o.cache.RemoveEvent(ctx, calendarID, ev.ID); err != nil {
				o.log.Warn("removing cancelled event", "calendar", calendarID, "event", ev.ID, "error", err)
			}
			continue
		}
		live = append(live, ev)
	}
	if err := o.cache.PutEvents(ctx, calendarID, live); err != nil {
		// Cache writes are best-effort mirrors, not the source of truth.
		o.log.Warn("merging events into cache", "calendar", calendarID, "error", err)
	}
	return nil
}

// prune bounds cache growth to the retention window. Failures degrade.
func (o *Orchestrator) prune(ctx context.Context) {
	n, err := o.cache.PruneOutsideWindow(ctx, time.Now().UTC(), o.opts.RetentionRadius)
	if err != nil {
		o.log.Warn("pruning cache", "error", err)
		return
	}
	if n > 0 {
		o.cntPruned.Add(ctx, n)
		o.log.Debug("pruned cached events outside retention window", "count", n)
	}
}

func calendarKeys(list []model.Calendar) []string {
	ids := make([]string, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	return ids
}
