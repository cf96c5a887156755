package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/bikegriffith/chronos-calendar/internal/model"
	"github.com/bikegriffith/chronos-calendar/internal/remote"
	"github.com/bikegriffith/chronos-calendar/internal/store"
)

const (
	otelScope        = "chronos/sync"
	spanSync         = "sync.pass"
	metricFetched    = "chronos.sync.events.fetched"
	metricFlushed    = "chronos.sync.mutations.flushed"
	metricCacheReads = "chronos.sync.cache.fallbacks"
	metricSyncErrors = "chronos.sync.errors"
	metricPruned     = "chronos.sync.events.pruned"
)

// Options tunes the orchestrator. Zero values fall back to the defaults: a
// 5-minute background interval and a 45-day retention radius on each side of
// now.
type Options struct {
	SyncInterval    time.Duration
	RetentionRadius time.Duration

	// Calendars restricts background sync to these calendar IDs. Empty means
	// every calendar the remote account can see.
	Calendars []string
}

func (opts *Options) applyDefaults() {
	if opts.SyncInterval == 0 {
		opts.SyncInterval = 5 * time.Minute
	}
	if opts.RetentionRadius == 0 {
		opts.RetentionRadius = 45 * 24 * time.Hour
	}
}

// Orchestrator is the stateful sync coordinator. All UI traffic goes through
// it: reads transparently choose network-or-cache, writes go to the network
// when online and to the durable queue when not, and a background loop keeps
// the replica fresh. Create one with [New] and start the loop with
// [Orchestrator.Run].
type Orchestrator struct {
	remote CalendarService
	cache  CacheStore
	probe  ConnectivityProbe
	opts   Options
	log    *slog.Logger

	mu             sync.Mutex
	status         Status
	online         bool
	lastSyncAt     time.Time
	lastErr        string
	pendingCount   int
	cacheTimestamp time.Time
	subs           map[int]func(Snapshot)
	nextSub        int

	// syncMu serialises sync/flush passes so a ticker tick and a reconnect
	// cannot run two passes concurrently.
	syncMu sync.Mutex

	// OTel instruments — always non-nil (no-op when telemetry is disabled).
	tracer        trace.Tracer
	cntFetched    metric.Int64Counter
	cntFlushed    metric.Int64Counter
	cntCacheReads metric.Int64Counter
	cntErrors     metric.Int64Counter
	cntPruned     metric.Int64Counter
}

// New creates an Orchestrator wired to the remote service, the cache store,
// and a connectivity probe. The pending-mutation count is re-derived from the
// durable queue on first use, so a restart never forgets queued writes.
func New(svc CalendarService, cache CacheStore, probe ConnectivityProbe, opts Options, logger *slog.Logger) *Orchestrator {
	opts.applyDefaults()

	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Orchestrator{
		remote: svc,
		cache:  cache,
		probe:  probe,
		opts:   opts,
		log:    logger,

		status: StatusIdle,
		online: probe.Online(),
		subs:   make(map[int]func(Snapshot)),

		tracer:        tracer,
		cntFetched:    mustCounter(metricFetched, "Events fetched from the remote service"),
		cntFlushed:    mustCounter(metricFlushed, "Queued mutations successfully replayed"),
		cntCacheReads: mustCounter(metricCacheReads, "Reads served from the cache instead of the network"),
		cntErrors:     mustCounter(metricSyncErrors, "Sync passes that ended in error"),
		cntPruned:     mustCounter(metricPruned, "Cached events removed by retention pruning"),
	}
}

// CalendarsResult is the answer to a calendar-list read.
type CalendarsResult struct {
	Calendars []model.Calendar
	FromCache bool
	// CachedAt is when the returned snapshot was fetched. For a fresh
	// network result it is the current time.
	CachedAt time.Time
}

// Calendars returns the calendar list, from the network when possible and
// from the cache otherwise. It never fails to the caller; network failures
// are surfaced passively through the sync snapshot.
func (o *Orchestrator) Calendars(ctx context.Context) CalendarsResult {
	if o.probe.Online() {
		list, err := o.remote.ListCalendars(ctx)
		if err == nil {
			now := time.Now().UTC()
			if cacheErr := o.cache.SetCalendarList(ctx, list, now); cacheErr != nil {
				o.log.Warn("mirroring calendar list to cache", "error", cacheErr)
			}
			return CalendarsResult{Calendars: list, CachedAt: now}
		}
		o.log.Warn("calendar list fetch failed, serving cache", "error", err)
		o.noteError(err)
	}

	o.cntCacheReads.Add(ctx, 1)
	list, cachedAt, err := o.cache.CalendarList(ctx)
	if err != nil {
		// Storage degraded: the best we can do is an empty stale result.
		o.log.Error("reading cached calendar list", "error", err)
		o.noteError(err)
		return CalendarsResult{FromCache: true}
	}
	return CalendarsResult{Calendars: list, FromCache: true, CachedAt: cachedAt}
}

// EventsResult is the answer to an event-range read.
type EventsResult struct {
	Events    []store.CachedEvent
	FromCache bool
	// CacheTimestamp is when the returned data was last known fresh: the
	// fetch time for a network result, or the oldest-informative watermark
	// (the max lastSyncAt across the requested calendars) for a cache
	// result. Zero when no requested calendar has ever synced.
	CacheTimestamp time.Time
}

// Events returns all events on the given calendars overlapping r. A
// successful network fetch is mirrored into the cache and advances the
// per-calendar watermarks; any failure falls back to the cache. Never fails
// to the caller.
func (o *Orchestrator) Events(ctx context.Context, calendarIDs []string, r model.Range) EventsResult {
	if o.probe.Online() {
		res, err := o.fetchEvents(ctx, calendarIDs, r)
		if err == nil {
			return res
		}
		o.log.Warn("event fetch failed, serving cache", "error", err)
		o.noteError(err)
	}

	o.cntCacheReads.Add(ctx, 1)
	return o.cachedEvents(ctx, calendarIDs, r)
}

// fetchEvents pulls r from the network for every requested calendar, mirrors
// the results into the cache, and advances the watermarks.
func (o *Orchestrator) fetchEvents(ctx context.Context, calendarIDs []string, r model.Range) (EventsResult, error) {
	now := time.Now().UTC()
	var out []store.CachedEvent

	for _, calID := range calendarIDs {
		events, err := o.remote.ListEvents(ctx, calID, r, remote.ListOptions{})
		if err != nil {
			return EventsResult{}, err
		}
		o.cntFetched.Add(ctx, int64(len(events)))

		if err := o.cache.PutEvents(ctx, calID, events); err != nil {
			o.log.Warn("mirroring events to cache", "calendar", calID, "error", err)
		}
		if err := o.cache.SetSyncMeta(ctx, calID, now); err != nil {
			o.log.Warn("advancing watermark", "calendar", calID, "error", err)
		}

		for _, ev := range events {
			ev.CalendarID = calID
			out = append(out, store.CachedEvent{Event: ev, CachedAt: now})
		}
	}

	o.setCacheTimestamp(now)
	return EventsResult{Events: out, CacheTimestamp: now}, nil
}

// cachedEvents serves a range read from the local replica.
func (o *Orchestrator) cachedEvents(ctx context.Context, calendarIDs []string, r model.Range) EventsResult {
	events, err := o.cache.EventsInRange(ctx, calendarIDs, r.Start, r.End)
	if err != nil {
		o.log.Error("reading cached events", "error", err)
		o.noteError(err)
		return EventsResult{FromCache: true}
	}

	meta, err := o.cache.AllSyncMeta(ctx)
	if err != nil {
		o.log.Warn("reading watermarks", "error", err)
		meta = nil
	}
	var newest time.Time
	for _, calID := range calendarIDs {
		if t, ok := meta[calID]; ok && t.After(newest) {
			newest = t
		}
	}

	return EventsResult{Events: events, FromCache: true, CacheTimestamp: newest}
}

// CreateEvent creates an event. Online it goes straight to the server and
// returns the authoritative copy; a failure is returned to the caller and is
// not queued, since the user is online and the failure is presumed semantic.
// Offline it queues the create and returns an optimistic event under a temp
// id so the UI shows it immediately.
func (o *Orchestrator) CreateEvent(ctx context.Context, calendarID string, draft model.EventDraft) (model.Event, error) {
	if o.probe.Online() {
		ev, err := o.remote.CreateEvent(ctx, calendarID, draft)
		if err != nil {
			o.noteError(err)
			return model.Event{}, err
		}
		if cacheErr := o.cache.ApplyEvent(ctx, ev, false); cacheErr != nil {
			o.log.Warn("mirroring created event to cache", "error", cacheErr)
		}
		o.setCacheTimestamp(time.Now().UTC())
		return ev, nil
	}

	now := time.Now().UTC()
	tempID := model.NewTempID()
	m := &model.Mutation{
		Kind:        model.MutationCreate,
		CalendarID:  calendarID,
		TempEventID: tempID,
		Draft:       &draft,
		CreatedAt:   now,
	}
	if err := o.cache.EnqueueMutation(ctx, m); err != nil {
		// Offline writes never fail to the caller; a lost queue entry is a
		// degraded cache, surfaced through the snapshot.
		o.log.Error("queueing offline create", "error", err)
		o.noteError(err)
	}

	ev := draft.Materialize(calendarID, tempID, now)
	if err := o.cache.ApplyEvent(ctx, ev, true); err != nil {
		o.log.Warn("writing optimistic event", "error", err)
	}
	o.refreshPending(ctx)
	return ev, nil
}

// UpdateEvent patches an event. Online it returns the server's authoritative
// copy. Offline the patch is queued without an optimistic merge — the cached
// copy stays as-is until the flush, and the returned event is nil; the UI
// learns about the pending write through the snapshot's pending count.
func (o *Orchestrator) UpdateEvent(ctx context.Context, calendarID, eventID string, patch model.EventPatch) (*model.Event, error) {
	if o.probe.Online() {
		ev, err := o.remote.UpdateEvent(ctx, calendarID, eventID, patch)
		if err != nil {
			o.noteError(err)
			return nil, err
		}
		if cacheErr := o.cache.ApplyEvent(ctx, ev, false); cacheErr != nil {
			o.log.Warn("mirroring updated event to cache", "error", cacheErr)
		}
		o.setCacheTimestamp(time.Now().UTC())
		return &ev, nil
	}

	m := &model.Mutation{
		Kind:       model.MutationUpdate,
		CalendarID: calendarID,
		EventID:    eventID,
		Patch:      &patch,
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.cache.EnqueueMutation(ctx, m); err != nil {
		o.log.Error("queueing offline update", "error", err)
		o.noteError(err)
	}
	o.refreshPending(ctx)
	return nil, nil
}

// DeleteEvent deletes an event. Online failures are returned to the caller.
// Offline the delete is queued and the cached row removed immediately, so the
// UI stops showing the event before the server confirms.
func (o *Orchestrator) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if o.probe.Online() {
		if err := o.remote.DeleteEvent(ctx, calendarID, eventID); err != nil {
			o.noteError(err)
			return err
		}
		if cacheErr := o.cache.RemoveEvent(ctx, calendarID, eventID); cacheErr != nil {
			o.log.Warn("removing deleted event from cache", "error", cacheErr)
		}
		o.setCacheTimestamp(time.Now().UTC())
		return nil
	}

	m := &model.Mutation{
		Kind:       model.MutationDelete,
		CalendarID: calendarID,
		EventID:    eventID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.cache.EnqueueMutation(ctx, m); err != nil {
		o.log.Error("queueing offline delete", "error", err)
		o.noteError(err)
	}
	if err := o.cache.RemoveEvent(ctx, calendarID, eventID); err != nil {
		o.log.Warn("optimistic delete from cache", "error", err)
	}
	o.refreshPending(ctx)
	return nil
}

// Run starts the background loop: an immediate first pass when online, a
// fixed-interval sync while online, and a flush-plus-sync on every
// offline-to-online transition. It blocks until ctx is cancelled. The ticker
// and the probe subscription are torn down on return.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.probe.Online() {
		o.setOnline(true)
		if err := o.SyncNow(ctx); err != nil {
			o.log.Error("initial sync failed", "error", err)
		}
	} else {
		o.setOnline(false)
	}

	ticker := time.NewTicker(o.opts.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.log.Info("sync orchestrator shutting down")
			return ctx.Err()
		case <-ticker.C:
			if !o.probe.Online() {
				continue
			}
			if err := o.SyncNow(ctx); err != nil {
				o.log.Error("periodic sync failed", "error", err)
			}
		case online := <-o.probe.Changes():
			o.setOnline(online)
			if !online {
				o.log.Info("went offline, writes will be queued")
				continue
			}
			o.log.Info("back online, flushing queued mutations")
			if err := o.SyncNow(ctx); err != nil {
				o.log.Error("reconnect sync failed", "error", err)
			}
		}
	}
}
