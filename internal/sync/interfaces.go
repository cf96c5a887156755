// Package sync implements the offline-first synchronization core for the
// chronos calendar client. The [Orchestrator] routes every read and write to
// the network or the local cache, queues writes that cannot reach the server,
// replays them once connectivity returns, and exposes an observable sync
// status to the UI.
//
// The package contains three cooperating pieces:
//
//   - the read/write paths ([Orchestrator.Calendars], [Orchestrator.Events],
//     and the event write methods), which transparently choose
//     network-or-cache;
//   - the background loop ([Orchestrator.Run]) driving periodic and
//     reconnect-triggered syncs;
//   - the mutation flush, which drains the durable offline queue in FIFO
//     order without head-of-line blocking.
package sync

import (
	"context"
	"time"

	"github.com/bikegriffith/chronos-calendar/internal/model"
	"github.com/bikegriffith/chronos-calendar/internal/remote"
	"github.com/bikegriffith/chronos-calendar/internal/store"
)

// CalendarService provides access to the remote calendar API.
// Implemented by [remote.Client].
type CalendarService interface {
	ListCalendars(ctx context.Context) ([]model.Calendar, error)
	ListEvents(ctx context.Context, calendarID string, r model.Range, opts remote.ListOptions) ([]model.Event, error)
	CreateEvent(ctx context.Context, calendarID string, draft model.EventDraft) (model.Event, error)
	UpdateEvent(ctx context.Context, calendarID, eventID string, patch model.EventPatch) (model.Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// CacheStore provides access to the local calendar replica.
// Implemented by [store.Store].
type CacheStore interface {
	PutEvents(ctx context.Context, calendarID string, events []model.Event) error
	ApplyEvent(ctx context.Context, ev model.Event, pending bool) error
	RemoveEvent(ctx context.Context, calendarID, eventID string) error
	EventsInRange(ctx context.Context, calendarIDs []string, rangeStart, rangeEnd time.Time) ([]store.CachedEvent, error)
	PruneOutsideWindow(ctx context.Context, now time.Time, radius time.Duration) (int64, error)

	SetSyncMeta(ctx context.Context, calendarID string, lastSyncAt time.Time) error
	AllSyncMeta(ctx context.Context) (map[string]time.Time, error)

	EnqueueMutation(ctx context.Context, m *model.Mutation) error
	Mutations(ctx context.Context) ([]model.Mutation, error)
	DequeueMutation(ctx context.Context, id int64) error
	CountMutations(ctx context.Context) (int, error)

	SetCalendarList(ctx context.Context, list []model.Calendar, cachedAt time.Time) error
	CalendarList(ctx context.Context) ([]model.Calendar, time.Time, error)
}

// ConnectivityProbe reports whether the network is reachable and publishes
// online/offline transitions. Implemented by [connectivity.Pinger]; faked in
// tests.
type ConnectivityProbe interface {
	Online() bool
	Changes() <-chan bool
}
