package sync

import (
	"context"
	"time"
)

// Status is the orchestrator's coarse state, as shown to the UI.
type Status string

const (
	// StatusIdle is the resting state between sync cycles.
	StatusIdle Status = "idle"
	// StatusSyncing means a sync or flush pass is in flight.
	StatusSyncing Status = "syncing"
	// StatusError means the last sync pass failed; LastError has details.
	StatusError Status = "error"
	// StatusOffline means the connectivity probe reports no network.
	StatusOffline Status = "offline"
)

// Snapshot is the synchronous view of sync state handed to UI observers.
// Reads never fail to the UI; instead the UI renders cached data and uses
// this snapshot to indicate staleness and pending writes.
type Snapshot struct {
	Status         Status
	Online         bool
	LastSyncAt     time.Time
	LastError      string
	PendingCount   int
	CacheTimestamp time.Time
}

// Snapshot returns the current sync state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Subscribe registers fn to be called after every sync-state change and
// returns the matching unsubscribe function. Notifications are synchronous;
// the UI re-renders on each one.
func (o *Orchestrator) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	return Snapshot{
		Status:         o.status,
		Online:         o.online,
		LastSyncAt:     o.lastSyncAt,
		LastError:      o.lastErr,
		PendingCount:   o.pendingCount,
		CacheTimestamp: o.cacheTimestamp,
	}
}

// mutate applies fn to the state under the lock, then notifies every
// subscriber with the resulting snapshot. Callbacks run outside the lock so
// they can call back into the orchestrator.
func (o *Orchestrator) mutate(fn func()) {
	o.mu.Lock()
	fn()
	snap := o.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(o.subs))
	for _, f := range o.subs {
		fns = append(fns, f)
	}
	o.mu.Unlock()

	for _, f := range fns {
		f(snap)
	}
}

func (o *Orchestrator) setSyncing() {
	o.mutate(func() { o.status = StatusSyncing })
}

func (o *Orchestrator) setIdle(syncedAt time.Time) {
	o.mutate(func() {
		o.status = StatusIdle
		o.lastSyncAt = syncedAt
		o.lastErr = ""
	})
}

func (o *Orchestrator) setSyncError(err error) {
	o.mutate(func() {
		o.status = StatusError
		o.lastErr = err.Error()
	})
}

// noteError records a failure in the snapshot without leaving the current
// status. Used by read paths, which surface failures passively.
func (o *Orchestrator) noteError(err error) {
	o.mutate(func() { o.lastErr = err.Error() })
}

func (o *Orchestrator) setOnline(online bool) {
	o.mutate(func() {
		o.online = online
		if online {
			if o.status == StatusOffline {
				o.status = StatusIdle
			}
		} else {
			o.status = StatusOffline
		}
	})
}

// refreshPending re-derives the pending-mutation count from the durable
// queue. Failures degrade silently; the count is advisory.
func (o *Orchestrator) refreshPending(ctx context.Context) {
	n, err := o.cache.CountMutations(ctx)
	if err != nil {
		o.log.Warn("counting pending mutations", "error", err)
		return
	}
	o.mutate(func() { o.pendingCount = n })
}

func (o *Orchestrator) setCacheTimestamp(t time.Time) {
	o.mutate(func() { o.cacheTimestamp = t })
}
