// Package model defines shared types used across the sync orchestrator, the
// cache store, and the remote calendar client.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event status values as reported by the remote calendar service.
const (
	// StatusConfirmed marks a live event.
	StatusConfirmed = "confirmed"
	// StatusCancelled marks a tombstone returned when deleted events are
	// requested (showDeleted). A cancelled event must be removed from the
	// cache, never stored.
	StatusCancelled = "cancelled"
)

// tempIDPrefix tags event ids generated locally for optimistic offline
// creates, so a pending row can never be mistaken for a server-assigned id.
const tempIDPrefix = "tmp-"

// Calendar is one calendar the account can see, with its display metadata.
type Calendar struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Color      string `json:"color,omitempty"`
	AccessRole string `json:"accessRole,omitempty"`
	Primary    bool   `json:"primary,omitempty"`
}

// Event is the normalised representation of a calendar event shared between
// the remote client, the cache store, and the orchestrator.
type Event struct {
	// ID is either the server-assigned event id or, for an optimistic
	// offline create, a temp id produced by [NewTempID].
	ID string `json:"id"`

	// CalendarID scopes the event to one calendar.
	CalendarID string `json:"calendarId"`

	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Location    string   `json:"location,omitempty"`
	Attendees   []string `json:"attendees,omitempty"`
	Color       string   `json:"color,omitempty"`

	// Start and End bound the event's [start, end) interval. They drive
	// range queries and retention pruning.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// Status is "confirmed" for live events, "cancelled" for deletion
	// tombstones (only present when the fetch asked for deleted events).
	Status string `json:"status,omitempty"`

	// UpdatedAt is the server-side last-modified time.
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Cancelled reports whether the event is a deletion tombstone.
func (e *Event) Cancelled() bool {
	return e.Status == StatusCancelled
}

// Overlaps reports whether the event's interval touches [rangeStart, rangeEnd]:
// start <= rangeEnd AND end >= rangeStart.
func (e *Event) Overlaps(rangeStart, rangeEnd time.Time) bool {
	return !e.Start.After(rangeEnd) && !e.End.Before(rangeStart)
}

// Range is a closed query window [Start, End] over event intervals.
type Range struct {
	Start time.Time
	End   time.Time
}

// Around returns the range spanning radius on each side of now. Used for the
// default sync horizon and retention window.
func Around(now time.Time, radius time.Duration) Range {
	return Range{Start: now.Add(-radius), End: now.Add(radius)}
}

// EventDraft is the payload for creating a new event.
type EventDraft struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
	Color       string    `json:"color,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// EventPatch is a partial update. Nil fields are left untouched by the server.
type EventPatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Location    *string    `json:"location,omitempty"`
	Attendees   *[]string  `json:"attendees,omitempty"`
	Color       *string    `json:"color,omitempty"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
}

// NewTempID returns a locally-unique event id for an optimistic offline
// create. Temp ids never collide with server ids because of the prefix.
func NewTempID() string {
	return tempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was produced by [NewTempID].
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// Materialize builds the optimistic Event shown to the UI for an offline
// create, before the server has confirmed it.
func (d EventDraft) Materialize(calendarID, tempID string, now time.Time) Event {
	return Event{
		ID:          tempID,
		CalendarID:  calendarID,
		Title:       d.Title,
		Description: d.Description,
		Location:    d.Location,
		Attendees:   d.Attendees,
		Color:       d.Color,
		Start:       d.Start,
		End:         d.End,
		Status:      StatusConfirmed,
		UpdatedAt:   now,
	}
}

// MutationKind enumerates the durable write operations the queue can hold.
type MutationKind string

const (
	MutationCreate MutationKind = "create"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

// Mutation is a not-yet-acknowledged write queued while offline. Queue order
// (ascending ID) is the intended application order.
type Mutation struct {
	// ID is the autoincrement queue position. Zero until enqueued.
	ID int64

	Kind       MutationKind
	CalendarID string

	// EventID is the target for update/delete; empty for create.
	EventID string

	// TempEventID tags the optimistic cache row written for an offline
	// create. Empty for update/delete.
	TempEventID string

	// Draft carries the create payload; Patch carries the update payload.
	Draft *EventDraft
	Patch *EventPatch

	CreatedAt time.Time
}
