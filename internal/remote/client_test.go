package remote

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bikegriffith/chronos-calendar/internal/model"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, "test-token", slog.Default())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	if _, err := NewClient("not-a-url", "tok", slog.Default()); err == nil {
		t.Error("expected error for invalid URL")
	}
	if _, err := NewClient("ftp://example.com", "tok", slog.Default()); err == nil {
		t.Error("expected error for non-http scheme")
	}
}

func TestListCalendars_Paginates(t *testing.T) {
	var gotAuth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/calendars" {
			t.Errorf("path = %q", r.URL.Path)
		}
		switch r.URL.Query().Get("pageToken") {
		case "":
			_ = json.NewEncoder(w).Encode(calendarsPage{
				Calendars:     []model.Calendar{{ID: "cal-family", Name: "Family"}},
				NextPageToken: "page2",
			})
		case "page2":
			_ = json.NewEncoder(w).Encode(calendarsPage{
				Calendars: []model.Calendar{{ID: "cal-work", Name: "Work"}},
			})
		default:
			t.Errorf("unexpected pageToken %q", r.URL.Query().Get("pageToken"))
		}
	}))

	cals, err := c.ListCalendars(context.Background())
	if err != nil {
		t.Fatalf("ListCalendars: %v", err)
	}
	if len(cals) != 2 {
		t.Fatalf("got %d calendars, want 2", len(cals))
	}
	if cals[0].ID != "cal-family" || cals[1].ID != "cal-work" {
		t.Errorf("calendar order wrong: %+v", cals)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestListEvents_QueryParameters(t *testing.T) {
	updatedMin := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("timeMin") == "" || q.Get("timeMax") == "" {
			t.Error("timeMin/timeMax missing")
		}
		if q.Get("updatedMin") != updatedMin.Format(time.RFC3339) {
			t.Errorf("updatedMin = %q", q.Get("updatedMin"))
		}
		if q.Get("showDeleted") != "true" {
			t.Errorf("showDeleted = %q", q.Get("showDeleted"))
		}
		_ = json.NewEncoder(w).Encode(eventsPage{Events: []model.Event{
			{ID: "evt-1", CalendarID: "cal-family", Title: "Dentist"},
			{ID: "evt-2", CalendarID: "cal-family", Status: model.StatusCancelled},
		}})
	}))

	r := model.Range{Start: updatedMin.AddDate(0, 0, -45), End: updatedMin.AddDate(0, 0, 45)}
	events, err := c.ListEvents(context.Background(), "cal-family", r, ListOptions{
		UpdatedMin:  &updatedMin,
		ShowDeleted: true,
	})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if !events[1].Cancelled() {
		t.Error("tombstone not recognised as cancelled")
	}
}

func TestCreateEvent_ReturnsAuthoritativeCopy(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		var draft model.EventDraft
		if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
			t.Errorf("decoding draft: %v", err)
		}
		_ = json.NewEncoder(w).Encode(model.Event{
			ID:         "evt-server-1",
			CalendarID: "cal-family",
			Title:      draft.Title,
			Start:      draft.Start,
			End:        draft.End,
			Status:     model.StatusConfirmed,
		})
	}))

	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	ev, err := c.CreateEvent(context.Background(), "cal-family", model.EventDraft{
		Title: "Dentist", Start: start, End: start.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if ev.ID != "evt-server-1" {
		t.Errorf("ID = %q, want server-assigned id", ev.ID)
	}
}

func TestDeleteEvent_NotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"no such event"}}`))
	}))

	err := c.DeleteEvent(context.Background(), "cal-family", "evt-gone")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsNotFound(err) {
		t.Errorf("expected not-found kind, got: %v", err)
	}
}

func TestDo_ClassifiesStatuses(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind Kind
	}{
		{"unauthorized", http.StatusUnauthorized, KindAuth},
		{"forbidden", http.StatusForbidden, KindAuth},
		{"not found", http.StatusNotFound, KindNotFound},
		{"bad request", http.StatusBadRequest, KindInvalid},
		{"server error", http.StatusInternalServerError, KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			// Single attempt keeps the transient case fast.
			err := Retry(context.Background(), 1, func() error {
				return c.do(context.Background(), http.MethodGet, "/v1/calendars", nil, nil, nil)
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := kindOf(err); got != tt.wantKind {
				t.Errorf("kind = %v, want %v", got, tt.wantKind)
			}
		})
	}
}

func TestUpdateEvent_RetriesTransient(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(model.Event{ID: "evt-1", Title: "Updated"})
	}))

	title := "Updated"
	ev, err := c.UpdateEvent(context.Background(), "cal-family", "evt-1", model.EventPatch{Title: &title})
	if err != nil {
		t.Fatalf("UpdateEvent: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", calls)
	}
	if ev.Title != "Updated" {
		t.Errorf("Title = %q", ev.Title)
	}
}
