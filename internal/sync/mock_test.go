package sync

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bikegriffith/chronos-calendar/internal/model"
	"github.com/bikegriffith/chronos-calendar/internal/remote"
	"github.com/bikegriffith/chronos-calendar/internal/store"
)

// --- Mock calendar service ---------------------------------------------------

type listCall struct {
	calendarID string
	opts       remote.ListOptions
}

type mockService struct {
	mu        sync.Mutex
	calendars []model.Calendar
	events    map[string]map[string]model.Event // calendarID → eventID → event
	nextID    int

	// Injected failures. Nil means the call succeeds.
	failListCalendars error
	failListEvents    error
	failCreate        error
	failUpdate        error
	failDelete        error

	// failEventsFor fails ListEvents only for this calendar id.
	failEventsFor string

	listCalls []listCall
	callOrder []string // "create evt", "update evt-1", "delete evt-2", ...
}

func newMockService(calendars ...model.Calendar) *mockService {
	m := &mockService{
		calendars: calendars,
		events:    make(map[string]map[string]model.Event),
	}
	for _, c := range calendars {
		m.events[c.ID] = make(map[string]model.Event)
	}
	return m
}

func (m *mockService) seed(calendarID string, events ...model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events[calendarID] == nil {
		m.events[calendarID] = make(map[string]model.Event)
	}
	for _, ev := range events {
		ev.CalendarID = calendarID
		m.events[calendarID][ev.ID] = ev
	}
}

func (m *mockService) ListCalendars(_ context.Context) ([]model.Calendar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failListCalendars != nil {
		return nil, m.failListCalendars
	}
	out := make([]model.Calendar, len(m.calendars))
	copy(out, m.calendars)
	return out, nil
}

func (m *mockService) ListEvents(_ context.Context, calendarID string, r model.Range, opts remote.ListOptions) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls = append(m.listCalls, listCall{calendarID: calendarID, opts: opts})

	if m.failListEvents != nil {
		return nil, m.failListEvents
	}
	if m.failEventsFor == calendarID {
		return nil, &remote.Error{Kind: remote.KindTransient, Status: 502}
	}

	var out []model.Event
	for _, ev := range m.events[calendarID] {
		if ev.Cancelled() && !opts.ShowDeleted {
			continue
		}
		if opts.UpdatedMin != nil && ev.UpdatedAt.Before(*opts.UpdatedMin) {
			continue
		}
		if !ev.Cancelled() && !ev.Overlaps(r.Start, r.End) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (m *mockService) CreateEvent(_ context.Context, calendarID string, draft model.EventDraft) (model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return model.Event{}, m.failCreate
	}

	m.nextID++
	ev := model.Event{
		ID:         fmt.Sprintf("evt-%d", m.nextID),
		CalendarID: calendarID,
		Title:      draft.Title,
		Start:      draft.Start,
		End:        draft.End,
		Status:     model.StatusConfirmed,
		UpdatedAt:  time.Now().UTC(),
	}
	if m.events[calendarID] == nil {
		m.events[calendarID] = make(map[string]model.Event)
	}
	m.events[calendarID][ev.ID] = ev
	m.callOrder = append(m.callOrder, "create "+ev.Title)
	return ev, nil
}

func (m *mockService) UpdateEvent(_ context.Context, calendarID, eventID string, patch model.EventPatch) (model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdate != nil {
		return model.Event{}, m.failUpdate
	}

	ev, ok := m.events[calendarID][eventID]
	if !ok {
		return model.Event{}, &remote.Error{Kind: remote.KindNotFound, Status: 404}
	}
	if patch.Title != nil {
		ev.Title = *patch.Title
	}
	if patch.Start != nil {
		ev.Start = *patch.Start
	}
	if patch.End != nil {
		ev.End = *patch.End
	}
	ev.UpdatedAt = time.Now().UTC()
	m.events[calendarID][eventID] = ev
	m.callOrder = append(m.callOrder, "update "+eventID)
	return ev, nil
}

func (m *mockService) DeleteEvent(_ context.Context, calendarID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete != nil {
		return m.failDelete
	}
	if _, ok := m.events[calendarID][eventID]; !ok {
		return &remote.Error{Kind: remote.KindNotFound, Status: 404}
	}
	delete(m.events[calendarID], eventID)
	m.callOrder = append(m.callOrder, "delete "+eventID)
	return nil
}

func (m *mockService) eventCount(calendarID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events[calendarID])
}

func (m *mockService) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.callOrder))
	copy(out, m.callOrder)
	return out
}

func (m *mockService) eventLists() []listCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]listCall, len(m.listCalls))
	copy(out, m.listCalls)
	return out
}

// --- Mock connectivity probe -------------------------------------------------

type mockProbe struct {
	mu     sync.Mutex
	online bool
	ch     chan bool
}

func newMockProbe(online bool) *mockProbe {
	return &mockProbe{online: online, ch: make(chan bool, 4)}
}

func (p *mockProbe) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func (p *mockProbe) Changes() <-chan bool { return p.ch }

func (p *mockProbe) set(online bool) {
	p.mu.Lock()
	changed := p.online != online
	p.online = online
	p.mu.Unlock()
	if changed {
		p.ch <- online
	}
}

// --- Fixture -----------------------------------------------------------------

func openTestCache(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestOrchestrator(t *testing.T, svc *mockService, probe *mockProbe) (*Orchestrator, *store.Store) {
	t.Helper()
	cache := openTestCache(t)
	o := New(svc, cache, probe, Options{SyncInterval: time.Hour}, testLogger)
	return o, cache
}
