package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
)

func TestPinger_StartsOnline(t *testing.T) {
	p := New(func(context.Context) error { return nil }, 0, slog.Default())
	if !p.Online() {
		t.Error("new pinger should start optimistically online")
	}
}

func TestPinger_TransitionOffline(t *testing.T) {
	p := New(func(context.Context) error { return errors.New("unreachable") }, 0, slog.Default())

	p.check(context.Background())

	if p.Online() {
		t.Error("expected offline after failed check")
	}
	select {
	case online := <-p.Changes():
		if online {
			t.Error("transition channel reported online, want offline")
		}
	default:
		t.Error("expected a transition on the channel")
	}
}

func TestPinger_NoTransitionWhenStable(t *testing.T) {
	p := New(func(context.Context) error { return nil }, 0, slog.Default())

	p.check(context.Background())

	select {
	case <-p.Changes():
		t.Error("unexpected transition while state is stable")
	default:
	}
}

func TestPinger_ConflatesTransitions(t *testing.T) {
	var fail atomic.Bool
	p := New(func(context.Context) error {
		if fail.Load() {
			return errors.New("unreachable")
		}
		return nil
	}, 0, slog.Default())

	// offline, then back online without the consumer reading.
	fail.Store(true)
	p.check(context.Background())
	fail.Store(false)
	p.check(context.Background())

	select {
	case online := <-p.Changes():
		if !online {
			t.Error("conflated channel should hold the newest state (online)")
		}
	default:
		t.Error("expected a transition on the channel")
	}
	select {
	case <-p.Changes():
		t.Error("channel should hold at most one transition")
	default:
	}
}
