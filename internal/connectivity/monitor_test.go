package connectivity_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fleetsync/internal/connectivity"
)

type scriptedProber struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (p *scriptedProber) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	p.calls++
	if idx >= len(p.results) {
		return p.results[len(p.results)-1]
	}
	return p.results[idx]
}

func (p *scriptedProber) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func nextEvent(t *testing.T, events <-chan connectivity.Event) connectivity.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connectivity event")
	}
	return connectivity.Event{}
}

func TestProbeEmitsOnlyTransitions(t *testing.T) {
	offline := errors.New("dial tcp: connection refused")
	prober := &scriptedProber{results: []error{offline, offline, nil, nil, offline}}
	m := connectivity.NewMonitor(prober)
	ctx := context.Background()

	want := []bool{false, false, true, true, false}
	for i, expected := range want {
		if got := m.Probe(ctx); got != expected {
			t.Fatalf("probe %d: expected online=%v, got %v", i, expected, got)
		}
	}

	var transitions []bool
	for len(transitions) < 3 {
		select {
		case ev := <-m.Events():
			transitions = append(transitions, ev.Online)
		default:
			t.Fatalf("expected 3 transitions, got %v", transitions)
		}
	}
	if transitions[0] || !transitions[1] || transitions[2] {
		t.Fatalf("unexpected transitions %v", transitions)
	}
	select {
	case ev := <-m.Events():
		t.Fatalf("unexpected extra event %#v", ev)
	default:
	}
	if !errors.Is(m.LastError(), offline) {
		t.Fatalf("expected last error recorded, got %v", m.LastError())
	}
}

func TestRunProbesImmediatelyAndOnKick(t *testing.T) {
	prober := &scriptedProber{results: []error{errors.New("offline"), nil}}
	m := connectivity.NewMonitor(prober, connectivity.WithInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	if ev := nextEvent(t, m.Events()); ev.Online {
		t.Fatal("expected first probe offline")
	}
	m.Kick()
	if ev := nextEvent(t, m.Events()); !ev.Online {
		t.Fatal("expected kick to probe and report online")
	}
	if !m.Online() {
		t.Fatal("expected Online() to reflect last probe")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if _, ok := <-m.Events(); ok {
		t.Fatal("expected events channel closed after Run returns")
	}
}

func TestRunProbesOnInterval(t *testing.T) {
	prober := &scriptedProber{results: []error{nil}}
	m := connectivity.NewMonitor(prober, connectivity.WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	nextEvent(t, m.Events())
	deadline := time.Now().Add(2 * time.Second)
	for prober.Calls() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected repeated probes, got %d", prober.Calls())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProberFunc(t *testing.T) {
	called := false
	p := connectivity.ProberFunc(func(context.Context) error {
		called = true
		return nil
	})
	if err := p.Ping(context.Background()); err != nil || !called {
		t.Fatalf("expected ProberFunc to delegate, err=%v called=%v", err, called)
	}
}
