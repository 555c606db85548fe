package connectivity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReconnectedIsEdgeTriggered(t *testing.T) {
	m := New(false)

	if m.Reconnected() {
		t.Fatal("no reconnect before any transition")
	}

	m.Set(true)
	if !m.Online() {
		t.Fatal("Online = false after Set(true)")
	}
	if !m.Reconnected() {
		t.Fatal("Reconnected should be true once after offline -> online")
	}
	if m.Reconnected() {
		t.Fatal("Reconnected should clear after being read")
	}

	// staying online is not another edge
	m.Set(true)
	if m.Reconnected() {
		t.Fatal("repeated online observation must not re-arm Reconnected")
	}

	m.Set(false)
	m.Set(true)
	if !m.Reconnected() {
		t.Fatal("second offline -> online should re-arm Reconnected")
	}
}

func TestReconnectClearedByDrop(t *testing.T) {
	m := New(false)
	m.Set(true)
	m.Set(false)
	if m.Reconnected() {
		t.Error("reconnect followed by a drop should not be reported")
	}
}

func TestSubscribeDeliversTransitions(t *testing.T) {
	m := New(false)
	ctx, cancel := context.WithCancel(context.Background())
	ch := m.Subscribe(ctx)

	m.Set(true)
	select {
	case tr := <-ch:
		if !tr.Online || !tr.Reconnected {
			t.Errorf("transition = %+v, want online reconnect", tr)
		}
	case <-time.After(time.Second):
		t.Fatal("no transition delivered")
	}

	m.Set(false)
	tr := <-ch
	if tr.Online || tr.Reconnected {
		t.Errorf("transition = %+v, want offline", tr)
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestSlowSubscriberSeesLatest(t *testing.T) {
	m := New(false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := m.Subscribe(ctx)

	m.Set(true)
	m.Set(false)
	m.Set(true)

	tr := <-ch
	if !tr.Online {
		t.Errorf("latest transition = %+v, want online", tr)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected extra transition %+v", extra)
	default:
	}
}

func TestProberThreshold(t *testing.T) {
	m := New(false)
	var fail bool
	p := &Prober{
		Monitor:       m,
		FailThreshold: 2,
		Check: func(context.Context) error {
			if fail {
				return errors.New("dial tcp: connection refused")
			}
			return nil
		},
	}
	ctx := context.Background()

	p.Probe(ctx)
	if !m.Online() || !m.Reconnected() {
		t.Fatal("first successful probe should come online as a reconnect")
	}

	fail = true
	p.Probe(ctx)
	if !m.Online() {
		t.Fatal("one failed probe should not go offline")
	}
	p.Probe(ctx)
	if m.Online() {
		t.Fatal("two failed probes should go offline")
	}

	fail = false
	p.Probe(ctx)
	if !m.Online() || !m.Reconnected() {
		t.Fatal("recovery should be a reconnect")
	}
}
