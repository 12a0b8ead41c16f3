package scan

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestManagerSweepExpiresIdleSessions(t *testing.T) {
	now := time.Date(2025, time.May, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(10*time.Minute, nil)
	m.now = func() time.Time { return now }

	var expired []string
	m.OnExpire = func(s *Session) { expired = append(expired, s.ID()) }

	stale := m.Open(Config{})
	now = now.Add(8 * time.Minute)
	fresh := m.Open(Config{})
	now = now.Add(5 * time.Minute)

	if n := m.Sweep(); n != 1 {
		t.Fatalf("swept %d sessions, want 1", n)
	}
	if _, err := m.Get(stale.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("stale session still registered: %v", err)
	}
	if stale.Mode() != ModeCancelled {
		t.Errorf("stale session mode = %s", stale.Mode())
	}
	if _, err := m.Get(fresh.ID()); err != nil {
		t.Errorf("fresh session removed: %v", err)
	}
	if len(expired) != 1 || expired[0] != stale.ID() {
		t.Errorf("expired = %v", expired)
	}
}

func TestManagerOpenAsReplacesSession(t *testing.T) {
	m := NewManager(0, nil)
	first := m.OpenAs("chat-1", Config{})
	second := m.OpenAs("chat-1", Config{})

	if first.Mode() != ModeCancelled {
		t.Errorf("replaced session mode = %s", first.Mode())
	}
	got, err := m.Get("chat-1")
	if err != nil || got != second {
		t.Fatalf("Get returned %v, %v", got, err)
	}
	if m.Len() != 1 {
		t.Errorf("len = %d", m.Len())
	}
	m.Remove("chat-1")
	if m.Len() != 0 {
		t.Errorf("len after remove = %d", m.Len())
	}
}

func TestManagerGetOrOpenSharesSession(t *testing.T) {
	m := NewManager(0, nil)

	const callers = 16
	got := make([]*Session, callers)
	opened := make([]bool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], opened[i] = m.GetOrOpen("chat-1", Config{})
		}(i)
	}
	wg.Wait()

	opens := 0
	for i, s := range got {
		if s != got[0] {
			t.Fatalf("caller %d got a different session", i)
		}
		if opened[i] {
			opens++
		}
	}
	if opens != 1 {
		t.Errorf("opened %d sessions, want 1", opens)
	}
	if got[0].Mode().Terminal() {
		t.Errorf("shared session mode = %s", got[0].Mode())
	}
	if m.Len() != 1 {
		t.Errorf("len = %d", m.Len())
	}

	if err := got[0].Cancel(); err != nil {
		t.Fatal(err)
	}
	next, fresh := m.GetOrOpen("chat-1", Config{})
	if !fresh || next == got[0] {
		t.Error("finished session was not replaced")
	}
}
