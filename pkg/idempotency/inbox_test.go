package idempotency

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestGenerateKey(t *testing.T) {
	a := GenerateKey("rec-1", "status", "2026-03-01")
	if len(a) != 64 {
		t.Fatalf("key length = %d, want 64 hex chars", len(a))
	}
	if b := GenerateKey(" rec-1", "status ", "2026-03-01"); b != a {
		t.Errorf("surrounding whitespace changed the key")
	}
	if c := GenerateKey("rec-1", "status", "2026-03-02"); c == a {
		t.Errorf("different day produced the same key")
	}
	if d := GenerateKey("rec-1", "snapshot", "2026-03-01"); d == a {
		t.Errorf("different handler produced the same key")
	}
}

func TestDayKeyUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	evening := time.Date(2026, 3, 1, 21, 0, 0, 0, loc)
	if got := DayKey(evening); got != "2026-03-02" {
		t.Errorf("DayKey = %q, want 2026-03-02", got)
	}
}

func TestTerminal(t *testing.T) {
	base := errors.New("undecodable payload")
	err := fmt.Errorf("status: %w", Terminal(base))
	if !IsTerminal(err) {
		t.Error("wrapped terminal error not detected")
	}
	if !errors.Is(err, base) {
		t.Error("terminal error does not unwrap to its cause")
	}
	if IsTerminal(base) {
		t.Error("plain error reported terminal")
	}
	if Terminal(nil) != nil {
		t.Error("Terminal(nil) != nil")
	}
}
