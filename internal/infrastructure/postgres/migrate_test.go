package postgres

import (
	"strings"
	"testing"
)

func TestMigrationsAreOrdered(t *testing.T) {
	names, err := Migrations()
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	if len(names) < 2 {
		t.Fatalf("expected at least 2 migrations, got %d", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("migrations out of order: %s before %s", names[i-1], names[i])
		}
	}

	body, err := migrationFS.ReadFile(names[0])
	if err != nil {
		t.Fatalf("read %s: %v", names[0], err)
	}
	for _, table := range []string{"medication_records", "outbox", "inbox"} {
		if !strings.Contains(string(body), "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("%s does not create %s", names[0], table)
		}
	}
}

func TestDefaultOutboxConfig(t *testing.T) {
	cfg := DefaultOutboxConfig()
	if cfg.BatchSize <= 0 || cfg.PollInterval <= 0 || cfg.MaxRetries <= 0 {
		t.Errorf("invalid defaults: %+v", cfg)
	}
}
