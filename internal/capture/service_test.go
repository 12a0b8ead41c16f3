package capture

import (
	"context"
	"errors"
	"testing"

	"github.com/drfirst/medscan/internal/capture/capturetest"
	"github.com/drfirst/medscan/internal/domain/medication"
	"github.com/drfirst/medscan/internal/domain/scan"
	"github.com/drfirst/medscan/internal/observability/metrics"
)

func newService(store RecordStore, m SessionMetrics) *Service {
	controller := scan.NewController(capturetest.Collaborators(), nil, nil, nil)
	return NewService(scan.NewManager(0, nil), controller, store, m, nil)
}

func TestCommitPersistsAndUnregisters(t *testing.T) {
	store := &capturetest.Store{}
	m := &capturetest.Metrics{}
	svc := newService(store, m)
	ctx := context.Background()

	sess := svc.Open(OpenOptions{PatientName: "Ada"})
	if _, err := svc.Controller().Search(ctx, sess, "metformin"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	rec, err := svc.Commit(ctx, sess)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if got, _ := rec.PrescribedFor.Get(); got != "Type 2 Diabetes" {
		t.Errorf("prescribedFor = %q, want auto-selected condition", got)
	}
	if got, _ := rec.PatientName.Get(); got != "Ada" {
		t.Errorf("patientName = %q", got)
	}
	if stored, err := svc.Record(ctx, rec.ID); err != nil || stored.DisplayName() != "Metformin Hydrochloride" {
		t.Errorf("Record = %+v, %v", stored, err)
	}
	if _, err := svc.Session(sess.ID()); !errors.Is(err, scan.ErrSessionNotFound) {
		t.Errorf("committed session still registered: %v", err)
	}
	if m.Opened != 1 || m.Finished[metrics.OutcomeCommitted] != 1 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestCommitKeepsSessionWhenStoreFails(t *testing.T) {
	store := &capturetest.Store{Err: errors.New("db down")}
	svc := newService(store, nil)
	ctx := context.Background()

	sess := svc.Open(OpenOptions{})
	if _, err := svc.Controller().Search(ctx, sess, "metformin"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	rec, err := svc.Commit(ctx, sess)
	if err == nil {
		t.Fatal("expected persist error")
	}
	if rec.ID == "" {
		t.Error("committed record not returned on persist failure")
	}
	if got, err := svc.Session(sess.ID()); err != nil || got.Mode() != scan.ModeCommitted {
		t.Errorf("session after failed persist: %v", err)
	}
}

func TestCancelAndOpenAs(t *testing.T) {
	m := &capturetest.Metrics{}
	svc := newService(nil, m)

	first := svc.OpenAs("chat-1", OpenOptions{})
	second := svc.OpenAs("chat-1", OpenOptions{})
	if first.Mode() != scan.ModeCancelled {
		t.Errorf("replaced session mode = %s", first.Mode())
	}
	if err := svc.Cancel(second); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := svc.Cancel(second); !errors.Is(err, scan.ErrSessionClosed) {
		t.Errorf("second Cancel = %v", err)
	}
	if m.Opened != 2 || m.Finished[metrics.OutcomeCancelled] != 2 {
		t.Errorf("metrics = %+v", m)
	}
	if _, err := svc.Record(context.Background(), "x"); !errors.Is(err, ErrNoStore) {
		t.Errorf("Record without store = %v", err)
	}
}

func TestAcquireReusesLiveSession(t *testing.T) {
	m := &capturetest.Metrics{}
	svc := newService(nil, m)

	first := svc.Acquire("chat-1", OpenOptions{})
	if again := svc.Acquire("chat-1", OpenOptions{}); again != first {
		t.Error("live session not reused")
	}
	if err := svc.Cancel(first); err != nil {
		t.Fatal(err)
	}
	if next := svc.Acquire("chat-1", OpenOptions{}); next == first || next.Mode().Terminal() {
		t.Error("finished session not replaced")
	}
	if m.Opened != 2 {
		t.Errorf("opened = %d", m.Opened)
	}
	if _, err := svc.PatientRecords(context.Background(), "Ann", 5); !errors.Is(err, ErrNoStore) {
		t.Errorf("PatientRecords without store = %v", err)
	}
}

func TestFallbackConditions(t *testing.T) {
	table := &capturetest.Conditions{List: []medication.SuggestedCondition{{Condition: "Hypertension", Confidence: 80}}}
	rec := medication.Record{Name: medication.Some("Lisinopril")}

	tests := []struct {
		name    string
		primary *capturetest.Conditions
		want    string
	}{
		{"primary answers", &capturetest.Conditions{List: []medication.SuggestedCondition{{Condition: "Heart Failure"}}}, "Heart Failure"},
		{"primary fails", &capturetest.Conditions{Err: medication.ErrTransportFailure}, "Hypertension"},
		{"primary empty", &capturetest.Conditions{}, "Hypertension"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFallbackConditions(tt.primary, table, nil)
			got, err := f.Suggest(context.Background(), rec)
			if err != nil || len(got) != 1 || got[0].Condition != tt.want {
				t.Errorf("Suggest = %+v, %v", got, err)
			}
		})
	}

	f := NewFallbackConditions(nil, nil, nil)
	if got, err := f.Suggest(context.Background(), rec); got != nil || err != nil {
		t.Errorf("empty chain = %+v, %v", got, err)
	}
}
