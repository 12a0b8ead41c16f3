package scan

import (
	"errors"
	"testing"
	"time"

	"github.com/drfirst/medscan/internal/domain/medication"
)

var fixedNow = time.Date(2025, time.January, 20, 9, 30, 0, 0, time.UTC)

func testSession(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return fixedNow }
	}
	return NewSession(cfg, nil)
}

func extraction(rec medication.Record) medication.ExtractionResult {
	return medication.ExtractionResult{Record: rec, Confidence: 40, Recognized: rec.KnownFields()}
}

func beginPhoto(t *testing.T, s *Session) Ticket {
	t.Helper()
	if s.Mode() == ModeSelect {
		if err := s.ChooseMode(ModeOCR); err != nil {
			t.Fatalf("ChooseMode: %v", err)
		}
	}
	tk, err := s.Begin(CallExtract)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return tk
}

func TestCancelDiscardsInFlightResult(t *testing.T) {
	s := testSession(Config{})
	tk := beginPhoto(t, s)

	if err := s.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	err := s.ResolveExtraction(tk, extraction(medication.Record{Name: medication.Some("Metformin")}), nil)
	if !errors.Is(err, ErrStaleResult) {
		t.Fatalf("expected ErrStaleResult, got %v", err)
	}
	if s.Record().Name.IsSet() {
		t.Error("stale result mutated the record")
	}
	if s.Mode() != ModeCancelled {
		t.Errorf("expected cancelled, got %s", s.Mode())
	}
}

func TestReopenDiscardsResultFromPreviousCapture(t *testing.T) {
	s := testSession(Config{})
	old := beginPhoto(t, s)

	s.Close()
	if _, err := s.Begin(CallExtract); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed on closed session, got %v", err)
	}
	if err := s.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	current := beginPhoto(t, s)

	if err := s.ResolveExtraction(old, extraction(medication.Record{Name: medication.Some("Old")}), nil); !errors.Is(err, ErrStaleResult) {
		t.Fatalf("expected stale old ticket, got %v", err)
	}
	if err := s.ResolveExtraction(current, extraction(medication.Record{Name: medication.Some("New")}), nil); err != nil {
		t.Fatalf("current ticket rejected: %v", err)
	}
	if got := s.Record().Name.OrElse(""); got != "New" {
		t.Errorf("name = %q, want New", got)
	}
}

func TestTicketResolvesOnlyOnce(t *testing.T) {
	s := testSession(Config{})
	tk := beginPhoto(t, s)
	res := extraction(medication.Record{Name: medication.Some("Metformin")})

	if err := s.ResolveExtraction(tk, res, nil); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if err := s.ResolveExtraction(tk, res, nil); !errors.Is(err, ErrStaleResult) {
		t.Fatalf("second resolve: expected ErrStaleResult, got %v", err)
	}
	if v := s.View(); v.PhotoCount != 1 {
		t.Errorf("photo count = %d, want 1", v.PhotoCount)
	}
}

func TestBeginWhileProcessing(t *testing.T) {
	s := testSession(Config{})
	beginPhoto(t, s)
	if _, err := s.Begin(CallExtract); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestBeginRequiresMatchingMode(t *testing.T) {
	s := testSession(Config{})
	if _, err := s.Begin(CallLookup); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from select, got %v", err)
	}
	if err := s.ChooseMode(ModeBarcode); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Begin(CallSearch); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for search in barcode mode, got %v", err)
	}
	if err := s.ChooseMode(ModeOCR); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition choosing twice, got %v", err)
	}
}

func TestMultiPhotoMerge(t *testing.T) {
	s := testSession(Config{})

	tk := beginPhoto(t, s)
	first := medication.Record{Name: medication.Some("Metformin")}
	if err := s.ResolveExtraction(tk, extraction(first), nil); err != nil {
		t.Fatal(err)
	}

	if err := s.AddPhoto(); err != nil {
		t.Fatalf("AddPhoto: %v", err)
	}
	tk = beginPhoto(t, s)
	second := medication.Record{Name: medication.Some("Glucophage"), Strength: medication.Some("500mg")}
	if err := s.ResolveExtraction(tk, extraction(second), nil); err != nil {
		t.Fatal(err)
	}

	rec := s.Record()
	if got := rec.Name.OrElse(""); got != "Metformin" {
		t.Errorf("name = %q, want Metformin", got)
	}
	if got := rec.Strength.OrElse(""); got != "500mg" {
		t.Errorf("strength = %q, want 500mg", got)
	}
	if v := s.View(); v.PhotoCount != 2 || v.Mode != ModeSuccess {
		t.Errorf("got photos=%d mode=%s", v.PhotoCount, v.Mode)
	}
}

func TestAutoSelectBoundary(t *testing.T) {
	tests := []struct {
		confidence int
		selected   bool
	}{
		{95, true},
		{90, true},
		{89, false},
	}
	for _, tc := range tests {
		s := testSession(Config{})
		tk := beginPhoto(t, s)
		suggestions := []medication.SuggestedCondition{{Condition: "Type 2 Diabetes", Confidence: tc.confidence}}
		if err := s.ResolveExtraction(tk, extraction(medication.Record{Name: medication.Some("Metformin")}), suggestions); err != nil {
			t.Fatal(err)
		}
		rec, err := s.Commit()
		if err != nil {
			t.Fatalf("Commit: %v", err)
		}
		if got := rec.PrescribedFor.IsSet(); got != tc.selected {
			t.Errorf("confidence %d: selected=%v, want %v", tc.confidence, got, tc.selected)
		}
		if tc.selected && rec.PrescribedFor.OrElse("") != "Type 2 Diabetes" {
			t.Errorf("prescribedFor = %q", rec.PrescribedFor.OrElse(""))
		}
	}
}

func TestConditionPrecedenceAtCommit(t *testing.T) {
	tests := []struct {
		name     string
		fallback string
		auto     int
		explicit string
		want     string

		labelPatient  string
		callerPatient string
		setPatient    string
		wantPatient   string
	}{
		{name: "explicit wins", fallback: "Default", auto: 95, explicit: "Chosen", want: "Chosen"},
		{name: "auto over default", fallback: "Default", auto: 95, want: "Type 2 Diabetes"},
		{name: "default when not confident", fallback: "Default", auto: 60, want: "Default"},
		{name: "unset", auto: 60, want: ""},
		{name: "label patient kept", auto: 60, labelPatient: "Ann Lee", wantPatient: "Ann Lee"},
		{name: "caller patient over label", auto: 60, labelPatient: "Ann Lee", callerPatient: "Ann", wantPatient: "Ann"},
		{name: "set patient over caller and label", auto: 60, labelPatient: "Ann Lee", callerPatient: "Ann", setPatient: "Bo", wantPatient: "Bo"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := testSession(Config{PrescribedFor: tc.fallback, PatientName: tc.callerPatient})
			tk := beginPhoto(t, s)
			suggestions := []medication.SuggestedCondition{{Condition: "Type 2 Diabetes", Confidence: tc.auto}}
			scanned := medication.Record{Name: medication.Some("Metformin"), PatientName: medication.Text(tc.labelPatient)}
			if err := s.ResolveExtraction(tk, extraction(scanned), suggestions); err != nil {
				t.Fatal(err)
			}
			if tc.explicit != "" {
				if err := s.SelectCondition(tc.explicit); err != nil {
					t.Fatal(err)
				}
			}
			if tc.setPatient != "" {
				if err := s.SetPatient(tc.setPatient); err != nil {
					t.Fatal(err)
				}
			}
			rec, err := s.Commit()
			if err != nil {
				t.Fatal(err)
			}
			if got := rec.PrescribedFor.OrElse(""); got != tc.want {
				t.Errorf("prescribedFor = %q, want %q", got, tc.want)
			}
			if tc.want == "" && rec.PrescribedFor.IsSet() {
				t.Error("expected prescribedFor to stay unset")
			}
			if got := rec.PatientName.OrElse(""); got != tc.wantPatient {
				t.Errorf("patientName = %q, want %q", got, tc.wantPatient)
			}
		})
	}
}

func TestEmptySuggestionsKeepDefault(t *testing.T) {
	s := testSession(Config{PrescribedFor: "Hypertension"})
	tk := beginPhoto(t, s)
	if err := s.ResolveExtraction(tk, extraction(medication.Record{Name: medication.Some("Lisinopril")}), nil); err != nil {
		t.Fatal(err)
	}
	if got := s.View().SelectedCondition.OrElse(""); got != "Hypertension" {
		t.Errorf("selected = %q, want Hypertension", got)
	}
}

func TestCommitFiresCallbackOnce(t *testing.T) {
	var got []medication.Record
	s := testSession(Config{
		PatientName: "Jane Doe",
		OnCommitted: func(r medication.Record) { got = append(got, r) },
	})
	tk := beginPhoto(t, s)
	if err := s.ResolveExtraction(tk, extraction(medication.Record{
		Name:        medication.Some("Metformin"),
		PatientName: medication.Some("J DOE"),
	}), nil); err != nil {
		t.Fatal(err)
	}

	rec, err := s.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := s.Commit(); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("second commit: expected ErrSessionClosed, got %v", err)
	}
	if err := s.Cancel(); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("cancel after commit: expected ErrSessionClosed, got %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("callback fired %d times, want 1", len(got))
	}
	if rec.ID == "" || got[0].ID != rec.ID {
		t.Errorf("record id mismatch: %q vs %q", rec.ID, got[0].ID)
	}
	if !rec.ScannedAt.Equal(fixedNow) {
		t.Errorf("scannedAt = %v", rec.ScannedAt)
	}
	if rec.PatientName.OrElse("") != "Jane Doe" {
		t.Errorf("patient = %q, want session attribution", rec.PatientName.OrElse(""))
	}
}

func TestCommitRequiresSuccess(t *testing.T) {
	s := testSession(Config{})
	if _, err := s.Commit(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestSearchResults(t *testing.T) {
	single := []medication.Info{{Name: "Lisinopril", Strength: "10mg"}}
	multiple := []medication.Info{{Name: "Metformin", Strength: "500mg"}, {Name: "Metformin ER", Strength: "750mg"}}

	t.Run("single match applies", func(t *testing.T) {
		s := testSession(Config{})
		_ = s.ChooseMode(ModeManual)
		tk, _ := s.Begin(CallSearch)
		if err := s.ResolveSearch(tk, single, nil); err != nil {
			t.Fatal(err)
		}
		v := s.View()
		if v.Mode != ModeSuccess || v.Record.Name.OrElse("") != "Lisinopril" || len(v.Candidates) != 0 {
			t.Errorf("got %+v", v)
		}
	})

	t.Run("several matches wait for a pick", func(t *testing.T) {
		s := testSession(Config{})
		_ = s.ChooseMode(ModeManual)
		tk, _ := s.Begin(CallSearch)
		if err := s.ResolveSearch(tk, multiple, nil); err != nil {
			t.Fatal(err)
		}
		if s.Record().Name.IsSet() {
			t.Error("name set before pick")
		}
		if _, err := s.Commit(); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("commit before pick: got %v", err)
		}
		if err := s.PickResult(5); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("out of range pick: got %v", err)
		}
		if err := s.PickResult(1); err != nil {
			t.Fatal(err)
		}
		if got := s.Record().Strength.OrElse(""); got != "750mg" {
			t.Errorf("strength = %q", got)
		}
	})

	t.Run("no match fails and retry returns to select", func(t *testing.T) {
		s := testSession(Config{})
		_ = s.ChooseMode(ModeManual)
		tk, _ := s.Begin(CallSearch)
		if err := s.ResolveSearch(tk, nil, nil); err != nil {
			t.Fatal(err)
		}
		v := s.View()
		if v.Mode != ModeError || v.Error == nil || v.Error.Kind != medication.KindLookupNotFound {
			t.Fatalf("got mode=%s err=%v", v.Mode, v.Error)
		}
		if err := s.Retry(); err != nil {
			t.Fatal(err)
		}
		if s.Mode() != ModeSelect {
			t.Errorf("mode = %s, want select", s.Mode())
		}
	})
}

func TestLookupNotFound(t *testing.T) {
	s := testSession(Config{})
	_ = s.ChooseMode(ModeBarcode)
	tk, _ := s.Begin(CallLookup)
	if err := s.ResolveLookup(tk, nil, nil); err != nil {
		t.Fatal(err)
	}
	v := s.View()
	if v.Mode != ModeError || v.Error == nil || !errors.Is(v.Error, medication.ErrLookupNotFound) {
		t.Errorf("got mode=%s err=%v", v.Mode, v.Error)
	}
}

func TestFailClassifiesTransportErrors(t *testing.T) {
	s := testSession(Config{})
	tk := beginPhoto(t, s)
	if err := s.Fail(tk, errors.New("connection reset")); err != nil {
		t.Fatal(err)
	}
	v := s.View()
	if v.Error == nil || v.Error.Kind != medication.KindTransportFailure {
		t.Errorf("got %v", v.Error)
	}
}

func TestEdit(t *testing.T) {
	s := testSession(Config{})
	tk := beginPhoto(t, s)
	if err := s.ResolveExtraction(tk, extraction(medication.Record{
		Name:     medication.Some("Metformin"),
		Strength: medication.Some("50mg"),
	}), nil); err != nil {
		t.Fatal(err)
	}

	err := s.Edit(map[medication.Field]string{
		medication.FieldStrength:      "500mg",
		medication.FieldQuantity:      "60 tablets",
		medication.FieldName:          "",
		medication.FieldPrescribedFor: "Type 2 Diabetes",
	})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	rec := s.Record()
	if rec.Strength.OrElse("") != "500mg" || rec.Quantity.OrElse("") != "60 tablets" {
		t.Errorf("edit not applied: %+v", rec)
	}
	if rec.Name.IsSet() {
		t.Error("blank edit should clear the name")
	}
	if got := s.View().SelectedCondition.OrElse(""); got != "Type 2 Diabetes" {
		t.Errorf("selected = %q", got)
	}

	if err := s.Edit(map[medication.Field]string{medication.FieldRefills: "many"}); err == nil {
		t.Error("expected invalid refills to fail")
	}
	if err := s.Edit(map[medication.Field]string{"bogus": "x"}); err == nil {
		t.Error("expected unknown field to fail")
	}
}

func TestViewProjectsStatuses(t *testing.T) {
	s := testSession(Config{})
	tk := beginPhoto(t, s)
	fill := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	if err := s.ResolveExtraction(tk, extraction(medication.Record{
		Name:           medication.Some("Metformin"),
		Quantity:       medication.Some("30 tablets"),
		Frequency:      medication.Some("Take 1 tablet daily"),
		FillDate:       medication.Some(fill),
		ExpirationDate: medication.Some(fill.AddDate(0, 0, 29)),
	}), nil); err != nil {
		t.Fatal(err)
	}
	v := s.View()
	if v.Refill == nil || v.Refill.DaysRemaining != 11 {
		t.Errorf("refill = %+v", v.Refill)
	}
	if v.Expiration == nil || v.Expiration.DaysUntilExpiration != 10 {
		t.Errorf("expiration = %+v", v.Expiration)
	}
	if v.Confidence <= 0 || v.Bucket == "" {
		t.Errorf("confidence=%d bucket=%q", v.Confidence, v.Bucket)
	}
}

func TestEventsRecorded(t *testing.T) {
	s := testSession(Config{})
	tk := beginPhoto(t, s)
	_ = s.Cancel()
	_ = s.ResolveExtraction(tk, extraction(medication.Record{}), nil)

	var types []EventType
	for _, e := range s.Events() {
		if e.ID == "" || e.SessionID != s.ID() {
			t.Errorf("malformed event %+v", e)
		}
		types = append(types, e.EventType)
	}
	want := []EventType{EventSessionOpened, EventModeChosen, EventCallStarted, EventSessionCancelled, EventStaleResult}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, types[i], want[i])
		}
	}
}
