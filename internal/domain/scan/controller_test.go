package scan

import (
	"context"
	"errors"
	"testing"

	"github.com/drfirst/medscan/internal/domain/medication"
	"github.com/drfirst/medscan/internal/label"
)

type fakeExtractor struct {
	text   string
	err    error
	during func()
}

func (f *fakeExtractor) ExtractText(ctx context.Context, image []byte, mimeType string) (string, error) {
	if f.during != nil {
		f.during()
	}
	return f.text, f.err
}

type fakeLookup struct {
	info *medication.Info
	err  error
}

func (f *fakeLookup) LookupByCode(ctx context.Context, code string) (*medication.Info, error) {
	return f.info, f.err
}

type fakeSearch struct {
	results []medication.Info
	err     error
}

func (f *fakeSearch) SearchByName(ctx context.Context, query string) ([]medication.Info, error) {
	return f.results, f.err
}

type fakeConditions struct {
	list  []medication.SuggestedCondition
	calls int
	err   error
}

func (f *fakeConditions) Suggest(ctx context.Context, rec medication.Record) ([]medication.SuggestedCondition, error) {
	f.calls++
	return f.list, f.err
}

type countingObserver struct {
	outcomes map[string]int
	stale    int
}

func (o *countingObserver) CaptureOutcome(call CallKind, outcome string) {
	if o.outcomes == nil {
		o.outcomes = make(map[string]int)
	}
	o.outcomes[string(call)+"/"+outcome]++
}

func (o *countingObserver) ExtractionConfidence(int) {}

func (o *countingObserver) StaleResult(CallKind) { o.stale++ }

const metforminLabel = "METFORMIN HCL 500 MG TABLET\nTAKE 1 TABLET TWICE DAILY\nQTY: 60 TABLETS"

func TestControllerPhoto(t *testing.T) {
	conds := &fakeConditions{list: []medication.SuggestedCondition{
		{Condition: "Prediabetes", Confidence: 40},
		{Condition: "Type 2 Diabetes", Confidence: 95},
	}}
	obs := &countingObserver{}
	c := NewController(Collaborators{
		Extractor:  &fakeExtractor{text: metforminLabel},
		Conditions: conds,
	}, label.New(nil), obs, nil)

	s := testSession(Config{})
	v, err := c.Photo(context.Background(), s, []byte("img"), "image/jpeg", label.SideFront)
	if err != nil {
		t.Fatalf("Photo: %v", err)
	}
	if v.Mode != ModeSuccess || v.PhotoCount != 1 {
		t.Fatalf("got mode=%s photos=%d", v.Mode, v.PhotoCount)
	}
	if got := v.Record.Name.OrElse(""); got != "Metformin HCL" {
		t.Errorf("name = %q", got)
	}
	if len(v.Suggestions) != 2 || v.Suggestions[0].Condition != "Type 2 Diabetes" {
		t.Errorf("suggestions not ranked: %+v", v.Suggestions)
	}
	if v.SelectedCondition.OrElse("") != "Type 2 Diabetes" {
		t.Errorf("expected auto-selection, got %q", v.SelectedCondition.OrElse(""))
	}
	if obs.outcomes["extract/success"] != 1 {
		t.Errorf("outcomes = %v", obs.outcomes)
	}

	// A second photo from the review screen adds to the same record.
	c.collab.Extractor = &fakeExtractor{text: "REFILLS: 2\nRX# 998877"}
	v, err = c.Photo(context.Background(), s, []byte("img2"), "image/jpeg", label.SideBack)
	if err != nil {
		t.Fatalf("second Photo: %v", err)
	}
	if v.PhotoCount != 2 || v.Record.RxNumber.OrElse("") != "998877" || v.Record.Name.OrElse("") != "Metformin HCL" {
		t.Errorf("second photo not merged: %+v", v.Record)
	}
}

func TestControllerPhotoCancelledMidCall(t *testing.T) {
	s := testSession(Config{})
	obs := &countingObserver{}
	c := NewController(Collaborators{
		Extractor: &fakeExtractor{text: metforminLabel, during: func() { _ = s.Cancel() }},
	}, nil, obs, nil)

	_, err := c.Photo(context.Background(), s, []byte("img"), "image/png", label.SideUnknown)
	if !errors.Is(err, ErrStaleResult) {
		t.Fatalf("expected ErrStaleResult, got %v", err)
	}
	if s.Record().Name.IsSet() {
		t.Error("cancelled session was mutated")
	}
	if obs.stale != 1 {
		t.Errorf("stale count = %d", obs.stale)
	}
}

func TestControllerPhotoFailures(t *testing.T) {
	tests := []struct {
		name string
		ext  *fakeExtractor
		kind medication.ErrorKind
	}{
		{name: "unreadable text", ext: &fakeExtractor{text: "~~~"}, kind: medication.KindExtractionFailed},
		{name: "extractor found nothing", ext: &fakeExtractor{err: medication.ErrExtractionFailed}, kind: medication.KindExtractionFailed},
		{name: "transport", ext: &fakeExtractor{err: errors.New("503 from upstream")}, kind: medication.KindTransportFailure},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := NewController(Collaborators{Extractor: tc.ext}, nil, nil, nil)
			s := testSession(Config{})
			v, err := c.Photo(context.Background(), s, nil, "image/jpeg", label.SideUnknown)
			var cerr *medication.CaptureError
			if !errors.As(err, &cerr) || cerr.Kind != tc.kind {
				t.Fatalf("got %v, want kind %s", err, tc.kind)
			}
			if v.Mode != ModeError {
				t.Errorf("mode = %s, want error", v.Mode)
			}
		})
	}
}

func TestControllerBarcode(t *testing.T) {
	info := &medication.Info{Name: "Atorvastatin", Strength: "20mg", NDC: "0071-0155-23", RxCUI: "617310"}
	c := NewController(Collaborators{Lookup: &fakeLookup{info: info}}, nil, nil, nil)
	s := testSession(Config{})

	v, err := c.Barcode(context.Background(), s, "0071015523")
	if err != nil {
		t.Fatalf("Barcode: %v", err)
	}
	if v.Record.NDC.OrElse("") != "0071-0155-23" || v.Record.RxCUI.OrElse("") != "617310" {
		t.Errorf("lookup not merged: %+v", v.Record)
	}

	c = NewController(Collaborators{Lookup: &fakeLookup{}}, nil, nil, nil)
	s = testSession(Config{})
	_, err = c.Barcode(context.Background(), s, "000")
	if !errors.Is(err, medication.ErrLookupNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestControllerSearchAndPick(t *testing.T) {
	conds := &fakeConditions{list: []medication.SuggestedCondition{{Condition: "Hypertension", Confidence: 92}}}
	c := NewController(Collaborators{
		Search: &fakeSearch{results: []medication.Info{
			{Name: "Lisinopril", Strength: "10mg"},
			{Name: "Lisinopril", Strength: "20mg"},
		}},
		Conditions: conds,
	}, nil, nil, nil)
	s := testSession(Config{})

	v, err := c.Search(context.Background(), s, "lisin")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(v.Candidates) != 2 || conds.calls != 0 {
		t.Fatalf("candidates=%d calls=%d", len(v.Candidates), conds.calls)
	}

	v, err = c.Pick(context.Background(), s, 1)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if v.Mode != ModeSuccess || v.Record.Strength.OrElse("") != "20mg" {
		t.Errorf("got mode=%s record=%+v", v.Mode, v.Record)
	}
	if v.SelectedCondition.OrElse("") != "Hypertension" || conds.calls != 1 {
		t.Errorf("selected=%q calls=%d", v.SelectedCondition.OrElse(""), conds.calls)
	}
}

func TestControllerConditionFailureIsNotFatal(t *testing.T) {
	c := NewController(Collaborators{
		Search:     &fakeSearch{results: []medication.Info{{Name: "Metformin"}}},
		Conditions: &fakeConditions{err: errors.New("quota exceeded")},
	}, nil, nil, nil)
	s := testSession(Config{PrescribedFor: "Diabetes"})

	v, err := c.Search(context.Background(), s, "metformin")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if v.Mode != ModeSuccess || v.SelectedCondition.OrElse("") != "Diabetes" {
		t.Errorf("got mode=%s selected=%q", v.Mode, v.SelectedCondition.OrElse(""))
	}
}
