package label

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/drfirst/medscan/internal/domain/medication"
)

const sampleLabel = `CVS PHARMACY #1234 (555) 123-4567
RX# 1234567
PATIENT: JOHN DOE
METFORMIN HCL 500 MG TABLET
GENERIC FOR GLUCOPHAGE
TAKE 1 TABLET BY MOUTH TWICE DAILY
WITH MEALS
QTY: 60 TABLETS
REFILLS: 3
DATE FILLED: 01/05/2025
DISCARD AFTER: 01/05/2026
DR. JANE SMITH
NDC 00093-1048-01
MAY CAUSE DIZZINESS
DO NOT DRINK ALCOHOL`

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseFullLabel(t *testing.T) {
	res, err := New(nil).Parse(sampleLabel, Hints{Side: SideFront})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	rec := res.Record

	text := []struct {
		name string
		got  medication.Opt[string]
		want string
	}{
		{"name", rec.Name, "Metformin HCL"},
		{"brand", rec.BrandName, "Glucophage"},
		{"strength", rec.Strength, "500mg"},
		{"form", rec.DosageForm, "tablet"},
		{"frequency", rec.Frequency, "Take 1 tablet by mouth twice daily with meals"},
		{"rx", rec.RxNumber, "1234567"},
		{"ndc", rec.NDC, "00093-1048-01"},
		{"quantity", rec.Quantity, "60 tablets"},
		{"pharmacy", rec.PharmacyName, "CVS PHARMACY #1234"},
		{"phone", rec.PharmacyPhone, "(555) 123-4567"},
		{"patient", rec.PatientName, "John Doe"},
		{"prescriber", rec.PrescribingDoctor, "Dr. Jane Smith"},
	}
	for _, tc := range text {
		got, ok := tc.got.Get()
		if !ok {
			t.Errorf("%s: not recognized", tc.name)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}

	if n, ok := rec.Refills.Get(); !ok || n != 3 {
		t.Errorf("refills: got %d (set=%v), want 3", n, ok)
	}
	if d, ok := rec.FillDate.Get(); !ok || !d.Equal(date(2025, time.January, 5)) {
		t.Errorf("fill date: got %v (set=%v)", d, ok)
	}
	if d, ok := rec.ExpirationDate.Get(); !ok || !d.Equal(date(2026, time.January, 5)) {
		t.Errorf("expiration: got %v (set=%v)", d, ok)
	}

	warnings, _ := rec.Warnings.Get()
	want := []string{"May cause dizziness", "Do not drink alcohol"}
	if strings.Join(warnings, "|") != strings.Join(want, "|") {
		t.Errorf("warnings: got %v, want %v", warnings, want)
	}

	if res.Confidence != 100 {
		t.Errorf("expected confidence clamped to 100, got %d", res.Confidence)
	}
	if BucketFor(res.Confidence) != BucketHigh {
		t.Errorf("expected high bucket")
	}
}

func TestParseNonASCIIText(t *testing.T) {
	res, err := New(nil).Parse("ÉPINÉPHRINE 1MG/ML SOLUTION\n• DO NOT FREEZE\n- SHAKE WELL", Hints{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	rec := res.Record

	name := rec.Name.OrElse("")
	if name != "Épinéphrine" || !utf8.ValidString(name) {
		t.Errorf("name = %q", name)
	}
	warnings := rec.Warnings.OrElse(nil)
	want := []string{"Do not freeze", "Shake well"}
	if len(warnings) != len(want) {
		t.Fatalf("warnings = %q, want %q", warnings, want)
	}
	for i, w := range warnings {
		if w != want[i] || !utf8.ValidString(w) {
			t.Errorf("warnings[%d] = %q, want %q", i, w, want[i])
		}
	}
}

func TestCapitalize(t *testing.T) {
	tests := map[string]string{
		"":            "",
		"metformin":   "Metformin",
		"épinéphrine": "Épinéphrine",
		"• x":         "• x",
	}
	for in, want := range tests {
		if got := capitalize(in); got != want {
			t.Errorf("capitalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseNoUsableData(t *testing.T) {
	res, err := New(nil).Parse("~~~ ...\n\n  ", Hints{})
	if !errors.Is(err, ErrNoUsableData) {
		t.Fatalf("expected ErrNoUsableData, got %v", err)
	}
	if !errors.Is(err, medication.ErrExtractionFailed) {
		t.Errorf("expected error to match ErrExtractionFailed")
	}
	if res.Confidence != 0 {
		t.Errorf("expected zero confidence, got %d", res.Confidence)
	}
}

func TestParseSparseLabelStillUsable(t *testing.T) {
	res, err := New(nil).Parse("QTY: 30\nREFILLS: 1", Hints{})
	if err != nil {
		t.Fatalf("sparse label should not fail: %v", err)
	}
	if res.Confidence >= 50 {
		t.Errorf("expected low confidence, got %d", res.Confidence)
	}
	if BucketFor(res.Confidence) != BucketLow {
		t.Errorf("expected low bucket")
	}
	if res.Record.Name.IsSet() {
		t.Errorf("name should be unset")
	}
}

func TestParseBackSideSkipsName(t *testing.T) {
	text := "LISINOPRIL 10 MG TABLET\nMAY CAUSE DIZZINESS"

	front, err := New(nil).Parse(text, Hints{Side: SideFront})
	if err != nil {
		t.Fatalf("front: %v", err)
	}
	if got := front.Record.Name.OrElse(""); got != "Lisinopril" {
		t.Errorf("front name: got %q", got)
	}

	back, err := New(nil).Parse(text, Hints{Side: SideBack})
	if err != nil {
		t.Fatalf("back: %v", err)
	}
	if back.Record.Name.IsSet() {
		t.Errorf("back side must not set the name, got %q", back.Record.Name.OrElse(""))
	}
	if !back.Record.Strength.IsSet() {
		t.Errorf("back side should still read the strength")
	}
}

func TestConfidenceGrowsWithLines(t *testing.T) {
	p := New(nil)
	lines := strings.Split(sampleLabel, "\n")
	prev := 0
	for i := 1; i <= len(lines); i++ {
		res, _ := p.Parse(strings.Join(lines[:i], "\n"), Hints{})
		if res.Confidence < prev {
			t.Fatalf("confidence dropped from %d to %d after line %q", prev, res.Confidence, lines[i-1])
		}
		prev = res.Confidence
	}
}

func TestWeightsScoreMonotonic(t *testing.T) {
	w := Weights{
		medication.FieldName:     60,
		medication.FieldStrength: 50,
		medication.FieldNDC:      -5,
	}
	fields := []medication.Field{medication.FieldNDC, medication.FieldName, medication.FieldStrength, medication.FieldRefills}
	prev := 0
	for i := 1; i <= len(fields); i++ {
		got := w.Score(fields[:i])
		if got < prev {
			t.Errorf("score dropped from %d to %d", prev, got)
		}
		if got > 100 {
			t.Errorf("score %d exceeds 100", got)
		}
		prev = got
	}
	if prev != 100 {
		t.Errorf("expected clamp at 100, got %d", prev)
	}
}

func TestBucketFor(t *testing.T) {
	tests := []struct {
		conf int
		want Bucket
	}{
		{100, BucketHigh},
		{70, BucketHigh},
		{69, BucketMedium},
		{50, BucketMedium},
		{49, BucketLow},
		{0, BucketLow},
	}
	for _, tc := range tests {
		if got := BucketFor(tc.conf); got != tc.want {
			t.Errorf("BucketFor(%d) = %s, want %s", tc.conf, got, tc.want)
		}
		if tc.want.Message() == "" {
			t.Errorf("empty message for %s", tc.want)
		}
	}
}

func TestParseFieldVariants(t *testing.T) {
	p := New(nil)

	t.Run("no refills", func(t *testing.T) {
		res, _ := p.Parse("NO REFILLS REMAINING", Hints{})
		if n, ok := res.Record.Refills.Get(); !ok || n != 0 {
			t.Errorf("got %d (set=%v), want 0", n, ok)
		}
	})

	t.Run("month year expiration", func(t *testing.T) {
		res, _ := p.Parse("EXP 12/2026", Hints{})
		if d, ok := res.Record.ExpirationDate.Get(); !ok || !d.Equal(date(2026, time.December, 31)) {
			t.Errorf("got %v (set=%v)", d, ok)
		}
	})

	t.Run("abbreviated month", func(t *testing.T) {
		res, _ := p.Parse("USE BY SEPT. 2026", Hints{})
		if d, ok := res.Record.ExpirationDate.Get(); !ok || !d.Equal(date(2026, time.September, 30)) {
			t.Errorf("got %v (set=%v)", d, ok)
		}
	})

	t.Run("liquid strength", func(t *testing.T) {
		res, _ := p.Parse("AMOXICILLIN 250 MG/5ML SUSPENSION", Hints{})
		if got := res.Record.Strength.OrElse(""); got != "250mg/5ml" {
			t.Errorf("strength: got %q", got)
		}
		if got := res.Record.DosageForm.OrElse(""); got != "suspension" {
			t.Errorf("form: got %q", got)
		}
		if got := res.Record.Name.OrElse(""); got != "Amoxicillin" {
			t.Errorf("name: got %q", got)
		}
	})

	t.Run("credential suffix", func(t *testing.T) {
		res, _ := p.Parse("JANE SMITH, MD", Hints{})
		if got := res.Record.PrescribingDoctor.OrElse(""); got != "Jane Smith" {
			t.Errorf("prescriber: got %q", got)
		}
	})

	t.Run("advice line is not a prescriber", func(t *testing.T) {
		res, _ := p.Parse("ASK YOUR DOCTOR BEFORE USE", Hints{})
		if res.Record.PrescribingDoctor.IsSet() {
			t.Errorf("unexpected prescriber %q", res.Record.PrescribingDoctor.OrElse(""))
		}
	})

	t.Run("duplicate warnings", func(t *testing.T) {
		res, _ := p.Parse("DO NOT CRUSH\nAVOID SUNLIGHT\ndo not crush", Hints{})
		w, _ := res.Record.Warnings.Get()
		if len(w) != 2 || w[0] != "Do not crush" || w[1] != "Avoid sunlight" {
			t.Errorf("warnings: got %v", w)
		}
	})
}

func TestParseSide(t *testing.T) {
	if ParseSide(" Back ") != SideBack {
		t.Errorf("expected back")
	}
	if ParseSide("sideways") != SideUnknown {
		t.Errorf("expected unknown")
	}
}
