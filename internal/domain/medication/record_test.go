package medication

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestOptJSON(t *testing.T) {
	rec := Record{Name: Some("Metformin"), Refills: Some(0)}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	body := string(data)
	if !strings.Contains(body, `"strength":null`) {
		t.Errorf("unknown strength should encode as null: %s", body)
	}
	if !strings.Contains(body, `"refills":0`) {
		t.Errorf("known zero refills should encode as 0: %s", body)
	}

	var back Record
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back.Strength.IsSet() {
		t.Error("strength should decode as unknown")
	}
	if r, ok := back.Refills.Get(); !ok || r != 0 {
		t.Errorf("refills = %d (set=%v)", r, ok)
	}
}

func TestRecordSetAndClear(t *testing.T) {
	var rec Record

	if err := rec.Set(FieldStrength, " 20mg "); err != nil {
		t.Fatalf("set strength: %v", err)
	}
	if s, _ := rec.Strength.Get(); s != "20mg" {
		t.Errorf("strength = %q", s)
	}

	if err := rec.Set(FieldFillDate, "01/15/2025"); err != nil {
		t.Fatalf("set fill date: %v", err)
	}
	if d, _ := rec.FillDate.Get(); !d.Equal(time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("fill date = %v", d)
	}

	if err := rec.Set(FieldWarnings, "Take with food; Avoid alcohol"); err != nil {
		t.Fatalf("set warnings: %v", err)
	}
	if w, _ := rec.Warnings.Get(); len(w) != 2 || w[1] != "Avoid alcohol" {
		t.Errorf("warnings = %v", w)
	}

	if err := rec.Set(FieldRefills, "-1"); err == nil {
		t.Error("expected error for negative refills")
	}

	if err := rec.Set(FieldStrength, ""); err != nil {
		t.Fatalf("clear strength: %v", err)
	}
	if rec.Strength.IsSet() {
		t.Error("blank value should clear the field")
	}

	if err := rec.Set(Field("color"), "blue"); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2025-03-04", time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)},
		{"03/04/2025", time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)},
		{"3/4/25", time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)},
		{"03-04-2025", time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)},
		{"02/2024", time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"JAN 2026", time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)},
		{"Mar 5, 2025", time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		got, err := ParseDate(tt.in)
		if err != nil {
			t.Errorf("ParseDate(%q) error: %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseDate("next tuesday"); err == nil {
		t.Error("expected error for free text")
	}
}

func TestNormalizeMonthWordsKeepsUTF8(t *testing.T) {
	tests := map[string]string{
		"JAN 2026":   "Jan 2026",
		"march 2026": "March 2026",
		"ÉTÉ 2026":   "Été 2026",
		"03/01/2026": "03/01/2026",
	}
	for in, want := range tests {
		got := normalizeMonthWords(in)
		if got != want || !utf8.ValidString(got) {
			t.Errorf("normalizeMonthWords(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2025, 1, 1, 23, 59, 0, 0, time.UTC)
	b := time.Date(2025, 1, 31, 0, 1, 0, 0, time.UTC)
	if got := DaysBetween(a, b); got != 30 {
		t.Errorf("DaysBetween = %d, want 30", got)
	}
	if got := DaysBetween(b, a); got != -30 {
		t.Errorf("DaysBetween reversed = %d, want -30", got)
	}
}

func TestClassify(t *testing.T) {
	if Classify(nil) != nil {
		t.Error("nil error should classify as nil")
	}

	ce := Classify(errors.New("connection reset"))
	if ce.Kind != KindTransportFailure || !errors.Is(ce, ErrTransportFailure) {
		t.Errorf("plain error classified as %s", ce.Kind)
	}

	ce = Classify(ExtractionFailed(nil))
	if ce.Kind != KindExtractionFailed || !errors.Is(ce, ErrExtractionFailed) {
		t.Errorf("extraction failure classified as %s", ce.Kind)
	}

	ce = Classify(NotFound("NDC 00000-0000-00"))
	if ce.Kind != KindLookupNotFound || !errors.Is(ce, ErrLookupNotFound) {
		t.Errorf("not found classified as %s", ce.Kind)
	}
}

func TestParseField(t *testing.T) {
	tests := []struct {
		in   string
		want Field
		ok   bool
	}{
		{"fillDate", FieldFillDate, true},
		{"fill_date", FieldFillDate, true},
		{" PHARMACY-PHONE ", FieldPharmacyPhone, true},
		{"rxcui", FieldRxCUI, true},
		{"dosage", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseField(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseField(%q) = %q, %v", tt.in, got, ok)
		}
	}
}
