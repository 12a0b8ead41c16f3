package r5

import (
	"strings"
	"time"

	"github.com/drfirst/medscan/internal/domain/medication"
	"github.com/drfirst/medscan/internal/projection"
)

// MedicationStatement represents a FHIR R5 MedicationStatement resource
type MedicationStatement struct {
	ResourceType      string              `json:"resourceType"`
	ID                string              `json:"id,omitempty"`
	Meta              *Meta               `json:"meta,omitempty"`
	Contained         []any               `json:"contained,omitempty"`
	Identifier        []Identifier        `json:"identifier,omitempty"`
	Status            string              `json:"status"`
	Category          []CodeableConcept   `json:"category,omitempty"`
	Medication        CodeableReference   `json:"medication"`
	Subject           Reference           `json:"subject"`
	EffectiveDateTime string              `json:"effectiveDateTime,omitempty"`
	DateAsserted      string              `json:"dateAsserted,omitempty"`
	InformationSource []Reference         `json:"informationSource,omitempty"`
	Reason            []CodeableReference `json:"reason,omitempty"`
	Note              []Annotation        `json:"note,omitempty"`
	Dosage            []Dosage            `json:"dosage,omitempty"`
}

// Dosage represents how the medication is taken
type Dosage struct {
	Text   string  `json:"text,omitempty"`
	Timing *Timing `json:"timing,omitempty"`
}

// Timing represents when a dose is taken
type Timing struct {
	Repeat *TimingRepeat `json:"repeat,omitempty"`
}

// TimingRepeat represents a repeating schedule
type TimingRepeat struct {
	Frequency  int     `json:"frequency,omitempty"`
	Period     float64 `json:"period,omitempty"`
	PeriodUnit string  `json:"periodUnit,omitempty"` // s | min | h | d | wk | mo | a
}

const unknownPatient = "Unknown patient"

// MedicationStatementFromRecord maps a committed record to a
// MedicationStatement. Unknown fields are left out; the label's product
// facts go in a contained Medication.
func MedicationStatementFromRecord(rec medication.Record) *MedicationStatement {
	med := medicationFromRecord(rec)
	ms := &MedicationStatement{
		ResourceType: "MedicationStatement",
		ID:           rec.ID,
		Meta:         &Meta{Source: "urn:medscan"},
		Contained:    []any{med},
		Status:       StatusRecorded,
		Category: []CodeableConcept{{
			Coding: []Coding{{System: SystemCategory, Code: "community", Display: "Community"}},
		}},
		Medication: CodeableReference{
			Reference: &Reference{Reference: "#" + containedMedication, Type: "Medication", Display: med.Code.Text},
		},
		Subject: Reference{Type: "Patient", Display: rec.PatientName.OrElse(unknownPatient)},
	}
	if ms.Subject.Display == "" {
		ms.Subject.Display = unknownPatient
	}
	if !rec.ScannedAt.IsZero() {
		ms.DateAsserted = rec.ScannedAt.UTC().Format(layoutDateTime)
		ms.Meta.LastUpdated = ms.DateAsserted
	}
	if fill, ok := rec.FillDate.Get(); ok {
		ms.EffectiveDateTime = fill.UTC().Format(layoutDate)
	}
	if rx, ok := rec.RxNumber.Get(); ok && rx != "" {
		ms.Identifier = append(ms.Identifier, Identifier{Use: "secondary", System: SystemRxNumber, Value: rx})
	}
	if reason, ok := rec.PrescribedFor.Get(); ok && reason != "" {
		ms.Reason = []CodeableReference{{Concept: &CodeableConcept{Text: reason}}}
	}
	if freq, ok := rec.Frequency.Get(); ok && freq != "" {
		ms.Dosage = []Dosage{{
			Text: freq,
			Timing: &Timing{Repeat: &TimingRepeat{
				Frequency:  projection.Multiplier(freq),
				Period:     1,
				PeriodUnit: "d",
			}},
		}}
	}
	if doc, ok := rec.PrescribingDoctor.Get(); ok && doc != "" {
		ms.Contained = append(ms.Contained, newPractitioner(doc))
		ms.InformationSource = append(ms.InformationSource, localRef(containedPrescriber, "Practitioner", doc))
	}
	if pharmacy, ok := rec.PharmacyName.Get(); ok && pharmacy != "" {
		ms.Contained = append(ms.Contained, newPharmacy(pharmacy, rec.PharmacyPhone.OrElse("")))
		ms.InformationSource = append(ms.InformationSource, localRef(containedPharmacy, "Organization", pharmacy))
	}
	for _, w := range rec.Warnings.OrElse(nil) {
		if w = strings.TrimSpace(w); w != "" {
			ms.Note = append(ms.Note, Annotation{Text: w})
		}
	}
	return ms
}

func medicationFromRecord(rec medication.Record) *Medication {
	med := &Medication{
		ResourceType: "Medication",
		ID:           containedMedication,
		Code:         &CodeableConcept{Text: productText(rec)},
	}
	if ndc, ok := rec.NDC.Get(); ok && ndc != "" {
		med.Code.Coding = append(med.Code.Coding, Coding{System: SystemNDC, Code: ndc, Display: rec.DisplayName()})
	}
	if cui, ok := rec.RxCUI.Get(); ok && cui != "" {
		med.Code.Coding = append(med.Code.Coding, Coding{System: SystemRxNorm, Code: cui, Display: rec.DisplayName()})
	}
	if form, ok := rec.DosageForm.Get(); ok && form != "" {
		med.DoseForm = &CodeableConcept{Text: form}
	}
	if exp, ok := rec.ExpirationDate.Get(); ok {
		med.Batch = &MedicationBatch{ExpirationDate: exp.UTC().Format(layoutDate)}
	}
	if q, ok := rec.Quantity.Get(); ok && q != "" {
		med.Extension = append(med.Extension, Extension{URL: ExtensionLabelQuantity, ValueString: q})
	}
	if n, ok := rec.Refills.Get(); ok {
		med.Extension = append(med.Extension, Extension{URL: ExtensionLabelRefills, ValueInteger: &n})
	}
	if class, ok := rec.DrugClass.Get(); ok && class != "" {
		med.Extension = append(med.Extension, Extension{URL: ExtensionDrugClass, ValueString: class})
	}
	return med
}

// productText joins name, strength and form, e.g. "Metformin 500mg Tablet".
func productText(rec medication.Record) string {
	parts := []string{rec.DisplayName(), rec.Strength.OrElse(""), rec.DosageForm.OrElse("")}
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return "Unidentified medication"
	}
	return strings.Join(out, " ")
}

// AssertedAt parses DateAsserted
func (ms *MedicationStatement) AssertedAt() (time.Time, bool) {
	t, err := time.Parse(layoutDateTime, ms.DateAsserted)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
