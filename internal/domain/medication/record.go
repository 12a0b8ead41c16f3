// Package medication defines the medication record captured from a label and
// the rules for combining partial captures.
package medication

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field names a record field
type Field string

const (
	FieldName              Field = "name"
	FieldBrandName         Field = "brandName"
	FieldStrength          Field = "strength"
	FieldDosageForm        Field = "dosageForm"
	FieldFrequency         Field = "frequency"
	FieldPrescribedFor     Field = "prescribedFor"
	FieldPrescribingDoctor Field = "prescribingDoctor"
	FieldRxNumber          Field = "rxNumber"
	FieldNDC               Field = "ndc"
	FieldQuantity          Field = "quantity"
	FieldRefills           Field = "refills"
	FieldFillDate          Field = "fillDate"
	FieldExpirationDate    Field = "expirationDate"
	FieldPharmacyName      Field = "pharmacyName"
	FieldPharmacyPhone     Field = "pharmacyPhone"
	FieldWarnings          Field = "warnings"
	FieldPatientName       Field = "patientName"
	FieldImageURL          Field = "imageUrl"
	FieldDrugClass         Field = "drugClass"
	FieldRxCUI             Field = "rxcui"
)

// Fields lists every record field in display order.
var Fields = []Field{
	FieldName, FieldBrandName, FieldStrength, FieldDosageForm, FieldFrequency,
	FieldPrescribedFor, FieldPrescribingDoctor, FieldRxNumber, FieldNDC,
	FieldQuantity, FieldRefills, FieldFillDate, FieldExpirationDate,
	FieldPharmacyName, FieldPharmacyPhone, FieldWarnings, FieldPatientName,
	FieldImageURL, FieldDrugClass, FieldRxCUI,
}

// ParseField maps a user-typed field name onto a Field. Case, underscores
// and dashes are ignored, so "fill_date" and "FillDate" both match.
func ParseField(s string) (Field, bool) {
	key := fieldKey(s)
	for _, f := range Fields {
		if fieldKey(string(f)) == key {
			return f, true
		}
	}
	return "", false
}

func fieldKey(s string) string {
	return strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.TrimSpace(s)))
}

// Record is a medication record (the scanned medication)
type Record struct {
	ID                string         `json:"id,omitempty"`
	Name              Opt[string]    `json:"name"`
	BrandName         Opt[string]    `json:"brandName"`
	Strength          Opt[string]    `json:"strength"`
	DosageForm        Opt[string]    `json:"dosageForm"`
	Frequency         Opt[string]    `json:"frequency"`
	PrescribedFor     Opt[string]    `json:"prescribedFor"`
	PrescribingDoctor Opt[string]    `json:"prescribingDoctor"`
	RxNumber          Opt[string]    `json:"rxNumber"`
	NDC               Opt[string]    `json:"ndc"`
	Quantity          Opt[string]    `json:"quantity"`
	Refills           Opt[int]       `json:"refills"`
	FillDate          Opt[time.Time] `json:"fillDate"`
	ExpirationDate    Opt[time.Time] `json:"expirationDate"`
	PharmacyName      Opt[string]    `json:"pharmacyName"`
	PharmacyPhone     Opt[string]    `json:"pharmacyPhone"`
	Warnings          Opt[[]string]  `json:"warnings"`
	PatientName       Opt[string]    `json:"patientName"`
	ImageURL          Opt[string]    `json:"imageUrl"`
	ScannedAt         time.Time      `json:"scannedAt"`
	DrugClass         Opt[string]    `json:"drugClass"`
	RxCUI             Opt[string]    `json:"rxcui"`
}

// DisplayName returns the name, falling back to the brand name.
func (r Record) DisplayName() string {
	if n, ok := r.Name.Get(); ok && n != "" {
		return n
	}
	return r.BrandName.OrElse("")
}

// Set assigns a field from user-entered text. Blank text clears the field.
func (r *Record) Set(field Field, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return r.Clear(field)
	}

	switch field {
	case FieldRefills:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("refills must be a non-negative integer: %q", value)
		}
		r.Refills = Some(n)
		return nil
	case FieldFillDate, FieldExpirationDate:
		d, err := ParseDate(value)
		if err != nil {
			return err
		}
		if field == FieldFillDate {
			r.FillDate = Some(d)
		} else {
			r.ExpirationDate = Some(d)
		}
		return nil
	case FieldWarnings:
		r.Warnings = Some(splitWarnings(value))
		return nil
	}

	p := r.textField(field)
	if p == nil {
		return fmt.Errorf("unknown field %q", field)
	}
	*p = Some(value)
	return nil
}

// Clear resets a field to unknown.
func (r *Record) Clear(field Field) error {
	switch field {
	case FieldRefills:
		r.Refills = None[int]()
	case FieldFillDate:
		r.FillDate = None[time.Time]()
	case FieldExpirationDate:
		r.ExpirationDate = None[time.Time]()
	case FieldWarnings:
		r.Warnings = None[[]string]()
	default:
		p := r.textField(field)
		if p == nil {
			return fmt.Errorf("unknown field %q", field)
		}
		*p = None[string]()
	}
	return nil
}

func (r *Record) textField(field Field) *Opt[string] {
	switch field {
	case FieldName:
		return &r.Name
	case FieldBrandName:
		return &r.BrandName
	case FieldStrength:
		return &r.Strength
	case FieldDosageForm:
		return &r.DosageForm
	case FieldFrequency:
		return &r.Frequency
	case FieldPrescribedFor:
		return &r.PrescribedFor
	case FieldPrescribingDoctor:
		return &r.PrescribingDoctor
	case FieldRxNumber:
		return &r.RxNumber
	case FieldNDC:
		return &r.NDC
	case FieldQuantity:
		return &r.Quantity
	case FieldPharmacyName:
		return &r.PharmacyName
	case FieldPharmacyPhone:
		return &r.PharmacyPhone
	case FieldPatientName:
		return &r.PatientName
	case FieldImageURL:
		return &r.ImageURL
	case FieldDrugClass:
		return &r.DrugClass
	case FieldRxCUI:
		return &r.RxCUI
	}
	return nil
}

// KnownFields lists the fields that are set, in declaration order.
func (r Record) KnownFields() []Field {
	var out []Field
	add := func(f Field, set bool) {
		if set {
			out = append(out, f)
		}
	}
	add(FieldName, r.Name.IsSet())
	add(FieldBrandName, r.BrandName.IsSet())
	add(FieldStrength, r.Strength.IsSet())
	add(FieldDosageForm, r.DosageForm.IsSet())
	add(FieldFrequency, r.Frequency.IsSet())
	add(FieldPrescribedFor, r.PrescribedFor.IsSet())
	add(FieldPrescribingDoctor, r.PrescribingDoctor.IsSet())
	add(FieldRxNumber, r.RxNumber.IsSet())
	add(FieldNDC, r.NDC.IsSet())
	add(FieldQuantity, r.Quantity.IsSet())
	add(FieldRefills, r.Refills.IsSet())
	add(FieldFillDate, r.FillDate.IsSet())
	add(FieldExpirationDate, r.ExpirationDate.IsSet())
	add(FieldPharmacyName, r.PharmacyName.IsSet())
	add(FieldPharmacyPhone, r.PharmacyPhone.IsSet())
	add(FieldWarnings, r.Warnings.IsSet())
	add(FieldPatientName, r.PatientName.IsSet())
	add(FieldImageURL, r.ImageURL.IsSet())
	add(FieldDrugClass, r.DrugClass.IsSet())
	add(FieldRxCUI, r.RxCUI.IsSet())
	return out
}

func splitWarnings(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == '\n' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ExtractionResult is the parser output: a partial record plus confidence 0..100.
type ExtractionResult struct {
	Record     Record  `json:"record"`
	Confidence int     `json:"confidence"`
	Recognized []Field `json:"recognized"`
}

// SuggestedCondition is a ranked diagnosis candidate for a medication.
type SuggestedCondition struct {
	Condition  string `json:"condition"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// Info is a drug database entry returned by code lookup or name search.
type Info struct {
	Name         string `json:"name"`
	BrandName    string `json:"brandName,omitempty"`
	Strength     string `json:"strength,omitempty"`
	DosageForm   string `json:"dosageForm,omitempty"`
	NDC          string `json:"ndc,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	DrugClass    string `json:"drugClass,omitempty"`
	RxCUI        string `json:"rxcui,omitempty"`
}

// Record converts the entry into a partial record.
func (i Info) Record() Record {
	return Record{
		Name:       Text(i.Name),
		BrandName:  Text(i.BrandName),
		Strength:   Text(i.Strength),
		DosageForm: Text(i.DosageForm),
		NDC:        Text(i.NDC),
		DrugClass:  Text(i.DrugClass),
		RxCUI:      Text(i.RxCUI),
	}
}
