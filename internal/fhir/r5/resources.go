package r5

import "strings"

// Medication is the contained product a statement refers to. The batch
// carries the label's discard-after date.
type Medication struct {
	ResourceType string           `json:"resourceType"`
	ID           string           `json:"id"`
	Code         *CodeableConcept `json:"code,omitempty"`
	DoseForm     *CodeableConcept `json:"doseForm,omitempty"`
	Batch        *MedicationBatch `json:"batch,omitempty"`
	Extension    []Extension      `json:"extension,omitempty"`
}

// MedicationBatch holds lot information
type MedicationBatch struct {
	LotNumber      string `json:"lotNumber,omitempty"`
	ExpirationDate string `json:"expirationDate,omitempty"`
}

// Practitioner is the prescriber printed on the label
type Practitioner struct {
	ResourceType string      `json:"resourceType"`
	ID           string      `json:"id"`
	Name         []HumanName `json:"name,omitempty"`
}

// Organization is the dispensing pharmacy
type Organization struct {
	ResourceType string         `json:"resourceType"`
	ID           string         `json:"id"`
	Name         string         `json:"name,omitempty"`
	Telecom      []ContactPoint `json:"telecom,omitempty"`
}

// Contained resource ids
const (
	containedMedication = "med"
	containedPrescriber = "prescriber"
	containedPharmacy   = "pharmacy"
)

func newPractitioner(name string) *Practitioner {
	return &Practitioner{
		ResourceType: "Practitioner",
		ID:           containedPrescriber,
		Name:         []HumanName{{Use: "official", Text: name}},
	}
}

func newPharmacy(name, phone string) *Organization {
	org := &Organization{
		ResourceType: "Organization",
		ID:           containedPharmacy,
		Name:         name,
	}
	if phone = strings.TrimSpace(phone); phone != "" {
		org.Telecom = []ContactPoint{{System: "phone", Value: phone, Use: "work"}}
	}
	return org
}

func localRef(id, resourceType, display string) Reference {
	return Reference{Reference: "#" + id, Type: resourceType, Display: display}
}
