// Package capturetest provides in-memory collaborators and storage for
// tests of the capture hosts.
package capturetest

import (
	"context"
	"sort"
	"sync"

	"github.com/drfirst/medscan/internal/domain/medication"
	"github.com/drfirst/medscan/internal/domain/scan"
)

// Extractor returns fixed text
type Extractor struct {
	Text string
	Err  error
}

func (e *Extractor) ExtractText(ctx context.Context, image []byte, mimeType string) (string, error) {
	return e.Text, e.Err
}

// Drugs serves lookups and searches from fixed entries
type Drugs struct {
	ByCode  map[string]medication.Info
	Results []medication.Info
	Err     error
}

func (d *Drugs) LookupByCode(ctx context.Context, code string) (*medication.Info, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	info, ok := d.ByCode[code]
	if !ok {
		return nil, nil
	}
	return &info, nil
}

func (d *Drugs) SearchByName(ctx context.Context, query string) ([]medication.Info, error) {
	return d.Results, d.Err
}

// Conditions returns a fixed list
type Conditions struct {
	List []medication.SuggestedCondition
	Err  error
}

func (c *Conditions) Suggest(ctx context.Context, rec medication.Record) ([]medication.SuggestedCondition, error) {
	return c.List, c.Err
}

// Store keeps records in memory
type Store struct {
	mu      sync.Mutex
	records map[string]medication.Record
	Err     error
}

func (s *Store) Save(ctx context.Context, rec medication.Record, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if s.records == nil {
		s.records = make(map[string]medication.Record)
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*medication.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, medication.ErrRecordNotFound
	}
	return &rec, nil
}

func (s *Store) ListByPatient(ctx context.Context, patientName string, limit int) ([]medication.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []medication.Record
	for _, rec := range s.records {
		if name, ok := rec.PatientName.Get(); ok && name == patientName {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScannedAt.After(out[j].ScannedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored records
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Metrics counts session lifecycle calls
type Metrics struct {
	mu       sync.Mutex
	Opened   int
	Finished map[string]int
}

func (m *Metrics) SessionOpened() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Opened++
}

func (m *Metrics) SessionFinished(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Finished == nil {
		m.Finished = make(map[string]int)
	}
	m.Finished[outcome]++
}

// Metformin is a drug entry used across tests
var Metformin = medication.Info{
	Name:       "Metformin Hydrochloride",
	Strength:   "500mg",
	DosageForm: "Tablet",
	NDC:        "0093-1048-01",
	DrugClass:  "Biguanide",
}

// MetforminLabel is recognized label text for Metformin
const MetforminLabel = "METFORMIN HCL 500 MG TABLET\nTAKE 1 TABLET TWICE DAILY\nQTY: 60 TABLETS\nFILLED: 03/01/2026"

// Collaborators returns a complete fake set
func Collaborators() scan.Collaborators {
	return scan.Collaborators{
		Extractor: &Extractor{Text: MetforminLabel},
		Lookup:    &Drugs{ByCode: map[string]medication.Info{Metformin.NDC: Metformin}},
		Search:    &Drugs{Results: []medication.Info{Metformin}},
		Conditions: &Conditions{List: []medication.SuggestedCondition{
			{Condition: "Type 2 Diabetes", Confidence: 95, Reasoning: "first-line therapy"},
			{Condition: "PCOS", Confidence: 40},
		}},
	}
}
