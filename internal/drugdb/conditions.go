package drugdb

import (
	"context"
	"strings"

	"github.com/drfirst/medscan/internal/domain/medication"
)

// StaticConditions suggests conditions from a fixed table keyed by generic
// name. It serves offline deployments and tests.
type StaticConditions struct {
	table map[string][]medication.SuggestedCondition
}

// NewStaticConditions creates a source over table. Keys are matched
// case-insensitively as whole words of the medication name. A nil table
// uses DefaultConditionTable.
func NewStaticConditions(table map[string][]medication.SuggestedCondition) *StaticConditions {
	if table == nil {
		table = DefaultConditionTable
	}
	norm := make(map[string][]medication.SuggestedCondition, len(table))
	for k, v := range table {
		norm[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &StaticConditions{table: norm}
}

// Suggest implements scan.ConditionSource
func (s *StaticConditions) Suggest(_ context.Context, rec medication.Record) ([]medication.SuggestedCondition, error) {
	for _, name := range []string{rec.Name.OrElse(""), rec.BrandName.OrElse("")} {
		for _, word := range strings.Fields(strings.ToLower(name)) {
			if list, ok := s.table[word]; ok {
				return append([]medication.SuggestedCondition(nil), list...), nil
			}
		}
	}
	return nil, nil
}

// DefaultConditionTable covers commonly dispensed maintenance drugs
var DefaultConditionTable = map[string][]medication.SuggestedCondition{
	"metformin": {
		{Condition: "Type 2 Diabetes", Confidence: 95, Reasoning: "First-line therapy for type 2 diabetes."},
		{Condition: "Prediabetes", Confidence: 40, Reasoning: "Sometimes used to delay onset of diabetes."},
		{Condition: "Polycystic Ovary Syndrome", Confidence: 30, Reasoning: "Used off-label for insulin resistance in PCOS."},
	},
	"lisinopril": {
		{Condition: "Hypertension", Confidence: 85, Reasoning: "ACE inhibitor commonly used for high blood pressure."},
		{Condition: "Heart Failure", Confidence: 50, Reasoning: "Reduces cardiac workload."},
		{Condition: "Chronic Kidney Disease", Confidence: 30, Reasoning: "Protects kidney function in diabetics."},
	},
	"atorvastatin": {
		{Condition: "High Cholesterol", Confidence: 92, Reasoning: "Statin that lowers LDL cholesterol."},
		{Condition: "Cardiovascular Disease Prevention", Confidence: 45, Reasoning: "Reduces heart attack and stroke risk."},
	},
	"levothyroxine": {
		{Condition: "Hypothyroidism", Confidence: 96, Reasoning: "Thyroid hormone replacement."},
	},
	"amlodipine": {
		{Condition: "Hypertension", Confidence: 88, Reasoning: "Calcium channel blocker for high blood pressure."},
		{Condition: "Angina", Confidence: 40, Reasoning: "Relieves chest pain from coronary artery disease."},
	},
	"omeprazole": {
		{Condition: "Gastroesophageal Reflux Disease", Confidence: 80, Reasoning: "Proton pump inhibitor that reduces stomach acid."},
		{Condition: "Peptic Ulcer", Confidence: 45, Reasoning: "Heals and prevents stomach ulcers."},
	},
	"sertraline": {
		{Condition: "Depression", Confidence: 75, Reasoning: "SSRI antidepressant."},
		{Condition: "Anxiety Disorder", Confidence: 55, Reasoning: "Used for generalized anxiety and panic disorder."},
	},
	"albuterol": {
		{Condition: "Asthma", Confidence: 85, Reasoning: "Short-acting bronchodilator."},
		{Condition: "COPD", Confidence: 50, Reasoning: "Relieves bronchospasm."},
	},
	"warfarin": {
		{Condition: "Atrial Fibrillation", Confidence: 70, Reasoning: "Prevents stroke from irregular heartbeat."},
		{Condition: "Deep Vein Thrombosis", Confidence: 55, Reasoning: "Treats and prevents blood clots."},
	},
	"donepezil": {
		{Condition: "Alzheimer's Disease", Confidence: 94, Reasoning: "Cholinesterase inhibitor for dementia."},
	},
}
