// Package ocr holds what the vision-model adapters share: prompts, MIME
// detection and response decoding.
package ocr

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/drfirst/medscan/internal/domain/medication"
)

// ExtractionInstruction asks the model for a verbatim transcription. The
// label parser does the structuring; the model only reads.
const ExtractionInstruction = `You transcribe pharmacy and medication labels.
Return every piece of text visible on the label, line by line, exactly as printed.
Keep the original casing, punctuation, numbers and line breaks.
Do not summarize, translate, correct or explain anything.
If no text is readable, return an empty response.`

// ConditionsInstruction asks for a ranked list of probable diagnoses
const ConditionsInstruction = `You help caregivers record why a medication was prescribed.
Given a medication, list the medical conditions it is most commonly prescribed for.
Respond with JSON only, in the form:
{"conditions":[{"condition":"<name>","confidence":<0-100>,"reasoning":"<one sentence>"}]}
Order by confidence, highest first. Use at most 5 entries.
Use a confidence of 90 or more only when the medication is prescribed almost exclusively for that condition.`

// ConditionsPrompt describes the record to the model
func ConditionsPrompt(rec medication.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Medication: %s", rec.DisplayName())
	if v, ok := rec.Strength.Get(); ok {
		fmt.Fprintf(&b, "\nStrength: %s", v)
	}
	if v, ok := rec.DosageForm.Get(); ok {
		fmt.Fprintf(&b, "\nForm: %s", v)
	}
	if v, ok := rec.BrandName.Get(); ok && v != rec.DisplayName() {
		fmt.Fprintf(&b, "\nBrand: %s", v)
	}
	if v, ok := rec.DrugClass.Get(); ok {
		fmt.Fprintf(&b, "\nDrug class: %s", v)
	}
	return b.String()
}

// DecodeConditions reads the model's JSON answer. Fenced output and a bare
// array are both accepted.
func DecodeConditions(text string) ([]medication.SuggestedCondition, error) {
	text = StripCodeFences(text)
	if text == "" {
		return nil, nil
	}
	if strings.HasPrefix(text, "[") {
		var list []medication.SuggestedCondition
		if err := json.Unmarshal([]byte(text), &list); err != nil {
			return nil, fmt.Errorf("decode conditions: %w", err)
		}
		return list, nil
	}
	var env struct {
		Conditions []medication.SuggestedCondition `json:"conditions"`
	}
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return nil, fmt.Errorf("decode conditions: %w", err)
	}
	return env.Conditions, nil
}

// StripCodeFences removes a markdown code fence around model output
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```text")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// PickMIME returns the declared type when it names an image, otherwise the
// type sniffed from the bytes.
func PickMIME(declared string, data []byte) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if strings.HasPrefix(declared, "image/") {
		return declared
	}
	if len(data) > 0 {
		if sniffed := http.DetectContentType(data); strings.HasPrefix(sniffed, "image/") {
			return sniffed
		}
	}
	return "image/jpeg"
}

// SupportedImage reports whether the vision models accept the type
func SupportedImage(mime string) bool {
	switch mime {
	case "image/jpeg", "image/png", "image/webp", "image/heic", "image/heif":
		return true
	}
	return false
}
