// Package label turns raw text recognized on a pharmacy label into a partial
// medication record with a confidence score.
package label

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/drfirst/medscan/internal/domain/medication"
)

// ErrNoUsableData is returned when not a single field was recognized.
var ErrNoUsableData = fmt.Errorf("%w: no fields recognized", medication.ErrExtractionFailed)

// Side is the part of the package a photo shows.
type Side string

const (
	SideUnknown Side = ""
	SideFront   Side = "front"
	SideBack    Side = "back"
	SideBottle  Side = "bottle"
)

// ParseSide maps a caption or form value onto a side. Unknown text yields SideUnknown.
func ParseSide(s string) Side {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideFront:
		return SideFront
	case SideBack:
		return SideBack
	case SideBottle:
		return SideBottle
	}
	return SideUnknown
}

// Hints carries layout information about the photo the text came from.
type Hints struct {
	Side Side
}

// Weights is the confidence contribution of each recognized field.
type Weights map[medication.Field]int

// DefaultWeights favors the fields that identify the medication.
func DefaultWeights() Weights {
	return Weights{
		medication.FieldName:              25,
		medication.FieldStrength:          15,
		medication.FieldDosageForm:        10,
		medication.FieldFrequency:         8,
		medication.FieldNDC:               6,
		medication.FieldQuantity:          6,
		medication.FieldRxNumber:          5,
		medication.FieldRefills:           4,
		medication.FieldFillDate:          4,
		medication.FieldExpirationDate:    4,
		medication.FieldPatientName:       3,
		medication.FieldPrescribingDoctor: 3,
		medication.FieldPharmacyName:      3,
		medication.FieldPharmacyPhone:     2,
		medication.FieldWarnings:          2,
		medication.FieldBrandName:         2,
	}
}

// Score sums the weights of the given fields and clamps the result to 0..100.
// Negative weights count as zero so that an extra field never lowers the score.
func (w Weights) Score(fields []medication.Field) int {
	total := 0
	for _, f := range fields {
		if v := w[f]; v > 0 {
			total += v
		}
	}
	if total > 100 {
		return 100
	}
	return total
}

// Bucket is the coarse confidence level shown to the caregiver.
type Bucket string

const (
	BucketHigh   Bucket = "high"
	BucketMedium Bucket = "medium"
	BucketLow    Bucket = "low"
)

// BucketFor classifies a confidence score.
func BucketFor(confidence int) Bucket {
	switch {
	case confidence >= 70:
		return BucketHigh
	case confidence >= 50:
		return BucketMedium
	default:
		return BucketLow
	}
}

// Message is the review hint for a bucket.
func (b Bucket) Message() string {
	switch b {
	case BucketHigh:
		return "Label read clearly. Please confirm the details."
	case BucketMedium:
		return "Some details may be missing. Please review before saving."
	default:
		return "Only part of the label could be read. Add another photo or fill in the details."
	}
}

// Parser extracts record fields from label text.
type Parser struct {
	weights Weights
	logger  *zap.Logger
}

// New creates a parser with the default weights.
func New(logger *zap.Logger) *Parser {
	return NewWithWeights(DefaultWeights(), logger)
}

// NewWithWeights creates a parser with custom weights.
func NewWithWeights(w Weights, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	if w == nil {
		w = DefaultWeights()
	}
	return &Parser{weights: w, logger: logger}
}

// Parse extracts every field it can find. Missing fields stay unset. Only
// text with no recognizable field at all is an error.
func (p *Parser) Parse(text string, hints Hints) (medication.ExtractionResult, error) {
	lines := splitLines(text)
	rec := medication.Record{}

	if v, ok := findRxNumber(lines); ok {
		rec.RxNumber = medication.Some(v)
	}
	if v, ok := findNDC(lines); ok {
		rec.NDC = medication.Some(v)
	}
	if v, ok := findStrength(lines); ok {
		rec.Strength = medication.Some(v)
	}
	if v, ok := findForm(lines); ok {
		rec.DosageForm = medication.Some(v)
	}
	if hints.Side != SideBack {
		if v, ok := findName(lines); ok {
			rec.Name = medication.Some(v)
		}
	}
	if v, ok := findBrand(lines); ok {
		rec.BrandName = medication.Some(v)
	}

	freqLine := -1
	if v, idx, ok := findFrequency(lines); ok {
		rec.Frequency = medication.Some(v)
		freqLine = idx
	}
	if v, ok := findQuantity(lines); ok {
		rec.Quantity = medication.Some(v)
	}
	if v, ok := findRefills(lines); ok {
		rec.Refills = medication.Some(v)
	}
	if v, ok := findDate(lines, fillDatePattern); ok {
		rec.FillDate = medication.Some(v)
	}
	if v, ok := findDate(lines, expiryPattern); ok {
		rec.ExpirationDate = medication.Some(v)
	}
	if v, ok := findPharmacy(lines); ok {
		rec.PharmacyName = medication.Some(v)
	}
	if v, ok := findPhone(lines); ok {
		rec.PharmacyPhone = medication.Some(v)
	}
	if v := findWarnings(lines, freqLine); len(v) > 0 {
		rec.Warnings = medication.Some(v)
	}
	if v, ok := findPatient(lines); ok {
		rec.PatientName = medication.Some(v)
	}
	if v, ok := findPrescriber(lines); ok {
		rec.PrescribingDoctor = medication.Some(v)
	}

	fields := rec.KnownFields()
	result := medication.ExtractionResult{
		Record:     rec,
		Confidence: p.weights.Score(fields),
		Recognized: fields,
	}

	p.logger.Debug("label parsed",
		zap.Int("lines", len(lines)),
		zap.Int("fields", len(fields)),
		zap.Int("confidence", result.Confidence),
		zap.String("side", string(hints.Side)))

	if len(fields) == 0 {
		return result, ErrNoUsableData
	}
	return result, nil
}

func splitLines(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' })
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func firstMatch(lines []string, re *regexp.Regexp) (string, int, bool) {
	for i, l := range lines {
		if m := re.FindStringSubmatch(l); m != nil {
			return strings.TrimSpace(m[1]), i, true
		}
	}
	return "", -1, false
}

func findRxNumber(lines []string) (string, bool) {
	v, _, ok := firstMatch(lines, rxPattern)
	return strings.ToUpper(v), ok
}

func findNDC(lines []string) (string, bool) {
	if v, _, ok := firstMatch(lines, ndcLabeledPattern); ok {
		return v, true
	}
	for _, l := range lines {
		if rxPattern.MatchString(l) || phonePattern.MatchString(l) {
			continue
		}
		if m := ndcBarePattern.FindStringSubmatch(l); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func findStrength(lines []string) (string, bool) {
	for _, l := range lines {
		if quantityPattern.MatchString(l) {
			continue
		}
		if m := strengthPattern.FindStringSubmatch(l); m != nil {
			return strings.ToLower(strings.ReplaceAll(m[1], " ", "")), true
		}
	}
	return "", false
}

func findForm(lines []string) (string, bool) {
	for _, l := range lines {
		if quantityPattern.MatchString(l) || instructionPattern.MatchString(l) {
			continue
		}
		if m := formPattern.FindStringSubmatch(l); m != nil {
			return formCanonical[strings.ToUpper(m[1])], true
		}
	}
	// Fall back to the instruction line ("TAKE 1 TABLET ...").
	for _, l := range lines {
		if m := formPattern.FindStringSubmatch(l); m != nil {
			return formCanonical[strings.ToUpper(m[1])], true
		}
	}
	return "", false
}

// findName looks for the drug name: the words before the strength, then the
// words before the dosage form, then a standalone word line.
func findName(lines []string) (string, bool) {
	for _, l := range lines {
		if isFieldLine(l) {
			continue
		}
		if loc := strengthPattern.FindStringIndex(l); loc != nil {
			if name := nameCandidate(l[:loc[0]]); name != "" {
				return name, true
			}
		}
	}
	for _, l := range lines {
		if isFieldLine(l) {
			continue
		}
		if loc := formPattern.FindStringIndex(l); loc != nil {
			if name := nameCandidate(l[:loc[0]]); name != "" {
				return name, true
			}
		}
	}
	for _, l := range lines {
		if isFieldLine(l) || strings.ContainsAny(l, "0123456789:") {
			continue
		}
		words := strings.Fields(l)
		if len(words) != 1 || headerWords[strings.ToUpper(words[0])] {
			continue
		}
		if letters(words[0]) >= 4 {
			return recase(words[0], true), true
		}
	}
	return "", false
}

func nameCandidate(s string) string {
	s = strings.Trim(strings.TrimSpace(s), ",-:")
	words := strings.Fields(s)
	if len(words) == 0 || headerWords[strings.ToUpper(words[0])] {
		return ""
	}
	if letters(s) < 3 {
		return ""
	}
	return recase(s, true)
}

func letters(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}

func isFieldLine(l string) bool {
	return fieldLinePattern.MatchString(l) ||
		instructionPattern.MatchString(l) ||
		warningPattern.MatchString(l) ||
		pharmacyPattern.MatchString(l) ||
		brandPattern.MatchString(l)
}

func findBrand(lines []string) (string, bool) {
	v, _, ok := firstMatch(lines, brandPattern)
	if !ok {
		return "", false
	}
	v = cutAtKeyword(v)
	if v == "" {
		return "", false
	}
	return recase(v, true), true
}

// findFrequency returns the directions sentence, joining up to two wrapped
// continuation lines.
func findFrequency(lines []string) (string, int, bool) {
	for i, l := range lines {
		if !instructionPattern.MatchString(l) || expiryPattern.MatchString(l) {
			continue
		}
		parts := []string{l}
		for j := i + 1; j < len(lines) && j <= i+2; j++ {
			next := lines[j]
			if isFieldLine(next) || strengthPattern.MatchString(next) {
				break
			}
			parts = append(parts, next)
			if strings.HasSuffix(next, ".") {
				break
			}
		}
		return strings.TrimSuffix(sentence(strings.Join(parts, " ")), "."), i, true
	}
	return "", -1, false
}

func findQuantity(lines []string) (string, bool) {
	v, _, ok := firstMatch(lines, quantityPattern)
	if !ok {
		return "", false
	}
	return strings.ToLower(strings.Join(strings.Fields(v), " ")), true
}

func findRefills(lines []string) (int, bool) {
	for _, l := range lines {
		if noRefillsPattern.MatchString(l) {
			return 0, true
		}
		for _, re := range []*regexp.Regexp{refillsPattern, refillsAfterPattern} {
			if m := re.FindStringSubmatch(l); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					return n, true
				}
			}
		}
	}
	return 0, false
}

func findDate(lines []string, re *regexp.Regexp) (time.Time, bool) {
	for _, l := range lines {
		m := re.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		if d, err := medication.ParseDate(normalizeDate(m[1])); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

var septPattern = regexp.MustCompile(`(?i)\bSEPT\b`)

func normalizeDate(s string) string {
	s = strings.ReplaceAll(s, ".", "")
	return septPattern.ReplaceAllString(s, "Sep")
}

func findPharmacy(lines []string) (string, bool) {
	for _, l := range lines {
		if warningPattern.MatchString(l) || instructionPattern.MatchString(l) {
			continue
		}
		if !pharmacyPattern.MatchString(l) {
			continue
		}
		name := l
		if loc := phonePattern.FindStringIndex(name); loc != nil {
			name = name[:loc[0]]
		}
		name = strings.Trim(strings.TrimSpace(name), ",-:")
		if name != "" {
			return name, true
		}
	}
	return "", false
}

func findPhone(lines []string) (string, bool) {
	for _, l := range lines {
		if rxPattern.MatchString(l) || ndcLabeledPattern.MatchString(l) {
			continue
		}
		if m := phonePattern.FindStringSubmatch(l); m != nil {
			return fmt.Sprintf("(%s) %s-%s", m[1], m[2], m[3]), true
		}
	}
	return "", false
}

func findWarnings(lines []string, freqLine int) []string {
	var out []string
	seen := make(map[string]bool)
	for i, l := range lines {
		if i == freqLine || !warningPattern.MatchString(l) {
			continue
		}
		w := sentence(l)
		key := strings.ToLower(w)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, w)
	}
	return out
}

func findPatient(lines []string) (string, bool) {
	for _, l := range lines {
		if brandPattern.MatchString(l) {
			continue
		}
		m := patientPattern.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		if v := cutAtKeyword(m[1]); v != "" {
			return recase(v, false), true
		}
	}
	return "", false
}

func findPrescriber(lines []string) (string, bool) {
	for _, l := range lines {
		if warningPattern.MatchString(l) || yourDoctorPattern.MatchString(l) {
			continue
		}
		m := prescriberPattern.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		name := cutAtKeyword(m[1])
		if name == "" {
			continue
		}
		name = recase(name, false)
		if strings.HasPrefix(strings.ToUpper(m[0]), "DR") {
			name = "Dr. " + name
		}
		return name, true
	}
	for _, l := range lines {
		if warningPattern.MatchString(l) {
			continue
		}
		if m := credentialPattern.FindStringSubmatch(l); m != nil {
			if name := cutAtKeyword(m[1]); name != "" {
				return recase(name, false), true
			}
		}
	}
	return "", false
}
