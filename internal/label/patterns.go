package label

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const datePattern = `(\d{4}-\d{1,2}-\d{1,2}|\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\d{1,2}[/-]\d{4}|` +
	`(?:JAN|FEB|MAR|APR|MAY|JUN|JUL|AUG|SEP|SEPT|OCT|NOV|DEC)[A-Z]*\.?\s+(?:\d{1,2},?\s+)?\d{4})`

var (
	rxPattern = regexp.MustCompile(`(?i)\bRX\s*(?:#|NO\.?|NUMBER|:)\s*[:#]?\s*([A-Z0-9][A-Z0-9-]{3,})`)

	ndcLabeledPattern = regexp.MustCompile(`(?i)\bNDC\b[\s:#]*(\d{4,5}-\d{3,4}-\d{1,2}|\d{10,11})`)
	ndcBarePattern    = regexp.MustCompile(`\b(\d{5}-\d{4}-\d{2}|\d{5}-\d{3}-\d{2}|\d{4}-\d{4}-\d{2})\b`)

	strengthPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?\s?(?:MG/5ML|MG/ML|MCG/ML|MCG|MG|G|ML|%|UNITS?|IU|MEQ))(?:[^A-Z0-9]|$)`)

	formPattern = regexp.MustCompile(`(?i)\b(TABLETS?|TABS?|CAPSULES?|CAPS?|SOLUTION|SUSPENSION|CREAM|OINTMENT|INHALER|PATCH(?:ES)?|INJECTION|DROPS|SPRAY|GEL|LOTION|SYRUP)\b`)

	brandPattern = regexp.MustCompile(`(?i)\b(?:GENERIC FOR|COMPARE TO|SUBSTITUTED FOR|SUBSTITUTE FOR|SUB FOR)[\s:]+([A-Z][A-Z0-9\- ]{1,40})`)

	instructionPattern = regexp.MustCompile(`(?i)^(?:TAKE|USE|APPLY|INHALE|INSTILL|PLACE|INJECT|CHEW|DISSOLVE)\b`)

	quantityPattern = regexp.MustCompile(`(?i)\b(?:QTY|QUANTITY)\b[\s:#]*(\d+(?:\.\d+)?(?:\s*[A-Z]+)?)`)

	noRefillsPattern    = regexp.MustCompile(`(?i)\bNO\s+REFILLS?\b`)
	refillsPattern      = regexp.MustCompile(`(?i)\bREFILLS?\b(?:\s+(?:LEFT|REMAINING))?[\s:#]*(\d+)`)
	refillsAfterPattern = regexp.MustCompile(`(?i)\b(\d+)\s+REFILLS?\b`)

	fillDatePattern = regexp.MustCompile(`(?i)\b(?:DATE FILLED|FILLED ON|FILLED|FILL DATE|FILL DT)\b[\s:.]*` + datePattern)
	expiryPattern   = regexp.MustCompile(`(?i)\b(?:DISCARD AFTER|DISCARD BY|EXPIRATION DATE|EXPIRATION|EXPIRES|EXP DATE|EXP|USE BY|USE BEFORE|BEYOND USE DATE|BEYOND USE|BUD)\b[\s:.]*` + datePattern)

	pharmacyPattern = regexp.MustCompile(`(?i)\b(PHARMACY|DRUGS|DRUGSTORE|CVS|WALGREENS|RITE AID|WALMART|KROGER|COSTCO|SAFEWAY|PUBLIX)\b`)
	phonePattern    = regexp.MustCompile(`\(?\b(\d{3})\)?[-.\s](\d{3})[-.\s](\d{4})\b`)

	warningPattern = regexp.MustCompile(`(?i)\b(MAY CAUSE|DO NOT|AVOID|CAUTION|WARNING|KEEP OUT OF|FOR EXTERNAL USE|SHAKE WELL|MAY BE HABIT)`)

	patientPattern    = regexp.MustCompile(`(?i)\b(?:PATIENT|PT|FOR)\s*:\s*([A-Z][A-Z .,'\-]{1,60})`)
	prescriberPattern = regexp.MustCompile(`(?i)(?:\bPRESCRIBED BY\b|\bPRESCRIBER\b|\bDOCTOR\b|\bDR\b\.?)\s*:?\s*([A-Z][A-Z.'\- ]{1,50})`)
	yourDoctorPattern = regexp.MustCompile(`(?i)\b(?:YOUR|A)\s+DOCTOR\b`)
	credentialPattern = regexp.MustCompile(`(?i)\b([A-Z][A-Z.'\-]+(?:\s+[A-Z][A-Z.'\-]+){0,3}),?\s+(?:MD|M\.D\.|NP|DDS)(?:[^A-Z]|$)`)

	// fieldLinePattern marks lines that belong to some other field.
	fieldLinePattern = regexp.MustCompile(`(?i)\b(?:QTY|QUANTITY|REFILLS?|NDC|FILLED|DISCARD|EXP|PATIENT|PRESCRIBER|PHARMACY|MFG|MFR)\b|\bDR\.|\bRX\s*(?:#|:|NO\b)`)
)

var formCanonical = map[string]string{
	"TAB":        "tablet",
	"TABS":       "tablet",
	"TABLET":     "tablet",
	"TABLETS":    "tablet",
	"CAP":        "capsule",
	"CAPS":       "capsule",
	"CAPSULE":    "capsule",
	"CAPSULES":   "capsule",
	"SOLUTION":   "solution",
	"SUSPENSION": "suspension",
	"CREAM":      "cream",
	"OINTMENT":   "ointment",
	"INHALER":    "inhaler",
	"PATCH":      "patch",
	"PATCHES":    "patch",
	"INJECTION":  "injection",
	"DROPS":      "drops",
	"SPRAY":      "spray",
	"GEL":        "gel",
	"LOTION":     "lotion",
	"SYRUP":      "syrup",
}

// drugSuffixes stay upper case when a drug name is re-cased.
var drugSuffixes = map[string]bool{
	"HCL": true, "HCT": true, "ER": true, "XR": true, "XL": true, "SR": true, "CR": true,
	"DR": true, "ODT": true, "EC": true, "IR": true, "LA": true, "DS": true, "SA": true,
}

// headerWords never start a medication name.
var headerWords = map[string]bool{
	"RX": true, "PATIENT": true, "PT": true, "DR": true, "QTY": true, "QUANTITY": true,
	"REFILLS": true, "REFILL": true, "NDC": true, "DATE": true, "FILLED": true, "DISCARD": true,
	"EXP": true, "TAKE": true, "USE": true, "APPLY": true, "WARNING": true, "CAUTION": true,
	"PHARMACY": true, "PHONE": true, "TEL": true, "MFG": true, "MFR": true, "FOR": true,
	"GENERIC": true, "COMPARE": true, "PRESCRIBER": true, "KEEP": true, "DO": true, "MAY": true,
}

// recase turns an all-caps string into title case, leaving mixed-case input alone.
func recase(s string, keepSuffixes bool) string {
	s = strings.TrimSpace(s)
	if s == "" || s != strings.ToUpper(s) {
		return s
	}
	words := strings.Fields(s)
	for i, w := range words {
		if keepSuffixes && drugSuffixes[strings.Trim(w, ".,")] {
			continue
		}
		words[i] = capitalize(strings.ToLower(w))
	}
	return strings.Join(words, " ")
}

// sentence drops leading bullets, lower-cases s and capitalizes its first
// letter.
func sentence(s string) string {
	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return capitalize(strings.ToLower(strings.Join(strings.Fields(s), " ")))
}

// capitalize upper-cases the first rune of s
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// cutAtKeyword trims a captured person name at the first run of two spaces or
// at a following field keyword.
func cutAtKeyword(s string) string {
	if i := strings.Index(s, "  "); i >= 0 {
		s = s[:i]
	}
	if loc := fieldLinePattern.FindStringIndex(s); loc != nil && loc[0] > 0 {
		s = s[:loc[0]]
	}
	return strings.Trim(strings.TrimSpace(s), ".,-")
}
