package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/drfirst/medscan/internal/domain/medication"
	"github.com/drfirst/medscan/internal/domain/scan"
	"github.com/drfirst/medscan/internal/projection"
)

const helpText = `Capture a medication label:
/scan - then send a photo (caption front, back or bottle)
/barcode <code> - look up an NDC or UPC
/search <name> - search by drug name
/patient <name> - who the medication is for
/edit <field> <value> - correct a field (blank value clears it)
/status - show what has been captured
/retry - start over after an error
/done - save the medication
/cancel - discard it`

// maxButtons caps condition and pick keyboards
const maxButtons = 5

// Callback data prefixes
const (
	cbPick      = "pick:"
	cbCondition = "cond:"
	cbDone      = "done"
	cbCancel    = "cancel"
)

// describe renders the captured fields and statuses of a session
func describe(v scan.View) string {
	var b strings.Builder
	writeRecord(&b, v.Record)
	if name, ok := v.PatientName.Get(); ok {
		fmt.Fprintf(&b, "Patient: %s\n", name)
	}
	if cond, ok := v.SelectedCondition.Get(); ok {
		fmt.Fprintf(&b, "For: %s\n", cond)
	}
	if v.Confidence > 0 {
		fmt.Fprintf(&b, "\nConfidence %d%%. %s\n", v.Confidence, v.Hint)
	}
	writeStatuses(&b, v.Refill, v.Expiration)
	return strings.TrimSpace(b.String())
}

// describeCommitted renders a saved record
func describeCommitted(rec medication.Record, today time.Time) string {
	var b strings.Builder
	b.WriteString("Saved.\n\n")
	writeRecord(&b, rec)
	if name, ok := rec.PatientName.Get(); ok {
		fmt.Fprintf(&b, "Patient: %s\n", name)
	}
	if cond, ok := rec.PrescribedFor.Get(); ok {
		fmt.Fprintf(&b, "For: %s\n", cond)
	}
	snap := projection.Project(rec, today)
	writeStatuses(&b, snap.Refill, snap.Expiration)
	return strings.TrimSpace(b.String())
}

func writeRecord(b *strings.Builder, rec medication.Record) {
	title := strings.TrimSpace(strings.Join(nonEmpty(rec.DisplayName(), rec.Strength.OrElse(""), rec.DosageForm.OrElse("")), " "))
	if title == "" {
		title = "Unidentified medication"
	}
	b.WriteString(title + "\n")
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(b, "%s: %s\n", label, value)
		}
	}
	line("Directions", rec.Frequency.OrElse(""))
	line("Quantity", rec.Quantity.OrElse(""))
	if n, ok := rec.Refills.Get(); ok {
		line("Refills", strconv.Itoa(n))
	}
	if d, ok := rec.FillDate.Get(); ok {
		line("Filled", d.Format("Jan 2, 2006"))
	}
	if d, ok := rec.ExpirationDate.Get(); ok {
		line("Expires", d.Format("Jan 2, 2006"))
	}
	line("Rx", rec.RxNumber.OrElse(""))
	line("Prescriber", rec.PrescribingDoctor.OrElse(""))
	line("Pharmacy", strings.Join(nonEmpty(rec.PharmacyName.OrElse(""), rec.PharmacyPhone.OrElse("")), ", "))
	for _, w := range rec.Warnings.OrElse(nil) {
		line("Warning", w)
	}
}

func writeStatuses(b *strings.Builder, refill *projection.RefillStatus, exp *projection.ExpirationStatus) {
	if refill == nil && exp == nil {
		return
	}
	b.WriteString("\n")
	if refill != nil {
		fmt.Fprintf(b, "Refill: %s\n", refill.Message)
	}
	if exp != nil {
		fmt.Fprintf(b, "Expiration: %s\n", exp.Message)
	}
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// keyboard offers search picks, condition choices and finish buttons for
// the session's current state
func keyboard(v scan.View) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	if len(v.Candidates) > 0 {
		for i, c := range v.Candidates {
			if i == maxButtons {
				break
			}
			text := strings.Join(nonEmpty(c.Name, c.Strength, c.DosageForm), " ")
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(text, cbPick+strconv.Itoa(i))))
		}
		return markup(rows)
	}
	if v.Mode != scan.ModeSuccess {
		return nil
	}
	selected, _ := v.SelectedCondition.Get()
	for i, s := range v.Suggestions {
		if i == maxButtons {
			break
		}
		text := fmt.Sprintf("%s (%d%%)", s.Condition, s.Confidence)
		if s.Condition == selected {
			text = "✓ " + text
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(text, cbCondition+strconv.Itoa(i))))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Save", cbDone),
		tgbotapi.NewInlineKeyboardButtonData("Discard", cbCancel),
	))
	return markup(rows)
}

func markup(rows [][]tgbotapi.InlineKeyboardButton) *tgbotapi.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	m := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &m
}

// userMessage turns an operation error into a reply
func userMessage(err error) string {
	var ce *medication.CaptureError
	switch {
	case errors.As(err, &ce):
		return ce.Message
	case errors.Is(err, scan.ErrBusy):
		return "Still working on the previous capture."
	case errors.Is(err, scan.ErrSessionNotFound), errors.Is(err, scan.ErrSessionClosed):
		return "No capture in progress. Send /scan, /barcode or /search to start."
	case errors.Is(err, scan.ErrStaleResult):
		return "That result arrived after the capture changed and was ignored."
	case errors.Is(err, scan.ErrInvalidTransition):
		return "That step isn't available right now. Send /status to see where you are."
	default:
		return "Something went wrong. Please try again."
	}
}
