// Package projection derives refill urgency and expiration urgency from a
// medication record. Every function takes an explicit "today" and compares
// calendar days in UTC.
package projection

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/drfirst/medscan/internal/domain/medication"
)

// RefillState is the refill urgency bucket
type RefillState string

const (
	RefillOut  RefillState = "out"
	RefillLow  RefillState = "low"
	RefillSoon RefillState = "soon"
)

// ExpirationState is the expiration urgency bucket
type ExpirationState string

const (
	Expired       ExpirationState = "expired"
	ExpiringSoon  ExpirationState = "expiring-soon"
	ExpiringLater ExpirationState = "expiring-later"
)

// Bucket boundaries in days
const (
	RefillLowDays     = 7
	RefillSoonDays    = 14
	ExpiringSoonDays  = 30
	ExpiringLaterDays = 90
)

// RefillStatus is the supply projection for one record
type RefillStatus struct {
	Status        RefillState `json:"status"`
	Message       string      `json:"message"`
	DaysRemaining int         `json:"daysRemaining"`
	DaysOfSupply  int         `json:"daysOfSupply"`
	DailyUsage    int         `json:"dailyUsage"`
	RunOutDate    time.Time   `json:"runOutDate"`
}

// Alert reports whether the status should be surfaced as a banner.
func (s *RefillStatus) Alert() bool {
	return s != nil && (s.Status == RefillOut || s.Status == RefillLow)
}

// ExpirationStatus is the expiration projection for one record
type ExpirationStatus struct {
	Status              ExpirationState `json:"status"`
	Message             string          `json:"message"`
	DaysUntilExpiration int             `json:"daysUntilExpiration"`
	ExpirationDate      time.Time       `json:"expirationDate"`
}

// Alert reports whether the status should be surfaced as a banner.
func (s *ExpirationStatus) Alert() bool {
	return s != nil && (s.Status == Expired || s.Status == ExpiringSoon)
}

var (
	leadingInt   = regexp.MustCompile(`\d+`)
	perDoseRe    = regexp.MustCompile(`(?i)\btake\s+(\d+)`)
	everyHoursRe = regexp.MustCompile(`(?i)\bevery\s+(\d+)\s*(?:-\s*\d+\s*)?hours?\b`)
)

// Refill projects when the supply runs out. It returns nil when any input is
// missing, the quantity carries no number, or the run-out date is more than
// two weeks away.
func Refill(quantity, frequency string, fillDate, today time.Time) *RefillStatus {
	if strings.TrimSpace(quantity) == "" || strings.TrimSpace(frequency) == "" || fillDate.IsZero() {
		return nil
	}

	total, ok := LeadingInt(quantity)
	if !ok {
		return nil
	}

	daily := DailyUsage(frequency)
	supply := total / daily
	runOut := medication.Day(fillDate).AddDate(0, 0, supply)
	remaining := medication.DaysBetween(today, runOut)

	status := &RefillStatus{
		DaysRemaining: remaining,
		DaysOfSupply:  supply,
		DailyUsage:    daily,
		RunOutDate:    runOut,
	}
	switch {
	case remaining < 0:
		status.Status = RefillOut
		status.Message = "Refill Needed"
	case remaining <= RefillLowDays:
		status.Status = RefillLow
		status.Message = fmt.Sprintf("Refill in %d days", remaining)
	case remaining <= RefillSoonDays:
		status.Status = RefillSoon
		status.Message = fmt.Sprintf("%d days remaining", remaining)
	default:
		return nil
	}
	return status
}

// LeadingInt returns the first run of digits in s.
func LeadingInt(s string) (int, bool) {
	m := leadingInt.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

// DailyUsage estimates units taken per day from directions text. It never
// returns less than 1.
func DailyUsage(frequency string) int {
	perDose := 1
	if m := perDoseRe.FindStringSubmatch(frequency); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			perDose = n
		}
	}
	usage := perDose * Multiplier(frequency)
	if usage < 1 {
		return 1
	}
	return usage
}

// Multiplier maps directions text to doses per day. Unrecognized schedules
// count as once daily.
func Multiplier(frequency string) int {
	f := strings.ToLower(frequency)
	switch {
	case strings.Contains(f, "twice") || strings.Contains(f, "two times"):
		return 2
	case strings.Contains(f, "three times") || strings.Contains(f, "3 times"):
		return 3
	case strings.Contains(f, "four times") || strings.Contains(f, "4 times"):
		return 4
	}
	if m := everyHoursRe.FindStringSubmatch(f); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return 24 / n
		}
	}
	return 1
}

// Expiration classifies how close the product is to its expiration date. A
// zero date yields nil.
func Expiration(expires, today time.Time) *ExpirationStatus {
	if expires.IsZero() {
		return nil
	}
	days := medication.DaysBetween(today, expires)
	status := &ExpirationStatus{
		DaysUntilExpiration: days,
		ExpirationDate:      medication.Day(expires),
	}
	switch {
	case days < 0:
		status.Status = Expired
		status.Message = "EXPIRED"
	case days <= ExpiringSoonDays:
		status.Status = ExpiringSoon
		status.Message = fmt.Sprintf("Expires in %d days", days)
	case days <= ExpiringLaterDays:
		status.Status = ExpiringLater
		status.Message = fmt.Sprintf("Expires in %d days", days)
	default:
		return nil
	}
	return status
}

// Snapshot holds both projections for a record on a given day
type Snapshot struct {
	Refill     *RefillStatus     `json:"refill"`
	Expiration *ExpirationStatus `json:"expiration"`
}

// Empty reports whether neither projection surfaced a status.
func (s Snapshot) Empty() bool {
	return s.Refill == nil && s.Expiration == nil
}

// Project computes both projections for a record. Unknown fields simply
// leave the corresponding projection nil.
func Project(rec medication.Record, today time.Time) Snapshot {
	var snap Snapshot
	qty, qok := rec.Quantity.Get()
	freq, fok := rec.Frequency.Get()
	fill, dok := rec.FillDate.Get()
	if qok && fok && dok {
		snap.Refill = Refill(qty, freq, fill, today)
	}
	if exp, ok := rec.ExpirationDate.Get(); ok {
		snap.Expiration = Expiration(exp, today)
	}
	return snap
}
