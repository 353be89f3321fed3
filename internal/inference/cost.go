package inference

import (
	"sync"
	"time"
)

// SpendLedger tracks estimated inference spend over rolling day and month
// scopes. It is process-local: the ceiling is a governance bound, not an
// exact invoice, and per-event attempt records carry the authoritative
// numbers into the store.
type SpendLedger struct {
	mu       sync.Mutex
	dayKey   string
	day      float64
	monthKey string
	month    float64
}

func NewSpendLedger() *SpendLedger {
	return &SpendLedger{}
}

// Add records spend at the given time.
func (l *SpendLedger) Add(cost float64, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll(at)
	l.day += cost
	l.month += cost
}

// Seed primes the ledger from persisted attempt records so restarts keep
// honoring ceilings already partially consumed.
func (l *SpendLedger) Seed(day, month float64, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll(at)
	l.day = day
	l.month = month
}

// Totals returns current day and month spend.
func (l *SpendLedger) Totals(at time.Time) (day, month float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll(at)
	return l.day, l.month
}

// WouldExceed reports whether adding cost at the given time breaches either
// ceiling. A zero ceiling disables that scope.
func (l *SpendLedger) WouldExceed(cost, dailyLimit, monthlyLimit float64, at time.Time) bool {
	day, month := l.Totals(at)
	if dailyLimit > 0 && day+cost > dailyLimit {
		return true
	}
	if monthlyLimit > 0 && month+cost > monthlyLimit {
		return true
	}
	return false
}

func (l *SpendLedger) roll(at time.Time) {
	dk := at.Format("2006-01-02")
	if dk != l.dayKey {
		l.dayKey = dk
		l.day = 0
	}
	mk := at.Format("2006-01")
	if mk != l.monthKey {
		l.monthKey = mk
		l.month = 0
	}
}
