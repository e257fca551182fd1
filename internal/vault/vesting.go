package vault

import (
	"time"

	fpmath "VaultLedger/internal/math"
)

// DefaultProfitUnlock is how long reported profit takes to vest.
const DefaultProfitUnlock = 6 * time.Hour

// ProfitVesting releases reported profit into the share price linearly.
type ProfitVesting struct {
	Locked     int64         `json:"locked"`
	LastReport time.Time     `json:"last_report"`
	Window     time.Duration `json:"window"`
}

// LockedAt returns the still-locked profit at now.
func (p ProfitVesting) LockedAt(now time.Time) int64 {
	return fpmath.LinearRemaining(p.Locked, now.Sub(p.LastReport), p.Window)
}

// Record folds a report into the locked amount. fees are subtracted because
// the fee shares were minted at the pre-report price.
func (p *ProfitVesting) Record(now time.Time, gain, fees, loss int64) {
	before := p.LockedAt(now) + gain - fees
	if before > loss {
		p.Locked = before - loss
	} else {
		p.Locked = 0
	}
	p.LastReport = now
}
