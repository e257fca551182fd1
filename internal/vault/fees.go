package vault

import (
	"time"

	fpmath "VaultLedger/internal/math"
)

// FeeInput carries everything fee assessment depends on.
type FeeInput struct {
	Gain      int64
	Loss      int64
	TotalDebt int64 // strategy debt the management fee accrues on
	Elapsed   time.Duration

	ManagementFeeBps  int64 // annual, on debt
	PerformanceFeeBps int64 // on net gain, to the fee recipient
	StrategistFeeBps  int64 // on net gain, to the strategist
}

// FeeBreakdown is the want-denominated value of fees to mint as shares.
type FeeBreakdown struct {
	Management  int64 `json:"management"`
	Performance int64 `json:"performance"`
	Strategist  int64 `json:"strategist"`
}

func (f FeeBreakdown) Total() int64 {
	return f.Management + f.Performance + f.Strategist
}

// AssessFees computes fees on gain net of loss. Nothing is charged without a
// net gain, and the total never exceeds it: the management fee is trimmed
// first.
func AssessFees(in FeeInput) FeeBreakdown {
	net := in.Gain - in.Loss
	if net <= 0 {
		return FeeBreakdown{}
	}

	f := FeeBreakdown{
		Management:  fpmath.AccrueAnnualBps(in.TotalDebt, in.ManagementFeeBps, in.Elapsed),
		Performance: fpmath.BpsOf(net, in.PerformanceFeeBps),
		Strategist:  fpmath.BpsOf(net, in.StrategistFeeBps),
	}
	if f.Total() > net {
		f.Management = fpmath.ClampNonNegative(net - f.Performance - f.Strategist)
	}
	return f
}
