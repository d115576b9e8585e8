package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/biocloudlabs/backend/internal/domain/shared"
)

// ErrNegativeElapsed signals that the billing interval ends before it starts,
// usually clock skew or corrupted timestamps. The computed cost is clamped to
// zero; callers should log the anomaly and continue.
var ErrNegativeElapsed = shared.NewDomainError("NEGATIVE_ELAPSED", "Billing interval ends before it starts")

// RateSchedule converts elapsed VM runtime into a credit cost. Per-unit rates
// are expressed in currency per minute and converted into credits through a
// fixed exchange constant. All timestamps are normalized to UTC before use.
type RateSchedule struct {
	ComputePerMinute decimal.Decimal // currency/minute for the compute SKU
	NetworkPerMinute decimal.Decimal // currency/minute for the public address
	StoragePerMinute decimal.Decimal // currency/minute for attached storage
	CreditsPerUnit   decimal.Decimal // currency -> credits exchange constant
	Overhead         int64           // minimum billable cost in credits
	GraceWindow      time.Duration   // forward-looking cutoff for running VMs
}

// CreditsPerMinute returns the combined credit rate of all billable units.
func (s RateSchedule) CreditsPerMinute() decimal.Decimal {
	return s.ComputePerMinute.
		Add(s.NetworkPerMinute).
		Add(s.StoragePerMinute).
		Mul(s.CreditsPerUnit)
}

// Cost returns the credit cost of the interval [createdAt, end].
// Elapsed time is kept fractional (seconds / 60, not whole minutes) and the
// final figure is rounded to the nearest integer with banker's rounding
// (ties go to the even neighbor), after adding the fixed overhead.
//
// A negative interval yields cost 0 together with ErrNegativeElapsed.
func (s RateSchedule) Cost(createdAt, end time.Time) (int64, error) {
	elapsed := end.UTC().Sub(createdAt.UTC())
	if elapsed < 0 {
		return 0, ErrNegativeElapsed
	}

	minutes := decimal.NewFromFloat(elapsed.Minutes())
	cost := minutes.
		Mul(s.CreditsPerMinute()).
		Add(decimal.NewFromInt(s.Overhead)).
		RoundBank(0)

	return cost.IntPart(), nil
}

// ProjectedCost estimates the cost of a still-running VM. The cutoff is
// now + GraceWindow rather than now alone, so enforcement decisions absorb
// the latency between the check and the actual power-off.
func (s RateSchedule) ProjectedCost(createdAt, now time.Time) (int64, error) {
	return s.Cost(createdAt, now.Add(s.GraceWindow))
}
