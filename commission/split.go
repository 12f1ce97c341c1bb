/*
split.go - Commission splitting

ALGORITHM:
  1. base   = premium * baseRate   / 100
     reward = premium * rewardRate / 100
     bonus  = premium * bonusRate  / 100
     insurer = base + reward + bonus   (components kept for reporting)
  2. source = insurer * share / 100
  3. broker = insurer - source

  The source amount lands in exactly one of agent/misp/employee. Direct
  business has share 0, so broker == insurer.

All arithmetic is decimal; broker is computed by subtraction so
insurer == source + broker holds exactly.
*/
package commission

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Split is the outcome of splitting one policy's insurer commission.
type Split struct {
	BaseCommission   decimal.Decimal
	RewardCommission decimal.Decimal
	BonusCommission  decimal.Decimal

	InsurerCommission  decimal.Decimal
	AgentCommission    decimal.Decimal
	MispCommission     decimal.Decimal
	EmployeeCommission decimal.Decimal
	BrokerShare        decimal.Decimal
}

// SplitCommission computes insurer commission components and divides the
// total between the source and the broker.
func SplitCommission(premium decimal.Decimal, rates Rates, source SourceType, sharePercent decimal.Decimal) (Split, error) {
	if premium.IsNegative() || rates.Base.IsNegative() || rates.Reward.IsNegative() || rates.Bonus.IsNegative() {
		return Split{}, ErrNegativeAmount
	}
	if sharePercent.IsNegative() || sharePercent.GreaterThan(hundred) {
		return Split{}, ErrInvalidShare
	}

	s := Split{
		BaseCommission:     Percent(premium, rates.Base),
		RewardCommission:   Percent(premium, rates.Reward),
		BonusCommission:    Percent(premium, rates.Bonus),
		AgentCommission:    decimal.Zero,
		MispCommission:     decimal.Zero,
		EmployeeCommission: decimal.Zero,
	}
	s.InsurerCommission = s.BaseCommission.Add(s.RewardCommission).Add(s.BonusCommission)

	sourceAmount := decimal.Zero
	switch source {
	case SourceAgent:
		sourceAmount = Percent(s.InsurerCommission, sharePercent)
		s.AgentCommission = sourceAmount
	case SourceMisp:
		sourceAmount = Percent(s.InsurerCommission, sharePercent)
		s.MispCommission = sourceAmount
	case SourceEmployee:
		sourceAmount = Percent(s.InsurerCommission, sharePercent)
		s.EmployeeCommission = sourceAmount
	}
	s.BrokerShare = s.InsurerCommission.Sub(sourceAmount)
	return s, nil
}

// ZeroSplit returns an all-zero split.
func ZeroSplit() Split {
	return Split{
		BaseCommission:     decimal.Zero,
		RewardCommission:   decimal.Zero,
		BonusCommission:    decimal.Zero,
		InsurerCommission:  decimal.Zero,
		AgentCommission:    decimal.Zero,
		MispCommission:     decimal.Zero,
		EmployeeCommission: decimal.Zero,
		BrokerShare:        decimal.Zero,
	}
}

// apply copies the split's amounts onto a result.
func (s Split) apply(r *Result) {
	r.BaseCommission = s.BaseCommission
	r.RewardCommission = s.RewardCommission
	r.BonusCommission = s.BonusCommission
	r.InsurerCommission = s.InsurerCommission
	r.AgentCommission = s.AgentCommission
	r.MispCommission = s.MispCommission
	r.EmployeeCommission = s.EmployeeCommission
	r.BrokerShare = s.BrokerShare
}

// =============================================================================
// SPLITTER - share lookup + split for one policy
// =============================================================================

// SplitInput is what the splitter needs about a policy.
type SplitInput struct {
	PolicyID   string
	Premium    decimal.Decimal
	Rates      Rates
	SourceType SourceType
	SourceID   *string
}

// SplitOutcome carries the split plus how the share was determined.
type SplitOutcome struct {
	Split Split
	Share Share
}

// Splitter resolves the source share and splits the commission.
type Splitter struct {
	Shares *ShareResolver
}

// Split resolves the share with the given defaults and splits. Lookup
// failures come back as *LookupError with PolicyID set.
func (sp *Splitter) Split(ctx context.Context, org OrgContext, defaults DefaultTierConfig, in SplitInput) (SplitOutcome, error) {
	share, err := sp.Shares.Resolve(ctx, org, defaults, in.SourceType, in.SourceID)
	if err != nil {
		var le *LookupError
		if errors.As(err, &le) {
			le.PolicyID = in.PolicyID
			return SplitOutcome{}, le
		}
		return SplitOutcome{}, &LookupError{PolicyID: in.PolicyID, Lookup: "source", Err: err}
	}

	split, err := SplitCommission(in.Premium, in.Rates, in.SourceType, share.Percent)
	if err != nil {
		return SplitOutcome{}, err
	}
	return SplitOutcome{Split: split, Share: share}, nil
}
