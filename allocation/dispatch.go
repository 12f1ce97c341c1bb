package allocation

import (
	"context"
	"fmt"
)

// ActionName selects an allocator operation.
type ActionName string

const (
	ActionListRules  ActionName = "list_rules"
	ActionCreateRule ActionName = "create_rule"
	ActionPreview    ActionName = "preview"
	ActionApply      ActionName = "apply"
)

// Action is a single action-dispatch request. Only the fields the action
// needs are read.
type Action struct {
	Name      ActionName
	TenantID  string // list_rules, preview, apply
	Rule      *Rule  // create_rule
	EarningID string // preview, apply
}

// Outcome is the result of a dispatched action. Exactly one field is set.
type Outcome struct {
	Rules   []Rule
	RuleID  RuleID
	Preview *Preview
	Applied *Applied
}

// Dispatch routes an action to the allocator.
func (a *Allocator) Dispatch(ctx context.Context, act Action) (*Outcome, error) {
	switch act.Name {
	case ActionListRules:
		rules, err := a.ListRules(ctx, act.TenantID)
		if err != nil {
			return nil, err
		}
		return &Outcome{Rules: rules}, nil

	case ActionCreateRule:
		if act.Rule == nil {
			return nil, &ValidationError{Field: "rule", Message: "is required"}
		}
		id, err := a.CreateRule(ctx, *act.Rule)
		if err != nil {
			return nil, err
		}
		return &Outcome{RuleID: id}, nil

	case ActionPreview:
		if _, err := a.TenantEarning(ctx, act.TenantID, act.EarningID); err != nil {
			return nil, err
		}
		p, err := a.Preview(ctx, act.EarningID)
		if err != nil {
			return nil, err
		}
		return &Outcome{Preview: p}, nil

	case ActionApply:
		if _, err := a.TenantEarning(ctx, act.TenantID, act.EarningID); err != nil {
			return nil, err
		}
		applied, err := a.Apply(ctx, act.EarningID)
		if err != nil {
			return nil, err
		}
		return &Outcome{Applied: applied}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, act.Name)
	}
}
