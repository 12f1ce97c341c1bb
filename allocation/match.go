/*
match.go - Allocation rule selection

A rule is a candidate when it is Active, its effective window contains
"now", and its scope matches the context:
  tenant  always (within the tenant)
  org     scope_ref == context org
  product scope_ref == context product
  lob     scope_ref == context line of business (case-insensitive)

Ordering key: (priority asc, scope specificity desc, effective_from desc,
id asc). Lower priority numbers win; among equal priorities the most
specific scope wins.
*/
package allocation

import (
	"sort"
	"strings"
	"time"
)

// ScopeMatches reports whether a rule's scope covers the context.
func ScopeMatches(r Rule, c Context) bool {
	if r.TenantID != c.TenantID {
		return false
	}
	ref := ""
	if r.ScopeRef != nil {
		ref = *r.ScopeRef
	}
	switch r.ScopeLevel {
	case ScopeTenant:
		return true
	case ScopeOrg:
		return ref != "" && ref == c.OrgID
	case ScopeProduct:
		return ref != "" && ref == c.ProductID
	case ScopeLOB:
		return ref != "" && strings.EqualFold(ref, c.LOB)
	default:
		return false
	}
}

// Candidates returns the matching rules in precedence order.
func Candidates(rules []Rule, c Context, now time.Time) []Rule {
	var out []Rule
	for _, r := range rules {
		if r.ActiveAt(now) && ScopeMatches(r, c) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return precedes(out[i], out[j])
	})
	return out
}

// SelectRule returns the winning rule, or a *NoMatchError.
func SelectRule(rules []Rule, c Context, now time.Time) (Rule, error) {
	cands := Candidates(rules, c, now)
	if len(cands) == 0 {
		return Rule{}, &NoMatchError{Context: c}
	}
	return cands[0], nil
}

func precedes(a, b Rule) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if sa, sb := a.ScopeLevel.Specificity(), b.ScopeLevel.Specificity(); sa != sb {
		return sa > sb
	}
	if !a.EffectiveFrom.Equal(b.EffectiveFrom) {
		return a.EffectiveFrom.After(b.EffectiveFrom)
	}
	return a.ID < b.ID
}
