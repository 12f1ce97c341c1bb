package allocation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// SumTolerance is the allowed drift of a rule's split sum from 100.
// Form input such as 33.33 + 33.33 + 33.34 must not be rejected.
var SumTolerance = decimal.New(1, -6)

var hundred = decimal.NewFromInt(100)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		d, ok := field.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		f, _ := d.Float64()
		return f
	}, decimal.Decimal{})
	v.RegisterStructValidation(ruleStructLevel, Rule{})
	return v
}

func ruleStructLevel(sl validator.StructLevel) {
	r := sl.Current().Interface().(Rule)

	if r.ScopeLevel != ScopeTenant && (r.ScopeRef == nil || strings.TrimSpace(*r.ScopeRef) == "") {
		sl.ReportError(r.ScopeRef, "scope_ref", "ScopeRef", "scope_ref_required", string(r.ScopeLevel))
	}
	if r.EffectiveTo != nil && r.EffectiveTo.Before(r.EffectiveFrom) {
		sl.ReportError(r.EffectiveTo, "effective_to", "EffectiveTo", "after_from", "")
	}
	if r.Splits.Sum().Sub(hundred).Abs().GreaterThan(SumTolerance) {
		sl.ReportError(r.Splits, "splits", "Splits", "sum100", r.Splits.Sum().String())
	}
}

// ValidateRule checks a rule before persistence. It returns the first
// problem as a *ValidationError (wrapping ErrInvalidRule).
func ValidateRule(r Rule) error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return toValidationError(verrs[0])
}

func toValidationError(fe validator.FieldError) *ValidationError {
	field := fieldName(fe)
	switch fe.Tag() {
	case "sum100":
		return &ValidationError{Field: "splits", Message: fmt.Sprintf("percentages must sum to 100, got %s", fe.Param())}
	case "scope_ref_required":
		return &ValidationError{Field: "scope_ref", Message: fmt.Sprintf("required for %s scope", fe.Param())}
	case "after_from":
		return &ValidationError{Field: "effective_to", Message: "must not be before effective_from"}
	case "required":
		return &ValidationError{Field: field, Message: "is required"}
	case "oneof":
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be one of [%s]", fe.Param())}
	case "gte":
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be >= %s", fe.Param())}
	case "lte":
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be <= %s", fe.Param())}
	default:
		return &ValidationError{Field: field, Message: fmt.Sprintf("failed %s", fe.Tag())}
	}
}

var fieldNames = map[string]string{
	"TenantID":      "tenant_id",
	"ScopeLevel":    "scope_level",
	"EffectiveFrom": "effective_from",
	"Priority":      "priority",
	"Status":        "status",
	"Tenant":        "tenant_percent",
	"Branch":        "branch_percent",
	"Team":          "team_percent",
	"Agent":         "agent_percent",
	"Partner":       "partner_percent",
}

func fieldName(fe validator.FieldError) string {
	if n, ok := fieldNames[fe.StructField()]; ok {
		return n
	}
	return fe.Field()
}
