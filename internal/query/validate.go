package query

import (
	"errors"
	"fmt"
)

// Validate reports every problem with q: unknown fields, values of the
// wrong type, inverted ranges and negative limits.
func Validate(q Select) error {
	var errs []error
	if q.Limit < 0 {
		errs = append(errs, fmt.Errorf("limit must be non-negative, got %d", q.Limit))
	}
	v := &validator{}
	v.predicate(q.Filter)
	errs = append(errs, v.errs...)
	return errors.Join(errs...)
}

type validator struct {
	errs []error
}

func (v *validator) add(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func (v *validator) predicate(p Predicate) {
	switch pred := p.(type) {
	case nil:
	case Equals:
		v.comparison("equals", pred.Field, pred.Value)
	case *Equals:
		v.comparison("equals", pred.Field, pred.Value)
	case NotEquals:
		v.comparison("not equals", pred.Field, pred.Value)
	case *NotEquals:
		v.comparison("not equals", pred.Field, pred.Value)
	case Between:
		v.between(pred)
	case *Between:
		v.between(*pred)
	case And:
		for _, sub := range pred.Predicates {
			v.predicate(sub)
		}
	case *And:
		for _, sub := range pred.Predicates {
			v.predicate(sub)
		}
	default:
		v.add("unsupported predicate type %T", p)
	}
}

func (v *validator) field(f Field) bool {
	if _, ok := column[f]; !ok {
		v.add("unknown field %q", f)
		return false
	}
	return true
}

func (v *validator) comparison(op string, f Field, value any) {
	if !v.field(f) {
		return
	}
	switch value.(type) {
	case int64:
		if !f.numeric() {
			v.add("%s %s: field takes a string, got an integer", op, f)
		}
	case string:
		if f.numeric() {
			v.add("%s %s: field takes an integer, got a string", op, f)
		}
	case nil:
		v.add("%s %s: value is required", op, f)
	default:
		// Floats have no exact journal representation.
		v.add("%s %s: unsupported value type %T", op, f, value)
	}
}

func (v *validator) between(b Between) {
	if !v.field(b.Field) {
		return
	}
	if !b.Field.numeric() {
		v.add("between %s: field is not numeric", b.Field)
	}
	if b.Min > b.Max {
		v.add("between %s: min %d is after max %d", b.Field, b.Min, b.Max)
	}
}
