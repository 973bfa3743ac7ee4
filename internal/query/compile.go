package query

import (
	"fmt"
	"strings"
)

// Compile validates q and returns the clauses that follow the record join:
// an optional WHERE, the seq ordering every journal query uses, and an
// optional LIMIT. Values appear only as ? placeholders.
func Compile(q Select) (string, []any, error) {
	if err := Validate(q); err != nil {
		return "", nil, fmt.Errorf("invalid query: %w", err)
	}

	var (
		buf    strings.Builder
		params []any
	)
	if q.Filter != nil {
		frag, args, err := compilePredicate(q.Filter)
		if err != nil {
			return "", nil, err
		}
		buf.WriteString(" WHERE ")
		buf.WriteString(frag)
		params = args
	}
	buf.WriteString(" ORDER BY i.seq ASC")
	if q.Limit > 0 {
		buf.WriteString(" LIMIT ?")
		params = append(params, q.Limit)
	}
	return buf.String(), params, nil
}

func compilePredicate(p Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case Equals:
		return column[pred.Field] + " = ?", []any{pred.Value}, nil
	case *Equals:
		return compilePredicate(*pred)
	case NotEquals:
		return column[pred.Field] + " <> ?", []any{pred.Value}, nil
	case *NotEquals:
		return compilePredicate(*pred)
	case Between:
		return column[pred.Field] + " BETWEEN ? AND ?", []any{pred.Min, pred.Max}, nil
	case *Between:
		return compilePredicate(*pred)
	case And:
		return compileAnd(pred)
	case *And:
		return compileAnd(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func compileAnd(and And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}
	parts := make([]string, 0, len(and.Predicates))
	var params []any
	for _, sub := range and.Predicates {
		frag, args, err := compilePredicate(sub)
		if err != nil {
			return "", nil, err
		}
		if _, nested := sub.(And); nested {
			frag = "(" + frag + ")"
		}
		parts = append(parts, frag)
		params = append(params, args...)
	}
	return strings.Join(parts, " AND "), params, nil
}
