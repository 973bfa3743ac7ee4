package query

// Field is a filterable journal column.
type Field string

const (
	FieldRequestID  Field = "request_id"
	FieldAction     Field = "action"
	FieldCaller     Field = "caller"
	FieldAt         Field = "at"
	FieldSeq        Field = "seq"
	FieldOutputCase Field = "output_case"
)

// column maps each field to its qualified column in the record join
// (invocations i JOIN completions c).
var column = map[Field]string{
	FieldRequestID:  "i.request_id",
	FieldAction:     "i.action",
	FieldCaller:     "i.caller",
	FieldAt:         "i.at",
	FieldSeq:        "i.seq",
	FieldOutputCase: "c.output_case",
}

// numeric fields compare against int64 values, the rest against strings.
func (f Field) numeric() bool {
	return f == FieldAt || f == FieldSeq
}

// Predicate is a filter condition.
//
// This is a sealed interface: only types in this package implement it, so
// Compile and Validate can switch over it exhaustively.
type Predicate interface {
	predicateNode()
}

// Select is a journal lookup. A nil Filter selects every record; a zero
// Limit means no limit.
type Select struct {
	Filter Predicate
	Limit  int
}

// Equals matches records whose field equals Value. Value is a string for
// text fields and an int64 for at and seq.
type Equals struct {
	Field Field
	Value any
}

func (Equals) predicateNode() {}

// NotEquals matches records whose field differs from Value.
//
//	NotEquals{Field: FieldOutputCase, Value: "Success"}
//
// selects failed operations.
type NotEquals struct {
	Field Field
	Value any
}

func (NotEquals) predicateNode() {}

// Between matches records whose numeric field lies in [Min, Max].
type Between struct {
	Field    Field
	Min, Max int64
}

func (Between) predicateNode() {}

// And matches records satisfying every predicate. An empty And matches
// everything.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// All conjoins the non-nil predicates. It returns nil when none remain, so
// callers can build a filter from optional flags.
func All(preds ...Predicate) Predicate {
	var out []Predicate
	for _, p := range preds {
		if p != nil {
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return And{Predicates: out}
	}
}
