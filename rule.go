package permit

import (
	"fmt"
	"strconv"
	"strings"
)

// fieldSeparator joins rule fields into the identity text. The unit
// separator never appears in policy values, so the joined form is collision
// free.
const fieldSeparator = "\x1f"

// Rule is an ordered, fixed-arity tuple of string-convertible fields. One
// Rule represents either an incoming request or one stored policy row.
// Rules are immutable after construction; the engine replaces rather than
// edits them.
type Rule struct {
	fields []any
	text   string
}

// NewRule builds a rule from an ordered list of fields. Fields may be
// plain strings or arbitrary values (attribute objects for ABAC matchers).
func NewRule(values ...any) *Rule {
	return &Rule{fields: values}
}

// newStringRule wraps a string slice without copying the values.
func newStringRule(values []string) *Rule {
	fields := make([]any, len(values))
	for i, v := range values {
		fields[i] = v
	}
	return &Rule{fields: fields}
}

// Len reports the fixed arity of the rule.
func (r *Rule) Len() int { return len(r.fields) }

// Field returns the string form of the field at index i.
func (r *Rule) Field(i int) (string, error) {
	if i < 0 || i >= len(r.fields) {
		return "", fmt.Errorf("rule field index %d out of range [0,%d)", i, len(r.fields))
	}
	return fieldText(r.fields[i]), nil
}

// Raw returns the field at index i without string conversion, or nil when
// the index is out of range. Matcher binding uses this so ABAC objects keep
// their concrete type.
func (r *Rule) Raw(i int) any {
	if i < 0 || i >= len(r.fields) {
		return nil
	}
	return r.fields[i]
}

// Text joins all fields in order with an internal separator. The joined
// text is the rule's identity for dedup and lookups. Memoized after the
// first call.
func (r *Rule) Text() string {
	if r.text == "" && len(r.fields) > 0 {
		var b strings.Builder
		for i, f := range r.fields {
			if i > 0 {
				b.WriteString(fieldSeparator)
			}
			b.WriteString(fieldText(f))
		}
		r.text = b.String()
	}
	return r.text
}

// Equals reports whether two rules have the same arity and field text.
func (r *Rule) Equals(other *Rule) bool {
	if other == nil {
		return false
	}
	return r.Len() == other.Len() && r.Text() == other.Text()
}

// Strings returns the string form of every field.
func (r *Rule) Strings() []string {
	out := make([]string, len(r.fields))
	for i, f := range r.fields {
		out[i] = fieldText(f)
	}
	return out
}

// setField overwrites a single field in place and drops the memoized text.
// Only used internally while binding generic requests.
func (r *Rule) setField(i int, v any) error {
	if i < 0 || i >= len(r.fields) {
		return fmt.Errorf("rule field index %d out of range [0,%d)", i, len(r.fields))
	}
	r.fields[i] = v
	r.text = ""
	return nil
}

func fieldText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
