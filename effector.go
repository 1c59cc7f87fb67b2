package permit

import "fmt"

// Effect is the outcome of matching one policy row against a request.
type Effect int

const (
	// Allow means the row matched and grants access.
	Allow Effect = iota
	// Indeterminate means the row did not match (or failed to evaluate).
	Indeterminate
	// Deny means the row matched and forbids access.
	Deny
)

func (e Effect) String() string {
	switch e {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "indeterminate"
	}
}

// The supported effect expressions, in their escaped form. A model's
// effect definition must equal one of these exactly.
const (
	effectAllowOverride   = "some(where (p_eft == allow))"
	effectDenyOverride    = "!some(where (p_eft == deny))"
	effectAllowAndDeny    = "some(where (p_eft == allow)) && !some(where (p_eft == deny))"
	effectPriority        = "priority(p_eft) || deny"
	effectSubjectPriority = "subjectPriority(p_eft) || deny"
)

// Effector folds per-row outcomes into one decision. MergeEffects is
// called once per evaluated row with all outcomes so far; it returns
// Indeterminate until the decision is final, letting the caller stream
// rows and stop early. explainIndex is the row index that determined the
// decision, or -1.
type Effector interface {
	MergeEffects(expr string, effects []Effect, matches []float64, policyIndex, policyLength int) (Effect, int, error)
}

// DefaultEffector implements the four standard effect expressions.
type DefaultEffector struct{}

func NewDefaultEffector() *DefaultEffector { return &DefaultEffector{} }

// MergeEffects streams per-row outcomes into a decision.
//
// Allow-override concludes Allow at the first allowing row. Deny-override
// concludes Deny at the first denying row and defaults to Allow once every
// row has been seen. Allow-and-deny needs the full row set: any deny wins,
// otherwise any allow wins, otherwise Deny. Priority modes conclude at the
// first determinate row, since rows arrive already ordered by precedence.
func (e *DefaultEffector) MergeEffects(expr string, effects []Effect, matches []float64, policyIndex, policyLength int) (Effect, int, error) {
	done := policyIndex == policyLength-1
	eft := effects[policyIndex]

	switch expr {
	case effectAllowOverride:
		if eft == Allow {
			return Allow, policyIndex, nil
		}
		if done {
			return Deny, -1, nil
		}
		return Indeterminate, -1, nil

	case effectDenyOverride:
		if eft == Deny {
			return Deny, policyIndex, nil
		}
		if done {
			return Allow, -1, nil
		}
		return Indeterminate, -1, nil

	case effectAllowAndDeny:
		if eft == Deny {
			return Deny, policyIndex, nil
		}
		if !done {
			return Indeterminate, -1, nil
		}
		for i, prev := range effects {
			if prev == Allow {
				return Allow, i, nil
			}
		}
		return Deny, -1, nil

	case effectPriority, effectSubjectPriority:
		if eft != Indeterminate {
			return eft, policyIndex, nil
		}
		if done {
			return Deny, -1, nil
		}
		return Indeterminate, -1, nil
	}

	return Deny, -1, fmt.Errorf("unsupported effect expression %q", expr)
}
