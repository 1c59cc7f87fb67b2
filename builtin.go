package permit

import (
	"fmt"

	"github.com/Knetic/govaluate"

	"github.com/oarkflow/permit/utils"
)

// FunctionMap is the default set of matcher functions available to every
// model: key, regex, glob and IP matchers. Role functions for each grouping
// definition are added per enforcer on top of these.
func FunctionMap() map[string]govaluate.ExpressionFunction {
	return map[string]govaluate.ExpressionFunction{
		"keyMatch":   wrapStringPair("keyMatch", utils.KeyMatch),
		"keyMatch2":  wrapStringPair("keyMatch2", utils.KeyMatch2),
		"keyMatch3":  wrapStringPair("keyMatch3", utils.KeyMatch3),
		"keyMatch4":  wrapStringPair("keyMatch4", utils.KeyMatch4),
		"keyMatch5":  wrapStringPair("keyMatch5", utils.KeyMatch5),
		"regexMatch": wrapStringPair("regexMatch", utils.RegexMatch),
		"ipMatch":    wrapStringPair("ipMatch", utils.IPMatch),
		"globMatch": func(args ...any) (any, error) {
			key, pattern, err := twoStrings("globMatch", args)
			if err != nil {
				return nil, err
			}
			return utils.GlobMatch(key, pattern)
		},
	}
}

func twoStrings(name string, args []any) (string, string, error) {
	if len(args) != 2 {
		return "", "", fmt.Errorf("%s expects 2 arguments, got %d", name, len(args))
	}
	a, ok1 := args[0].(string)
	b, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return "", "", fmt.Errorf("%s expects string arguments", name)
	}
	return a, b, nil
}

func wrapStringPair(name string, fn func(string, string) bool) govaluate.ExpressionFunction {
	return func(args ...any) (any, error) {
		a, b, err := twoStrings(name, args)
		if err != nil {
			return nil, err
		}
		return fn(a, b), nil
	}
}

// roleFunction exposes a role manager as a matcher function. Two arguments
// ask plain reachability, three add a domain.
func roleFunction(rm RoleManager) govaluate.ExpressionFunction {
	return func(args ...any) (any, error) {
		if len(args) < 2 || len(args) > 3 {
			return nil, fmt.Errorf("role function expects 2 or 3 arguments, got %d", len(args))
		}
		strs := make([]string, len(args))
		for i, a := range args {
			s, ok := a.(string)
			if !ok {
				return nil, fmt.Errorf("role function expects string arguments, got %T", a)
			}
			strs[i] = s
		}
		if rm == nil {
			return strs[0] == strs[1], nil
		}
		if len(strs) == 2 {
			return rm.HasLink(strs[0], strs[1])
		}
		return rm.HasLink(strs[0], strs[1], strs[2])
	}
}
