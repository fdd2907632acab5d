package alert

import (
	"fmt"

	"github.com/expr-lang/expr"
)

// FindingEnv is the environment finding filters evaluate against.
type FindingEnv struct {
	Event    string `expr:"event"`
	Side     string `expr:"side"`
	Severity string `expr:"severity"`
	Flow     string `expr:"flow"`
	IsError  bool   `expr:"is_error"`
	IsWarn   bool   `expr:"is_warn"`
}

// Compile compiles a finding filter expression, e.g.
//
//	event == "TooManyStreams" && side == "client"
//	is_error || event == "BadPushPromise"
//
// An empty expression matches everything.
func Compile(filterStr string) (func(*Finding) bool, error) {
	if filterStr == "" {
		return nil, nil
	}
	program, err := expr.Compile(filterStr, expr.Env(FindingEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter '%s': %w", filterStr, err)
	}
	return func(f *Finding) bool {
		env := FindingEnv{
			Event:    f.Code.String(),
			Side:     f.Side.String(),
			Severity: f.Severity.String(),
			Flow:     f.FlowKey,
			IsError:  f.Severity == SeverityError,
			IsWarn:   f.Severity >= SeverityWarning,
		}
		out, err := expr.Run(program, env)
		if err != nil {
			return false
		}
		match, ok := out.(bool)
		return ok && match
	}, nil
}
