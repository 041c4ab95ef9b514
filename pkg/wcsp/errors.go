package wcsp

import "github.com/pkg/errors"

// ErrContradiction is returned when propagation or a bound check proves that
// the current subproblem has no solution below the upper bound. It is the
// only error a choice point recovers from; compare it by identity.
var ErrContradiction = errors.New("contradiction")

// ErrInvalidProblem reports a malformed network definition.
var ErrInvalidProblem = errors.New("invalid problem")
