package search

import "github.com/pkg/errors"

// Search limits. Solve returns them together with a Result carrying the
// best solution found so far.
var (
	// ErrTimeOut reports that the time limit expired, the context was
	// cancelled or Interrupt was called.
	ErrTimeOut = errors.New("search time limit reached")
	// ErrBacktrackLimit reports that the backtrack limit was reached.
	ErrBacktrackLimit = errors.New("search backtrack limit reached")
	// ErrSolutionLimit reports that the requested number of solutions was
	// found.
	ErrSolutionLimit = errors.New("search solution limit reached")
)

// ErrInvalidConfig reports inconsistent search settings.
var ErrInvalidConfig = errors.New("invalid search configuration")

// errBacktracksOut unwinds the search when the current backtrack budget is
// spent. It becomes a restart or ErrBacktrackLimit at the top.
var errBacktracksOut = errors.New("backtrack budget spent")

// isLimit reports whether err stops the whole search.
func isLimit(err error) bool {
	return err == ErrTimeOut || err == ErrBacktrackLimit || err == ErrSolutionLimit || err == errBacktracksOut
}
