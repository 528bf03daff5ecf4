package judge

import (
	"strings"

	"github.com/anuragpy07/ByteBattle/internal/domain/model"
)

// Comparator decides whether a submission's output answers a test case.
type Comparator interface {
	Match(input, expected, actual string) bool
}

// ExactComparator requires byte-for-byte equality after trimming the single
// trailing newline most runtimes emit.
type ExactComparator struct{}

func (ExactComparator) Match(_, expected, actual string) bool {
	return strings.TrimSuffix(expected, "\n") == strings.TrimSuffix(actual, "\n")
}

// TokenComparator compares whitespace-separated tokens, so differences in
// spacing, tabs and blank lines don't fail a correct answer.
type TokenComparator struct{}

func (TokenComparator) Match(_, expected, actual string) bool {
	et := strings.Fields(expected)
	at := strings.Fields(actual)
	if len(et) != len(at) {
		return false
	}
	for i := range et {
		if et[i] != at[i] {
			return false
		}
	}
	return true
}

// CheckerFunc adapts a custom checker (problems with multiple valid
// answers) to the Comparator interface.
type CheckerFunc func(input, expected, actual string) bool

func (f CheckerFunc) Match(input, expected, actual string) bool {
	return f(input, expected, actual)
}

// CheckerRegistry resolves custom checkers by problem ID.
type CheckerRegistry interface {
	Checker(problemID string) (CheckerFunc, bool)
}

// ComparatorFor selects the comparator variant for a problem. A checker
// problem without a registered checker falls back to token comparison
// rather than failing every submission.
func ComparatorFor(p *model.Problem, registry CheckerRegistry) Comparator {
	switch p.Comparator {
	case model.CompareExact:
		return ExactComparator{}
	case model.CompareChecker:
		if registry != nil {
			if fn, ok := registry.Checker(p.ID); ok {
				return fn
			}
		}
		return TokenComparator{}
	default:
		return TokenComparator{}
	}
}
