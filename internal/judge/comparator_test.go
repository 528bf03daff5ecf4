package judge

import (
	"testing"

	"github.com/anuragpy07/ByteBattle/internal/domain/model"
)

func TestExactComparator(t *testing.T) {
	c := ExactComparator{}

	if !c.Match("", "42\n", "42") {
		t.Error("trailing newline on expected should not matter")
	}
	if !c.Match("", "42", "42\n") {
		t.Error("trailing newline on actual should not matter")
	}
	if c.Match("", "a b", "a  b") {
		t.Error("interior whitespace must be significant")
	}
	if c.Match("", "42\n\n", "42") {
		t.Error("only a single trailing newline is trimmed")
	}
}

func TestTokenComparator(t *testing.T) {
	c := TokenComparator{}

	if !c.Match("", "1 2 3", "1\t2\n3\n") {
		t.Error("token comparison should ignore whitespace differences")
	}
	if c.Match("", "1 2 3", "1 2") {
		t.Error("missing token must fail")
	}
	if c.Match("", "1 2 3", "1 2 4") {
		t.Error("differing token must fail")
	}
	if !c.Match("", "", "\n\n  ") {
		t.Error("all-whitespace output should match empty expected")
	}
}

type stubRegistry struct {
	checkers map[string]CheckerFunc
}

func (r stubRegistry) Checker(problemID string) (CheckerFunc, bool) {
	fn, ok := r.checkers[problemID]
	return fn, ok
}

func TestComparatorFor(t *testing.T) {
	exact := &model.Problem{ID: "p1", Comparator: model.CompareExact}
	if _, ok := ComparatorFor(exact, nil).(ExactComparator); !ok {
		t.Error("expected exact comparator")
	}

	ws := &model.Problem{ID: "p2", Comparator: model.CompareWhitespace}
	if _, ok := ComparatorFor(ws, nil).(TokenComparator); !ok {
		t.Error("expected token comparator")
	}

	registry := stubRegistry{checkers: map[string]CheckerFunc{
		"p3": func(input, expected, actual string) bool { return actual == "ok" },
	}}
	checker := &model.Problem{ID: "p3", Comparator: model.CompareChecker}
	if !ComparatorFor(checker, registry).Match("", "anything", "ok") {
		t.Error("registered checker should be used")
	}

	// Checker problem without a registered checker falls back to tokens.
	orphan := &model.Problem{ID: "p4", Comparator: model.CompareChecker}
	if _, ok := ComparatorFor(orphan, registry).(TokenComparator); !ok {
		t.Error("expected token fallback for unregistered checker")
	}
}
