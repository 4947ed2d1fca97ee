// Package availability evaluates the access restriction attached to an
// enrolment instance. A rule is a JSON tree:
//
//	{"op":"&","c":[
//		{"type":"date","d":">=","t":1700000000},
//		{"op":"|","c":[{"type":"user","ids":["..."]},{"type":"course","course":"..."}]}
//	]}
//
// Operators are "&", "|", "!&" and "!|". Leaves are "date" (d is ">=" or "<"),
// "user" (allow list) and "course" (enrolled in another course).
package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidRule = errors.New("invalid availability rule")

type Node struct {
	Op     string   `json:"op,omitempty"`
	C      []Node   `json:"c,omitempty"`
	Type   string   `json:"type,omitempty"`
	D      string   `json:"d,omitempty"`
	T      int64    `json:"t,omitempty"`
	IDs    []string `json:"ids,omitempty"`
	Course string   `json:"course,omitempty"`
}

func (n Node) leaf() bool { return n.Type != "" }

// Parse decodes and checks a rule. An empty rule parses to nil.
func Parse(rule string) (*Node, error) {
	if strings.TrimSpace(rule) == "" {
		return nil, nil
	}

	var n Node
	if err := json.Unmarshal([]byte(rule), &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if err := check(n); err != nil {
		return nil, err
	}
	return &n, nil
}

func check(n Node) error {
	if n.leaf() {
		switch n.Type {
		case "date":
			if n.D != ">=" && n.D != "<" {
				return fmt.Errorf("%w: date direction %q", ErrInvalidRule, n.D)
			}
		case "user":
			if len(n.IDs) == 0 {
				return fmt.Errorf("%w: empty user list", ErrInvalidRule)
			}
		case "course":
			if n.Course == "" {
				return fmt.Errorf("%w: missing course", ErrInvalidRule)
			}
		default:
			return fmt.Errorf("%w: unknown condition %q", ErrInvalidRule, n.Type)
		}
		return nil
	}

	switch n.Op {
	case "&", "|", "!&", "!|":
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidRule, n.Op)
	}
	for _, c := range n.C {
		if err := check(c); err != nil {
			return err
		}
	}
	return nil
}

// EnrolmentChecker answers course enrolment questions for "course" conditions.
type EnrolmentChecker interface {
	IsEnrolledInCourse(ctx context.Context, courseID, userID string) (bool, error)
}

type Evaluator struct {
	enrolments EnrolmentChecker
	now        func() time.Time
}

func NewEvaluator(enrolments EnrolmentChecker) *Evaluator {
	return &Evaluator{
		enrolments: enrolments,
		now:        time.Now,
	}
}

// IsAvailable reports whether the rule admits the user, with the reason when it does not.
func (e *Evaluator) IsAvailable(ctx context.Context, rule string, userID string) (bool, string, error) {
	n, err := Parse(rule)
	if err != nil {
		return false, "", err
	}
	if n == nil {
		return true, "", nil
	}

	ok, reasons, err := e.eval(ctx, *n, userID)
	if err != nil {
		return false, "", err
	}
	if ok {
		return true, "", nil
	}
	return false, strings.Join(reasons, "; "), nil
}

func (e *Evaluator) eval(ctx context.Context, n Node, userID string) (bool, []string, error) {
	if n.leaf() {
		return e.evalLeaf(ctx, n, userID)
	}

	negate := strings.HasPrefix(n.Op, "!")
	or := strings.HasSuffix(n.Op, "|")

	var reasons []string
	result := !or
	for _, c := range n.C {
		ok, rs, err := e.eval(ctx, c, userID)
		if err != nil {
			return false, nil, err
		}
		if or && ok {
			result = true
		}
		if !or && !ok {
			result = false
		}
		if !ok {
			reasons = append(reasons, rs...)
		}
	}

	if negate {
		if result {
			return false, []string{"Not available with your current access"}, nil
		}
		return true, nil, nil
	}
	if result {
		return true, nil, nil
	}
	return false, reasons, nil
}

func (e *Evaluator) evalLeaf(ctx context.Context, n Node, userID string) (bool, []string, error) {
	switch n.Type {
	case "date":
		now := e.now().Unix()
		at := time.Unix(n.T, 0).UTC().Format(time.RFC1123)
		if n.D == ">=" {
			if now >= n.T {
				return true, nil, nil
			}
			return false, []string{"Available from " + at}, nil
		}
		if now < n.T {
			return true, nil, nil
		}
		return false, []string{"Available until " + at}, nil

	case "user":
		for _, id := range n.IDs {
			if id == userID {
				return true, nil, nil
			}
		}
		return false, []string{"Not available for your account"}, nil

	case "course":
		if e.enrolments == nil {
			return false, []string{"Requires enrolment in another course"}, nil
		}
		ok, err := e.enrolments.IsEnrolledInCourse(ctx, n.Course, userID)
		if err != nil {
			return false, nil, fmt.Errorf("checking enrolment in course[%s]: %w", n.Course, err)
		}
		if ok {
			return true, nil, nil
		}
		return false, []string{"Requires enrolment in another course"}, nil
	}

	return false, nil, fmt.Errorf("%w: unknown condition %q", ErrInvalidRule, n.Type)
}
