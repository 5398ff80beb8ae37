package semverconstraint

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Constraint is a parsed dependency version constraint. A nil Constraint
// (returned by ParseAny) matches any version.
type Constraint struct {
	clauses []clause
}

type operator string

const (
	opEQ operator = "="
	opGE operator = ">="
	opLE operator = "<="
	opGT operator = ">"
	opLT operator = "<"
)

type clause struct {
	op  operator
	ver string // normalized, "v"-prefixed
}

// ParseAny returns a Constraint that matches every version.
func ParseAny() *Constraint {
	return &Constraint{}
}

// Parse parses a dependency constraint string. An empty string is equivalent
// to ParseAny.
func Parse(s string) (*Constraint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ParseAny(), nil
	}

	switch {
	case strings.HasPrefix(s, "^"):
		return parseCaret(s[1:])
	case strings.HasPrefix(s, "~"):
		return parseTilde(s[1:])
	}

	var clauses []clause
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		c, err := parseClause(part)
		if err != nil {
			return nil, fmt.Errorf("invalid dependency constraint %q: %w", s, err)
		}
		clauses = append(clauses, c)
	}
	if len(clauses) == 0 {
		return nil, fmt.Errorf("invalid dependency constraint %q: empty", s)
	}
	return &Constraint{clauses: clauses}, nil
}

func parseClause(part string) (clause, error) {
	for _, op := range []operator{opGE, opLE, opEQ, opGT, opLT} {
		if strings.HasPrefix(part, string(op)) {
			raw := strings.TrimSpace(strings.TrimPrefix(part, string(op)))
			norm, err := normalize(raw)
			if err != nil {
				return clause{}, err
			}
			return clause{op: op, ver: norm}, nil
		}
	}
	// Bare version: exact match.
	norm, err := normalize(part)
	if err != nil {
		return clause{}, err
	}
	return clause{op: opEQ, ver: norm}, nil
}

// parseCaret implements "^x.y.z": compatible within the leftmost non-zero
// component (same major if major > 0, same minor if major == 0).
func parseCaret(raw string) (*Constraint, error) {
	lo, err := normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid caret constraint %q: %w", "^"+raw, err)
	}
	major := semver.Major(lo)
	var hi string
	if major == "v0" {
		minor := semver.MajorMinor(lo)
		hi = bumpMinor(minor)
	} else {
		hi = bumpMajor(major)
	}
	return &Constraint{clauses: []clause{
		{op: opGE, ver: lo},
		{op: opLT, ver: hi},
	}}, nil
}

// parseTilde implements "~x.y[.z]": allows patch-level changes within the
// given minor version.
func parseTilde(raw string) (*Constraint, error) {
	lo, err := normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid tilde constraint %q: %w", "~"+raw, err)
	}
	hi := bumpMinor(semver.MajorMinor(lo))
	return &Constraint{clauses: []clause{
		{op: opGE, ver: lo},
		{op: opLT, ver: hi},
	}}, nil
}

// normalize accepts versions with or without a leading "v" and with or
// without a patch component, and returns a fully-qualified "vMAJOR.MINOR.PATCH".
func normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty version")
	}
	if !strings.HasPrefix(raw, "v") {
		raw = "v" + raw
	}
	parts := strings.Count(raw, ".")
	switch parts {
	case 0:
		raw += ".0.0"
	case 1:
		raw += ".0"
	}
	if !semver.IsValid(raw) {
		return "", fmt.Errorf("not a valid semantic version: %q", raw)
	}
	return semver.Canonical(raw), nil
}

func bumpMajor(major string) string {
	n := 0
	fmt.Sscanf(strings.TrimPrefix(major, "v"), "%d", &n)
	return fmt.Sprintf("v%d.0.0", n+1)
}

func bumpMinor(majorMinor string) string {
	var maj, min int
	fmt.Sscanf(strings.TrimPrefix(majorMinor, "v"), "%d.%d", &maj, &min)
	return fmt.Sprintf("v%d.%d.0", maj, min+1)
}

// Matches reports whether version (with or without a leading "v") satisfies
// the constraint.
func (c *Constraint) Matches(version string) bool {
	if c == nil || len(c.clauses) == 0 {
		return true
	}
	norm, err := normalize(version)
	if err != nil {
		return false
	}
	for _, cl := range c.clauses {
		cmp := semver.Compare(norm, cl.ver)
		var ok bool
		switch cl.op {
		case opEQ:
			ok = cmp == 0
		case opGE:
			ok = cmp >= 0
		case opLE:
			ok = cmp <= 0
		case opGT:
			ok = cmp > 0
		case opLT:
			ok = cmp < 0
		}
		if !ok {
			return false
		}
	}
	return true
}

// Compare compares two version strings (with or without a leading "v"),
// returning -1, 0, or 1, the same convention as golang.org/x/mod/semver.Compare.
// Invalid versions sort before valid ones.
func Compare(a, b string) int {
	na, errA := normalize(a)
	nb, errB := normalize(b)
	if errA != nil && errB != nil {
		return strings.Compare(a, b)
	}
	if errA != nil {
		return -1
	}
	if errB != nil {
		return 1
	}
	return semver.Compare(na, nb)
}

// String renders the constraint back to a human-readable form, mainly for
// error messages.
func (c *Constraint) String() string {
	if c == nil || len(c.clauses) == 0 {
		return "*"
	}
	parts := make([]string, 0, len(c.clauses))
	for _, cl := range c.clauses {
		parts = append(parts, string(cl.op)+strings.TrimPrefix(cl.ver, "v"))
	}
	return strings.Join(parts, ",")
}
