package version

import (
	"fmt"
	"strings"
)

// Pattern restricts which versions of a package are acceptable.
//
// Ordering is positional within the package's own declared version list
// (providers declare versions oldest first, so the newest version is the
// last one). Patterns never compare version strings structurally.
//
// Supported forms:
//
//	""            any version (also "*" and "any")
//	"latest"      only the newest declared version
//	"1.2.3"       exactly that version
//	"1.2.3-"      that version or anything declared before it
//	"1.2.3+"      that version or anything declared after it
//	"1.0..2.0"    inclusive declared range
type Pattern struct {
	kind kind
	lo   string
	hi   string
}

type kind int

const (
	kindAny kind = iota
	kindLatest
	kindExact
	kindBefore
	kindAfter
	kindRange
)

// Any matches every declared version.
var Any = Pattern{kind: kindAny}

// Parse converts a constraint string into a Pattern.
func Parse(s string) (Pattern, error) {
	trimmed := strings.TrimSpace(s)

	switch trimmed {
	case "", "*", "any":
		return Pattern{kind: kindAny}, nil
	case "latest":
		return Pattern{kind: kindLatest}, nil
	}

	if strings.Contains(trimmed, "..") {
		parts := strings.Split(trimmed, "..")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return Pattern{}, fmt.Errorf("invalid version range %q (expected start..end)", s)
		}
		return Pattern{kind: kindRange, lo: parts[0], hi: parts[1]}, nil
	}

	switch trimmed[len(trimmed)-1] {
	case '-':
		base := trimmed[:len(trimmed)-1]
		if base == "" {
			return Pattern{}, fmt.Errorf("invalid version pattern %q", s)
		}
		return Pattern{kind: kindBefore, lo: base}, nil
	case '+':
		base := trimmed[:len(trimmed)-1]
		if base == "" {
			return Pattern{}, fmt.Errorf("invalid version pattern %q", s)
		}
		return Pattern{kind: kindAfter, lo: base}, nil
	}

	return Pattern{kind: kindExact, lo: trimmed}, nil
}

// MustParse panics if the pattern cannot be parsed. Intended for fixtures.
func MustParse(s string) Pattern {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// IsAny reports whether the pattern matches every version.
func (p Pattern) IsAny() bool {
	return p.kind == kindAny
}

// Matches reports whether version satisfies the pattern given the package's
// declared version list. Versions absent from the list never match.
func (p Pattern) Matches(version string, declared []string) bool {
	pos := indexOf(declared, version)
	if pos < 0 {
		return false
	}

	switch p.kind {
	case kindAny:
		return true
	case kindLatest:
		return pos == len(declared)-1
	case kindExact:
		return version == p.lo
	case kindBefore:
		base := indexOf(declared, p.lo)
		return base >= 0 && pos <= base
	case kindAfter:
		base := indexOf(declared, p.lo)
		return base >= 0 && pos >= base
	case kindRange:
		start := indexOf(declared, p.lo)
		end := indexOf(declared, p.hi)
		return start >= 0 && end >= 0 && pos >= start && pos <= end
	default:
		return false
	}
}

// MatchAll returns every declared version satisfying the pattern, preserving
// declared order (oldest first).
func (p Pattern) MatchAll(declared []string) []string {
	var matches []string
	for _, v := range declared {
		if p.Matches(v, declared) {
			matches = append(matches, v)
		}
	}
	return matches
}

// Best returns the newest declared version satisfying the pattern.
func (p Pattern) Best(declared []string) (string, bool) {
	matches := p.MatchAll(declared)
	if len(matches) == 0 {
		return "", false
	}
	return matches[len(matches)-1], true
}

// String returns the canonical text form of the pattern.
func (p Pattern) String() string {
	switch p.kind {
	case kindAny:
		return "*"
	case kindLatest:
		return "latest"
	case kindExact:
		return p.lo
	case kindBefore:
		return p.lo + "-"
	case kindAfter:
		return p.lo + "+"
	case kindRange:
		return p.lo + ".." + p.hi
	default:
		return "*"
	}
}

// MarshalText implements encoding.TextMarshaler so patterns serialize as
// their canonical string form in JSON documents.
func (p Pattern) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pattern) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func indexOf(versions []string, target string) int {
	for i, v := range versions {
		if v == target {
			return i
		}
	}
	return -1
}
