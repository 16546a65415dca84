package semver

import (
	"fmt"
	"regexp"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// Version is a package version.
//
// This is a thin wrapper around github.com/Masterminds/semver/v3 that also
// accepts the looser version strings found in recipes ("2016.1", "1.0.0rc1").
type Version struct {
	raw string
	v   *mm.Version
}

// Constraint is a version constraint.
//
// Conda spellings are accepted alongside semver ones:
// - ">=1.2,<2"
// - "1.11*"
// - "==1.1.1"
// - "1.0|1.1"
type Constraint struct {
	raw string
	c   *mm.Constraints
}

var (
	preReleaseRe = regexp.MustCompile(`^(\d+(?:\.\d+)*)([A-Za-z][0-9A-Za-z.]*)$`)
	starRe       = regexp.MustCompile(`(\d)\*`)
)

func ParseVersion(raw string) (Version, error) {
	raw = strings.TrimSpace(raw)
	v, err := mm.NewVersion(normalizeVersion(raw))
	if err != nil {
		return Version{}, fmt.Errorf("semver: parse version %q: %w", raw, err)
	}
	return Version{raw: raw, v: v}, nil
}

func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

func ParseConstraint(raw string) (Constraint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "*"
	}
	c, err := mm.NewConstraint(translateConstraint(raw))
	if err != nil {
		return Constraint{}, fmt.Errorf("semver: parse constraint %q: %w", raw, err)
	}
	return Constraint{raw: raw, c: c}, nil
}

func MustParseConstraint(raw string) Constraint {
	c, err := ParseConstraint(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns the version as originally written.
func (v Version) String() string { return v.raw }

// String returns the constraint as originally written.
func (c Constraint) String() string { return c.raw }

func Satisfies(v Version, c Constraint) bool {
	if v.v == nil || c.c == nil {
		return false
	}
	return c.c.Check(v.v)
}

// Compare compares a and b, returning:
// -1 if a < b
//
//	0 if a == b
//	1 if a > b
func Compare(a, b Version) int {
	if a.v == nil && b.v == nil {
		return 0
	}
	if a.v == nil {
		return -1
	}
	if b.v == nil {
		return 1
	}
	return a.v.Compare(b.v)
}

// CompareStrings orders two raw version strings. Strings that parse are
// compared as versions; anything else falls back to byte order, with
// unparseable versions sorting before parseable ones.
func CompareStrings(a, b string) int {
	va, errA := ParseVersion(a)
	vb, errB := ParseVersion(b)
	switch {
	case errA == nil && errB == nil:
		if c := Compare(va, vb); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	default:
		return 1
	}
}

// MaxSatisfying returns the highest version in candidates that satisfies c.
//
// If multiple versions are equal, the first encountered wins.
func MaxSatisfying(c Constraint, candidates []Version) (Version, bool) {
	var best Version
	found := false
	for _, candidate := range candidates {
		if !Satisfies(candidate, c) {
			continue
		}
		if !found || Compare(candidate, best) > 0 {
			best = candidate
			found = true
		}
	}
	return best, found
}

// normalizeVersion inserts the hyphen semver expects before a trailing
// pre-release tag: "1.0.0rc1" -> "1.0.0-rc1".
func normalizeVersion(raw string) string {
	if m := preReleaseRe.FindStringSubmatch(raw); m != nil {
		return m[1] + "-" + m[2]
	}
	return raw
}

func translateConstraint(raw string) string {
	alternatives := splitAlternatives(raw)
	for i, alt := range alternatives {
		alt = strings.ReplaceAll(alt, "==", "=")
		alt = starRe.ReplaceAllString(alt, "$1.*")
		alt = strings.ReplaceAll(alt, "..*", ".*")
		alternatives[i] = alt
	}
	return strings.Join(alternatives, " || ")
}

// splitAlternatives splits on conda's single "|" as well as semver's "||".
func splitAlternatives(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == '|' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
