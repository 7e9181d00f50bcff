// Package semver checks relay server versions against client constraints.
package semver

import (
	"fmt"
	"regexp"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "semver:version"

var majorOnlyRegex = regexp.MustCompile(`^\d+$`)

// IncompatibleError reports a server version outside the requested constraint.
type IncompatibleError struct {
	Version    string
	Constraint string
}

func (e *IncompatibleError) Error() string {
	return fmt.Sprintf("server version %s does not satisfy %s", e.Version, e.Constraint)
}

// IsMajorOnly checks if a constraint is a bare major version (e.g. "3").
func IsMajorOnly(constraint string) bool {
	return majorOnlyRegex.MatchString(constraint)
}

// NormalizeConstraint turns a bare major into a caret range ("3" becomes "^3").
func NormalizeConstraint(constraint string) string {
	c := strings.TrimSpace(constraint)
	if IsMajorOnly(c) {
		return "^" + c
	}
	return c
}

// Valid reports whether version parses as a semantic version.
func Valid(version string) bool {
	_, err := masterminds.NewVersion(version)
	return err == nil
}

// ValidConstraint reports whether constraint parses as a version range.
func ValidConstraint(constraint string) bool {
	if strings.TrimSpace(constraint) == "" {
		return true
	}
	_, err := masterminds.NewConstraint(NormalizeConstraint(constraint))
	return err == nil
}

// Check returns nil when version satisfies constraint. An empty constraint
// accepts every version; an unparsable version or constraint is an error.
func Check(version, constraint string) error {
	if strings.TrimSpace(constraint) == "" {
		return nil
	}
	c, err := masterminds.NewConstraint(NormalizeConstraint(constraint))
	if err != nil {
		return fmt.Errorf("%s - invalid constraint %q: %w", logPrefix, constraint, err)
	}
	v, err := masterminds.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%s - invalid server version %q: %w", logPrefix, version, err)
	}
	if !c.Check(v) {
		return &IncompatibleError{Version: version, Constraint: constraint}
	}
	return nil
}
