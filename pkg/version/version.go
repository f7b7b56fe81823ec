package version

import (
	"fmt"
	"strconv"

	"github.com/blang/semver/v4"

	"github.com/cyrup-ai/kodegen-release/pkg/types"
)

// Next computes the next semantic version for the given bump kind.
func Next(current string, kind types.BumpKind) (string, error) {
	v, err := semver.Parse(current)
	if err != nil {
		return "", fmt.Errorf("parsing version %q: %w", current, err)
	}

	switch kind {
	case types.BumpMajor:
		v.Major++
		v.Minor = 0
		v.Patch = 0
		v.Pre = nil
	case types.BumpMinor:
		v.Minor++
		v.Patch = 0
		v.Pre = nil
	case types.BumpPatch:
		v.Patch++
		v.Pre = nil
	case types.BumpPrerelease:
		if err := bumpPrerelease(&v); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unknown bump kind %q", kind)
	}
	v.Build = nil
	return v.String(), nil
}

// bumpPrerelease increments the last numeric pre-release identifier, or
// starts an rc.1 tag when the version has none.
func bumpPrerelease(v *semver.Version) error {
	if len(v.Pre) == 0 {
		rc, err := semver.NewPRVersion("rc")
		if err != nil {
			return err
		}
		one, err := semver.NewPRVersion("1")
		if err != nil {
			return err
		}
		v.Patch++
		v.Pre = []semver.PRVersion{rc, one}
		return nil
	}

	for i := len(v.Pre) - 1; i >= 0; i-- {
		if v.Pre[i].IsNum {
			v.Pre[i].VersionNum++
			return nil
		}
	}

	// All identifiers are alphanumeric ("alpha"); append a counter.
	one, err := semver.NewPRVersion("1")
	if err != nil {
		return err
	}
	v.Pre = append(v.Pre, one)
	return nil
}

// TagName returns the git tag for a version string.
func TagName(version string) string {
	return "v" + version
}

// Validate parses a version string, returning a descriptive error.
func Validate(version string) error {
	if _, err := semver.Parse(version); err != nil {
		return fmt.Errorf("invalid semantic version %q: %w", version, err)
	}
	return nil
}

// Compare returns -1, 0 or 1 comparing two version strings.
func Compare(a, b string) (int, error) {
	va, err := semver.Parse(a)
	if err != nil {
		return 0, err
	}
	vb, err := semver.Parse(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// quoteUnquote strips surrounding double quotes from a TOML string value.
func quoteUnquote(s string) (string, bool) {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return "", false
		}
		return unq, true
	}
	return "", false
}
