// Package versionguard decides whether an engine binary is compatible with
// this library.
package versionguard

import (
	"os"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/openfroyo/autostack/pkg/engine"
)

// SkipEnvVar, when truthy, disables the version check for every workspace.
const SkipEnvVar = "AUTOMATION_API_SKIP_VERSION_CHECK"

// MinimumEngineVersion is the oldest engine release the workspace supports.
var MinimumEngineVersion = semver.MustParse("3.2.0")

// ParseEngineVersion extracts a semantic version from the output of the
// engine's version command.
func ParseEngineVersion(output string) (*semver.Version, error) {
	raw := strings.TrimSpace(output)
	v, err := semver.NewVersion(strings.TrimPrefix(raw, "v"))
	if err != nil {
		return nil, engine.NewParseError("failed to parse engine version "+strconv.Quote(raw), err).
			WithCode(engine.CodeInvalidVersion)
	}
	return v, nil
}

// Check validates observed against minimum.
//
// With optOut set nothing is checked and no error is returned, not even for an
// unparsable version; the parsed version is returned when available. Otherwise a
// higher major version fails with CodeMajorMismatch and anything below minimum,
// including a lower major or a prerelease of minimum, fails with CodeMinimumVersion.
func Check(minimum *semver.Version, observed string, optOut bool) (*semver.Version, error) {
	current, err := ParseEngineVersion(observed)
	if optOut {
		return current, nil
	}
	if err != nil {
		return nil, err
	}

	if current.Major() > minimum.Major() {
		return current, engine.NewVersionMismatchError("Major version mismatch.", nil).
			WithCode(engine.CodeMajorMismatch).
			WithDetail("minimum", minimum.String()).
			WithDetail("observed", current.String())
	}
	if current.LessThan(minimum) {
		return current, engine.NewVersionMismatchError("Minimum version requirement failed.", nil).
			WithCode(engine.CodeMinimumVersion).
			WithDetail("minimum", minimum.String()).
			WithDetail("observed", current.String())
	}
	return current, nil
}

// SkipFromEnv reports whether the environment asks to skip the version check.
func SkipFromEnv() bool {
	skip, err := strconv.ParseBool(os.Getenv(SkipEnvVar))
	return err == nil && skip
}
