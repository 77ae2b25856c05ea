package versionguard

import (
	"testing"

	"github.com/Masterminds/semver/v3"

	"github.com/openfroyo/autostack/pkg/engine"
)

func TestCheck(t *testing.T) {
	minimum := semver.MustParse("v2.21.1")

	tests := []struct {
		name     string
		observed string
		optOut   bool
		wantCode string
	}{
		{name: "higher_major", observed: "100.0.0", wantCode: engine.CodeMajorMismatch},
		{name: "lower_major", observed: "1.0.0", wantCode: engine.CodeMinimumVersion},
		{name: "higher_minor", observed: "v2.22.0"},
		{name: "lower_minor", observed: "v2.1.0", wantCode: engine.CodeMinimumVersion},
		{name: "higher_patch", observed: "v2.21.2"},
		{name: "equal", observed: "v2.21.1"},
		{name: "lower_patch", observed: "v2.21.0", wantCode: engine.CodeMinimumVersion},
		{name: "prerelease_of_minimum", observed: "v2.21.1-alpha.1234", wantCode: engine.CodeMinimumVersion},
		{name: "lower_opt_out", observed: "v2.20.0", optOut: true},
		{name: "higher_opt_out", observed: "v2.22.0", optOut: true},
		{name: "invalid_version", observed: "invalid", wantCode: engine.CodeInvalidVersion},
		{name: "invalid_version_opt_out", observed: "invalid", optOut: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Check(minimum, tt.observed, tt.optOut)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("Expected no error, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error with code %s, got nil", tt.wantCode)
			}
			if got := engine.CodeOf(err); got != tt.wantCode {
				t.Errorf("Expected code %s, got %s (%v)", tt.wantCode, got, err)
			}
		})
	}
}

func TestCheck_ErrorKinds(t *testing.T) {
	minimum := semver.MustParse("2.21.1")

	_, err := Check(minimum, "100.0.0", false)
	if !engine.IsVersionMismatch(err) {
		t.Errorf("Expected major mismatch to be a version mismatch, got %v", err)
	}

	_, err = Check(minimum, "2.0.0", false)
	if !engine.IsVersionMismatch(err) {
		t.Errorf("Expected minimum failure to be a version mismatch, got %v", err)
	}

	_, err = Check(minimum, "not-a-version", false)
	if !engine.IsParse(err) {
		t.Errorf("Expected parse error, got %v", err)
	}
}

func TestParseEngineVersion(t *testing.T) {
	tests := []struct {
		output string
		want   string
	}{
		{"v3.100.0\n", "3.100.0"},
		{"3.2.0", "3.2.0"},
		{"  v3.99.1-dev.0  ", "3.99.1-dev.0"},
	}
	for _, tt := range tests {
		v, err := ParseEngineVersion(tt.output)
		if err != nil {
			t.Fatalf("Expected %q to parse: %v", tt.output, err)
		}
		if v.String() != tt.want {
			t.Errorf("Expected %s, got %s", tt.want, v.String())
		}
	}
}

func TestSkipFromEnv(t *testing.T) {
	t.Setenv(SkipEnvVar, "true")
	if !SkipFromEnv() {
		t.Errorf("Expected skip with true")
	}
	t.Setenv(SkipEnvVar, "0")
	if SkipFromEnv() {
		t.Errorf("Expected no skip with 0")
	}
	t.Setenv(SkipEnvVar, "")
	if SkipFromEnv() {
		t.Errorf("Expected no skip when unset")
	}
}
