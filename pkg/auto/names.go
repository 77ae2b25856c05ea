package auto

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/openfroyo/autostack/pkg/engine"
)

// maxStackSegment is the longest organization, project or stack segment the
// engine accepts.
const maxStackSegment = 100

var stackSegmentPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// FullyQualifiedStackName returns the `org/project/stack` form the engine
// uses to address stacks in any backend.
func FullyQualifiedStackName(org, project, stack string) string {
	return fmt.Sprintf("%s/%s/%s", org, project, stack)
}

// StackReference is a parsed stack name. Organization and Project are empty
// when the name did not include them.
type StackReference struct {
	Organization string
	Project      string
	Stack        string
}

// String returns the reference in the form it was parsed from.
func (r StackReference) String() string {
	parts := make([]string, 0, 3)
	if r.Organization != "" {
		parts = append(parts, r.Organization)
	}
	if r.Project != "" {
		parts = append(parts, r.Project)
	}
	return strings.Join(append(parts, r.Stack), "/")
}

// ParseStackName splits a stack name of the form `stack`, `org/stack` or
// `org/project/stack` and validates every segment.
func ParseStackName(name string) (StackReference, error) {
	if name == "" {
		return StackReference{}, invalidStackName(name, "stack name is empty")
	}

	segments := strings.Split(name, "/")
	if len(segments) > 3 {
		return StackReference{}, invalidStackName(name, "expected at most org/project/stack")
	}
	for _, seg := range segments {
		switch {
		case seg == "":
			return StackReference{}, invalidStackName(name, "empty name segment")
		case len(seg) > maxStackSegment:
			return StackReference{}, invalidStackName(name,
				fmt.Sprintf("segment %q is longer than %d characters", seg, maxStackSegment))
		case !stackSegmentPattern.MatchString(seg):
			return StackReference{}, invalidStackName(name,
				fmt.Sprintf("segment %q may only contain alphanumerics, hyphens, underscores, or periods", seg))
		}
	}

	ref := StackReference{Stack: segments[len(segments)-1]}
	switch len(segments) {
	case 2:
		ref.Organization = segments[0]
	case 3:
		ref.Organization = segments[0]
		ref.Project = segments[1]
	}
	return ref, nil
}

// ValidateStackName checks name without parsing it further.
func ValidateStackName(name string) error {
	_, err := ParseStackName(name)
	return err
}

func invalidStackName(name, reason string) *engine.Error {
	return engine.NewParseError(fmt.Sprintf("invalid stack name %q: %s", name, reason), nil).
		WithStack(name)
}
