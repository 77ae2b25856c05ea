package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/autostack/pkg/engine"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	g, err := NewGuard(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGuard() error = %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestNewGuard_Builtins(t *testing.T) {
	g := newTestGuard(t)

	policies := g.ListPolicies()
	if len(policies) != 2 {
		t.Fatalf("ListPolicies() = %d policies, want 2", len(policies))
	}
	if policies[0].Name != ProtectDestroyPolicy || policies[1].Name != SecretConfigNamesPolicy {
		t.Errorf("ListPolicies() names = %s, %s", policies[0].Name, policies[1].Name)
	}
	for _, p := range policies {
		if !p.Builtin || !p.Enabled {
			t.Errorf("policy %s: builtin=%v enabled=%v", p.Name, p.Builtin, p.Enabled)
		}
	}
}

func TestEvaluate_ProtectDestroy(t *testing.T) {
	g := newTestGuard(t)

	tests := []struct {
		name        string
		input       OperationInput
		wantAllowed bool
		wantReasons []string
	}{
		{
			name:        "dev stack destroy",
			input:       OperationInput{Stack: "dev", Operation: "destroy"},
			wantAllowed: true,
		},
		{
			name:        "prod stack destroy",
			input:       OperationInput{Stack: "prod", Operation: "destroy"},
			wantAllowed: false,
			wantReasons: []string{"name"},
		},
		{
			name:        "qualified production stack destroy",
			input:       OperationInput{Stack: "acme/web/Production", Operation: "destroy"},
			wantAllowed: false,
			wantReasons: []string{"name"},
		},
		{
			name: "protected tag",
			input: OperationInput{
				Stack:     "acme/web/staging",
				Operation: "destroy",
				Tags:      map[string]string{"protected": "true"},
			},
			wantAllowed: false,
			wantReasons: []string{"tag"},
		},
		{
			name: "protected production stack",
			input: OperationInput{
				Stack:     "prod",
				Operation: "destroy",
				Tags:      map[string]string{"protected": "true"},
			},
			wantAllowed: false,
			wantReasons: []string{"name", "tag"},
		},
		{
			name: "protected tag false",
			input: OperationInput{
				Stack:     "staging",
				Operation: "destroy",
				Tags:      map[string]string{"protected": "false"},
			},
			wantAllowed: true,
		},
		{
			name:        "prod stack update",
			input:       OperationInput{Stack: "prod", Operation: "update"},
			wantAllowed: true,
		},
		{
			name:        "stack merely containing prod",
			input:       OperationInput{Stack: "prod-like", Operation: "destroy"},
			wantAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := g.Evaluate(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if decision.Allowed != tt.wantAllowed {
				t.Fatalf("Allowed = %v, want %v (violations %+v)", decision.Allowed, tt.wantAllowed, decision.Violations)
			}
			if len(decision.Violations) != len(tt.wantReasons) {
				t.Fatalf("Violations = %d, want %d", len(decision.Violations), len(tt.wantReasons))
			}

			reasons := make(map[string]bool)
			for _, v := range decision.Violations {
				if v.Policy != ProtectDestroyPolicy {
					t.Errorf("violation policy = %s", v.Policy)
				}
				if v.Severity != SeverityError {
					t.Errorf("violation severity = %s", v.Severity)
				}
				reason, _ := v.Details["reason"].(string)
				reasons[reason] = true
			}
			for _, want := range tt.wantReasons {
				if !reasons[want] {
					t.Errorf("missing violation with reason %q", want)
				}
			}
		})
	}
}

func TestEvaluate_SecretConfigNames(t *testing.T) {
	g := newTestGuard(t)

	decision, err := g.Evaluate(context.Background(), OperationInput{
		Stack:     "dev",
		Operation: "update",
		Config: map[string]ConfigInput{
			"web:dbPassword": {Value: "hunter2"},
			"web:apiToken":   {Secret: true},
			"web:region":     {Value: "us-west-2"},
		},
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	if !decision.Allowed {
		t.Fatalf("warnings must not block, got violations %+v", decision.Violations)
	}
	if len(decision.Warnings) != 1 {
		t.Fatalf("Warnings = %+v, want exactly one", decision.Warnings)
	}
	w := decision.Warnings[0]
	if w.Policy != SecretConfigNamesPolicy || w.Details["key"] != "web:dbPassword" {
		t.Errorf("warning = %+v", w)
	}

	// refresh does not consult config names
	decision, err = g.Evaluate(context.Background(), OperationInput{
		Stack:     "dev",
		Operation: "refresh",
		Config:    map[string]ConfigInput{"web:dbPassword": {Value: "hunter2"}},
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(decision.Warnings) != 0 {
		t.Errorf("refresh Warnings = %+v, want none", decision.Warnings)
	}
}

func TestEvaluate_EvaluatedPoliciesAndTiming(t *testing.T) {
	g := newTestGuard(t)

	decision, err := g.Evaluate(context.Background(), OperationInput{Stack: "dev", Operation: "preview", DryRun: true})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	want := []string{ProtectDestroyPolicy, SecretConfigNamesPolicy}
	if strings.Join(decision.EvaluatedPolicies, ",") != strings.Join(want, ",") {
		t.Errorf("EvaluatedPolicies = %v, want %v", decision.EvaluatedPolicies, want)
	}
	if decision.EvaluatedAt.IsZero() {
		t.Error("EvaluatedAt not set")
	}
}

func TestGuard_DisableEnable(t *testing.T) {
	g := newTestGuard(t)
	in := OperationInput{Stack: "prod", Operation: "destroy"}

	if err := g.DisablePolicy(ProtectDestroyPolicy); err != nil {
		t.Fatalf("DisablePolicy() error = %v", err)
	}
	decision, err := g.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !decision.Allowed {
		t.Error("disabled policy still denied the operation")
	}

	if err := g.EnablePolicy(ProtectDestroyPolicy); err != nil {
		t.Fatalf("EnablePolicy() error = %v", err)
	}
	decision, err = g.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if decision.Allowed {
		t.Error("re-enabled policy did not deny the operation")
	}

	if err := g.DisablePolicy("missing"); !engine.IsNotFound(err) {
		t.Errorf("DisablePolicy(missing) error = %v, want not found", err)
	}
	if _, err := g.GetPolicy("missing"); !engine.IsNotFound(err) {
		t.Errorf("GetPolicy(missing) error = %v, want not found", err)
	}
}

func TestGuard_LoadPolicies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "freeze.rego"), `# Blocks all updates.
package acme.freeze

import rego.v1

deny contains msg if {
	input.operation == "update"
	msg := sprintf("updates to %s are frozen", [input.stack])
}
`)
	writeFile(t, filepath.Join(dir, "notes.txt"), "not a policy")

	g := newTestGuard(t)
	if err := g.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}

	p, err := g.GetPolicy("freeze")
	if err != nil {
		t.Fatalf("GetPolicy() error = %v", err)
	}
	if p.Description != "Blocks all updates." {
		t.Errorf("Description = %q", p.Description)
	}
	if p.Source != filepath.Join(dir, "freeze.rego") {
		t.Errorf("Source = %q", p.Source)
	}

	decision, err := g.Evaluate(context.Background(), OperationInput{Stack: "dev", Operation: "update"})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if decision.Allowed {
		t.Fatal("freeze policy did not deny update")
	}
	if got := decision.Violations[0].Message; got != "updates to dev are frozen" {
		t.Errorf("message = %q", got)
	}

	err = decision.Err("dev", "update")
	if !engine.IsPolicyDenied(err) {
		t.Fatalf("Decision.Err() = %v, want policy denied", err)
	}
	if !strings.Contains(err.Error(), "updates to dev are frozen") {
		t.Errorf("error message = %q", err.Error())
	}
}

func TestGuard_LoadPoliciesInvalidRego(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.rego")
	writeFile(t, path, "package broken\n\ndeny contains if {\n")

	g := newTestGuard(t)
	err := g.LoadPolicies(context.Background(), []string{path})
	if !engine.IsParse(err) {
		t.Fatalf("LoadPolicies() error = %v, want parse error", err)
	}
	if _, err := g.GetPolicy("broken"); !engine.IsNotFound(err) {
		t.Error("broken policy should not be stored")
	}
}

func TestGuard_OverrideBuiltin(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "protect-destroy.json"), `{
	"name": "protect-destroy",
	"description": "allow everything",
	"severity": "error",
	"enabled": true,
	"rego": "package override\n\nimport rego.v1\n\ndeny contains msg if {\n\tfalse\n\tmsg := \"never\"\n}\n"
}`)

	g := newTestGuard(t)
	if err := g.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}

	decision, err := g.Evaluate(context.Background(), OperationInput{Stack: "prod", Operation: "destroy"})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !decision.Allowed {
		t.Errorf("overridden built-in still denied: %+v", decision.Violations)
	}
}

func TestGuard_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gate.rego")
	writeFile(t, path, "package gate\n\nimport rego.v1\n\ndeny contains \"closed\" if {\n\tinput.operation == \"refresh\"\n}\n")

	g := newTestGuard(t)
	if err := g.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := g.Watch(ctx, []string{dir}); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	in := OperationInput{Stack: "dev", Operation: "refresh"}
	decision, err := g.Evaluate(ctx, in)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if decision.Allowed {
		t.Fatal("gate policy did not deny refresh")
	}

	writeFile(t, path, "package gate\n\nimport rego.v1\n\ndeny contains \"closed\" if {\n\tinput.operation == \"import\"\n}\n")

	deadline := time.Now().Add(5 * time.Second)
	for {
		decision, err = g.Evaluate(ctx, in)
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		if decision.Allowed {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("policy was not reloaded after the file changed")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestEvaluate_Cancelled(t *testing.T) {
	g := newTestGuard(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := g.Evaluate(ctx, OperationInput{Stack: "dev", Operation: "update"}); err == nil {
		t.Error("Evaluate() with cancelled context should fail")
	}
}

func TestDecisionErr_Allowed(t *testing.T) {
	var nilDecision *Decision
	if err := nilDecision.Err("dev", "update"); err != nil {
		t.Errorf("nil Decision.Err() = %v", err)
	}
	if err := (&Decision{Allowed: true}).Err("dev", "update"); err != nil {
		t.Errorf("allowed Decision.Err() = %v", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
