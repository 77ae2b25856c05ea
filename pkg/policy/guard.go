package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/autostack/pkg/engine"
)

// Guard evaluates policies before a stack operation spawns the engine.
type Guard struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
	loader   *Loader
}

// compiledPolicy is a policy with its prepared deny query.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewGuard creates a guard with the built-in policies loaded.
func NewGuard(logger zerolog.Logger) (*Guard, error) {
	g := &Guard{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-guard").Logger(),
	}
	g.loader = NewLoader(g.logger)

	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if err := g.compileAndStore(context.Background(), &builtins[i]); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	g.logger.Debug().Int("count", len(builtins)).Msg("Built-in policies loaded")
	return g, nil
}

// Evaluate runs every enabled policy against the operation. A policy that
// fails to evaluate becomes a warning rather than an error.
func (g *Guard) Evaluate(ctx context.Context, in OperationInput) (*Decision, error) {
	start := time.Now()
	if in.Timestamp.IsZero() {
		in.Timestamp = start
	}

	g.mu.RLock()
	compiled := make([]*compiledPolicy, 0, len(g.policies))
	for _, cp := range g.policies {
		if cp.policy.Enabled {
			compiled = append(compiled, cp)
		}
	}
	g.mu.RUnlock()

	sort.Slice(compiled, func(i, j int) bool {
		return compiled[i].policy.Name < compiled[j].policy.Name
	})

	decision := &Decision{Allowed: true}
	for _, cp := range compiled {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		decision.EvaluatedPolicies = append(decision.EvaluatedPolicies, cp.policy.Name)

		found, err := g.evaluatePolicy(ctx, cp, in)
		if err != nil {
			g.logger.Warn().Err(err).
				Str("policy", cp.policy.Name).
				Str("stack", in.Stack).
				Msg("Policy evaluation failed")
			decision.Warnings = append(decision.Warnings, Violation{
				Policy:   cp.policy.Name,
				Message:  fmt.Sprintf("policy %s evaluation failed: %v", cp.policy.Name, err),
				Severity: SeverityWarning,
			})
			continue
		}

		for _, v := range found {
			if v.Severity.Blocking() {
				decision.Violations = append(decision.Violations, v)
			} else {
				decision.Warnings = append(decision.Warnings, v)
			}
		}
	}

	decision.Allowed = len(decision.Violations) == 0
	decision.EvaluatedAt = time.Now()
	decision.Duration = time.Since(start)

	g.logger.Debug().
		Str("stack", in.Stack).
		Str("operation", in.Operation).
		Bool("allowed", decision.Allowed).
		Int("violations", len(decision.Violations)).
		Int("warnings", len(decision.Warnings)).
		Dur("duration", decision.Duration).
		Msg("Policy evaluation completed")

	return decision, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (g *Guard) evaluatePolicy(ctx context.Context, cp *compiledPolicy, in OperationInput) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, newViolation(cp.policy, d))
		}
	}

	sort.Slice(violations, func(i, j int) bool {
		return violations[i].Message < violations[j].Message
	})
	return violations, nil
}

// newViolation converts one member of a deny set.
func newViolation(p *Policy, result interface{}) Violation {
	v := Violation{
		Policy:   p.Name,
		Severity: p.Severity,
	}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		for key, value := range r {
			switch key {
			case "message":
				v.Message, _ = value.(string)
			case "severity":
				if s, ok := value.(string); ok {
					v.Severity = Severity(s)
				}
			default:
				if v.Details == nil {
					v.Details = make(map[string]interface{})
				}
				v.Details[key] = value
			}
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}

	return v
}

// compileAndStore parses the policy, prepares its deny query, and stores it,
// replacing any policy with the same name.
func (g *Guard) compileAndStore(ctx context.Context, p *Policy) error {
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}

	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return engine.NewParseError(fmt.Sprintf("failed to parse policy %s", p.Name), err)
	}

	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return engine.NewParseError(fmt.Sprintf("failed to prepare policy %s", p.Name), err)
	}

	g.mu.Lock()
	g.policies[p.Name] = &compiledPolicy{
		policy:   p,
		query:    query,
		compiled: time.Now(),
	}
	g.mu.Unlock()

	g.logger.Debug().Str("policy", p.Name).Msg("Policy compiled")
	return nil
}

// LoadPolicies compiles the .rego and .json policy files found under paths.
// A policy with the same name as an existing one replaces it.
func (g *Guard) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := g.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}

	return g.applyPolicies(ctx, policies)
}

func (g *Guard) applyPolicies(ctx context.Context, policies []Policy) error {
	for i := range policies {
		if err := g.compileAndStore(ctx, &policies[i]); err != nil {
			return err
		}
	}

	g.logger.Info().Int("count", len(policies)).Msg("Policies loaded")
	return nil
}

// Watch reloads policies from paths whenever a policy file changes, until
// ctx is done.
func (g *Guard) Watch(ctx context.Context, paths []string) error {
	return g.loader.Watch(ctx, paths, func(policies []Policy) error {
		return g.applyPolicies(ctx, policies)
	})
}

// GetPolicy returns a policy by name.
func (g *Guard) GetPolicy(name string) (*Policy, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cp, ok := g.policies[name]
	if !ok {
		return nil, engine.NewNotFoundError(fmt.Sprintf("policy not found: %s", name), nil)
	}
	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (g *Guard) ListPolicies() []Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()

	policies := make([]Policy, 0, len(g.policies))
	for _, cp := range g.policies {
		policies = append(policies, *cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool {
		return policies[i].Name < policies[j].Name
	})
	return policies
}

// EnablePolicy enables a policy by name.
func (g *Guard) EnablePolicy(name string) error {
	return g.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (g *Guard) DisablePolicy(name string) error {
	return g.setEnabled(name, false)
}

func (g *Guard) setEnabled(name string, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cp, ok := g.policies[name]
	if !ok {
		return engine.NewNotFoundError(fmt.Sprintf("policy not found: %s", name), nil)
	}
	cp.policy.Enabled = enabled

	g.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

// Close stops any policy file watcher.
func (g *Guard) Close() error {
	return g.loader.StopWatching()
}
