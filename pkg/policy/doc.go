// Package policy guards stack operations with Open Policy Agent (OPA) rules.
//
// A Guard holds a set of compiled Rego policies. Before a workspace spawns
// the engine for an operation it builds an OperationInput (stack name,
// operation kind, tags, plaintext config) and asks the guard for a Decision.
// Any violation with severity error or critical denies the operation;
// everything else is reported as a warning.
//
// # Writing policies
//
// Each policy is a Rego module whose package defines a `deny` set. Members are
// either plain message strings or objects:
//
//	package acme.freeze
//
//	import rego.v1
//
//	deny contains violation if {
//		input.operation == "update"
//		time.weekday(time.now_ns()) == "Friday"
//		violation := {"message": "no updates on Fridays", "severity": "error"}
//	}
//
// Fields other than message and severity are kept in Violation.Details.
//
// # Usage
//
//	guard, err := policy.NewGuard(logger)
//	if err != nil {
//	    return err
//	}
//	if err := guard.LoadPolicies(ctx, []string{"./policies"}); err != nil {
//	    return err
//	}
//
//	decision, err := guard.Evaluate(ctx, policy.OperationInput{
//	    Stack:     "acme/web/prod",
//	    Operation: "destroy",
//	})
//	if err != nil {
//	    return err
//	}
//	if err := decision.Err("acme/web/prod", "destroy"); err != nil {
//	    return err // engine.IsPolicyDenied(err) == true
//	}
//
// # Built-in Policies
//
// protect-destroy denies destroy for stacks tagged protected=true and for
// stacks whose last name segment is prod or production.
//
// secret-config-names warns when a plaintext config key looks like a
// credential (password, token, api_key and similar).
//
// Policies loaded from files replace built-ins of the same name, so either
// can be overridden or disabled with DisablePolicy.
package policy
