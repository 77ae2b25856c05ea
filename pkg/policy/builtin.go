package policy

// Names of the built-in policies.
const (
	ProtectDestroyPolicy    = "protect-destroy"
	SecretConfigNamesPolicy = "secret-config-names"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		protectDestroyPolicy(),
		secretConfigNamesPolicy(),
	}
}

// protectDestroyPolicy refuses to destroy stacks that are tagged protected or
// that look like production stacks.
func protectDestroyPolicy() Policy {
	return Policy{
		Name:        ProtectDestroyPolicy,
		Description: "Denies destroy for stacks tagged protected=true or named prod/production",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package autostack.policies.protect

import rego.v1

production_names := {"prod", "production"}

deny contains violation if {
	input.operation == "destroy"
	input.tags.protected == "true"
	violation := {
		"message": sprintf("stack %s is tagged protected=true", [input.stack]),
		"severity": "error",
		"reason": "tag",
	}
}

deny contains violation if {
	input.operation == "destroy"
	segments := split(input.stack, "/")
	name := lower(segments[count(segments) - 1])
	production_names[name]
	violation := {
		"message": sprintf("stack %s is a production stack", [input.stack]),
		"severity": "error",
		"reason": "name",
	}
}
`,
	}
}

// secretConfigNamesPolicy warns when a config key that looks like a
// credential is stored in plaintext.
func secretConfigNamesPolicy() Policy {
	return Policy{
		Name:        SecretConfigNamesPolicy,
		Description: "Warns when plaintext config keys look like credentials",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package autostack.policies.secrets

import rego.v1

credential_pattern := "(?i)(password|passwd|secret|token|api[_-]?key|private[_-]?key|credential)"

deny contains violation if {
	input.operation in {"update", "preview"}
	some key, entry in input.config
	not entry.secret
	regex.match(credential_pattern, key)
	violation := {
		"message": sprintf("config key %s looks like a credential but is not a secret", [key]),
		"severity": "warning",
		"key": key,
	}
}
`,
	}
}
