package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		artifactNamingPolicy(),
		requiredPropertiesPolicy(),
		schemaDriftPolicy(),
		noRawExportPolicy(),
		componentVersioningPolicy(),
	}
}

// artifactNamingPolicy enforces artifact ID naming conventions.
func artifactNamingPolicy() Policy {
	return Policy{
		Name:        "artifact-naming",
		Description: "Enforces artifact ID naming conventions (lowercase, alphanumeric, hyphens and underscores only)",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package waivern.policies.naming

import rego.v1

deny contains violation if {
	input.artifact
	artifact := input.artifact
	id := artifact.artifact_id

	lower(id) != id
	violation := {
		"message": sprintf("Artifact id '%s' must be lowercase", [id]),
		"severity": "error",
		"artifact": id,
	}
}

deny contains violation if {
	input.artifact
	artifact := input.artifact
	id := artifact.artifact_id

	not regex.match("^[a-z0-9_-]+$", id)
	violation := {
		"message": sprintf("Artifact id '%s' must contain only lowercase letters, numbers, hyphens, and underscores", [id]),
		"severity": "error",
		"artifact": id,
	}
}

deny contains violation if {
	input.artifact
	artifact := input.artifact
	id := artifact.artifact_id

	count(id) < 3
	violation := {
		"message": sprintf("Artifact id '%s' must be at least 3 characters long", [id]),
		"severity": "error",
		"artifact": id,
	}
}

deny contains violation if {
	input.artifact
	artifact := input.artifact
	id := artifact.artifact_id

	count(id) > 63
	violation := {
		"message": sprintf("Artifact id '%s' must not exceed 63 characters", [id]),
		"severity": "error",
		"artifact": id,
	}
}`,
	}
}

// requiredPropertiesPolicy ensures every artifact declares a data
// classification and an owning team.
func requiredPropertiesPolicy() Policy {
	return Policy{
		Name:        "required-properties",
		Description: "Ensures critical properties (classification, owner) are present on every artifact",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"properties", "metadata"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package waivern.policies.properties

import rego.v1

required_properties := ["owner", "classification"]

deny contains violation if {
	input.artifact
	artifact := input.artifact

	not artifact.properties
	violation := {
		"message": sprintf("Artifact %s must declare properties", [artifact.artifact_id]),
		"severity": "error",
		"artifact": artifact.artifact_id,
	}
}

deny contains violation if {
	input.artifact
	artifact := input.artifact
	some prop in required_properties

	not artifact.properties[prop]
	violation := {
		"message": sprintf("Artifact %s missing required property: %s", [artifact.artifact_id, prop]),
		"severity": "error",
		"artifact": artifact.artifact_id,
	}
}

deny contains violation if {
	input.artifact
	artifact := input.artifact
	classification := artifact.properties.classification

	not classification in ["public", "internal", "confidential", "restricted"]
	violation := {
		"message": sprintf("Artifact %s has invalid classification: %s (must be public, internal, confidential, or restricted)", [artifact.artifact_id, classification]),
		"severity": "error",
		"artifact": artifact.artifact_id,
	}
}`,
	}
}

// schemaDriftPolicy warns when a reuse candidate's desired and actual
// state have drifted past an acceptable threshold.
func schemaDriftPolicy() Policy {
	return Policy{
		Name:        "schema-drift",
		Description: "Warns when a reuse candidate's recorded state has drifted from the current desired configuration",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"drift", "reuse"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package waivern.policies.drift

import rego.v1

# Maximum drift threshold (percentage)
max_drift_threshold := 10

deny contains violation if {
	input.desired_state
	input.actual_state

	desired := input.desired_state
	actual := input.actual_state

	total_fields := count(object.keys(desired))

	different_fields := count([k |
		some k in object.keys(desired)
		desired[k] != actual[k]
	])

	drift_percentage := (different_fields / total_fields) * 100
	drift_percentage > max_drift_threshold

	violation := {
		"message": sprintf("Reuse candidate drifted %.1f%% from desired configuration, exceeding the %d%% threshold", [drift_percentage, max_drift_threshold]),
		"severity": "warning",
		"artifact": input.artifact.artifact_id,
	}
}`,
	}
}

// noRawExportPolicy prevents restricted artifacts from being
// designated as pipeline outputs without redaction, and flags plans with
// an unreviewed number of output artifacts.
func noRawExportPolicy() Policy {
	return Policy{
		Name:        "no-raw-export",
		Description: "Prevents restricted-classification artifacts from leaving the pipeline as outputs without redaction",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"export", "compliance", "production"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package waivern.policies.export

import rego.v1

deny contains violation if {
	input.artifact
	input.context
	artifact := input.artifact
	context := input.context

	artifact.output
	artifact.properties.classification == "restricted"
	not artifact.properties.redacted
	not context.dry_run

	violation := {
		"message": sprintf("Output artifact %s is classified restricted and leaves the pipeline unredacted", [artifact.artifact_id]),
		"severity": "critical",
		"artifact": artifact.artifact_id,
	}
}

deny contains violation if {
	input.plan
	plan := input.plan

	output_count := count([a |
		some a in plan.artifacts
		a.output
	])

	output_count > 5

	violation := {
		"message": sprintf("Plan designates %d artifacts as outputs - please review the export surface carefully", [output_count]),
		"severity": "warning",
	}
}`,
	}
}

// componentVersioningPolicy enforces minimum component versions.
func componentVersioningPolicy() Policy {
	return Policy{
		Name:        "component-versioning",
		Description: "Enforces minimum component versions for security and compatibility",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"components", "versioning", "security"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package waivern.policies.components

import rego.v1

# Minimum component versions
min_component_versions := {
	"fsfile": "1.0.0",
	"sshfile": "1.0.0",
	"patternmatch": "1.0.0",
}

deny contains violation if {
	input.plan
	plan := input.plan
	some artifact in plan.artifacts

	min_version := min_component_versions[artifact.component_type]
	min_version

	not artifact.properties.version
	violation := {
		"message": sprintf("Artifact %s does not specify a component version", [artifact.artifact_id]),
		"severity": "warning",
		"artifact": artifact.artifact_id,
	}
}

deny contains violation if {
	input.plan
	plan := input.plan
	some artifact in plan.artifacts

	min_version := min_component_versions[artifact.component_type]
	artifact.properties.version < min_version

	violation := {
		"message": sprintf("Component %s version %s is below minimum required version %s",
			[artifact.component_type, artifact.properties.version, min_version]),
		"severity": "warning",
		"artifact": artifact.artifact_id,
	}
}

# Warn about beta/alpha versions in production
deny contains violation if {
	input.plan
	input.context
	plan := input.plan
	context := input.context
	some artifact in plan.artifacts

	context.environment == "production"
	regex.match("(alpha|beta|rc)", artifact.properties.version)

	violation := {
		"message": sprintf("Component %s version %s is pre-release and should not be used in production",
			[artifact.component_type, artifact.properties.version]),
		"severity": "warning",
		"artifact": artifact.artifact_id,
	}
}`,
	}
}
