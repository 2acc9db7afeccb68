// Package policy provides Open Policy Agent (OPA) integration for
// waivern.
//
// This package implements policy enforcement for runbook-derived
// execution plans and artifacts, using the Rego policy language. It
// includes built-in policies for common compliance requirements and
// supports custom policy loading from Rego or JSON files.
//
// # Architecture
//
// The policy system consists of four main components:
//
//  1. Engine - Compiles and evaluates Rego policies
//  2. Loader - Loads policies from files, directories, and bundles
//  3. Types - Data structures for policies, violations, and results
//  4. Built-in Policies - Pre-defined policies for common requirements
//
// # Usage
//
// Creating a policy engine:
//
//	logger := zerolog.New(os.Stdout)
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Evaluating a plan before it executes:
//
//	result, err := eng.Evaluate(ctx, plan)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if !result.Allowed {
//	    for _, violation := range result.Violations {
//	        fmt.Printf("policy %s violated: %s\n", violation.Policy, violation.Message)
//	    }
//	}
//
// Loading custom policies:
//
//	paths := []string{
//	    "/etc/waivern/policies",
//	    "/opt/policies/custom.rego",
//	}
//
//	err = eng.LoadPolicies(ctx, paths)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Built-in Policies
//
// The following policies are included by default:
//
//  1. artifact-naming - Enforces artifact ID naming conventions
//  2. required-properties - Ensures critical properties (classification, owner) are present
//  3. schema-drift - Flags reuse candidates that drifted past the desired configuration
//  4. no-raw-export - Blocks restricted-classification artifacts from leaving unredacted
//  5. component-versioning - Enforces minimum component versions
//
// # Custom Policies
//
// Custom policies can be written in Rego and loaded from files:
//
//	package custom.policies.backup
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.artifact
//	    artifact := input.artifact
//
//	    artifact.properties.classification == "confidential"
//	    not artifact.properties.backup_owner
//
//	    violation := {
//	        "message": "Confidential artifacts must declare a backup_owner",
//	        "severity": "error",
//	        "artifact": artifact.artifact_id,
//	    }
//	}
//
// # Policy Evaluation Points
//
// The engine evaluates policies at two levels:
//
//  1. Plan evaluation - Evaluate checks every artifact of a plan (the CLI's run, resume and validate commands call it before execution); EvaluatePlan checks the plan as a whole
//  2. Artifact evaluation - EvaluateArtifact checks a single plan node outside of a plan
//
// # Severity Levels
//
// Violations have four severity levels:
//
//  - info: Informational messages
//  - warning: Issues that should be reviewed but don't block a run
//  - error: Issues that block a run
//  - critical: Severe issues requiring immediate attention
//
// # Hot Reload
//
// The loader supports watching policy files for changes and reloading
// automatically:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return eng.LoadPolicies(ctx, paths)
//	})
//
// # Performance
//
// Policies are parsed and prepared when they are loaded, so a malformed
// policy is rejected at load time. Each evaluation builds and runs a new
// OPA query over the policy module; the query prepared at load time is not
// reused. The loader caches parsed policy files.
//
// # Context Injection
//
// Policy evaluations can include context information:
//
//  - RunID: Which run the evaluation belongs to
//  - Environment: Target environment (production, staging, etc.)
//  - Operation: "plan" (Evaluate, EvaluatePlan) or "validate" (EvaluateArtifact)
//  - Timestamp: When the evaluation occurred
//  - DryRun: Whether this is a plan-only evaluation
//
// This context allows policies to make environment-aware decisions.
package policy
