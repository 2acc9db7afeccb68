package policy

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/waivern-compliance/waivern/pkg/component"
	"github.com/waivern-compliance/waivern/pkg/planner"
)

func sourceNode(artifactID string, props component.Properties) *planner.PlanNode {
	return &planner.PlanNode{
		ArtifactID: artifactID,
		SourceType: "fsfile",
		Properties: props,
		Output:     true,
	}
}

func TestNewEngine(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if eng == nil {
		t.Fatal("engine is nil")
	}

	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("no built-in policies loaded")
	}

	expectedPolicies := []string{
		"artifact-naming",
		"required-properties",
		"schema-drift",
		"no-raw-export",
		"component-versioning",
	}

	for _, expected := range expectedPolicies {
		found := false
		for _, p := range policies {
			if p.Name == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected built-in policy not found: %s", expected)
		}
	}
}

func TestEvaluateArtifact_NamingPolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	tests := []struct {
		name            string
		node            *planner.PlanNode
		expectAllowed   bool
		expectViolation bool
	}{
		{
			name: "valid artifact id",
			node: sourceNode("valid-artifact", component.Properties{
				"owner":          "test-team",
				"classification": "internal",
			}),
			expectAllowed:   true,
			expectViolation: false,
		},
		{
			name: "uppercase in id",
			node: sourceNode("Invalid-Artifact", component.Properties{
				"owner":          "test-team",
				"classification": "internal",
			}),
			expectAllowed:   false,
			expectViolation: true,
		},
		{
			name: "id too short",
			node: sourceNode("ab", component.Properties{
				"owner":          "test-team",
				"classification": "internal",
			}),
			expectAllowed:   false,
			expectViolation: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.EvaluateArtifact(context.Background(), tt.node)
			if err != nil {
				t.Fatalf("evaluation failed: %v", err)
			}
			if result.Allowed != tt.expectAllowed {
				t.Errorf("expected allowed=%v, got %v", tt.expectAllowed, result.Allowed)
			}
			hasViolation := len(result.Violations) > 0
			if hasViolation != tt.expectViolation {
				t.Errorf("expected violation=%v, got %v violations: %+v",
					tt.expectViolation, hasViolation, result.Violations)
			}
		})
	}
}

func TestEvaluateArtifact_RequiredProperties(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	tests := []struct {
		name            string
		node            *planner.PlanNode
		expectAllowed   bool
		expectViolation bool
	}{
		{
			name: "all required properties present",
			node: sourceNode("test-artifact", component.Properties{
				"owner":          "platform-team",
				"classification": "internal",
			}),
			expectAllowed:   true,
			expectViolation: false,
		},
		{
			name: "missing classification",
			node: sourceNode("test-artifact", component.Properties{
				"owner": "platform-team",
			}),
			expectAllowed:   false,
			expectViolation: true,
		},
		{
			name: "missing owner",
			node: sourceNode("test-artifact", component.Properties{
				"classification": "internal",
			}),
			expectAllowed:   false,
			expectViolation: true,
		},
		{
			name: "invalid classification value",
			node: sourceNode("test-artifact", component.Properties{
				"owner":          "platform-team",
				"classification": "bogus",
			}),
			expectAllowed:   false,
			expectViolation: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.EvaluateArtifact(context.Background(), tt.node)
			if err != nil {
				t.Fatalf("evaluation failed: %v", err)
			}
			if result.Allowed != tt.expectAllowed {
				t.Errorf("expected allowed=%v, got %v. violations: %+v",
					tt.expectAllowed, result.Allowed, result.Violations)
			}
			hasViolation := len(result.Violations) > 0
			if hasViolation != tt.expectViolation {
				t.Errorf("expected violation=%v, got %v violations: %+v",
					tt.expectViolation, hasViolation, result.Violations)
			}
		})
	}
}

func TestEvaluate_NoRawExport(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	plan := &planner.ExecutionPlan{
		RunID: "test-run",
		Nodes: map[string]*planner.PlanNode{
			"output-1": {
				ArtifactID: "output-1",
				ProcessType: "patternmatch",
				Output:     true,
				Properties: component.Properties{
					"owner":          "platform-team",
					"classification": "restricted",
				},
			},
		},
	}

	result, err := eng.Evaluate(context.Background(), plan)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if result == nil {
		t.Fatal("result is nil")
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "no-raw-export" {
			found = true
		}
	}
	if !found {
		t.Error("expected a no-raw-export violation for an unredacted restricted output")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	policyName := "artifact-naming"

	if err := eng.DisablePolicy(policyName); err != nil {
		t.Fatalf("failed to disable policy: %v", err)
	}

	p, err := eng.GetPolicy(policyName)
	if err != nil {
		t.Fatalf("failed to get policy: %v", err)
	}
	if p.Enabled {
		t.Error("policy should be disabled")
	}

	node := sourceNode("INVALID_NAME", component.Properties{
		"owner":          "test-team",
		"classification": "internal",
	})

	result, err := eng.EvaluateArtifact(context.Background(), node)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	for _, v := range result.Violations {
		if v.Policy == policyName {
			t.Error("disabled policy should not generate violations")
		}
	}

	if err := eng.EnablePolicy(policyName); err != nil {
		t.Fatalf("failed to enable policy: %v", err)
	}
	p, err = eng.GetPolicy(policyName)
	if err != nil {
		t.Fatalf("failed to get policy: %v", err)
	}
	if !p.Enabled {
		t.Error("policy should be enabled")
	}
}

func TestSchemaDriftPolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	desired := map[string]interface{}{
		"version": "1.0.0",
		"enabled": true,
		"timeout": 30,
	}
	actual := map[string]interface{}{
		"version": "1.0.1",
		"enabled": true,
		"timeout": 60,
	}
	desiredJSON, _ := json.Marshal(desired)
	actualJSON, _ := json.Marshal(actual)

	node := sourceNode("test-drift", component.Properties{
		"owner":          "platform-team",
		"classification": "internal",
	})

	cp := eng.policies["schema-drift"]
	if cp == nil {
		t.Fatal("schema-drift policy not loaded")
	}

	input := &PolicyInput{
		Artifact:     artifactInputFromNode(node),
		DesiredState: desiredJSON,
		ActualState:  actualJSON,
		Context:      &PolicyContext{Operation: "validate"},
	}

	violations, err := eng.evaluatePolicy(context.Background(), cp, input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if len(violations) == 0 {
		t.Error("expected a drift violation for a 2/3 field mismatch exceeding the 10% threshold")
	}
}

func TestReloadPolicies(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	initialCount := len(eng.ListPolicies())

	if err := eng.ReloadPolicies(context.Background()); err != nil {
		t.Fatalf("failed to reload policies: %v", err)
	}

	afterReloadCount := len(eng.ListPolicies())
	if initialCount != afterReloadCount {
		t.Errorf("expected %d policies after reload, got %d", initialCount, afterReloadCount)
	}
}

func TestListPolicies(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("no policies returned")
	}
	for _, p := range policies {
		if p.Name == "" {
			t.Error("policy has empty name")
		}
		if p.Rego == "" {
			t.Error("policy has empty Rego code")
		}
		if p.CreatedAt.IsZero() {
			t.Error("policy has zero CreatedAt")
		}
	}
}

func TestEvaluate_AcrossPlan(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	plan := &planner.ExecutionPlan{
		RunID: "test-run",
		Nodes: map[string]*planner.PlanNode{
			"resource-1": sourceNode("resource-1", component.Properties{
				"owner":          "platform-team",
				"classification": "internal",
			}),
			"resource-2": sourceNode("INVALID-NAME", component.Properties{
				"owner":          "platform-team",
				"classification": "internal",
			}),
		},
	}

	result, err := eng.Evaluate(context.Background(), plan)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("expected plan to be rejected due to a naming violation")
	}
	if len(result.Violations) == 0 {
		t.Error("expected at least one violation")
	}

	foundNamingViolation := false
	for _, v := range result.Violations {
		if v.Policy == "artifact-naming" {
			foundNamingViolation = true
			break
		}
	}
	if !foundNamingViolation {
		t.Error("expected an artifact-naming policy violation")
	}
}
