package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/waivern-compliance/waivern/pkg/planner"
)

// Engine compiles Rego policies and evaluates them against plan nodes, as
// an optional guardrail stage the CLI's run, resume and validate commands
// consult before a run is allowed to execute.
type Engine struct {
	mu              sync.RWMutex
	policies        map[string]*compiledPolicy
	store           storage.Store
	logger          zerolog.Logger
	builtinPolicies []Policy
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a new policy engine with the built-in policy set
// already loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	store := inmem.New()

	e := &Engine{
		policies:        make(map[string]*compiledPolicy),
		store:           store,
		logger:          logger.With().Str("component", "policy-engine").Logger(),
		builtinPolicies: GetBuiltinPolicies(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// Evaluate evaluates all enabled policies against every artifact in plan,
// aggregating violations across the whole plan.
func (e *Engine) Evaluate(ctx context.Context, plan *planner.ExecutionPlan) (*PolicyResult, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	var allViolations []PolicyViolation
	var warnings []string
	evaluatedPolicies := make([]string, 0, len(e.policies))

	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}
		evaluatedPolicies = append(evaluatedPolicies, cp.policy.Name)

		for artifactID, node := range plan.Nodes {
			input := &PolicyInput{
				Artifact: artifactInputFromNode(node),
				Context: &PolicyContext{
					RunID:     plan.RunID,
					Timestamp: time.Now(),
					Operation: "plan",
				},
			}

			violations, err := e.evaluatePolicy(ctx, cp, input)
			if err != nil {
				e.logger.Error().Err(err).
					Str("policy", cp.policy.Name).
					Str("artifact_id", artifactID).
					Msg("policy evaluation failed")
				warnings = append(warnings, fmt.Sprintf("policy %s evaluation failed: %v", cp.policy.Name, err))
				continue
			}
			allViolations = append(allViolations, violations...)
		}
	}

	duration := time.Since(startTime)
	e.logger.Debug().
		Str("run_id", plan.RunID).
		Int("violations", len(allViolations)).
		Dur("duration", duration).
		Msg("plan policy evaluation completed")

	return &PolicyResult{
		Allowed:           !anyBlocking(allViolations),
		Violations:        allViolations,
		Warnings:          warnings,
		EvaluatedAt:       time.Now(),
		EvaluatedPolicies: evaluatedPolicies,
		Duration:          duration,
	}, nil
}

// EvaluatePlan evaluates policies that reason about the plan as a whole
// (fan-out limits, counts of output artifacts) rather than per artifact.
func (e *Engine) EvaluatePlan(ctx context.Context, plan *planner.ExecutionPlan) (*PolicyResult, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	var allViolations []PolicyViolation
	var warnings []string
	evaluatedPolicies := make([]string, 0, len(e.policies))

	planInput := planInputFromPlan(plan)

	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}
		evaluatedPolicies = append(evaluatedPolicies, cp.policy.Name)

		input := &PolicyInput{
			Plan: planInput,
			Context: &PolicyContext{
				RunID:     plan.RunID,
				Timestamp: time.Now(),
				Operation: "plan",
			},
		}

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Str("run_id", plan.RunID).
				Msg("policy evaluation failed")
			warnings = append(warnings, fmt.Sprintf("policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}
		allViolations = append(allViolations, violations...)
	}

	duration := time.Since(startTime)
	e.logger.Debug().
		Str("run_id", plan.RunID).
		Int("violations", len(allViolations)).
		Dur("duration", duration).
		Msg("whole-plan policy evaluation completed")

	return &PolicyResult{
		Allowed:           !anyBlocking(allViolations),
		Violations:        allViolations,
		Warnings:          warnings,
		EvaluatedAt:       time.Now(),
		EvaluatedPolicies: evaluatedPolicies,
		Duration:          duration,
	}, nil
}

// EvaluateArtifact evaluates policies against a single plan node, outside
// the context of a full plan.
func (e *Engine) EvaluateArtifact(ctx context.Context, node *planner.PlanNode) (*PolicyResult, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	var allViolations []PolicyViolation
	var warnings []string
	evaluatedPolicies := make([]string, 0, len(e.policies))

	artifact := artifactInputFromNode(node)

	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}
		evaluatedPolicies = append(evaluatedPolicies, cp.policy.Name)

		input := &PolicyInput{
			Artifact: artifact,
			Context: &PolicyContext{
				Timestamp: time.Now(),
				Operation: "validate",
			},
		}

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Str("artifact_id", node.ArtifactID).
				Msg("policy evaluation failed")
			warnings = append(warnings, fmt.Sprintf("policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}
		allViolations = append(allViolations, violations...)
	}

	duration := time.Since(startTime)
	e.logger.Debug().
		Str("artifact_id", node.ArtifactID).
		Int("violations", len(allViolations)).
		Dur("duration", duration).
		Msg("artifact policy evaluation completed")

	return &PolicyResult{
		Allowed:           !anyBlocking(allViolations),
		Violations:        allViolations,
		Warnings:          warnings,
		EvaluatedAt:       time.Now(),
		EvaluatedPolicies: evaluatedPolicies,
		Duration:          duration,
	}, nil
}

// LoadPolicies loads policy files from paths and compiles each one,
// replacing any previously loaded (non-built-in) policy of the same name.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("policies loaded successfully")

	return nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *PolicyInput) ([]PolicyViolation, error) {
	packageName := extractPackageName(cp.policy.Rego)
	query := fmt.Sprintf("data.%s.deny", packageName)

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []PolicyViolation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, e.createViolation(cp.policy, d, input))
		}
	}

	return violations, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(regoSrc string) string {
	lines := strings.Split(regoSrc, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "waivern.policies"
}

// createViolation creates a PolicyViolation from a Rego deny result.
func (e *Engine) createViolation(policy *Policy, result interface{}, input *PolicyInput) PolicyViolation {
	violation := PolicyViolation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	if input.Artifact != nil {
		violation.ArtifactID = input.Artifact.ArtifactID
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if art, ok := v["artifact"].(string); ok {
			violation.ArtifactID = art
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and stores it.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(e.store),
		rego.Query("data"),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().Str("policy", policy.Name).Msg("policy compiled successfully")
	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	for i := range e.builtinPolicies {
		if err := e.compileAndStorePolicy(ctx, &e.builtinPolicies[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", e.builtinPolicies[i].Name, err)
		}
	}

	e.logger.Info().Int("count", len(e.builtinPolicies)).Msg("built-in policies loaded")
	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	return policies
}

// ReloadPolicies clears all loaded policies and reloads the built-in set.
// Policies loaded from files are not reloaded.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)
	return e.loadBuiltinPolicies(ctx)
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = true
	e.logger.Info().Str("policy", name).Msg("policy enabled")
	return nil
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = false
	e.logger.Info().Str("policy", name).Msg("policy disabled")
	return nil
}

// anyBlocking reports whether violations contains an error or critical
// severity entry, which blocks the plan/artifact from proceeding.
func anyBlocking(violations []PolicyViolation) bool {
	for _, v := range violations {
		if v.Severity == SeverityError || v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// artifactInputFromNode projects a planner.PlanNode into the shape Rego
// policies consume.
func artifactInputFromNode(node *planner.PlanNode) *ArtifactInput {
	kind := "processor"
	componentType := node.ProcessType
	if node.IsSource() {
		kind = "source"
		componentType = node.SourceType
	}

	var schemaStr string
	if node.ResolvedSchema.Name != "" {
		schemaStr = node.ResolvedSchema.String()
	}

	return &ArtifactInput{
		ArtifactID:    node.ArtifactID,
		Kind:          kind,
		ComponentType: componentType,
		Properties:    map[string]any(node.Properties),
		Inputs:        node.Inputs,
		Merge:         node.Merge,
		Output:        node.Output,
		Optional:      node.Optional,
		Schema:        schemaStr,
	}
}

// planInputFromPlan projects a planner.ExecutionPlan into the shape Rego
// policies consume, in deterministic artifact-ID order.
func planInputFromPlan(plan *planner.ExecutionPlan) *PlanInput {
	ids := make([]string, 0, len(plan.Nodes))
	for id := range plan.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	artifacts := make([]ArtifactInput, 0, len(ids))
	for _, id := range ids {
		artifacts = append(artifacts, *artifactInputFromNode(plan.Nodes[id]))
	}

	return &PlanInput{
		RunID:     plan.RunID,
		Artifacts: artifacts,
	}
}
