// Package policy decides tool permissions for a stream with OPA.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/tyin88/agentgw/internal/domain"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_policy.decision"),
		rego.Module("tool_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Input is one tool-permission question.
type Input struct {
	Tool            string                `json:"tool"`
	PermissionMode  domain.PermissionMode `json:"permission_mode"`
	AllowedTools    []string              `json:"allowed_tools"`
	DisallowedTools []string              `json:"disallowed_tools"`
}

// Evaluate returns the decision for one tool: "allow" or "deny".
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "allow", nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return "allow", nil
}

// EffectiveTools filters the candidate tool set through the policy. A tool
// appearing in both the allow and deny lists is contradictory input.
func (e *Engine) EffectiveTools(ctx context.Context, candidates []string, mode domain.PermissionMode, allowed, disallowed []string) ([]string, error) {
	denySet := make(map[string]bool, len(disallowed))
	for _, tool := range disallowed {
		denySet[tool] = true
	}
	for _, tool := range allowed {
		if denySet[tool] {
			return nil, fmt.Errorf("tool %q in both allow and deny lists: %w", tool, domain.ErrValidation)
		}
	}

	effective := make([]string, 0, len(candidates))
	for _, tool := range candidates {
		decision, err := e.Evaluate(ctx, Input{
			Tool:            tool,
			PermissionMode:  mode,
			AllowedTools:    allowed,
			DisallowedTools: disallowed,
		})
		if err != nil {
			return nil, err
		}
		if decision == "allow" {
			effective = append(effective, tool)
		}
	}
	return effective, nil
}

// DefaultPolicy is the default policy content. Plan mode strips every tool
// that can touch the filesystem; explicit deny lists always win; an
// explicit allow list, when present, is exhaustive.
const DefaultPolicy = `
package tool_policy

default decision = "allow"

decision = "deny" {
	input.disallowed_tools[_] == input.tool
}

decision = "deny" {
	count(input.allowed_tools) > 0
	not allowed
}

allowed {
	input.allowed_tools[_] == input.tool
}

decision = "deny" {
	input.permission_mode == "plan"
	mutating_tools := {"Write", "Edit", "Bash"}
	mutating_tools[input.tool]
}
`
