// Package policy evaluates classroom role authorization with an embedded Rego policy.
package policy

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/charlesng35/liveclass/internal/monitoring"
	"github.com/charlesng35/liveclass/internal/roster"
	apperrors "github.com/charlesng35/liveclass/pkg/errors"
)

//go:embed classroom.rego
var DefaultPolicy string

// Action names a privileged classroom operation.
type Action string

const (
	ActionStartSession  Action = "start_session"
	ActionGoLive        Action = "go_live"
	ActionEndSession    Action = "end_session"
	ActionCancelSession Action = "cancel_session"
	ActionRaiseHand     Action = "raise_hand"
	ActionLowerHand     Action = "lower_hand"
	ActionDismissHand   Action = "dismiss_hand"
	ActionRequestMedia  Action = "request_media"
	ActionRespondMedia  Action = "respond_media"
	ActionRequestLeave  Action = "request_leave"
	ActionRespondLeave  Action = "respond_leave"
	ActionChat          Action = "chat"
	ActionMute          Action = "mute"
	ActionKick          Action = "kick"
	ActionSchedule      Action = "schedule_session"
	ActionViewRecords   Action = "view_records"
)

// Input is the document the policy is evaluated against.
type Input struct {
	Action  Action      `json:"action"`
	Role    roster.Role `json:"role"`
	IsOwner bool        `json:"is_owner"`
}

// Decision is the policy verdict.
type Decision struct {
	Allow  bool
	Reason string
}

// Engine is a prepared OPA query.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine prepares policyContent for evaluation. An empty policy selects DefaultPolicy.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	if policyContent == "" {
		policyContent = DefaultPolicy
	}
	r := rego.New(
		rego.Query("data.liveclass.authz.decision"),
		rego.Module("classroom.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy: prepare rego: %w", err)
	}
	return &Engine{query: query}, nil
}

// Evaluate returns the verdict for input. An undefined result is a denial.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(map[string]any{
		"action":   string(input.Action),
		"role":     string(input.Role),
		"is_owner": input.IsOwner,
	}))
	if err != nil {
		return Decision{}, fmt.Errorf("policy: evaluate: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Reason: "no decision"}, nil
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Decision{Reason: "unexpected decision type"}, nil
	}
	allow, _ := doc["allow"].(bool)
	reason, _ := doc["reason"].(string)
	return Decision{Allow: allow, Reason: reason}, nil
}

// Authorize returns nil when input is allowed and a forbidden AppError otherwise.
func (e *Engine) Authorize(ctx context.Context, input Input) error {
	decision, err := e.Evaluate(ctx, input)
	if err != nil {
		monitoring.RecordPolicyDecision(string(input.Action), "error")
		return apperrors.ErrInternalServer.WithInternal(err)
	}
	if !decision.Allow {
		monitoring.RecordPolicyDecision(string(input.Action), "deny")
		return apperrors.ErrForbidden.WithMessage(decision.Reason)
	}
	monitoring.RecordPolicyDecision(string(input.Action), "allow")
	return nil
}
