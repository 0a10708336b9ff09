package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"pressgate/pkg/auth"
	"pressgate/pkg/breaker"
	"pressgate/pkg/confirm"
	"pressgate/pkg/executor"
	"pressgate/pkg/metrics"
	"pressgate/pkg/notify"
	"pressgate/pkg/policy"
	"pressgate/pkg/stream"
)

// ErrInvalidRequest marks requests the orchestrator refuses to evaluate
// (missing tool name, malformed input JSON).
var ErrInvalidRequest = errors.New("gateway: invalid action request")

// Orchestrator drives one action request through policy evaluation, the
// confirmation round-trip and execution. Notifier and Events are optional;
// a nil Exec turns every executable action into an error response.
type Orchestrator struct {
	Intents  *confirm.Intents
	Exec     executor.Executor
	Notifier notify.Publisher
	Breaker  *breaker.Breaker
	Events   *stream.Hub
	Metrics  *metrics.Registry
}

// Execute runs the full decision pipeline for one request. The returned
// error is non-nil only for requests that never reached a policy decision.
func (o *Orchestrator) Execute(ctx context.Context, actor auth.Actor, req ActionRequest) (ActionResponse, error) {
	if req.ToolName == "" {
		return ActionResponse{}, fmt.Errorf("%w: toolName is required", ErrInvalidRequest)
	}
	inputHash, err := confirm.InputHash(req.ToolInput)
	if err != nil {
		return ActionResponse{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	resp := ActionResponse{
		ToolName:      req.ToolName,
		CorrelationID: uuid.NewString(),
	}
	decision := policy.Evaluate(req.ToolName, &actor)
	resp.Policy = string(decision.Action)

	switch decision.Action {
	case policy.ActionDeny:
		resp.Status = StatusDenied
		resp.Message = decision.Reason
		o.announce(ctx, actor, resp, "action.denied")
		return resp, nil

	case policy.ActionConfirm:
		if req.ConfirmToken == "" {
			intent, err := o.Intents.CreateIntent(ctx, actor, req.ToolName, inputHash)
			if err != nil {
				resp.Status = StatusError
				resp.Message = "could not record confirmation intent"
				log.Printf("gateway: create intent for %s: %v", req.ToolName, err)
				o.announce(ctx, actor, resp, "action.failed")
				return resp, nil
			}
			resp.Status = StatusConfirmationRequired
			resp.Message = "confirmation required before this action runs"
			resp.Confirmation = &Confirmation{IntentID: intent.ID, ExpiresAt: intent.ExpiresAt()}
			if o.Events != nil {
				o.Events.Publish(stream.NewConfirmationEvent(intent.ID, req.ToolName, intent.ExpiresAt()))
			}
			o.announce(ctx, actor, resp, "confirmation.requested")
			return resp, nil
		}
		if err := o.Intents.ConsumeToken(ctx, req.ConfirmToken, actor, req.ToolName, inputHash); err != nil {
			resp.Status = StatusDenied
			resp.Message = consumeMessage(err)
			o.announce(ctx, actor, resp, "action.denied")
			return resp, nil
		}
	}

	if req.DryRun {
		resp.Status = StatusSuccess
		resp.Message = "dry run, action not executed"
		resp.Result = req.ToolInput
		o.announce(ctx, actor, resp, "action.dry_run")
		return resp, nil
	}

	if o.Exec == nil {
		resp.Status = StatusError
		resp.Message = "no executor configured"
		o.announce(ctx, actor, resp, "action.failed")
		return resp, nil
	}
	result, err := o.Exec.Execute(ctx, req.ToolName, req.ToolInput)
	if err != nil {
		resp.Status = StatusError
		resp.Message = err.Error()
		log.Printf("gateway: execute %s: %v", req.ToolName, err)
		o.announce(ctx, actor, resp, "action.failed")
		return resp, nil
	}
	resp.Status = StatusSuccess
	resp.Result = result
	o.announce(ctx, actor, resp, "action.executed")
	return resp, nil
}

func consumeMessage(err error) string {
	switch {
	case errors.Is(err, confirm.ErrExpired):
		return "confirmation expired, submit the action again"
	default:
		return "confirmation token rejected"
	}
}

// announce publishes the decision on the event stream and hands the
// notification to the publisher behind the circuit breaker. Neither path
// may affect the action outcome.
func (o *Orchestrator) announce(ctx context.Context, actor auth.Actor, resp ActionResponse, kind string) {
	if o.Events != nil {
		o.Events.Publish(stream.NewDecisionEvent(resp.ToolName, actor.ID, resp.Policy, resp.Status, resp.CorrelationID))
	}
	if o.Notifier == nil {
		return
	}
	n := notify.New(kind, resp.ToolName, actor.ID, actor.Role, resp.Policy, resp.Status, resp.CorrelationID)
	publish := func(ctx context.Context) error { return o.Notifier.Publish(ctx, n) }
	var err error
	if o.Breaker != nil {
		err = o.Breaker.Fire(ctx, publish)
	} else {
		err = publish(ctx)
	}
	if err != nil {
		log.Printf("gateway: notify %s dropped: %v", kind, err)
		if o.Metrics != nil {
			o.Metrics.IncNotificationDropped()
		}
	}
}
