package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"pressgate/pkg/auth"
	"pressgate/pkg/breaker"
	"pressgate/pkg/confirm"
	"pressgate/pkg/executor"
	"pressgate/pkg/metrics"
	"pressgate/pkg/notify"
	"pressgate/pkg/store"
	"pressgate/pkg/stream"
)

var (
	editor = auth.Actor{ID: "u-editor", Role: "editor"}
	viewer = auth.Actor{ID: "u-viewer", Role: "viewer"}
)

type recordingPublisher struct {
	mu    sync.Mutex
	kinds []string
	err   error
}

func (p *recordingPublisher) Publish(ctx context.Context, n notify.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.kinds = append(p.kinds, n.Kind)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.kinds...)
}

func echoExecutor() executor.Executor {
	return executor.Func(func(ctx context.Context, tool string, input json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"executed":"` + tool + `"}`), nil
	})
}

func newOrchestrator(pub notify.Publisher) *Orchestrator {
	return &Orchestrator{
		Intents:  confirm.NewIntents(store.NewMemoryStore(), time.Minute),
		Exec:     echoExecutor(),
		Notifier: pub,
		Events:   stream.NewHub(),
	}
}

func TestExecuteAllowedTool(t *testing.T) {
	pub := &recordingPublisher{}
	o := newOrchestrator(pub)

	resp, err := o.Execute(context.Background(), editor, ActionRequest{ToolName: "blogs_list_blogs"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if resp.Status != StatusSuccess {
		t.Fatalf("status = %q", resp.Status)
	}
	if resp.Policy != "allow" {
		t.Fatalf("policy = %q", resp.Policy)
	}
	if string(resp.Result) != `{"executed":"blogs_list_blogs"}` {
		t.Fatalf("result = %s", resp.Result)
	}
	if resp.CorrelationID == "" {
		t.Fatal("expected correlation id")
	}
	if kinds := pub.seen(); len(kinds) != 1 || kinds[0] != "action.executed" {
		t.Fatalf("notifications = %v", kinds)
	}
}

func TestExecuteDeniedForViewer(t *testing.T) {
	pub := &recordingPublisher{}
	o := newOrchestrator(pub)

	resp, err := o.Execute(context.Background(), viewer, ActionRequest{ToolName: "blogs_list_blogs"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if resp.Status != StatusDenied || resp.Policy != "deny" {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Result != nil {
		t.Fatal("denied action must carry no result")
	}
	if kinds := pub.seen(); len(kinds) != 1 || kinds[0] != "action.denied" {
		t.Fatalf("notifications = %v", kinds)
	}
}

func TestExecuteUnknownToolDenied(t *testing.T) {
	o := newOrchestrator(nil)

	resp, err := o.Execute(context.Background(), editor, ActionRequest{ToolName: "blogs_drop_table"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if resp.Status != StatusDenied {
		t.Fatalf("status = %q", resp.Status)
	}
}

func TestConfirmationRoundTrip(t *testing.T) {
	pub := &recordingPublisher{}
	o := newOrchestrator(pub)
	ctx := context.Background()
	input := json.RawMessage(`{"id":"blog-1"}`)

	first, err := o.Execute(ctx, editor, ActionRequest{ToolName: "blogs_publish_blog", ToolInput: input})
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if first.Status != StatusConfirmationRequired {
		t.Fatalf("first status = %q", first.Status)
	}
	if first.Confirmation == nil || first.Confirmation.IntentID == "" {
		t.Fatal("expected confirmation details")
	}
	if first.Confirmation.ExpiresAt.Before(time.Now()) {
		t.Fatal("expiry must be in the future")
	}

	token, _, err := o.Intents.IssueToken(ctx, first.Confirmation.IntentID, editor)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	second, err := o.Execute(ctx, editor, ActionRequest{ToolName: "blogs_publish_blog", ToolInput: input, ConfirmToken: token})
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if second.Status != StatusSuccess {
		t.Fatalf("second status = %q (%s)", second.Status, second.Message)
	}
	if string(second.Result) != `{"executed":"blogs_publish_blog"}` {
		t.Fatalf("result = %s", second.Result)
	}

	// the token was burned by the successful run
	third, err := o.Execute(ctx, editor, ActionRequest{ToolName: "blogs_publish_blog", ToolInput: input, ConfirmToken: token})
	if err != nil {
		t.Fatalf("third execute: %v", err)
	}
	if third.Status != StatusDenied {
		t.Fatalf("third status = %q", third.Status)
	}

	kinds := pub.seen()
	want := []string{"confirmation.requested", "action.executed", "action.denied"}
	if len(kinds) != len(want) {
		t.Fatalf("notifications = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("notification %d = %q, want %q", i, kinds[i], want[i])
		}
	}
}

func TestConfirmTokenBoundToInput(t *testing.T) {
	o := newOrchestrator(nil)
	ctx := context.Background()

	first, _ := o.Execute(ctx, editor, ActionRequest{ToolName: "blogs_delete_blog", ToolInput: json.RawMessage(`{"id":"blog-1"}`)})
	token, _, err := o.Intents.IssueToken(ctx, first.Confirmation.IntentID, editor)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	resp, err := o.Execute(ctx, editor, ActionRequest{ToolName: "blogs_delete_blog", ToolInput: json.RawMessage(`{"id":"blog-2"}`), ConfirmToken: token})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if resp.Status != StatusDenied {
		t.Fatalf("status = %q, want denied for input mismatch", resp.Status)
	}
}

func TestDryRunSkipsExecution(t *testing.T) {
	var executed bool
	o := newOrchestrator(nil)
	o.Exec = executor.Func(func(ctx context.Context, tool string, input json.RawMessage) (json.RawMessage, error) {
		executed = true
		return nil, nil
	})

	input := json.RawMessage(`{"page":3}`)
	resp, err := o.Execute(context.Background(), editor, ActionRequest{ToolName: "blogs_list_blogs", ToolInput: input, DryRun: true})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if resp.Status != StatusSuccess {
		t.Fatalf("status = %q", resp.Status)
	}
	if executed {
		t.Fatal("dry run must not reach the executor")
	}
	// the response echoes the tool and input that would have run
	if resp.ToolName != "blogs_list_blogs" {
		t.Fatalf("toolName = %q", resp.ToolName)
	}
	if string(resp.Result) != string(input) {
		t.Fatalf("result = %s, want the echoed input", resp.Result)
	}
}

func TestExecutorFailureIsErrorStatus(t *testing.T) {
	pub := &recordingPublisher{}
	o := newOrchestrator(pub)
	o.Exec = executor.Func(func(ctx context.Context, tool string, input json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("upstream exploded: quota exceeded")
	})

	resp, err := o.Execute(context.Background(), editor, ActionRequest{ToolName: "blogs_get_blog"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if resp.Status != StatusError {
		t.Fatalf("status = %q", resp.Status)
	}
	if resp.Message != "upstream exploded: quota exceeded" {
		t.Fatalf("message = %q, want the executor error surfaced", resp.Message)
	}
	if kinds := pub.seen(); len(kinds) != 1 || kinds[0] != "action.failed" {
		t.Fatalf("notifications = %v", kinds)
	}
}

func TestInvalidRequestsRejected(t *testing.T) {
	o := newOrchestrator(nil)

	if _, err := o.Execute(context.Background(), editor, ActionRequest{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("missing tool name: %v", err)
	}
	req := ActionRequest{ToolName: "blogs_get_blog", ToolInput: json.RawMessage(`{broken`)}
	if _, err := o.Execute(context.Background(), editor, req); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("broken input: %v", err)
	}
}

func TestDroppedNotificationsCounted(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	o := newOrchestrator(pub)
	o.Metrics = metrics.NewRegistry()

	ctx := context.Background()
	for range 2 {
		if _, err := o.Execute(ctx, editor, ActionRequest{ToolName: "blogs_list_blogs"}); err != nil {
			t.Fatalf("execute: %v", err)
		}
	}
	if got := o.Metrics.Snapshot().NotificationsDropped; got != 2 {
		t.Fatalf("notifications_dropped_total = %d, want 2", got)
	}

	pub.err = nil
	if _, err := o.Execute(ctx, editor, ActionRequest{ToolName: "blogs_list_blogs"}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := o.Metrics.Snapshot().NotificationsDropped; got != 2 {
		t.Fatalf("successful publish must not move the counter, got %d", got)
	}
}

func TestNotifierFailureNeverChangesOutcome(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	o := newOrchestrator(pub)
	o.Breaker = breaker.New("notifications", breaker.Options{})

	resp, err := o.Execute(context.Background(), editor, ActionRequest{ToolName: "blogs_list_blogs"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if resp.Status != StatusSuccess {
		t.Fatalf("status = %q, notification failure must stay invisible", resp.Status)
	}
}

func TestOpenBreakerSkipsNotifications(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	o := newOrchestrator(pub)
	o.Breaker = breaker.New("notifications", breaker.Options{VolumeThreshold: 2, ErrorThresholdPercentage: 50})

	ctx := context.Background()
	for range 3 {
		if _, err := o.Execute(ctx, editor, ActionRequest{ToolName: "blogs_list_blogs"}); err != nil {
			t.Fatalf("execute: %v", err)
		}
	}
	if o.Breaker.State() != breaker.Open {
		t.Fatalf("breaker state = %v, want open after repeated publish failures", o.Breaker.State())
	}

	pub.err = nil
	resp, err := o.Execute(ctx, editor, ActionRequest{ToolName: "blogs_list_blogs"})
	if err != nil {
		t.Fatalf("execute with open breaker: %v", err)
	}
	if resp.Status != StatusSuccess {
		t.Fatalf("status = %q", resp.Status)
	}
	if len(pub.seen()) != 0 {
		t.Fatal("open breaker must short-circuit the publisher")
	}
}

func TestDecisionEventsPublished(t *testing.T) {
	o := newOrchestrator(nil)
	sub := o.Events.Subscribe(8)
	defer o.Events.Unsubscribe(sub)

	if _, err := o.Execute(context.Background(), editor, ActionRequest{ToolName: "blogs_publish_blog"}); err != nil {
		t.Fatalf("execute: %v", err)
	}

	var types []string
	for range 2 {
		select {
		case evt := <-sub:
			types = append(types, evt.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for events")
		}
	}
	if types[0] != stream.TypeConfirmationPending || types[1] != stream.TypeDecision {
		t.Fatalf("event types = %v", types)
	}
}
