package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/journey"
	"github.com/xraph/journey/backoff"
	"github.com/xraph/journey/provider"
	"github.com/xraph/journey/workflow"
)

// flakyProvider fails a set number of Send calls before succeeding.
type flakyProvider struct {
	failures int
	calls    int
	lastPay  map[string]any
}

func (f *flakyProvider) Send(_ context.Context, payload map[string]any) (*provider.SendResult, error) {
	f.calls++
	f.lastPay = payload
	if f.calls <= f.failures {
		return nil, errors.New("temporarily unavailable")
	}
	return &provider.SendResult{Success: true, MessageID: "msg-42"}, nil
}

func (f *flakyProvider) Authenticate(context.Context, map[string]any) (bool, error) {
	return true, nil
}

func (f *flakyProvider) TestConnection(context.Context) error { return nil }

func newActionFixture(t *testing.T, p provider.Provider) *Action {
	t.Helper()
	reg := provider.NewRegistry()
	if err := reg.Register("email", p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	a := NewAction(reg)
	a.retryWait = backoff.NewConstant(0)
	return a
}

func TestAction_SendsMergedPayload(t *testing.T) {
	fp := &flakyProvider{}
	a := newActionFixture(t, fp)

	n := &workflow.Node{
		ID:   "a1",
		Type: workflow.NodeTypeAction,
		Config: map[string]any{
			"provider": "email",
			"payload":  map[string]any{"template": "welcome", "email": "override@x.io"},
		},
	}
	out, err := a.Execute(context.Background(), n, map[string]any{"email": "u@x.io", "name": "Ada"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Success {
		t.Fatalf("Execute failed: %q", out.Error)
	}
	if out.Output["provider"] != "email" || out.Output["message_id"] != "msg-42" {
		t.Errorf("Output = %v, want provider/message_id set", out.Output)
	}
	if fp.lastPay["template"] != "welcome" || fp.lastPay["name"] != "Ada" {
		t.Errorf("payload = %v, missing merged keys", fp.lastPay)
	}
	if fp.lastPay["email"] != "override@x.io" {
		t.Errorf("payload email = %v, config should win on collision", fp.lastPay["email"])
	}
}

func TestAction_RetriesThenSucceeds(t *testing.T) {
	fp := &flakyProvider{failures: 2}
	a := newActionFixture(t, fp)

	n := &workflow.Node{
		ID:     "a1",
		Type:   workflow.NodeTypeAction,
		Config: map[string]any{"provider": "email", "retries": 2},
	}
	out, err := a.Execute(context.Background(), n, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Success {
		t.Fatalf("Execute failed after retries: %q", out.Error)
	}
	if fp.calls != 3 {
		t.Errorf("calls = %d, want 3", fp.calls)
	}
}

func TestAction_ExhaustedRetriesFail(t *testing.T) {
	fp := &flakyProvider{failures: 10}
	a := newActionFixture(t, fp)

	n := &workflow.Node{
		ID:     "a1",
		Type:   workflow.NodeTypeAction,
		Config: map[string]any{"provider": "email", "retries": 1},
	}
	out, err := a.Execute(context.Background(), n, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Success {
		t.Fatal("Execute succeeded, want failure after exhausting attempts")
	}
	if fp.calls != 2 {
		t.Errorf("calls = %d, want 2", fp.calls)
	}
}

func TestAction_UnknownProvider(t *testing.T) {
	a := newActionFixture(t, &flakyProvider{})

	n := &workflow.Node{
		ID:     "a1",
		Type:   workflow.NodeTypeAction,
		Config: map[string]any{"provider": "sms"},
	}
	_, err := a.Execute(context.Background(), n, nil)
	if !journey.IsNotFound(err) {
		t.Fatalf("Execute err = %v, want not-found", err)
	}
}

func TestAction_CancelDuringBackoff(t *testing.T) {
	fp := &flakyProvider{failures: 10}
	reg := provider.NewRegistry()
	if err := reg.Register("email", fp); err != nil {
		t.Fatalf("Register: %v", err)
	}
	a := NewAction(reg)
	a.retryWait = backoff.NewConstant(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	n := &workflow.Node{
		ID:     "a1",
		Type:   workflow.NodeTypeAction,
		Config: map[string]any{"provider": "email", "retries": 3},
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := a.Execute(ctx, n, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute err = %v, want context.Canceled", err)
	}
}
