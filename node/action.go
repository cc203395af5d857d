package node

import (
	"context"
	"time"

	"github.com/xraph/journey"
	"github.com/xraph/journey/backoff"
	"github.com/xraph/journey/provider"
	"github.com/xraph/journey/workflow"
)

// Action delegates one unit of work to an external channel provider
// looked up by code. It may run a bounded local retry loop — fixed
// attempt count, fixed sleep — around the provider call, distinct from
// the queue's exponential backoff.
type Action struct {
	providers *provider.Registry
	retryWait backoff.Strategy
}

// NewAction creates an action handler bound to a provider registry.
func NewAction(providers *provider.Registry) *Action {
	return &Action{
		providers: providers,
		retryWait: backoff.NewConstant(time.Second),
	}
}

// Type returns the action type tag.
func (a *Action) Type() string { return workflow.NodeTypeAction }

// Schema declares the provider binding and retry bounds.
func (a *Action) Schema() []Field {
	return []Field{
		{Name: "provider", Type: TypeString, Required: true, MinLen: IntPtr(1)},
		{Name: "retries", Type: TypeInt, Min: FloatPtr(0), Max: FloatPtr(5)},
	}
}

// Execute sends the payload through the configured provider. The payload
// is the execution context merged with the node's optional "payload"
// config map (config wins on collision).
func (a *Action) Execute(ctx context.Context, n *workflow.Node, execCtx map[string]any) (*Outcome, error) {
	code := ConfigString(n.Config, "provider")

	p, err := a.providers.Get(code)
	if err != nil {
		return nil, err
	}

	payload := buildPayload(n.Config, execCtx)
	attempts := 1 + ConfigInt(n.Config, "retries", 0)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res, sendErr := p.Send(ctx, payload)
		if sendErr == nil && res != nil && res.Success {
			output := map[string]any{"provider": code}
			if res.MessageID != "" {
				output["message_id"] = res.MessageID
			}
			return &Outcome{Success: true, Output: output, Meta: res.Meta}, nil
		}

		lastErr = sendFailure(code, res, sendErr)

		if attempt < attempts {
			select {
			case <-time.After(a.retryWait.Delay(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return &Outcome{Success: false, Error: lastErr.Error()}, nil
}

// sendFailure wraps any flavor of provider failure, preserving the
// original cause.
func sendFailure(code string, res *provider.SendResult, sendErr error) error {
	if sendErr != nil {
		return &journey.ProviderError{Code: code, Err: sendErr}
	}
	msg := "send failed"
	if res != nil && res.Error != "" {
		msg = res.Error
	}
	return &journey.ProviderError{Code: code, Err: &providerMessage{msg}}
}

// providerMessage carries a provider-reported failure string as an error.
type providerMessage struct{ msg string }

func (p *providerMessage) Error() string { return p.msg }

func buildPayload(cfg, execCtx map[string]any) map[string]any {
	payload := make(map[string]any, len(execCtx)+4)
	for k, v := range execCtx {
		payload[k] = v
	}
	if extra, ok := cfg["payload"].(map[string]any); ok {
		for k, v := range extra {
			payload[k] = v
		}
	}
	return payload
}
