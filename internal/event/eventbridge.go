package event

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
)

// Compile-time check that EventBridgePublisher implements Publisher.
var _ Publisher = (*EventBridgePublisher)(nil)

// EventBridgeAPI is the subset of the EventBridge client used here.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgePublisher publishes envelopes to an EventBridge bus. Delivery
// to subscribers is configured with bus rules targeting POST /events.
type EventBridgePublisher struct {
	client  EventBridgeAPI
	busName string
}

// NewEventBridgePublisher creates a publisher for the named bus.
func NewEventBridgePublisher(client EventBridgeAPI, busName string) *EventBridgePublisher {
	if busName == "" {
		busName = "default"
	}
	return &EventBridgePublisher{client: client, busName: busName}
}

// Publish sends env as a single PutEvents entry.
func (p *EventBridgePublisher) Publish(ctx context.Context, env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	entry := types.PutEventsRequestEntry{
		EventBusName: aws.String(p.busName),
		Source:       aws.String(env.Source),
		DetailType:   aws.String(string(env.Type)),
		Detail:       aws.String(string(env.Detail)),
	}
	if !env.Time.IsZero() {
		entry.Time = aws.Time(env.Time)
	}

	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{entry},
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, env.Type, err)
	}
	if out.FailedEntryCount > 0 {
		reason := "unknown"
		if len(out.Entries) > 0 && out.Entries[0].ErrorMessage != nil {
			reason = aws.ToString(out.Entries[0].ErrorCode) + ": " + aws.ToString(out.Entries[0].ErrorMessage)
		}
		return fmt.Errorf("%w: %s: %s", ErrPublishFailed, env.Type, reason)
	}
	return nil
}
