package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// ActivationEvent is the payload sent from API -> SQS -> Worker after a toy
// is redeemed.
type ActivationEvent struct {
	EventID    string    `json:"event_id"`
	ItemID     string    `json:"item_id"`
	RedeemedBy string    `json:"redeemed_by"`
	RedeemedAt time.Time `json:"redeemed_at"`
	RequestID  string    `json:"request_id,omitempty"`
}

// Publisher wraps an SQS client and a queue URL.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
}

// NewPublisher returns a Publisher bound to a queue URL.
func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
	}
}

// PublishActivation sends ev as JSON. The event and item ids are also set as
// message attributes so consumers can filter without decoding the body.
func (p *Publisher) PublishActivation(ctx context.Context, ev ActivationEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal activation event: %w", err)
	}
	return p.send(ctx, string(body), map[string]string{
		"event_id":   ev.EventID,
		"item_id":    ev.ItemID,
		"request_id": ev.RequestID,
	})
}

func (p *Publisher) send(ctx context.Context, messageBody string, attributes map[string]string) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: &messageBody,
	}
	msgAttrs := map[string]sqstypes.MessageAttributeValue{}
	for k, v := range attributes {
		if v == "" {
			// SQS rejects empty attribute values
			continue
		}
		msgAttrs[k] = sqstypes.MessageAttributeValue{
			DataType:    awsString("String"),
			StringValue: awsString(v),
		}
	}
	if len(msgAttrs) > 0 {
		input.MessageAttributes = msgAttrs
	}

	if _, err := p.SQS.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// awsString helper
func awsString(s string) *string { return &s }
