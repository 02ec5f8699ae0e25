// Package queue provides the SQS producer that hands renewal notifications
// to the downstream mailer.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"memberpay/internal/types"
)

// renewalEventType is the "event_type" message attribute consumers filter on.
const renewalEventType = "membership.renewed"

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// RenewalPublisher serializes RenewalNotifications and sends them to the
// renewal queue. FIFO queues (".fifo" suffix) are grouped by relationship
// and deduplicated by event id, so a redelivered webhook that re-emits the
// same event id is dropped by SQS.
type RenewalPublisher struct {
	client   SQSSender
	queueURL string
	fifo     bool
	logger   *slog.Logger
}

// NewRenewalPublisher creates a publisher targeting queueURL.
func NewRenewalPublisher(client SQSSender, queueURL string, logger *slog.Logger) *RenewalPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RenewalPublisher{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
		logger:   logger,
	}
}

// Publish sends n. An empty EventID is filled with a random UUID. Failures
// are returned as ErrCodeUpstreamQueue.
func (p *RenewalPublisher) Publish(ctx context.Context, n types.RenewalNotification) error {
	if n.EventID == "" {
		n.EventID = uuid.NewString()
	}

	body, err := json.Marshal(n)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "queue: failed to marshal renewal notification", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(renewalEventType),
			},
			"gateway_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(n.GatewayID),
			},
		},
	}
	if p.fifo {
		input.MessageGroupId = aws.String(strconv.FormatInt(n.RelationshipID, 10))
		input.MessageDeduplicationId = aws.String(n.EventID)
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamQueue, "queue: failed to send renewal notification", err,
			map[string]any{"event_id": n.EventID})
	}

	p.logger.InfoContext(ctx, "renewal notification sent",
		"event_id", n.EventID,
		"relationship_id", n.RelationshipID,
		"invoice_id", n.InvoiceID,
		"invoice_number", n.InvoiceNumber,
	)
	return nil
}
