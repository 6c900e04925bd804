package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"
)

// maxVisibility is the SQS upper bound for a visibility timeout (12 hours).
const maxVisibility = 12 * time.Hour

// SQSAPI is the subset of *sqs.Client used by SQSQueue.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSOptions configures an SQSQueue.
type SQSOptions struct {
	URL           string
	DeadLetterURL string
	// WaitTime is the long-poll duration, at most 20s.
	WaitTime time.Duration
	// VisibilityTimeout overrides the queue default when non-zero.
	VisibilityTimeout time.Duration
}

// SQSQueue implements Queue and Producer on Amazon SQS.
type SQSQueue struct {
	client SQSAPI
	opts   SQSOptions
}

var (
	_ Queue    = (*SQSQueue)(nil)
	_ Producer = (*SQSQueue)(nil)
)

// NewSQSQueue creates an SQSQueue.
func NewSQSQueue(client SQSAPI, opts SQSOptions) *SQSQueue {
	return &SQSQueue{client: client, opts: opts}
}

// Receive long-polls for a single message.
func (q *SQSQueue) Receive(ctx context.Context) (*Message, error) {
	in := &sqs.ReceiveMessageInput{
		QueueUrl:            &q.opts.URL,
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     int32(q.opts.WaitTime / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	}
	if q.opts.VisibilityTimeout > 0 {
		in.VisibilityTimeout = int32(q.opts.VisibilityTimeout / time.Second)
	}

	out, err := q.client.ReceiveMessage(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("SQS ReceiveMessage: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	m := out.Messages[0]
	deliveries := 1
	if v, ok := m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			deliveries = n
		}
	}
	return &Message{
		ID:         aws.ToString(m.MessageId),
		Body:       []byte(aws.ToString(m.Body)),
		Handle:     aws.ToString(m.ReceiptHandle),
		Deliveries: deliveries,
	}, nil
}

// Ack deletes the message.
func (q *SQSQueue) Ack(ctx context.Context, msg *Message) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &q.opts.URL,
		ReceiptHandle: &msg.Handle,
	})
	if err != nil {
		return fmt.Errorf("SQS DeleteMessage %s: %w", msg.ID, err)
	}
	return nil
}

// Release shortens or extends the visibility timeout of an in-flight message.
func (q *SQSQueue) Release(ctx context.Context, msg *Message, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	if delay > maxVisibility {
		delay = maxVisibility
	}
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          &q.opts.URL,
		ReceiptHandle:     &msg.Handle,
		VisibilityTimeout: int32(delay / time.Second),
	})
	if err != nil {
		return fmt.Errorf("SQS ChangeMessageVisibility %s: %w", msg.ID, err)
	}
	return nil
}

// DeadLetter copies the message to the dead-letter queue, when one is
// configured, and deletes it from the work queue.
func (q *SQSQueue) DeadLetter(ctx context.Context, msg *Message, reason string) error {
	if q.opts.DeadLetterURL != "" {
		body := string(msg.Body)
		_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    &q.opts.DeadLetterURL,
			MessageBody: &body,
			MessageAttributes: map[string]types.MessageAttributeValue{
				"reason":     {DataType: aws.String("String"), StringValue: aws.String(reason)},
				"sourceId":   {DataType: aws.String("String"), StringValue: aws.String(msg.ID)},
				"deliveries": {DataType: aws.String("Number"), StringValue: aws.String(strconv.Itoa(msg.Deliveries))},
			},
		})
		if err != nil {
			return fmt.Errorf("SQS SendMessage to dead-letter queue: %w", err)
		}
	} else {
		log.Warn().Str("messageId", msg.ID).Str("reason", reason).Msg("No dead-letter queue configured, dropping message")
	}
	return q.Ack(ctx, msg)
}

// Send enqueues a job body.
func (q *SQSQueue) Send(ctx context.Context, body []byte) (string, error) {
	b := string(body)
	out, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &q.opts.URL,
		MessageBody: &b,
	})
	if err != nil {
		return "", fmt.Errorf("SQS SendMessage: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}
