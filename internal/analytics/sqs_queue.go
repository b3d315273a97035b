package analytics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/wolfman30/appraisal-booking/internal/events"
)

const (
	sqsMaxBatch     = 10
	sqsMaxWait      = 20 * time.Second
	schemaAttribute = "schema"
)

// SQSAPI is the subset of *sqs.Client the queue uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue is the Queue across processes. On a FIFO queue views are grouped
// by journey, so one journey's steps arrive in order, and deduplicated by
// event id.
type SQSQueue struct {
	client   SQSAPI
	queueURL string
	fifo     bool
}

func NewSQSQueue(client SQSAPI, queueURL string) (*SQSQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("analytics: sqs client required")
	}
	if strings.TrimSpace(queueURL) == "" {
		return nil, fmt.Errorf("analytics: sqs queue url required")
	}
	return &SQSQueue{client: client, queueURL: queueURL, fifo: strings.HasSuffix(queueURL, ".fifo")}, nil
}

func (q *SQSQueue) Enqueue(ctx context.Context, view events.StepViewedV1) error {
	body, view, err := encodeStepView(view)
	if err != nil {
		return err
	}
	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
		MessageAttributes: map[string]types.MessageAttributeValue{
			schemaAttribute: {DataType: aws.String("String"), StringValue: aws.String(stepViewSchema)},
		},
	}
	if q.fifo {
		in.MessageGroupId = aws.String(view.JourneyID)
		in.MessageDeduplicationId = aws.String(view.EventID)
	}
	if _, err := q.client.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("analytics: enqueue step view %s: %w", view.EventID, err)
	}
	return nil
}

// Poll long-polls for up to limit views. SQS caps both values, so larger
// requests are clamped rather than rejected.
func (q *SQSQueue) Poll(ctx context.Context, limit int, wait time.Duration) ([]Delivery, error) {
	limit = min(max(limit, 1), sqsMaxBatch)
	wait = min(max(wait, 0), sqsMaxWait)
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(q.queueURL),
		MaxNumberOfMessages:         int32(limit),
		WaitTimeSeconds:             int32(wait / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return nil, fmt.Errorf("analytics: poll step views: %w", err)
	}

	deliveries := make([]Delivery, 0, len(out.Messages))
	for _, msg := range out.Messages {
		d := Delivery{Receipt: aws.ToString(msg.ReceiptHandle), Attempt: 1}
		if n, err := strconv.Atoi(msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]); err == nil && n > 0 {
			d.Attempt = n
		}
		d.View, d.Err = decodeStepView(aws.ToString(msg.Body))
		if d.Err != nil {
			d.Err = fmt.Errorf("message %s: %w", aws.ToString(msg.MessageId), d.Err)
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, nil
}

func (q *SQSQueue) Ack(ctx context.Context, d Delivery) error {
	if d.Receipt == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(d.Receipt),
	})
	if err != nil {
		return fmt.Errorf("analytics: ack step view: %w", err)
	}
	return nil
}
