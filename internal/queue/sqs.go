package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSAPI is the slice of the SQS client the consumer uses.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQS consumes from one queue URL. Retry bookkeeping and dead-lettering are
// the queue's redrive policy, not ours.
type SQS struct {
	client     SQSAPI
	queueURL   string
	batchSize  int32
	waitTime   int32
	visibility int32
}

func NewSQS(client SQSAPI, queueURL string, batchSize int, waitTime, visibility time.Duration) *SQS {
	return &SQS{
		client:     client,
		queueURL:   queueURL,
		batchSize:  int32(batchSize),
		waitTime:   int32(waitTime / time.Second),
		visibility: int32(visibility / time.Second),
	}
}

func (q *SQS) Receive(ctx context.Context) ([]Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: q.batchSize,
		WaitTimeSeconds:     q.waitTime,
		VisibilityTimeout:   q.visibility,
	})
	if err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}
	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, Message{
			ID:            aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return msgs, nil
}

func (q *SQS) Delete(ctx context.Context, msg Message) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(msg.ReceiptHandle),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", msg.ID, err)
	}
	return nil
}
