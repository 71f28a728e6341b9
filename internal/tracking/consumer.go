package tracking

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/repogrowth/internal/pkg/logger"
)

// SQSAPI is the subset of the SQS client the consumer and publisher use.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Consumer long-polls the queue and hands each message to a Processor.
type Consumer struct {
	client     SQSAPI
	queueURL   string
	wait       int32
	processor  *Processor
	retryDelay time.Duration

	stopOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
}

// NewConsumer creates a consumer. waitSeconds <= 0 means 20, the SQS
// maximum for long polling.
func NewConsumer(client SQSAPI, queueURL string, waitSeconds int, processor *Processor) *Consumer {
	if waitSeconds <= 0 || waitSeconds > 20 {
		waitSeconds = 20
	}
	return &Consumer{
		client:     client,
		queueURL:   queueURL,
		wait:       int32(waitSeconds),
		processor:  processor,
		retryDelay: 5 * time.Second,
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Start begins polling in the background.
func (c *Consumer) Start(ctx context.Context) {
	log.Printf("[Tracking] SQS consumer started (queue=%s)", c.queueURL)
	go c.poll(ctx)
}

// Stop ends polling and waits for the current batch to finish.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
	<-c.stopped
	log.Printf("[Tracking] SQS consumer stopped")
}

func (c *Consumer) poll(ctx context.Context) {
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		if _, err := c.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("sqs receive failed", "queue", c.queueURL, "error", err)
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
		}
	}
}

// PollOnce receives one batch and processes it. It returns the number of
// messages deleted.
func (c *Consumer) PollOnce(ctx context.Context) (int, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     c.wait,
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, msg := range out.Messages {
		err := c.processor.Process(ctx, aws.ToString(msg.Body))
		if err != nil && !Permanent(err) {
			logger.Warn("sqs message left for redelivery", "message_id", aws.ToString(msg.MessageId), "error", err)
			continue
		}
		if err != nil {
			logger.Warn("sqs message dropped", "message_id", aws.ToString(msg.MessageId), "error", err)
		}
		if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(c.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			logger.Error("sqs delete failed", "message_id", aws.ToString(msg.MessageId), "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}
