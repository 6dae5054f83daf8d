package sqsmq

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/zlnvch/boardsync/mq"
)

// SQSMessageQueue only preserves per-group order on a FIFO queue (name
// ending in ".fifo").
type SQSMessageQueue struct {
	client   *sqs.Client
	queueURL string
	fifo     bool
}

func NewSQSMessageQueue(ctx context.Context, devMode bool, sqsEndpoint string, queueName string) (*SQSMessageQueue, error) {
	client, err := newSQSClient(ctx, devMode, sqsEndpoint)
	if err != nil {
		return nil, err
	}

	queues, err := getQueues(client, ctx, queueName)
	if err != nil {
		return nil, err
	}

	for _, q := range queues {
		if strings.HasSuffix(q, "/"+queueName) {
			return &SQSMessageQueue{client: client, queueURL: q, fifo: strings.HasSuffix(q, ".fifo")}, nil
		}
	}
	return nil, fmt.Errorf("given queue name '%s' not found in SQS", queueName)
}

func (sqsmq *SQSMessageQueue) Send(ctx context.Context, groupId string, body string) error {
	return sendMessage(sqsmq, ctx, groupId, body)
}

func (sqsmq *SQSMessageQueue) Receive(ctx context.Context, maxMessages int32, visibilityTimeout int32) ([]mq.Message, error) {
	return receiveMessages(sqsmq, ctx, maxMessages, visibilityTimeout)
}

func (sqsmq *SQSMessageQueue) Delete(ctx context.Context, msg mq.Message) error {
	return deleteMessage(sqsmq, ctx, msg)
}
