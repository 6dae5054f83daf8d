package sqsmq

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/gofrs/uuid/v5"
	"github.com/zlnvch/boardsync/mq"
)

// SQS allows at most 10 messages per receive.
const maxReceiveBatch = 10

func newSQSClient(ctx context.Context, devMode bool, sqsEndpoint string) (*sqs.Client, error) {
	if devMode {
		cfg, err := config.LoadDefaultConfig(ctx,
			config.WithRegion("us-east-1"),
			config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider("dummy", "dummy", ""),
			),
		)
		if err != nil {
			return nil, err
		}

		return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(sqsEndpoint)
		}), nil
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	return sqs.NewFromConfig(cfg), nil
}

func getQueues(client *sqs.Client, ctx context.Context, namePrefix string) ([]string, error) {
	var urls []string
	paginator := sqs.NewListQueuesPaginator(client, &sqs.ListQueuesInput{
		QueueNamePrefix: aws.String(namePrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		urls = append(urls, page.QueueUrls...)
	}
	return urls, nil
}

func sendMessage(sqsmq *SQSMessageQueue, ctx context.Context, groupId string, body string) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(sqsmq.queueURL),
		MessageBody: aws.String(body),
	}
	if sqsmq.fifo {
		// Every send is a distinct diff, so content-based dedup would be wrong.
		dedupId, err := uuid.NewV4()
		if err != nil {
			return err
		}
		input.MessageGroupId = aws.String(groupId)
		input.MessageDeduplicationId = aws.String(dedupId.String())
	}

	_, err := sqsmq.client.SendMessage(ctx, input)
	return err
}

func receiveMessages(sqsmq *SQSMessageQueue, ctx context.Context, maxMessages int32, visibilityTimeout int32) ([]mq.Message, error) {
	maxMessages = min(max(maxMessages, 1), maxReceiveBatch)

	resp, err := sqsmq.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(sqsmq.queueURL),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     20, // long polling
		VisibilityTimeout:   visibilityTimeout,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
			types.MessageSystemAttributeNameMessageGroupId,
		},
	})
	if err != nil {
		return nil, err
	}

	messages := make([]mq.Message, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		receiveCount, _ := strconv.Atoi(msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		messages = append(messages, mq.Message{
			Id:           aws.ToString(msg.ReceiptHandle),
			GroupId:      msg.Attributes[string(types.MessageSystemAttributeNameMessageGroupId)],
			Body:         aws.ToString(msg.Body),
			ReceiveCount: receiveCount,
		})
	}
	return messages, nil
}

func deleteMessage(sqsmq *SQSMessageQueue, ctx context.Context, msg mq.Message) error {
	_, err := sqsmq.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(sqsmq.queueURL),
		ReceiptHandle: aws.String(msg.Id),
	})
	return err
}
