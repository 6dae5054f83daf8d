package mq

import "context"

type MessageQueue interface {
	// Send enqueues body. Messages sharing a groupId are delivered in send order.
	Send(ctx context.Context, groupId string, body string) error
	// Receive long-polls for up to maxMessages. An empty result is not an error.
	Receive(ctx context.Context, maxMessages int32, visibilityTimeout int32) ([]Message, error)
	Delete(ctx context.Context, msg Message) error
}

type Message struct {
	Id      string
	GroupId string
	Body    string
	// ReceiveCount is how many times the queue has delivered this message.
	ReceiveCount int
}
