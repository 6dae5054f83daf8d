package worker

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/zlnvch/boardsync/logging"
	"github.com/zlnvch/boardsync/metrics"
	"github.com/zlnvch/boardsync/models"
	"github.com/zlnvch/boardsync/mq"
	"github.com/zlnvch/boardsync/store"
)

// DiffReplayer writes one diff to the store and is told when a queued diff
// is finished with. *service.DiffFlusher implements it.
type DiffReplayer interface {
	Apply(ctx context.Context, diff models.Diff) error
	Settle(whiteboardId string)
}

// OutboxConsumer replays diffs that could not be stored when they were made.
// A message is deleted only once its diff is stored or known to be moot.
// Messages of one whiteboard are replayed in queue order: once one fails,
// the rest of that whiteboard's batch waits for redelivery behind it.
type OutboxConsumer struct {
	outbox      mq.MessageQueue
	replayer    DiffReplayer
	maxReceives int
}

const (
	// Long enough for a diff with many shapes through the retrying store client.
	visibilityTimeout = 60
	receiveBatch      = 10
	// A message delivered this many times is given up on.
	defaultMaxReceives = 10
	receiveErrorDelay  = time.Second
)

func NewOutboxConsumer(outbox mq.MessageQueue, replayer DiffReplayer) *OutboxConsumer {
	return &OutboxConsumer{
		outbox:      outbox,
		replayer:    replayer,
		maxReceives: defaultMaxReceives,
	}
}

func (c *OutboxConsumer) Run(shutdownCtx context.Context) {
	for {
		msgs, err := c.outbox.Receive(shutdownCtx, receiveBatch, visibilityTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			logging.Error().Err(err).Msg("Outbox receive failed")
			select {
			case <-time.After(receiveErrorDelay):
				continue
			case <-shutdownCtx.Done():
				return
			}
		}

		c.handleBatch(msgs)

		if shutdownCtx.Err() != nil {
			return
		}
	}
}

func (c *OutboxConsumer) handleBatch(msgs []mq.Message) {
	stalled := make(map[string]bool)
	for _, msg := range msgs {
		var diff models.Diff
		if err := json.Unmarshal([]byte(msg.Body), &diff); err != nil {
			logging.Error().Err(err).Str("message_id", msg.Id).Msg("Undecodable outbox message, deleting")
			c.delete(msg, msg.GroupId)
			continue
		}

		group := msg.GroupId
		if group == "" {
			group = diff.WhiteboardId
		}
		if stalled[group] {
			continue
		}
		if !c.handle(msg, diff) {
			stalled[group] = true
		}
	}
}

// handle replays one diff and reports whether its message was finished with.
func (c *OutboxConsumer) handle(msg mq.Message, diff models.Diff) bool {
	log := logging.With().Str("whiteboard_id", diff.WhiteboardId).Str("kind", string(diff.Kind)).Int("receive_count", msg.ReceiveCount).Logger()

	// timeout should be a little less than queue visibility timeout
	ctx, cancel := context.WithTimeout(context.Background(), (visibilityTimeout-1)*time.Second)
	defer cancel()

	err := c.replayer.Apply(ctx, diff)
	switch {
	case err == nil:
		metrics.DiffOutbox.WithLabelValues("replayed").Inc()
		log.Info().Msg("Outbox diff replayed")
	case errors.Is(err, store.ErrItemNotFound):
		metrics.DiffOutbox.WithLabelValues(metrics.ResultRejected).Inc()
		log.Warn().Err(err).Msg("Outbox diff targets a missing item, dropping")
	case msg.ReceiveCount >= c.maxReceives:
		metrics.DiffOutbox.WithLabelValues("dropped").Inc()
		log.Error().Err(err).Msg("Outbox diff failed too many times, dropping")
	default:
		log.Warn().Err(err).Msg("Outbox diff replay failed, will retry")
		return false
	}

	c.delete(msg, diff.WhiteboardId)
	return true
}

// delete removes msg and settles it against the whiteboard's backlog. A
// failed delete leaves the backlog in place; the message comes back and is
// replayed again.
func (c *OutboxConsumer) delete(msg mq.Message, whiteboardId string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.outbox.Delete(ctx, msg); err != nil {
		logging.Error().Err(err).Str("message_id", msg.Id).Msg("Outbox delete failed")
		return
	}
	if whiteboardId != "" {
		c.replayer.Settle(whiteboardId)
	}
}
