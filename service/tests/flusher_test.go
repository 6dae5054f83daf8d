package service_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/boardsync/logging"
	"github.com/zlnvch/boardsync/models"
	mqmocks "github.com/zlnvch/boardsync/mq/mocks"
	"github.com/zlnvch/boardsync/protocol"
	"github.com/zlnvch/boardsync/service"
	"github.com/zlnvch/boardsync/session"
	"github.com/zlnvch/boardsync/store"
	storemocks "github.com/zlnvch/boardsync/store/mocks"
)

type recordingBroadcaster struct {
	mu   sync.Mutex
	msgs []protocol.ServerMessage
}

func (r *recordingBroadcaster) Broadcast(msg protocol.ServerMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingBroadcaster) messages() []protocol.ServerMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.ServerMessage(nil), r.msgs...)
}

func rectShape(x float64) models.Shape {
	return models.NewShape(models.Rect{X: x, Y: x, Width: 10, Height: 10, StrokeColor: "#000000", StrokeWidth: 1})
}

func TestFlush_CreateShapesInsertsEachShape(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockMQ := new(mqmocks.MockMQ)
	flusher := service.NewDiffFlusher(mockStore, mockMQ, testFlushOptions())
	b := &recordingBroadcaster{}

	diff := models.Diff{
		Kind:             models.DiffCreateShapes,
		WhiteboardId:     "wb1",
		CanvasId:         "c1",
		Shapes:           map[string]models.Shape{"s1": rectShape(1), "s2": rectShape(2)},
		TimeLastModified: 1000,
	}
	mockStore.On("InsertShape", mock.Anything, "wb1", "c1", "s1", diff.Shapes["s1"], int64(1000)).Return(nil).Once()
	mockStore.On("InsertShape", mock.Anything, "wb1", "c1", "s2", diff.Shapes["s2"], int64(1000)).Return(nil).Once()

	flusher.Flush(context.Background(), b, []models.Diff{diff})

	mockStore.AssertExpectations(t)
	mockMQ.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, b.messages())
}

func TestFlush_PreservesOrder(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	flusher := service.NewDiffFlusher(mockStore, new(mqmocks.MockMQ), testFlushOptions())

	var order []string
	record := func(name string) func(mock.Arguments) {
		return func(mock.Arguments) { order = append(order, name) }
	}

	canvas := models.CanvasRecord{Id: "c1", Name: "Main", Width: 800, Height: 600}
	mockStore.On("CreateCanvas", mock.Anything, "wb1", canvas).Return(nil).Run(record("create_canvas"))
	mockStore.On("ReplaceShape", mock.Anything, "wb1", "c1", "s1", mock.Anything, int64(5)).Return(nil).Run(record("update_shapes"))
	mockStore.On("UpdateCanvasAllowedUsers", mock.Anything, "wb1", "c1", []string{"u1"}, int64(6)).Return(nil).Run(record("allowed_users"))
	mockStore.On("DeleteCanvases", mock.Anything, "wb1", []string{"c1"}).Return(nil).Run(record("delete_canvases"))

	flusher.Flush(context.Background(), &recordingBroadcaster{}, []models.Diff{
		{Kind: models.DiffCreateCanvas, WhiteboardId: "wb1", CanvasId: "c1", Canvas: &canvas},
		{Kind: models.DiffUpdateShapes, WhiteboardId: "wb1", CanvasId: "c1", Shapes: map[string]models.Shape{"s1": rectShape(3)}, TimeLastModified: 5},
		{Kind: models.DiffUpdateCanvasAllowedUsers, WhiteboardId: "wb1", CanvasId: "c1", AllowedUsers: []string{"u1"}, TimeLastModified: 6},
		{Kind: models.DiffDeleteCanvases, WhiteboardId: "wb1", CanvasIds: []string{"c1"}},
	})

	assert.Equal(t, []string{"create_canvas", "update_shapes", "allowed_users", "delete_canvases"}, order)
}

func TestFlush_RetriesTransientFailure(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockMQ := new(mqmocks.MockMQ)
	flusher := service.NewDiffFlusher(mockStore, mockMQ, testFlushOptions())

	mockStore.On("ReplaceShape", mock.Anything, "wb1", "c1", "s1", mock.Anything, int64(7)).Return(errors.New("throttled")).Once()
	mockStore.On("ReplaceShape", mock.Anything, "wb1", "c1", "s1", mock.Anything, int64(7)).Return(nil).Once()

	flusher.Flush(context.Background(), &recordingBroadcaster{}, []models.Diff{{
		Kind:             models.DiffUpdateShapes,
		WhiteboardId:     "wb1",
		CanvasId:         "c1",
		Shapes:           map[string]models.Shape{"s1": rectShape(1)},
		TimeLastModified: 7,
	}})

	mockStore.AssertNumberOfCalls(t, "ReplaceShape", 2)
	mockMQ.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestFlush_ExhaustedRetriesGoToOutbox(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockMQ := new(mqmocks.MockMQ)
	flusher := service.NewDiffFlusher(mockStore, mockMQ, testFlushOptions())
	b := &recordingBroadcaster{}

	mockStore.On("DeleteCanvases", mock.Anything, "wb1", []string{"c1", "c2"}).Return(errors.New("unavailable"))

	var sent string
	mockMQ.On("Send", mock.Anything, "wb1", mock.AnythingOfType("string")).Return(nil).Run(func(args mock.Arguments) {
		sent = args.String(2)
	})

	flusher.Flush(context.Background(), b, []models.Diff{{
		Kind:         models.DiffDeleteCanvases,
		WhiteboardId: "wb1",
		CanvasIds:    []string{"c1", "c2"},
	}})

	mockStore.AssertNumberOfCalls(t, "DeleteCanvases", 3)
	require.NotEmpty(t, sent)

	var replay models.Diff
	require.NoError(t, json.Unmarshal([]byte(sent), &replay))
	assert.Equal(t, models.DiffDeleteCanvases, replay.Kind)
	assert.Equal(t, "wb1", replay.WhiteboardId)
	assert.Equal(t, []string{"c1", "c2"}, replay.CanvasIds)
	assert.Empty(t, b.messages())
	assert.Equal(t, 1, flusher.Backlog("wb1"))
}

func TestFlush_OutboxFailureBroadcastsError(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockMQ := new(mqmocks.MockMQ)
	flusher := service.NewDiffFlusher(mockStore, mockMQ, testFlushOptions())
	b := &recordingBroadcaster{}

	canvas := models.CanvasRecord{Id: "c1", Width: 10, Height: 10}
	mockStore.On("CreateCanvas", mock.Anything, "wb1", canvas).Return(errors.New("unavailable"))
	mockMQ.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("sqs unavailable"))

	flusher.Flush(context.Background(), b, []models.Diff{{
		Kind:         models.DiffCreateCanvas,
		WhiteboardId: "wb1",
		CanvasId:     "c1",
		Canvas:       &canvas,
	}})

	msgs := b.messages()
	require.Len(t, msgs, 1)
	be, ok := msgs[0].(protocol.BroadcastError)
	require.True(t, ok)
	assert.Equal(t, protocol.KindOther, be.Kind)
	// Nothing reached the outbox, so later diffs may go straight to the store.
	assert.Zero(t, flusher.Backlog("wb1"))
}

func TestFlush_MissingItemIsDropped(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockMQ := new(mqmocks.MockMQ)
	flusher := service.NewDiffFlusher(mockStore, mockMQ, testFlushOptions())
	b := &recordingBroadcaster{}

	mockStore.On("UpdateCanvasAllowedUsers", mock.Anything, "wb1", "gone", []string(nil), int64(9)).
		Return(store.ErrItemNotFound)

	flusher.Flush(context.Background(), b, []models.Diff{{
		Kind:             models.DiffUpdateCanvasAllowedUsers,
		WhiteboardId:     "wb1",
		CanvasId:         "gone",
		TimeLastModified: 9,
	}})

	mockStore.AssertNumberOfCalls(t, "UpdateCanvasAllowedUsers", 1)
	mockMQ.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, b.messages())
}

func TestFlush_OpenBreakerSkipsStore(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockMQ := new(mqmocks.MockMQ)
	opts := testFlushOptions()
	opts.MaxAttempts = 1
	opts.BreakerFailures = 2
	flusher := service.NewDiffFlusher(mockStore, mockMQ, opts)

	mockStore.On("DeleteCanvases", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("unavailable"))
	mockMQ.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	// Separate whiteboards, so only the breaker keeps later diffs off the store.
	diffs := make([]models.Diff, 4)
	for i := range diffs {
		diffs[i] = models.Diff{Kind: models.DiffDeleteCanvases, WhiteboardId: fmt.Sprintf("wb%d", i), CanvasIds: []string{"c"}}
	}
	flusher.Flush(context.Background(), &recordingBroadcaster{}, diffs)

	mockStore.AssertNumberOfCalls(t, "DeleteCanvases", 2)
	mockMQ.AssertNumberOfCalls(t, "Send", 4)
}

func TestFlush_BackloggedWhiteboardQueuesBehindFailedDiff(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockMQ := new(mqmocks.MockMQ)
	flusher := service.NewDiffFlusher(mockStore, mockMQ, testFlushOptions())

	var mu sync.Mutex
	var stored []float64
	recordX := func(args mock.Arguments) {
		mu.Lock()
		defer mu.Unlock()
		stored = append(stored, args.Get(4).(models.Shape).Model.(models.Rect).X)
	}
	storedX := func() []float64 {
		mu.Lock()
		defer mu.Unlock()
		return append([]float64(nil), stored...)
	}

	// The first diff fails every attempt; afterwards the store is healthy again.
	mockStore.On("ReplaceShape", mock.Anything, "wb1", "c1", "s1", mock.Anything, mock.Anything).
		Return(errors.New("throttled")).Times(testFlushOptions().MaxAttempts)
	mockStore.On("ReplaceShape", mock.Anything, "wb1", "c1", "s1", mock.Anything, mock.Anything).
		Return(nil).Run(recordX)
	mockStore.On("ReplaceShape", mock.Anything, "wb2", "c1", "s1", mock.Anything, mock.Anything).Return(nil)

	var queued []string
	mockMQ.On("Send", mock.Anything, "wb1", mock.AnythingOfType("string")).Return(nil).Run(func(args mock.Arguments) {
		queued = append(queued, args.String(2))
	})

	update := func(whiteboardId string, x float64, modified int64) models.Diff {
		return models.Diff{
			Kind:             models.DiffUpdateShapes,
			WhiteboardId:     whiteboardId,
			CanvasId:         "c1",
			Shapes:           map[string]models.Shape{"s1": rectShape(x)},
			TimeLastModified: modified,
		}
	}

	b := &recordingBroadcaster{}
	flusher.Flush(context.Background(), b, []models.Diff{update("wb1", 1, 10), update("wb1", 2, 11)})
	// A later flush for the same whiteboard still queues behind the backlog.
	flusher.Flush(context.Background(), b, []models.Diff{update("wb1", 3, 12)})
	// Other whiteboards are unaffected.
	flusher.Flush(context.Background(), b, []models.Diff{update("wb2", 9, 13)})

	assert.Empty(t, storedX(), "no wb1 write may overtake the failed diff")
	require.Len(t, queued, 3)
	assert.Equal(t, 3, flusher.Backlog("wb1"))
	assert.Zero(t, flusher.Backlog("wb2"))
	mockStore.AssertCalled(t, "ReplaceShape", mock.Anything, "wb2", "c1", "s1", mock.Anything, int64(13))

	// Replay the queue in order, as the outbox consumer does.
	for _, body := range queued {
		var diff models.Diff
		require.NoError(t, json.Unmarshal([]byte(body), &diff))
		require.NoError(t, flusher.Apply(context.Background(), diff))
		flusher.Settle(diff.WhiteboardId)
	}

	assert.Equal(t, []float64{1, 2, 3}, storedX())
	assert.Zero(t, flusher.Backlog("wb1"))

	// Once drained, diffs go straight to the store again.
	flusher.Flush(context.Background(), b, []models.Diff{update("wb1", 4, 14)})
	assert.Equal(t, []float64{1, 2, 3, 4}, storedX())
	assert.Len(t, queued, 3)
	assert.Empty(t, b.messages())
}

func TestSettle_NeverGoesNegative(t *testing.T) {
	flusher := service.NewDiffFlusher(new(storemocks.MockStore), nil, testFlushOptions())

	flusher.Settle("wb1")
	assert.Zero(t, flusher.Backlog("wb1"))
}

func TestApply_UnknownKind(t *testing.T) {
	flusher := service.NewDiffFlusher(new(storemocks.MockStore), nil, testFlushOptions())

	err := flusher.Apply(context.Background(), models.Diff{Kind: "rename_whiteboard"})
	assert.Error(t, err)
}

func TestFlushAll_WritesQueuedDiffs(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)

	wb := models.NewWhiteboard("wb1", "Board", "owner", nil)
	mockStore.On("LoadWhiteboard", mock.Anything, "wb1").Return(wb, nil)
	mockStore.On("CreateCanvas", mock.Anything, "wb1", mock.Anything).Return(nil)

	sess, err := svc.Registry.GetOrLoad(context.Background(), "wb1")
	require.NoError(t, err)
	_, err = sess.Apply(session.Origin{ConnId: 1, UserId: "owner"}, protocol.CreateCanvas{Width: 10, Height: 10, Name: "Left behind"})
	require.NoError(t, err)
	require.Equal(t, 1, sess.PendingDiffs())

	svc.FlushAll()

	assert.Zero(t, sess.PendingDiffs())
	mockStore.AssertNumberOfCalls(t, "CreateCanvas", 1)
}

func TestFlushSession_WritesInCommitOrder(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)

	wb := models.NewWhiteboard("wb1", "Board", "owner", nil)
	mockStore.On("LoadWhiteboard", mock.Anything, "wb1").Return(wb, nil)

	var order []string
	mockStore.On("CreateCanvas", mock.Anything, "wb1", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		order = append(order, "create:"+args.Get(2).(models.CanvasRecord).Name)
	})
	mockStore.On("DeleteCanvases", mock.Anything, "wb1", mock.Anything).Return(nil).Run(func(mock.Arguments) {
		order = append(order, "delete")
	})

	sess, err := svc.Registry.GetOrLoad(context.Background(), "wb1")
	require.NoError(t, err)
	owner := session.Origin{ConnId: 1, UserId: "owner"}

	msg, err := sess.Apply(owner, protocol.CreateCanvas{Width: 10, Height: 10, Name: "a"})
	require.NoError(t, err)
	created := msg.(protocol.CanvasCreated)
	_, err = sess.Apply(owner, protocol.DeleteCanvases{CanvasIds: []string{created.CanvasId}})
	require.NoError(t, err)
	_, err = sess.Apply(owner, protocol.CreateCanvas{Width: 10, Height: 10, Name: "b"})
	require.NoError(t, err)

	svc.FlushSession(sess)

	assert.Equal(t, []string{"create:a", "delete", "create:b"}, order)
	assert.Zero(t, sess.PendingDiffs())
}

type failingBroadcaster struct{}

func (failingBroadcaster) Broadcast(protocol.ServerMessage) error {
	return errors.New("broadcaster closed")
}

func TestFlush_LostEditBroadcastFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logging.Init(logging.Config{Level: "error", Output: &buf})
	defer logging.Init(logging.Config{})

	mockStore := new(storemocks.MockStore)
	mockMQ := new(mqmocks.MockMQ)
	flusher := service.NewDiffFlusher(mockStore, mockMQ, testFlushOptions())

	canvas := models.CanvasRecord{Id: "c1", Width: 10, Height: 10}
	mockStore.On("CreateCanvas", mock.Anything, "wb1", canvas).Return(errors.New("unavailable"))
	mockMQ.On("Send", mock.Anything, "wb1", mock.AnythingOfType("string")).Return(errors.New("sqs unavailable"))

	flusher.Flush(context.Background(), failingBroadcaster{}, []models.Diff{{
		Kind:         models.DiffCreateCanvas,
		WhiteboardId: "wb1",
		CanvasId:     "c1",
		Canvas:       &canvas,
	}})

	assert.Contains(t, buf.String(), "Failed to broadcast lost edits")
	assert.Contains(t, buf.String(), "broadcaster closed")
}
