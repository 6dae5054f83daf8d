package session

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/zlnvch/boardsync/logging"
	"github.com/zlnvch/boardsync/models"
	"github.com/zlnvch/boardsync/protocol"
)

var (
	ErrCanvasNotFound     = errors.New("canvas not found")
	ErrCanvasForbidden    = errors.New("user is not on the canvas allow-list")
	ErrInvalidAllowedUser = errors.New("allowed user lacks edit permission on whiteboard")
)

// Origin identifies the connection a mutation came from.
type Origin struct {
	ConnId uint64
	UserId string
}

func (o Origin) ClientId() string {
	return strconv.FormatUint(o.ConnId, 10)
}

type Options struct {
	BroadcastBacklog int
	NewId            func() (string, error)
	Now              func() time.Time
}

// Session is the authoritative in-memory state of one whiteboard. The
// document, the connection map and the diff queue each have their own lock;
// none of them is held across store or network I/O.
type Session struct {
	instance uint64

	mu         sync.Mutex
	whiteboard *models.Whiteboard

	connMu      sync.Mutex
	connections map[uint64]models.UserSummary

	diffMu sync.Mutex
	diffs  []models.Diff

	// Held while the queue is being written out, so flushes never overlap.
	flushMu sync.Mutex

	broadcaster *Broadcaster
	newId       func() (string, error)
	now         func() time.Time
}

func New(whiteboard *models.Whiteboard, instance uint64, opts Options) *Session {
	if opts.NewId == nil {
		opts.NewId = models.NewId
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{
		instance:    instance,
		whiteboard:  whiteboard,
		connections: make(map[uint64]models.UserSummary),
		broadcaster: NewBroadcaster(opts.BroadcastBacklog),
		newId:       opts.NewId,
		now:         opts.Now,
	}
}

func (s *Session) Id() string {
	return s.whiteboard.Id
}

// Instance is unique per constructed Session within a process.
func (s *Session) Instance() uint64 {
	return s.instance
}

func (s *Session) PermissionFor(userId string) (models.Tier, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.whiteboard.PermissionFor(userId)
}

func (s *Session) View() models.WhiteboardView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.whiteboard.View()
}

// CanvasView returns a copy of one canvas.
func (s *Session) CanvasView(canvasId string) (models.CanvasView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.whiteboard.Canvases[canvasId]
	if !ok {
		return models.CanvasView{}, ErrCanvasNotFound
	}
	return s.whiteboard.CanvasView(c), nil
}

// Join subscribes to the broadcast stream and snapshots the document in one
// step, so the subscriber sees every mutation committed after the snapshot
// and none before it.
func (s *Session) Join(connId uint64, tier models.Tier) (protocol.InitClient, *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.broadcaster.Subscribe()
	init := protocol.InitClient{
		ClientId:   strconv.FormatUint(connId, 10),
		Whiteboard: s.whiteboard.View(),
		Permission: tier,
	}
	return init, sub
}

// RegisterConnection adds the connection and returns the deduplicated presence list.
func (s *Session) RegisterConnection(connId uint64, user models.UserSummary) []models.UserSummary {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.connections[connId] = user
	return s.activeUsersLocked()
}

// DeregisterConnection removes the connection and returns the remaining presence list.
func (s *Session) DeregisterConnection(connId uint64) []models.UserSummary {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.connections, connId)
	return s.activeUsersLocked()
}

func (s *Session) ActiveUsers() []models.UserSummary {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.activeUsersLocked()
}

func (s *Session) ConnectionCount() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return len(s.connections)
}

func (s *Session) activeUsersLocked() []models.UserSummary {
	seen := make(map[string]struct{}, len(s.connections))
	users := make([]models.UserSummary, 0, len(s.connections))
	for _, u := range s.connections {
		if _, ok := seen[u.UserId]; ok {
			continue
		}
		seen[u.UserId] = struct{}{}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserId < users[j].UserId })
	return users
}

// Broadcast publishes msg to every subscribed connection.
func (s *Session) Broadcast(msg protocol.ServerMessage) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	s.broadcaster.Publish(data)
	return nil
}

// DrainDiffs removes and returns the pending diffs in commit order.
func (s *Session) DrainDiffs() []models.Diff {
	s.diffMu.Lock()
	defer s.diffMu.Unlock()
	diffs := s.diffs
	s.diffs = nil
	return diffs
}

func (s *Session) PendingDiffs() int {
	s.diffMu.Lock()
	defer s.diffMu.Unlock()
	return len(s.diffs)
}

// FlushPending hands queued diffs to write, in commit order, until the queue
// is empty. If another caller is already flushing it returns at once and
// leaves the diffs to that caller, which re-checks the queue before it stops.
func (s *Session) FlushPending(write func([]models.Diff)) {
	for {
		if !s.flushMu.TryLock() {
			return
		}
		s.drainInto(write)
		s.flushMu.Unlock()

		if s.PendingDiffs() == 0 {
			return
		}
	}
}

// FinalFlush waits for any flush in progress, then writes out what is left.
func (s *Session) FinalFlush(write func([]models.Diff)) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	s.drainInto(write)
}

func (s *Session) drainInto(write func([]models.Diff)) {
	for diffs := s.DrainDiffs(); len(diffs) > 0; diffs = s.DrainDiffs() {
		write(diffs)
	}
}

func (s *Session) Close() {
	s.broadcaster.Close()
}

// Apply commits a mutation, queues its diff and broadcasts the result. The
// caller has already checked that the origin holds an editing tier.
func (s *Session) Apply(origin Origin, m protocol.Mutation) (protocol.ServerMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, diff, err := s.applyLocked(origin, m)
	if err != nil {
		return nil, err
	}

	if diff != nil {
		diff.WhiteboardId = s.whiteboard.Id
		s.diffMu.Lock()
		s.diffs = append(s.diffs, *diff)
		s.diffMu.Unlock()
	}

	// Publishing under the document lock keeps broadcast order equal to commit order.
	data, err := protocol.Encode(msg)
	if err != nil {
		logging.Error().Err(err).Str("whiteboard_id", s.whiteboard.Id).Str("type", msg.Type()).Msg("Failed to encode broadcast")
		return msg, nil
	}
	s.broadcaster.Publish(data)
	return msg, nil
}

func (s *Session) applyLocked(origin Origin, m protocol.Mutation) (protocol.ServerMessage, *models.Diff, error) {
	switch m := m.(type) {
	case protocol.CreateCanvas:
		return s.createCanvas(origin, m)
	case protocol.DeleteCanvases:
		return s.deleteCanvases(origin, m)
	case protocol.CreateShapes:
		return s.createShapes(origin, m)
	case protocol.UpdateShapes:
		return s.updateShapes(origin, m)
	case protocol.UpdateCanvasAllowedUsers:
		return s.updateCanvasAllowedUsers(origin, m)
	default:
		return nil, nil, fmt.Errorf("unsupported mutation %T", m)
	}
}

func (s *Session) createCanvas(origin Origin, m protocol.CreateCanvas) (protocol.ServerMessage, *models.Diff, error) {
	if err := s.checkAllowedUsers(m.AllowedUsers); err != nil {
		return nil, nil, err
	}

	id, err := s.newId()
	if err != nil {
		return nil, nil, fmt.Errorf("generate canvas id: %w", err)
	}

	var allowed []string
	if len(m.AllowedUsers) > 0 {
		allowed = append([]string{origin.UserId}, m.AllowedUsers...)
	}

	now := s.now().UnixMilli()
	canvas := models.NewCanvas(id, m.Name, m.Width, m.Height, now, allowed)
	s.whiteboard.Canvases[id] = canvas
	record := canvas.Record()

	msg := protocol.CanvasCreated{
		ClientId:     origin.ClientId(),
		CanvasId:     id,
		Width:        canvas.Width,
		Height:       canvas.Height,
		Name:         canvas.Name,
		AllowedUsers: s.whiteboard.Summaries(record.AllowedUsers),
		TimeCreated:  canvas.TimeCreated,
	}
	return msg, &models.Diff{Kind: models.DiffCreateCanvas, CanvasId: id, Canvas: &record}, nil
}

func (s *Session) deleteCanvases(origin Origin, m protocol.DeleteCanvases) (protocol.ServerMessage, *models.Diff, error) {
	for _, id := range m.CanvasIds {
		if c, ok := s.whiteboard.Canvases[id]; ok && !c.AllowsUser(origin.UserId) {
			return nil, nil, ErrCanvasForbidden
		}
	}
	for _, id := range m.CanvasIds {
		delete(s.whiteboard.Canvases, id)
	}

	ids := append([]string{}, m.CanvasIds...)
	msg := protocol.CanvasesDeleted{ClientId: origin.ClientId(), CanvasIds: ids}
	return msg, &models.Diff{Kind: models.DiffDeleteCanvases, CanvasIds: ids}, nil
}

// editableCanvas returns the canvas if it exists and origin may mutate it.
func (s *Session) editableCanvas(origin Origin, canvasId string) (*models.Canvas, error) {
	c, ok := s.whiteboard.Canvases[canvasId]
	if !ok {
		return nil, ErrCanvasNotFound
	}
	if !c.AllowsUser(origin.UserId) {
		return nil, ErrCanvasForbidden
	}
	return c, nil
}

func (s *Session) createShapes(origin Origin, m protocol.CreateShapes) (protocol.ServerMessage, *models.Diff, error) {
	c, err := s.editableCanvas(origin, m.CanvasId)
	if err != nil {
		return nil, nil, err
	}

	// Generate every id before touching the canvas so a failure leaves it unchanged.
	created := make(map[string]models.Shape, len(m.Shapes))
	for _, shape := range m.Shapes {
		var id string
		for {
			if id, err = s.newId(); err != nil {
				return nil, nil, fmt.Errorf("generate shape id: %w", err)
			}
			_, taken := c.Shapes[id]
			_, dup := created[id]
			if !taken && !dup {
				break
			}
		}
		created[id] = shape
	}

	for id, shape := range created {
		c.Shapes[id] = shape
	}
	c.TimeLastModified = s.now().UnixMilli()

	msg := protocol.ShapesCreated{ClientId: origin.ClientId(), CanvasId: c.Id, Shapes: created}
	diff := &models.Diff{
		Kind:             models.DiffCreateShapes,
		CanvasId:         c.Id,
		Shapes:           created,
		TimeLastModified: c.TimeLastModified,
	}
	return msg, diff, nil
}

func (s *Session) updateShapes(origin Origin, m protocol.UpdateShapes) (protocol.ServerMessage, *models.Diff, error) {
	c, err := s.editableCanvas(origin, m.CanvasId)
	if err != nil {
		return nil, nil, err
	}

	applied := make(map[string]models.Shape, len(m.Shapes))
	for id, shape := range m.Shapes {
		if _, ok := c.Shapes[id]; !ok {
			continue
		}
		c.Shapes[id] = shape
		applied[id] = shape
	}

	msg := protocol.ShapesUpdated{ClientId: origin.ClientId(), CanvasId: c.Id, Shapes: applied}
	if len(applied) == 0 {
		return msg, nil, nil
	}

	c.TimeLastModified = s.now().UnixMilli()
	diff := &models.Diff{
		Kind:             models.DiffUpdateShapes,
		CanvasId:         c.Id,
		Shapes:           applied,
		TimeLastModified: c.TimeLastModified,
	}
	return msg, diff, nil
}

// checkAllowedUsers rejects an allow-list naming anyone who cannot edit the
// whiteboard.
func (s *Session) checkAllowedUsers(userIds []string) error {
	for _, userId := range userIds {
		if tier, ok := s.whiteboard.PermissionFor(userId); !ok || !tier.CanEdit() {
			return fmt.Errorf("%w: %s", ErrInvalidAllowedUser, userId)
		}
	}
	return nil
}

func (s *Session) updateCanvasAllowedUsers(origin Origin, m protocol.UpdateCanvasAllowedUsers) (protocol.ServerMessage, *models.Diff, error) {
	c, err := s.editableCanvas(origin, m.CanvasId)
	if err != nil {
		return nil, nil, err
	}

	if err := s.checkAllowedUsers(m.AllowedUsers); err != nil {
		return nil, nil, err
	}

	c.SetAllowedUsers(m.AllowedUsers)
	c.TimeLastModified = s.now().UnixMilli()
	allowed := c.AllowedUserIds()

	msg := protocol.AllowedUsersUpdated{
		ClientId:     origin.ClientId(),
		CanvasId:     c.Id,
		AllowedUsers: s.whiteboard.Summaries(allowed),
	}
	diff := &models.Diff{
		Kind:             models.DiffUpdateCanvasAllowedUsers,
		CanvasId:         c.Id,
		AllowedUsers:     allowed,
		TimeLastModified: c.TimeLastModified,
	}
	return msg, diff, nil
}
