package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"chatthread/internal/constants"
	"chatthread/internal/errors"
	"chatthread/internal/metrics"
	"chatthread/internal/models"
	"chatthread/internal/thread"
	"chatthread/pkg/backend"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// sessionNamespace scopes the name-based session keys.
var sessionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:chatthread:session"))

// CursorStore persists pagination cursors between runs.
type CursorStore interface {
	SaveCursor(ctx context.Context, sessionKey, roomID string, cursor models.Cursor) error
	LoadCursor(ctx context.Context, sessionKey string) (models.Cursor, bool, error)
	DeleteCursor(ctx context.Context, sessionKey string) error
}

// SessionKey returns the stable key of the thread myID keeps with friendID.
// Unlike the room ID it is not symmetric: each side has its own session.
func SessionKey(myID, friendID int) uuid.UUID {
	return uuid.NewSHA1(sessionNamespace, []byte(strconv.Itoa(myID)+":"+strconv.Itoa(friendID)))
}

// SessionManager keeps one thread controller per (myID, friendID) pair.
type SessionManager struct {
	client   backend.Client
	cursors  CursorStore
	logger   *logrus.Logger
	errLog   *errors.Logger
	metrics  *metrics.Registry
	pageSize int

	mu       sync.Mutex
	sessions map[uuid.UUID]*thread.Controller
}

// NewSessionManager creates a session manager. A nil cursor store keeps
// cursors in memory only.
func NewSessionManager(client backend.Client, cursors CursorStore, logger *logrus.Logger, pageSize int) *SessionManager {
	if logger == nil {
		logger = logrus.New()
	}
	if cursors == nil {
		cursors = NewMemoryCursorStore()
	}
	if pageSize <= 0 {
		pageSize = constants.DefaultPageSize
	}
	return &SessionManager{
		client:   client,
		cursors:  cursors,
		logger:   logger,
		errLog:   errors.WrapLogger(logger),
		metrics:  metrics.GetRegistry(),
		pageSize: pageSize,
		sessions: make(map[uuid.UUID]*thread.Controller),
	}
}

// SetMetrics replaces the registry used by the manager and its controllers.
func (m *SessionManager) SetMetrics(reg *metrics.Registry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = reg
}

// Open returns the controller for the pair, creating it on first use with the
// persisted cursor. Initialize is called every time, so a thread whose first
// read failed is retried on the next Open.
func (m *SessionManager) Open(ctx context.Context, myID, friendID int) *thread.Controller {
	key := SessionKey(myID, friendID)

	m.mu.Lock()
	ctl, ok := m.sessions[key]
	if !ok {
		opts := thread.Options{
			MyID:     myID,
			FriendID: friendID,
			PageSize: m.pageSize,
			Logger:   m.logger,
			Metrics:  m.metrics,
		}
		if cursor, found := m.loadCursor(ctx, key); found {
			opts.Cursor = &cursor
		}
		ctl = thread.New(m.client, opts)
		m.sessions[key] = ctl
		m.metrics.AddToGauge(metrics.ActiveThreads, 1, nil, "Open thread controllers")

		m.logger.WithFields(logrus.Fields{
			"session_key": key.String(),
			"room_id":     ctl.RoomID(),
		}).Info("Opened thread session")
	}
	m.mu.Unlock()

	ctl.Initialize(ctx)
	return ctl
}

// Get returns the controller for the pair if a session is open.
func (m *SessionManager) Get(myID, friendID int) (*thread.Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctl, ok := m.sessions[SessionKey(myID, friendID)]
	return ctl, ok
}

// Count returns the number of open sessions.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close tears the session down and persists its cursor.
func (m *SessionManager) Close(ctx context.Context, myID, friendID int) error {
	key := SessionKey(myID, friendID)

	m.mu.Lock()
	ctl, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	if !ok {
		return errors.NewNotFoundError("session", fmt.Sprintf("%d:%d", myID, friendID))
	}
	return m.closeSession(ctx, key, ctl)
}

// Reset closes the session if it is open and forgets its stored cursor, so
// the next Open starts from the newest page without a restored cursor.
func (m *SessionManager) Reset(ctx context.Context, myID, friendID int) error {
	key := SessionKey(myID, friendID)

	m.mu.Lock()
	ctl, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	if ok {
		ctl.Teardown()
		m.metrics.AddToGauge(metrics.ActiveThreads, -1, nil, "Open thread controllers")
	}
	if err := m.cursors.DeleteCursor(ctx, key.String()); err != nil {
		return errors.NewDatabaseError("delete cursor", err).WithContext("session_key", key.String())
	}
	return nil
}

// CloseAll tears down every open session. Every cursor is attempted; the
// first persistence error is returned.
func (m *SessionManager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[uuid.UUID]*thread.Controller)
	m.mu.Unlock()

	var firstErr error
	for key, ctl := range sessions {
		if err := m.closeSession(ctx, key, ctl); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if len(sessions) > 0 {
		m.logger.WithField("sessions", len(sessions)).Info("Closed all thread sessions")
	}
	return firstErr
}

func (m *SessionManager) closeSession(ctx context.Context, key uuid.UUID, ctl *thread.Controller) error {
	ctl.Teardown()
	m.metrics.AddToGauge(metrics.ActiveThreads, -1, nil, "Open thread controllers")

	if err := m.cursors.SaveCursor(ctx, key.String(), ctl.RoomID(), ctl.Cursor()); err != nil {
		appErr := errors.NewDatabaseError("save cursor", err).WithContext("session_key", key.String())
		m.errLog.LogError(appErr, "Failed to persist thread cursor", logrus.Fields{"room_id": ctl.RoomID()})
		return appErr
	}

	m.logger.WithFields(logrus.Fields{
		"session_key": key.String(),
		"room_id":     ctl.RoomID(),
	}).Info("Closed thread session")
	return nil
}

// loadCursor is called with m.mu held. A failed lookup starts the thread
// without a restored cursor.
func (m *SessionManager) loadCursor(ctx context.Context, key uuid.UUID) (models.Cursor, bool) {
	cursor, ok, err := m.cursors.LoadCursor(ctx, key.String())
	if err != nil {
		m.errLog.LogWarn(errors.NewDatabaseError("load cursor", err), "Starting thread without stored cursor",
			logrus.Fields{"session_key": key.String()})
		return models.Cursor{}, false
	}
	return cursor, ok
}

// MemoryCursorStore keeps cursors for the lifetime of the process.
type MemoryCursorStore struct {
	mu      sync.RWMutex
	cursors map[string]models.Cursor
}

// NewMemoryCursorStore creates an empty in-memory cursor store.
func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: make(map[string]models.Cursor)}
}

func (s *MemoryCursorStore) SaveCursor(_ context.Context, sessionKey, _ string, cursor models.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[sessionKey] = cursor
	return nil
}

func (s *MemoryCursorStore) LoadCursor(_ context.Context, sessionKey string) (models.Cursor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cursor, ok := s.cursors[sessionKey]
	return cursor, ok, nil
}

func (s *MemoryCursorStore) DeleteCursor(_ context.Context, sessionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, sessionKey)
	return nil
}
