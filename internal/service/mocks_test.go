package service

import (
	"context"

	"chatthread/internal/models"

	"github.com/stretchr/testify/mock"
)

// Mock cursor store
type mockCursorStore struct {
	mock.Mock
}

func (m *mockCursorStore) SaveCursor(ctx context.Context, sessionKey, roomID string, cursor models.Cursor) error {
	args := m.Called(ctx, sessionKey, roomID, cursor)
	return args.Error(0)
}

func (m *mockCursorStore) LoadCursor(ctx context.Context, sessionKey string) (models.Cursor, bool, error) {
	args := m.Called(ctx, sessionKey)
	return args.Get(0).(models.Cursor), args.Bool(1), args.Error(2)
}

func (m *mockCursorStore) DeleteCursor(ctx context.Context, sessionKey string) error {
	args := m.Called(ctx, sessionKey)
	return args.Error(0)
}
