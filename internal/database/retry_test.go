package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryableDBOperation(t *testing.T) {
	tests := []struct {
		name        string
		failures    int
		err         error
		wantCalls   int
		wantErr     bool
		errContains string
	}{
		{name: "success first attempt", wantCalls: 1},
		{name: "success after locked", failures: 2, err: errors.New("database is locked"), wantCalls: 3},
		{name: "non-retryable", failures: 10, err: errors.New("UNIQUE constraint failed"), wantCalls: 1, wantErr: true, errContains: "non-retryable"},
		{name: "attempts exhausted", failures: 10, err: errors.New("database is locked"), wantCalls: 3, wantErr: true, errContains: "failed after 3 attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retryableDBOperation(context.Background(), func() error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			}, "test operation")

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRetryableDBOperation_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := retryableDBOperation(ctx, func() error {
		calls++
		return nil
	}, "test operation")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestIsRetryableDBError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{err: nil, want: false},
		{err: errors.New("database is locked"), want: true},
		{err: errors.New("database table is locked"), want: true},
		{err: errors.New("disk I/O error"), want: true},
		{err: errors.New("UNIQUE constraint failed"), want: false},
		{err: errors.New("no such table: room_messages"), want: false},
		{err: context.Canceled, want: false},
		{err: context.DeadlineExceeded, want: false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, isRetryableDBError(tt.err), "%v", tt.err)
	}
}
