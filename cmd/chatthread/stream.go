package main

import (
	"context"
	"net/http"
	"time"

	"chatthread/internal/constants"
	"chatthread/internal/metrics"
	"chatthread/internal/thread"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

// handleStream pushes a thread snapshot over a WebSocket whenever the message
// list or the loading flag changes. Client messages are ignored.
func (s *Server) handleStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		myID, friendID := participants(r)
		ctl := s.sessions.Open(r.Context(), myID, friendID)

		// Streams outlive the server's request timeouts.
		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.WithError(err).WithField("room_id", ctl.RoomID()).Debug("WebSocket upgrade failed")
			return
		}
		defer conn.CloseNow()

		metrics.AddToGauge(metrics.ActiveStreams, 1, nil, "Connected stream clients")
		defer metrics.AddToGauge(metrics.ActiveStreams, -1, nil, "Connected stream clients")

		ctx := conn.CloseRead(context.WithoutCancel(r.Context()))
		if err := s.streamThread(ctx, conn, ctl); err != nil && ctx.Err() == nil {
			s.logger.WithFields(logrus.Fields{
				"room_id": ctl.RoomID(),
				"error":   err,
			}).Debug("Stream closed")
			return
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
}

func (s *Server) streamThread(ctx context.Context, conn *websocket.Conn, ctl *thread.Controller) error {
	messages, cancelMessages := ctl.Messages().Subscribe()
	defer cancelMessages()
	loading, cancelLoading := ctl.IsLoading().Subscribe()
	defer cancelLoading()

	// Both subscriptions start with the current value; one snapshot covers them.
	<-messages
	<-loading
	if err := s.pushSnapshot(ctx, conn, ctl); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-messages:
			if !ok {
				return nil
			}
		case _, ok := <-loading:
			if !ok {
				return nil
			}
		}
		if err := s.pushSnapshot(ctx, conn, ctl); err != nil {
			return err
		}
	}
}

func (s *Server) pushSnapshot(ctx context.Context, conn *websocket.Conn, ctl *thread.Controller) error {
	writeCtx, cancel := context.WithTimeout(ctx, time.Duration(constants.DefaultStreamWriteTimeoutMs)*time.Millisecond)
	defer cancel()
	return wsjson.Write(writeCtx, conn, snapshotOf(ctl))
}
