package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chatthread/internal/constants"
	"chatthread/internal/errors"
	"chatthread/internal/metrics"
	"chatthread/internal/middleware"
	"chatthread/internal/models"
	"chatthread/internal/room"
	"chatthread/internal/service"
	"chatthread/internal/thread"
	"chatthread/internal/tracing"
	"chatthread/internal/validation"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	errLog   *errors.Logger
	cfg      *models.Config
	sessions *service.SessionManager
	verbose  bool
	server   *http.Server
}

// threadSnapshot is the JSON view of one thread served over HTTP and the
// stream.
type threadSnapshot struct {
	MyID      int              `json:"myId"`
	RoomID    string           `json:"roomId"`
	IsLoading bool             `json:"isLoading"`
	Messages  []models.Message `json:"messages"`
	Cursor    models.Cursor    `json:"cursor"`
}

type sendRequest struct {
	Text string `json:"text"`
}

func NewServer(cfg *models.Config, sessions *service.SessionManager, logger *logrus.Logger, verbose bool) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		errLog:   errors.WrapLogger(logger),
		cfg:      cfg,
		sessions: sessions,
		verbose:  verbose,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger, middleware.Options{
		TrustProxy: s.cfg.Server.TrustProxy,
	}))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)
	s.router.Handle("/metrics/prometheus", metrics.PrometheusHandler(metrics.GetRegistry())).Methods(http.MethodGet)

	chat := s.router.PathPrefix("/chats/{myId}/{friendId}").Subrouter()
	chat.HandleFunc("", s.handleCloseThread()).Methods(http.MethodDelete)
	chat.HandleFunc("/messages", s.handleGetThread()).Methods(http.MethodGet)
	chat.HandleFunc("/messages", s.handleSendMessage()).Methods(http.MethodPost)
	chat.HandleFunc("/more", s.handleLoadMore()).Methods(http.MethodPost)
	chat.HandleFunc("/cursor", s.handleResetThread()).Methods(http.MethodDelete)
	chat.HandleFunc("/stream", s.handleStream()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// participants reads the path IDs. Anything unparseable becomes 0, the same
// as an unset ID.
func participants(r *http.Request) (myID, friendID int) {
	vars := mux.Vars(r)
	return room.ParseParticipantID(vars["myId"]), room.ParseParticipantID(vars["friendId"])
}

func (s *Server) requestContext(r *http.Request, ctl *thread.Controller) context.Context {
	ctx := service.WithVerboseLogging(r.Context(), s.verbose)
	return errors.WithRoomID(ctx, ctl.RoomID())
}

func (s *Server) handleGetThread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		myID, friendID := participants(r)
		ctl := s.sessions.Open(r.Context(), myID, friendID)
		s.writeJSON(w, r, http.StatusOK, snapshotOf(ctl))
	}
}

func (s *Server) handleSendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, constants.MaxMessageBodyBytes)

		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request body").
				WithUserMessage("Request body must be JSON with a text field"))
			return
		}
		if err := validation.ValidateMessageText(req.Text); err != nil {
			s.writeError(w, r, err)
			return
		}

		myID, friendID := participants(r)
		ctl := s.sessions.Open(r.Context(), myID, friendID)
		ctx := s.requestContext(r, ctl)

		service.LogOutgoingMessage(ctx, s.logger, ctl.RoomID(), myID, req.Text)
		ctl.SendMessage(ctx, req.Text)

		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleLoadMore() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		myID, friendID := participants(r)
		ctl := s.sessions.Open(r.Context(), myID, friendID)
		ctl.LoadMore(s.requestContext(r, ctl))
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleCloseThread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		myID, friendID := participants(r)
		if err := s.sessions.Close(r.Context(), myID, friendID); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleResetThread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		myID, friendID := participants(r)
		if err := s.sessions.Reset(r.Context(), myID, friendID); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func snapshotOf(ctl *thread.Controller) threadSnapshot {
	return threadSnapshot{
		MyID:      ctl.MyID(),
		RoomID:    ctl.RoomID(),
		IsLoading: ctl.IsLoading().Get(),
		Messages:  ctl.Messages().Get(),
		Cursor:    ctl.Cursor(),
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithFields(logrus.Fields{
			"request_id": tracing.GetRequestID(r.Context()),
			"error":      err,
		}).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := tracing.GetRequestID(r.Context())
	status := errors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		s.errLog.LogError(err, "Request failed", logrus.Fields{"request_id": requestID})
	} else {
		s.errLog.LogDebug(err, "Request rejected", logrus.Fields{"request_id": requestID})
	}
	s.writeJSON(w, r, status, errors.ToHTTPResponse(err, requestID))
}
