package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/discbound/recovery/internal/kafka"
	"github.com/discbound/recovery/internal/repository"
	"github.com/discbound/recovery/internal/storage"
)

type Storage interface {
	GetRecoveryDetails(ctx context.Context, callerID string, eventID uuid.UUID) (*storage.Projection, error)
	GetRecoveryHistory(ctx context.Context, callerID string, eventID uuid.UUID) ([]storage.HistoryView, error)
	ListRecoveries(ctx context.Context, callerID string) ([]storage.RecoverySummary, error)
	ReportFound(ctx context.Context, callerID, discID string, message *string) (*storage.Projection, error)
	ProposeMeetup(ctx context.Context, callerID string, req storage.ProposeMeetupRequest) (*storage.Projection, error)
	AcceptMeetup(ctx context.Context, callerID string, proposalID uuid.UUID) (*storage.Projection, error)
	CompleteRecovery(ctx context.Context, callerID string, eventID uuid.UUID) (*storage.Projection, error)
	SurrenderDisc(ctx context.Context, callerID string, eventID uuid.UUID) (*storage.Projection, error)
	DropOffDisc(ctx context.Context, callerID string, req storage.DropOffRequest) (*storage.Projection, error)
	MarkDiscRetrieved(ctx context.Context, callerID string, eventID uuid.UUID) (*storage.Projection, error)
	RelinquishDisc(ctx context.Context, callerID string, eventID uuid.UUID) (*storage.Projection, error)
	AbandonDisc(ctx context.Context, callerID string, eventID uuid.UUID) (*storage.Projection, error)
	MarkRewardPaid(ctx context.Context, callerID string, eventID uuid.UUID) (*storage.Projection, error)
	SendRewardPayment(ctx context.Context, callerID string, eventID uuid.UUID) (string, *storage.Projection, error)
	ConfirmRewardPayment(ctx context.Context, eventID uuid.UUID) error
}

type UserRepo interface {
	GetByToken(ctx context.Context, token string) (*repository.User, error)
}

type Server struct {
	storage       Storage
	userRepo      UserRepo
	server        *http.Server
	AuditManager  *AuditManager
	webhookSecret string
	logger        *zap.Logger
}

func New(st Storage, userRepo UserRepo, producer kafka.Producer, webhookSecret string, logger *zap.Logger) *Server {
	auditManager := NewAuditManager(2, 5, 500*time.Millisecond, producer, logger)
	return &Server{
		storage:       st,
		userRepo:      userRepo,
		AuditManager:  auditManager,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

func (s *Server) Run(ctx context.Context, port string) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.AuditManager.Start(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown failed", zap.Error(err))
		}
	}()

	s.logger.Info("server starting", zap.String("port", port))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("http server shutdown completed")

	s.AuditManager.Shutdown(ctx)
	return nil
}

func (s *Server) setupRoutes() http.Handler {
	router := mux.NewRouter()

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	// Called by the payment provider, authenticated by shared secret rather
	// than a user bearer token.
	router.HandleFunc("/payment-confirm", s.handlePaymentConfirm).Methods(http.MethodPost)

	api := router.NewRoute().Subrouter()
	api.Use(s.bearerAuthMiddleware, s.auditLogMiddleware)

	api.HandleFunc("/get-recovery-details", s.handleGetRecoveryDetails).Methods(http.MethodGet)
	api.HandleFunc("/recovery-history", s.handleRecoveryHistory).Methods(http.MethodGet)
	api.HandleFunc("/my-recoveries", s.handleMyRecoveries).Methods(http.MethodGet)

	api.HandleFunc("/report-found", s.handleReportFound).Methods(http.MethodPost)
	api.HandleFunc("/propose-meetup", s.handleProposeMeetup).Methods(http.MethodPost)
	api.HandleFunc("/accept-meetup", s.handleAcceptMeetup).Methods(http.MethodPost)
	api.HandleFunc("/complete-recovery", s.handleCompleteRecovery).Methods(http.MethodPost)
	api.HandleFunc("/surrender-disc", s.handleSurrenderDisc).Methods(http.MethodPost)
	api.HandleFunc("/abandon-disc", s.handleAbandonDisc).Methods(http.MethodPost)
	api.HandleFunc("/mark-disc-retrieved", s.handleMarkDiscRetrieved).Methods(http.MethodPost)
	api.HandleFunc("/relinquish-disc", s.handleRelinquishDisc).Methods(http.MethodPost)
	api.HandleFunc("/drop-off-disc", s.handleDropOffDisc).Methods(http.MethodPost)
	api.HandleFunc("/mark-reward-paid", s.handleMarkRewardPaid).Methods(http.MethodPost)
	api.HandleFunc("/send-reward-payment", s.handleSendRewardPayment).Methods(http.MethodPost)

	return router
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
