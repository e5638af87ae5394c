package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/discbound/recovery/internal/payment"
	"github.com/discbound/recovery/internal/recovery"
	"github.com/discbound/recovery/internal/repository"
	"github.com/discbound/recovery/internal/storage"
)

// respondStorageError translates the error taxonomy onto HTTP. Transition
// and role rejections surface verbatim: the client's correct reaction is to
// re-fetch the projection, not to retry.
func respondStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrObjectNotFound):
		respondError(w, http.StatusNotFound, "Error: "+err.Error())
	case errors.Is(err, recovery.ErrForbidden):
		respondError(w, http.StatusForbidden, "Error: "+err.Error())
	case errors.Is(err, recovery.ErrInvalidRole):
		respondError(w, http.StatusForbidden, "Error: "+err.Error())
	case errors.Is(err, recovery.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "Error: "+err.Error())
	case errors.Is(err, payment.ErrProvider):
		respondError(w, http.StatusBadGateway, "Error: "+err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
	}
}

func (s *Server) handleGetRecoveryDetails(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())

	eventID, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Missing or invalid recovery id")
		return
	}

	proj, err := s.storage.GetRecoveryDetails(r.Context(), caller.ID, eventID)
	if err != nil {
		respondStorageError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, proj)
}

func (s *Server) handleRecoveryHistory(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())

	eventID, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Missing or invalid recovery id")
		return
	}

	history, err := s.storage.GetRecoveryHistory(r.Context(), caller.ID, eventID)
	if err != nil {
		respondStorageError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, history)
}

func (s *Server) handleMyRecoveries(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())

	summaries, err := s.storage.ListRecoveries(r.Context(), caller.ID)
	if err != nil {
		respondStorageError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleReportFound(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())

	var req struct {
		DiscID  string  `json:"disc_id"`
		Message *string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.DiscID == "" {
		respondError(w, http.StatusBadRequest, "Missing disc_id")
		return
	}

	proj, err := s.storage.ReportFound(r.Context(), caller.ID, req.DiscID, req.Message)
	if err != nil {
		respondStorageError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, proj)
}

func (s *Server) handleProposeMeetup(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())

	var req struct {
		RecoveryEventID  string   `json:"recovery_event_id"`
		LocationName     string   `json:"location_name"`
		Latitude         *float64 `json:"latitude"`
		Longitude        *float64 `json:"longitude"`
		ProposedDatetime string   `json:"proposed_datetime"`
		Message          *string  `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	eventID, err := uuid.Parse(req.RecoveryEventID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Missing or invalid recovery_event_id")
		return
	}
	if req.LocationName == "" {
		respondError(w, http.StatusBadRequest, "Missing location_name")
		return
	}
	proposedAt, err := time.Parse(time.RFC3339, req.ProposedDatetime)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid proposed_datetime. Use ISO-8601")
		return
	}

	proj, err := s.storage.ProposeMeetup(r.Context(), caller.ID, storage.ProposeMeetupRequest{
		RecoveryEventID:  eventID,
		LocationName:     req.LocationName,
		Latitude:         req.Latitude,
		Longitude:        req.Longitude,
		ProposedDatetime: proposedAt.UTC(),
		Message:          req.Message,
	})
	if err != nil {
		respondStorageError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, proj)
}

func (s *Server) handleAcceptMeetup(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())

	var req struct {
		ProposalID string `json:"proposal_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	proposalID, err := uuid.Parse(req.ProposalID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Missing or invalid proposal_id")
		return
	}

	proj, err := s.storage.AcceptMeetup(r.Context(), caller.ID, proposalID)
	if err != nil {
		respondStorageError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, proj)
}

// eventAction covers the bodies that carry only a recovery_event_id.
func (s *Server) eventAction(w http.ResponseWriter, r *http.Request,
	call func(callerID string, eventID uuid.UUID) (*storage.Projection, error)) {
	caller, _ := callerFrom(r.Context())

	var req struct {
		RecoveryEventID string `json:"recovery_event_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	eventID, err := uuid.Parse(req.RecoveryEventID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Missing or invalid recovery_event_id")
		return
	}

	proj, err := call(caller.ID, eventID)
	if err != nil {
		respondStorageError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, proj)
}

func (s *Server) handleCompleteRecovery(w http.ResponseWriter, r *http.Request) {
	s.eventAction(w, r, func(callerID string, eventID uuid.UUID) (*storage.Projection, error) {
		return s.storage.CompleteRecovery(r.Context(), callerID, eventID)
	})
}

func (s *Server) handleSurrenderDisc(w http.ResponseWriter, r *http.Request) {
	s.eventAction(w, r, func(callerID string, eventID uuid.UUID) (*storage.Projection, error) {
		return s.storage.SurrenderDisc(r.Context(), callerID, eventID)
	})
}

func (s *Server) handleAbandonDisc(w http.ResponseWriter, r *http.Request) {
	s.eventAction(w, r, func(callerID string, eventID uuid.UUID) (*storage.Projection, error) {
		return s.storage.AbandonDisc(r.Context(), callerID, eventID)
	})
}

func (s *Server) handleMarkDiscRetrieved(w http.ResponseWriter, r *http.Request) {
	s.eventAction(w, r, func(callerID string, eventID uuid.UUID) (*storage.Projection, error) {
		return s.storage.MarkDiscRetrieved(r.Context(), callerID, eventID)
	})
}

func (s *Server) handleRelinquishDisc(w http.ResponseWriter, r *http.Request) {
	s.eventAction(w, r, func(callerID string, eventID uuid.UUID) (*storage.Projection, error) {
		return s.storage.RelinquishDisc(r.Context(), callerID, eventID)
	})
}

func (s *Server) handleMarkRewardPaid(w http.ResponseWriter, r *http.Request) {
	s.eventAction(w, r, func(callerID string, eventID uuid.UUID) (*storage.Projection, error) {
		return s.storage.MarkRewardPaid(r.Context(), callerID, eventID)
	})
}

func (s *Server) handleDropOffDisc(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())

	var req struct {
		RecoveryEventID string   `json:"recovery_event_id"`
		PhotoURL        string   `json:"photo_url"`
		Latitude        *float64 `json:"latitude"`
		Longitude       *float64 `json:"longitude"`
		LocationNotes   *string  `json:"location_notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	eventID, err := uuid.Parse(req.RecoveryEventID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Missing or invalid recovery_event_id")
		return
	}
	if req.PhotoURL == "" || req.Latitude == nil || req.Longitude == nil {
		respondError(w, http.StatusBadRequest, "Missing photo_url or coordinates")
		return
	}

	proj, err := s.storage.DropOffDisc(r.Context(), caller.ID, storage.DropOffRequest{
		RecoveryEventID: eventID,
		PhotoURL:        req.PhotoURL,
		Latitude:        *req.Latitude,
		Longitude:       *req.Longitude,
		LocationNotes:   req.LocationNotes,
	})
	if err != nil {
		respondStorageError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, proj)
}

func (s *Server) handleSendRewardPayment(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())

	var req struct {
		RecoveryEventID string `json:"recovery_event_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	eventID, err := uuid.Parse(req.RecoveryEventID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Missing or invalid recovery_event_id")
		return
	}

	checkoutURL, proj, err := s.storage.SendRewardPayment(r.Context(), caller.ID, eventID)
	if err != nil {
		respondStorageError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"checkout_url": checkoutURL,
		"recovery":     proj,
	})
}

func (s *Server) handlePaymentConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Webhook-Secret") != s.webhookSecret {
		respondError(w, http.StatusUnauthorized, "Invalid webhook secret")
		return
	}

	var req struct {
		RecoveryEventID string `json:"recovery_event_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	eventID, err := uuid.Parse(req.RecoveryEventID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Missing or invalid recovery_event_id")
		return
	}

	if err := s.storage.ConfirmRewardPayment(r.Context(), eventID); err != nil {
		respondStorageError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "Payment recorded"})
}
