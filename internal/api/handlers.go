// Package api provides HTTP handlers for LeadPipe endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/session"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// recentDecisionLimit caps how many audit entries the debug endpoint returns.
const recentDecisionLimit = 20

type sendMessageRequest struct {
	Content string `json:"content"`
}

type quickReplyRequest struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

type setDelayRequest struct {
	Seconds int `json:"seconds"`
}

type uploadOutcomeRequest struct {
	Results []models.UploadResult `json:"results"`
}

type bookingDebugResponse struct {
	Flow      models.BookingFlowSnapshot `json:"flow"`
	Decisions []store.AuditRecord        `json:"decisions,omitempty"`
}

// controllerFor resolves the open session for a request, writing the error
// response itself when the session is missing.
func (s *Server) controllerFor(w http.ResponseWriter, r *http.Request) (*session.Controller, string, bool) {
	leadID := chi.URLParam(r, "leadID")
	if leadID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("lead ID is required"))
		return nil, "", false
	}
	ctrl, exists := s.manager.Get(leadID)
	if !exists {
		writeJSONResponse(w, http.StatusNotFound, models.Error("no open session for lead"))
		return nil, leadID, false
	}
	return ctrl, leadID, true
}

func (s *Server) openSessionHandler(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")
	if leadID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("lead ID is required"))
		return
	}

	ctrl, err := s.manager.Open(r.Context(), leadID)
	if err != nil {
		slog.Error("openSessionHandler failed", "leadID", leadID, "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("failed to open conversation"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(ctrl.RenderState()))
}

func (s *Server) closeSessionHandler(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")
	if leadID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("lead ID is required"))
		return
	}
	s.manager.Close(leadID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("session closed", nil))
}

func (s *Server) renderStateHandler(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := s.controllerFor(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(ctrl.RenderState()))
}

func (s *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	ctrl, leadID, ok := s.controllerFor(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}

	if err := ctrl.SendText(r.Context(), req.Content); err != nil {
		if errors.Is(err, models.ErrEmptyContent) || errors.Is(err, models.ErrContentTooLong) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		// Transient failure: optimistic message was rolled back and the draft
		// restored; the UI surfaces this as a non-blocking notification.
		slog.Warn("sendMessageHandler transient failure", "leadID", leadID, "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Degraded("message not delivered, draft restored", ctrl.RenderState()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(ctrl.RenderState()))
}

func (s *Server) quickReplyHandler(w http.ResponseWriter, r *http.Request) {
	ctrl, leadID, ok := s.controllerFor(w, r)
	if !ok {
		return
	}

	var req quickReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}

	if err := ctrl.SelectQuickReply(r.Context(), models.QuickReply{Label: req.Label, Value: req.Value}); err != nil {
		if errors.Is(err, models.ErrEmptyContent) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Warn("quickReplyHandler transient failure", "leadID", leadID, "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Degraded("message not delivered, draft restored", ctrl.RenderState()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(ctrl.RenderState()))
}

func (s *Server) aiReplyHandler(w http.ResponseWriter, r *http.Request) {
	ctrl, leadID, ok := s.controllerFor(w, r)
	if !ok {
		return
	}

	if err := ctrl.TriggerAIReplyNow(r.Context()); err != nil {
		// AI-reply failure leaves conversation state unchanged.
		slog.Warn("aiReplyHandler failed", "leadID", leadID, "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("AI reply failed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(ctrl.RenderState()))
}

func (s *Server) setModeHandler(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := s.controllerFor(w, r)
	if !ok {
		return
	}

	var req setModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}

	if err := ctrl.SetMode(flow.SchedulerMode(req.Mode)); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("mode updated", nil))
}

func (s *Server) setDelayHandler(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := s.controllerFor(w, r)
	if !ok {
		return
	}

	var req setDelayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}

	if err := ctrl.SetDelaySeconds(req.Seconds); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("delay updated", nil))
}

func (s *Server) uploadOutcomeHandler(w http.ResponseWriter, r *http.Request) {
	ctrl, leadID, ok := s.controllerFor(w, r)
	if !ok {
		return
	}

	var req uploadOutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}

	if err := ctrl.HandleUploadOutcome(r.Context(), req.Results); err != nil {
		slog.Warn("uploadOutcomeHandler refresh failed", "leadID", leadID, "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Degraded("upload recorded, refresh failed", ctrl.RenderState()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(ctrl.RenderState()))
}

func (s *Server) dismissBookingHandler(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := s.controllerFor(w, r)
	if !ok {
		return
	}

	if err := ctrl.DismissBooking(); err != nil {
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(ctrl.DebugSnapshot()))
}

func (s *Server) resetBookingHandler(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := s.controllerFor(w, r)
	if !ok {
		return
	}

	ctrl.ResetBookingFlow()
	writeJSONResponse(w, http.StatusOK, models.Success(ctrl.DebugSnapshot()))
}

func (s *Server) patchBookingHandler(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := s.controllerFor(w, r)
	if !ok {
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid message index"))
		return
	}

	var payload models.BookingPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}

	if err := ctrl.ApplyBookingUpdate(index, &payload); err != nil {
		if errors.Is(err, models.ErrIndexOutOfRange) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(ctrl.RenderState()))
}

func (s *Server) bookingDebugHandler(w http.ResponseWriter, r *http.Request) {
	ctrl, leadID, ok := s.controllerFor(w, r)
	if !ok {
		return
	}

	resp := bookingDebugResponse{Flow: ctrl.DebugSnapshot()}
	if s.audit != nil {
		decisions, err := s.audit.RecentDecisions(ctrl.ConversationKey(), recentDecisionLimit)
		if err != nil {
			slog.Warn("bookingDebugHandler audit read failed", "leadID", leadID, "error", err)
		} else {
			resp.Decisions = decisions
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

func (s *Server) registrySnapshotHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.registry.Snapshot()))
}

func (s *Server) timersHandler(w http.ResponseWriter, r *http.Request) {
	if s.timer == nil {
		writeJSONResponse(w, http.StatusOK, models.Success([]models.TimerInfo{}))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.timer.ListActive()))
}
