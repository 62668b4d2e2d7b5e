package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/paperline/sales-voice-service/internal/adapters/livekit"
	"github.com/paperline/sales-voice-service/internal/domain"
	"github.com/paperline/sales-voice-service/internal/orchestrator"
	"github.com/paperline/sales-voice-service/internal/prompts"
	"github.com/paperline/sales-voice-service/internal/repository"
	"github.com/paperline/sales-voice-service/pkg/logger"
)

// CallHandler exposes the call lifecycle API: placing outbound calls
// and inspecting live or finished sessions.
type CallHandler struct {
	orch       *orchestrator.Orchestrator
	recordRepo *repository.CallRecordRepository
	rooms      *livekit.RoomService
}

func NewCallHandler(orch *orchestrator.Orchestrator, recordRepo *repository.CallRecordRepository, rooms *livekit.RoomService) *CallHandler {
	return &CallHandler{orch: orch, recordRepo: recordRepo, rooms: rooms}
}

type outboundCallRequest struct {
	PhoneNumber string `json:"phone_number"`
	AgentName   string `json:"agent_name,omitempty"`
	Voice       string `json:"voice,omitempty"`
	Language    string `json:"language,omitempty"`
}

type outboundCallResponse struct {
	CallID string `json:"call_id"`
	Status string `json:"status"`
}

type sessionResponse struct {
	CallID      string `json:"call_id"`
	Direction   string `json:"direction"`
	PhoneNumber string `json:"phone_number"`
	Status      string `json:"status"`
	Mode        string `json:"mode,omitempty"`
	HangupCause string `json:"hangup_cause,omitempty"`
	Turns       int    `json:"turns"`
}

type transcriptMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// HandleOutboundCall handles POST /api/v1/calls/outbound
func (h *CallHandler) HandleOutboundCall(w http.ResponseWriter, r *http.Request) {
	var req outboundCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PhoneNumber == "" {
		writeError(w, http.StatusBadRequest, "phone_number is required")
		return
	}

	profile := &domain.AgentProfile{
		Name:     req.AgentName,
		Voice:    req.Voice,
		Language: req.Language,
	}
	profile.SystemPrompt = prompts.GenerateSalesPrompt(profile.Name, nil, prompts.DefaultProducts)

	callID, err := h.orch.StartOutboundCall(r.Context(), req.PhoneNumber, profile, "")
	if err != nil {
		if errors.Is(err, domain.ErrCustomerOptedOut) {
			writeError(w, http.StatusForbidden, "customer has opted out of calls")
			return
		}
		logger.Base().Error("Outbound call failed", zap.String("phone", req.PhoneNumber), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to place call")
		return
	}

	writeJSON(w, http.StatusCreated, outboundCallResponse{CallID: callID, Status: "initiated"})
}

// HandleGetCall handles GET /api/v1/calls/{callId}
func (h *CallHandler) HandleGetCall(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["callId"]

	if s, err := h.orch.GetSession(callID); err == nil {
		writeJSON(w, http.StatusOK, sessionResponse{
			CallID:      s.CallID,
			Direction:   string(s.Direction),
			PhoneNumber: s.PhoneNumber,
			Status:      string(s.Status),
			Mode:        string(s.Mode),
			HangupCause: s.HangupCause,
			Turns:       len(s.History),
		})
		return
	}

	// Not live; fall back to the persisted record.
	if h.recordRepo != nil {
		record, err := h.recordRepo.GetByCallID(r.Context(), callID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		if record != nil {
			writeJSON(w, http.StatusOK, sessionResponse{
				CallID:      record.CallID,
				Direction:   record.Direction,
				PhoneNumber: record.PhoneNumber,
				Status:      record.FinalStatus,
				Mode:        record.Mode,
				HangupCause: record.HangupCause,
			})
			return
		}
	}

	writeError(w, http.StatusNotFound, "call not found")
}

// HandleGetTranscript handles GET /api/v1/calls/{callId}/transcript
func (h *CallHandler) HandleGetTranscript(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["callId"]

	if s, err := h.orch.GetSession(callID); err == nil {
		out := make([]transcriptMessage, 0, len(s.History))
		for _, m := range s.History {
			out = append(out, transcriptMessage{Role: string(m.Role), Text: m.Text})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"call_id": callID, "messages": out})
		return
	}

	if h.recordRepo != nil {
		messages, err := h.recordRepo.GetMessages(r.Context(), callID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		if len(messages) > 0 {
			out := make([]transcriptMessage, 0, len(messages))
			for _, m := range messages {
				out = append(out, transcriptMessage{Role: m.Role, Text: m.Content})
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"call_id": callID, "messages": out})
			return
		}
	}

	writeError(w, http.StatusNotFound, "transcript not found")
}

// HandleHangupCall handles POST /api/v1/calls/{callId}/hangup
func (h *CallHandler) HandleHangupCall(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["callId"]

	s, err := h.orch.GetSession(callID)
	if err != nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	if s.Status.IsTerminal() {
		writeJSON(w, http.StatusOK, map[string]string{"call_id": callID, "status": string(s.Status)})
		return
	}

	if err := h.orch.HangupCall(r.Context(), callID); err != nil {
		logger.Base().Error("Hangup request failed", zap.String("call_id", callID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to hang up call")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"call_id": callID, "status": "ending"})
}

// HandleRoomAccess handles GET /api/v1/calls/{callId}/room-access.
// It issues a LiveKit token plus TURN servers so an operator client can
// join the call's media room.
func (h *CallHandler) HandleRoomAccess(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["callId"]

	if h.rooms == nil {
		writeError(w, http.StatusNotImplemented, "media rooms are not enabled")
		return
	}

	s, err := h.orch.GetSession(callID)
	if err != nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	roomName := s.ExternalRefs.MediaRoomName
	if roomName == "" {
		writeError(w, http.StatusConflict, "call has no media room")
		return
	}

	identity := r.URL.Query().Get("identity")
	if identity == "" {
		identity = "operator"
	}

	bundle, err := h.rooms.AccessBundleFor(roomName, identity)
	if err != nil {
		logger.Base().Error("Failed issuing room access", zap.String("call_id", callID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to issue room access")
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

// HandleHealth handles GET /health
func (h *CallHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"active_calls": h.orch.ActiveCalls(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Base().Error("Failed encoding response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
