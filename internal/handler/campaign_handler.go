package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/paperline/sales-voice-service/internal/domain"
	"github.com/paperline/sales-voice-service/internal/prompts"
	"github.com/paperline/sales-voice-service/internal/services/campaign"
)

// CampaignHandler exposes the outbound campaign API.
type CampaignHandler struct {
	runner *campaign.Runner
}

func NewCampaignHandler(runner *campaign.Runner) *CampaignHandler {
	return &CampaignHandler{runner: runner}
}

type startCampaignRequest struct {
	Name         string   `json:"name"`
	PhoneNumbers []string `json:"phone_numbers"`
	AgentName    string   `json:"agent_name,omitempty"`
	Voice        string   `json:"voice,omitempty"`
	Language     string   `json:"language,omitempty"`
}

// HandleStartCampaign handles POST /api/v1/campaigns
func (h *CampaignHandler) HandleStartCampaign(w http.ResponseWriter, r *http.Request) {
	var req startCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	profile := &domain.AgentProfile{
		Name:     req.AgentName,
		Voice:    req.Voice,
		Language: req.Language,
	}
	profile.SystemPrompt = prompts.GenerateSalesPrompt(profile.Name, nil, prompts.DefaultProducts)

	id, err := h.runner.Start(req.Name, req.PhoneNumbers, profile)
	if err != nil {
		if errors.Is(err, campaign.ErrNoTargets) {
			writeError(w, http.StatusBadRequest, "phone_numbers is required")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to start campaign")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"campaign_id": id})
}

// HandleListCampaigns handles GET /api/v1/campaigns
func (h *CampaignHandler) HandleListCampaigns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.runner.List())
}

// HandleGetCampaign handles GET /api/v1/campaigns/{campaignId}
func (h *CampaignHandler) HandleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["campaignId"]
	report, err := h.runner.Status(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleStopCampaign handles POST /api/v1/campaigns/{campaignId}/stop
func (h *CampaignHandler) HandleStopCampaign(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["campaignId"]
	if err := h.runner.Stop(id); err != nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"campaign_id": id, "status": "stopping"})
}
