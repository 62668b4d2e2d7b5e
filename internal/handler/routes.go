package handler

import (
	"github.com/gorilla/mux"

	"github.com/paperline/sales-voice-service/internal/adapters/livekit"
	"github.com/paperline/sales-voice-service/internal/orchestrator"
	"github.com/paperline/sales-voice-service/internal/repository"
	"github.com/paperline/sales-voice-service/internal/services/campaign"
)

// HandlerManager wires the HTTP surface: provider webhooks, the call
// API and the campaign API.
type HandlerManager struct {
	webhookHandler  *WebhookHandler
	callHandler     *CallHandler
	campaignHandler *CampaignHandler
	enableCORS      bool
}

// NewHandlerManager creates all HTTP handlers. recordRepo, rooms and
// runner may be nil; the matching endpoints respond 404/501 instead.
// webhookKey enables Telnyx signature verification when non-empty.
func NewHandlerManager(orch *orchestrator.Orchestrator, router *orchestrator.Router,
	recordRepo *repository.CallRecordRepository, rooms *livekit.RoomService,
	runner *campaign.Runner, webhookKey string, enableCORS bool) *HandlerManager {

	hm := &HandlerManager{
		webhookHandler: NewWebhookHandler(router, webhookKey),
		callHandler:    NewCallHandler(orch, recordRepo, rooms),
		enableCORS:     enableCORS,
	}
	if runner != nil {
		hm.campaignHandler = NewCampaignHandler(runner)
	}
	return hm
}

// SetupAllRoutes registers every route on the given router.
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	if hm.enableCORS {
		router.Use(CORSMiddleware)
	}

	router.HandleFunc("/health", hm.callHandler.HandleHealth).Methods("GET")
	router.HandleFunc("/telnyx/webhook", hm.webhookHandler.HandleTelnyxWebhook).Methods("POST")

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(LoggingMiddleware)
	apiRouter.Use(ValidationMiddleware)

	apiRouter.HandleFunc("/calls/outbound", hm.callHandler.HandleOutboundCall).Methods("POST")
	apiRouter.HandleFunc("/calls/{callId}", hm.callHandler.HandleGetCall).Methods("GET")
	apiRouter.HandleFunc("/calls/{callId}/transcript", hm.callHandler.HandleGetTranscript).Methods("GET")
	apiRouter.HandleFunc("/calls/{callId}/hangup", hm.callHandler.HandleHangupCall).Methods("POST")
	apiRouter.HandleFunc("/calls/{callId}/room-access", hm.callHandler.HandleRoomAccess).Methods("GET")

	if hm.campaignHandler != nil {
		apiRouter.HandleFunc("/campaigns", hm.campaignHandler.HandleStartCampaign).Methods("POST")
		apiRouter.HandleFunc("/campaigns", hm.campaignHandler.HandleListCampaigns).Methods("GET")
		apiRouter.HandleFunc("/campaigns/{campaignId}", hm.campaignHandler.HandleGetCampaign).Methods("GET")
		apiRouter.HandleFunc("/campaigns/{campaignId}/stop", hm.campaignHandler.HandleStopCampaign).Methods("POST")
	}
}
