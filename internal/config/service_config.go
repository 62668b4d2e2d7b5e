package config

import "time"

// ServiceConfig represents configuration for the outbound sales voice service
type ServiceConfig struct {
	Port string

	// Telnyx Call Control configuration
	TelnyxAPIKey           string
	TelnyxAPIBaseURL       string
	TelnyxConnectionID     string
	TelnyxFromNumber       string
	TelnyxWebhookURL       string
	TelnyxWebhookPublicKey string

	// OpenAI realtime configuration
	OpenAIAPIKey        string
	OpenAIRealtimeURL   string
	OpenAIRealtimeModel string
	OpenAIVoice         string

	// LiveKit media room configuration
	LiveKitEnabled   bool
	LiveKitServerURL string
	LiveKitAPIKey    string
	LiveKitAPISecret string

	// Twilio Network Traversal Service (dynamic TURN credentials)
	TwilioAccountSID string
	TwilioAuthToken  string

	// Customer profile service
	CustomerServiceBaseURL string
	CustomerServiceAPIKey  string
	CustomerCacheTTL       time.Duration

	// Session lifecycle tuning
	SessionRetention time.Duration
	GatherTimeout    time.Duration
	SpeakTimeout     time.Duration

	// Campaign pacing
	CampaignCallsPerMinute int
	CampaignMaxConcurrent  int

	// Instance identifier for multi-pod cleanup routing
	InstanceID string

	EnableCORS bool
}
