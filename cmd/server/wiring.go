package main

import (
	"context"

	"github.com/paperline/sales-voice-service/internal/adapters/openai"
	"github.com/paperline/sales-voice-service/internal/adapters/telnyx"
	"github.com/paperline/sales-voice-service/internal/domain"
	"github.com/paperline/sales-voice-service/internal/orchestrator"
)

// telnyxGateway adapts the Telnyx client to the orchestrator's action
// gateway; only the gather call needs translation.
type telnyxGateway struct {
	*telnyx.Client
}

func (g *telnyxGateway) GatherDigits(ctx context.Context, callID string, spec orchestrator.GatherSpec) error {
	return g.Client.GatherDigits(ctx, callID, spec.Prompt, telnyx.GatherOptions{
		ValidDigits:   spec.ValidDigits,
		MaxDigits:     spec.MaxDigits,
		TimeoutMillis: spec.TimeoutMillis,
	})
}

// realtimeClient adapts the OpenAI realtime client to the orchestrator's
// conversation interface and bridges its streamed callbacks.
type realtimeClient struct {
	client *openai.Client
}

func (c *realtimeClient) Create(ctx context.Context, callID string, profile *domain.AgentProfile,
	customerContext string, handlers orchestrator.ConversationHandlers) (orchestrator.ConversationSession, error) {

	sess, err := c.client.Create(ctx, callID, profile, customerContext)
	if err != nil {
		return nil, err
	}
	sess.Start(openai.SessionHandlers{
		OnTextDone: func(_, text string) {
			if handlers.OnResponse != nil {
				handlers.OnResponse(text)
			}
		},
		OnTranscript: func(_, text string) {
			if handlers.OnTranscript != nil {
				handlers.OnTranscript(text)
			}
		},
		OnError: func(_ string, err error) {
			if handlers.OnError != nil {
				handlers.OnError(err)
			}
		},
	})
	return sess, nil
}
