package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/paperline/sales-voice-service/internal/domain"
	"github.com/paperline/sales-voice-service/pkg/logger"
)

const (
	defaultRealtimeURL = "wss://api.openai.com/v1/realtime"
	defaultModel       = "gpt-realtime"
)

// SessionHandlers are the streamed callbacks a realtime session fires.
// They are invoked from the session's read loop goroutine.
type SessionHandlers struct {
	OnTextDelta  func(sessionID, delta string)
	OnTextDone   func(sessionID, text string)
	OnAudioDelta func(sessionID string, audio []byte)
	OnTranscript func(sessionID, text string)
	OnError      func(sessionID string, err error)
	OnClosed     func(sessionID string)
}

// Client creates realtime conversation sessions
type Client struct {
	apiKey      string
	realtimeURL string
	model       string
	voice       string
}

// Config holds OpenAI realtime settings
type Config struct {
	APIKey      string
	RealtimeURL string
	Model       string
	Voice       string
}

// NewClient creates a realtime session client
func NewClient(cfg Config) *Client {
	url := cfg.RealtimeURL
	if url == "" {
		url = defaultRealtimeURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Client{apiKey: cfg.APIKey, realtimeURL: url, model: model, voice: cfg.Voice}
}

// sessionUpdate is the session.update client event
type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Type         string      `json:"type"`
	Model        string      `json:"model"`
	Instructions string      `json:"instructions,omitempty"`
	Audio        audioConfig `json:"audio"`
}

type audioConfig struct {
	Output audioOutputConfig `json:"output"`
}

type audioOutputConfig struct {
	Voice string `json:"voice"`
}

// serverEvent is the subset of realtime server events the relay needs
type serverEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
	Error      struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	Response struct {
		ID string `json:"id"`
	} `json:"response"`
}

// Session is one live realtime conversation bound to a call leg
type Session struct {
	id       string
	callID   string
	conn     *websocket.Conn
	handlers SessionHandlers

	writeMu sync.Mutex
	closed  bool
	closeMu sync.Mutex
}

// Create dials a realtime session, applies the agent profile as session
// instructions and starts the read loop. Failures are classified before
// returning; the coordinator folds them into the session outcome.
func (c *Client) Create(ctx context.Context, callID string, profile *domain.AgentProfile, customerContext string) (*Session, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	url := fmt.Sprintf("%s?model=%s", c.realtimeURL, c.model)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, domain.FatalError("openai.create", err)
		}
		return nil, domain.TransientError("openai.create", err)
	}

	s := &Session{
		id:     uuid.NewString(),
		callID: callID,
		conn:   conn,
	}

	instructions := ""
	voice := c.voice
	if profile != nil {
		instructions = profile.SystemPrompt
		if profile.Voice != "" {
			voice = profile.Voice
		}
	}
	if customerContext != "" {
		instructions += "\n\nCustomer context:\n" + customerContext
	}

	update := sessionUpdate{
		Type: "session.update",
		Session: sessionConfig{
			Type:         "realtime",
			Model:        c.model,
			Instructions: instructions,
			Audio:        audioConfig{Output: audioOutputConfig{Voice: voice}},
		},
	}
	if err := s.writeJSON(update); err != nil {
		conn.Close()
		return nil, domain.TransientError("openai.create", err)
	}

	logger.Base().Info("Realtime conversation session created",
		zap.String("call_id", callID), zap.String("session_id", s.id))
	return s, nil
}

// ID returns the session identifier stored on the call's external refs.
func (s *Session) ID() string {
	return s.id
}

// Start installs the handlers and begins the read loop.
func (s *Session) Start(handlers SessionHandlers) {
	s.handlers = handlers
	go s.readLoop()
}

// SendText forwards a customer turn and asks the model to respond.
func (s *Session) SendText(text string) error {
	item := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	}
	if err := s.writeJSON(item); err != nil {
		return domain.TransientError("openai.send_text", err)
	}
	if err := s.writeJSON(map[string]any{"type": "response.create"}); err != nil {
		return domain.TransientError("openai.send_text", err)
	}
	return nil
}

// SendAudio appends raw audio to the session's input buffer.
func (s *Session) SendAudio(audio []byte) error {
	msg := map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(audio),
	}
	if err := s.writeJSON(msg); err != nil {
		return domain.TransientError("openai.send_audio", err)
	}
	return nil
}

// Close ends the session. Safe to call more than once.
func (s *Session) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return s.conn.Close()
}

func (s *Session) isClosed() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closed
}

func (s *Session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *Session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.isClosed() {
				logger.Base().Warn("Realtime session read error",
					zap.String("call_id", s.callID), zap.Error(err))
				if s.handlers.OnError != nil {
					s.handlers.OnError(s.id, domain.TransientError("openai.read", err))
				}
			}
			if s.handlers.OnClosed != nil {
				s.handlers.OnClosed(s.id)
			}
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "response.output_text.delta", "response.text.delta":
			if s.handlers.OnTextDelta != nil {
				s.handlers.OnTextDelta(s.id, ev.Delta)
			}
		case "response.output_text.done", "response.text.done":
			if s.handlers.OnTextDone != nil {
				s.handlers.OnTextDone(s.id, ev.Text)
			}
		case "response.output_audio.delta", "response.audio.delta":
			if s.handlers.OnAudioDelta != nil {
				if audio, err := base64.StdEncoding.DecodeString(ev.Delta); err == nil {
					s.handlers.OnAudioDelta(s.id, audio)
				}
			}
		case "conversation.item.input_audio_transcription.completed":
			if s.handlers.OnTranscript != nil {
				s.handlers.OnTranscript(s.id, ev.Transcript)
			}
		case "error":
			logger.Base().Warn("Realtime session server error",
				zap.String("call_id", s.callID), zap.String("message", ev.Error.Message))
			if s.handlers.OnError != nil {
				s.handlers.OnError(s.id, domain.TransientError("openai.server",
					fmt.Errorf("%s: %s", ev.Error.Type, ev.Error.Message)))
			}
		}
	}
}
