package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paperline/sales-voice-service/internal/core/event"
	"github.com/paperline/sales-voice-service/internal/domain"
	"github.com/paperline/sales-voice-service/internal/prompts"
	"github.com/paperline/sales-voice-service/pkg/logger"
)

// Scripted menu digits
const (
	digitContinue = "1"
	digitDefer    = "2"
	digitOptOut   = "9"
	menuDigits    = digitContinue + digitDefer + digitOptOut
)

// callRuntime is relay state for one live call: the conversation
// session handle and the speak serialization queue. Guarded by its own
// mutex because speak completions arrive from provider goroutines.
type callRuntime struct {
	mu           sync.Mutex
	conv         ConversationSession
	speaking     bool
	pending      []string
	menuAttempts int
	welcomeSent  bool
}

func (o *Orchestrator) runtime(callID string) *callRuntime {
	o.runtimeMu.Lock()
	defer o.runtimeMu.Unlock()
	rt, ok := o.runtimes[callID]
	if !ok {
		rt = &callRuntime{}
		o.runtimes[callID] = rt
	}
	return rt
}

func (o *Orchestrator) storeConversation(callID string, sess ConversationSession) {
	rt := o.runtime(callID)
	rt.mu.Lock()
	rt.conv = sess
	rt.mu.Unlock()
}

// takeConversation removes and returns the conversation handle so it
// can be closed exactly once.
func (o *Orchestrator) takeConversation(callID string) ConversationSession {
	o.runtimeMu.Lock()
	rt, ok := o.runtimes[callID]
	o.runtimeMu.Unlock()
	if !ok {
		return nil
	}
	rt.mu.Lock()
	sess := rt.conv
	rt.conv = nil
	rt.mu.Unlock()
	return sess
}

func (o *Orchestrator) dropRuntime(callID string) {
	o.runtimeMu.Lock()
	delete(o.runtimes, callID)
	o.runtimeMu.Unlock()
}

// purgeRuntime releases relay state left behind for an evicted call.
// A teardown racing openSessions can recreate a runtime entry after
// finalize dropped it; eviction is the backstop that removes it.
func (o *Orchestrator) purgeRuntime(callID string) {
	if sess := o.takeConversation(callID); sess != nil {
		if err := sess.Close(); err != nil {
			logger.Base().Warn("Failed closing conversation session on eviction",
				zap.String("call_id", callID), zap.Error(err))
		}
	}
	o.dropRuntime(callID)
}

// conversationHandlers funnels streamed session output back onto the
// call's event queue, so every mutation still happens on the call's
// single worker.
func (o *Orchestrator) conversationHandlers(callID string) ConversationHandlers {
	return ConversationHandlers{
		OnResponse: func(text string) {
			if text == "" {
				return
			}
			_ = o.registry.Enqueue(callID, event.CallEvent{
				CallID: callID, Type: event.TypeAssistantResponse,
				Timestamp: time.Now(), Text: text,
			})
		},
		OnTranscript: func(text string) {
			if text == "" {
				return
			}
			_ = o.registry.Enqueue(callID, event.CallEvent{
				CallID: callID, Type: event.TypeTranscript,
				Timestamp: time.Now(), Text: text,
			})
		},
		OnError: func(err error) {
			logger.Base().Warn("Conversation session error",
				zap.String("call_id", callID), zap.Error(err))
			if domain.IsFatal(err) {
				o.enqueueInternal(callID, event.TypeFatalError)
			}
		},
	}
}

// beginConversation runs once when the call enters ConversationActive
// and dispatches the opening line for the selected mode.
func (o *Orchestrator) beginConversation(s *domain.CallSession) {
	rt := o.runtime(s.CallID)
	rt.mu.Lock()
	if rt.welcomeSent {
		rt.mu.Unlock()
		return
	}
	rt.welcomeSent = true
	conv := rt.conv
	rt.mu.Unlock()

	agentName := "our assistant"
	if s.AgentProfile != nil && s.AgentProfile.Name != "" {
		agentName = s.AgentProfile.Name
	}

	switch s.Mode {
	case domain.ModeFullDuplex, domain.ModeConversationOnly:
		// The AI opens; its response comes back as an assistant event
		// and is spoken through the call leg.
		if conv != nil {
			if err := conv.SendText(prompts.WelcomeInstruction(agentName)); err != nil {
				logger.Base().Warn("Failed requesting AI greeting, falling back to script",
					zap.String("call_id", s.CallID), zap.Error(err))
				o.speak(s, prompts.ScriptedWelcome(agentName))
			}
		}

	case domain.ModeMediaOnly:
		o.speak(s, prompts.ScriptedWelcome(agentName))
		o.announceRoom(s)

	case domain.ModeScripted:
		o.speak(s, prompts.ScriptedWelcome(agentName))
		o.gatherMenu(s, prompts.ScriptedMenu)
	}
}

// relayEvent handles conversation-phase traffic for a call that is
// still Answered or ConversationActive.
func (o *Orchestrator) relayEvent(s *domain.CallSession, ev event.CallEvent) {
	switch ev.Type {
	case event.TypeAssistantResponse:
		s.AppendMessage(domain.RoleAssistant, ev.Text, ev.Timestamp)
		o.speak(s, ev.Text)

	case event.TypeTranscript:
		s.AppendMessage(domain.RoleCustomer, ev.Text, ev.Timestamp)

	case event.TypeGatherEnded:
		if ev.Digits == "" {
			o.handleNoInput(s)
			return
		}
		s.AppendMessage(domain.RoleCustomer, "[keypad] "+ev.Digits, ev.Timestamp)
		if s.Mode == domain.ModeScripted || s.Mode == domain.ModeMediaOnly {
			o.handleMenuDigit(s, ev.Digits)
			return
		}
		// Under an AI mode keypad input is just another customer turn.
		o.forwardToConversation(s, "The customer pressed the "+ev.Digits+" key.")

	case event.TypeSpeakEnded:
		o.speakFinished(s)

	case event.TypeNoInput:
		o.handleNoInput(s)
	}
}

// speak dispatches text-to-speech on the call leg, serialized per call:
// while one speak is in flight new lines queue up and are dispatched on
// call.speak.ended, so audio never overlaps.
func (o *Orchestrator) speak(s *domain.CallSession, text string) {
	if text == "" {
		return
	}
	rt := o.runtime(s.CallID)
	rt.mu.Lock()
	if rt.speaking {
		rt.pending = append(rt.pending, text)
		rt.mu.Unlock()
		return
	}
	rt.speaking = true
	rt.mu.Unlock()

	o.dispatchSpeak(s, text)
}

func (o *Orchestrator) dispatchSpeak(s *domain.CallSession, text string) {
	callID := s.CallID
	voice, lang := "", ""
	if s.AgentProfile != nil {
		voice = s.AgentProfile.Voice
		lang = s.AgentProfile.Language
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.opts.SpeakTimeout)
		defer cancel()
		if err := o.gateway.Speak(ctx, callID, text, voice, lang); err != nil {
			logger.Base().Warn("Speak dispatch failed",
				zap.String("call_id", callID), zap.Error(err))
			if domain.IsFatal(err) {
				o.enqueueInternal(callID, event.TypeFatalError)
				return
			}
			// No call.speak.ended will arrive for a failed dispatch;
			// unblock the queue ourselves.
			o.enqueueInternal(callID, event.TypeSpeakEnded)
		}
	}()
}

// speakFinished runs on call.speak.ended and dispatches the next queued
// line, if any.
func (o *Orchestrator) speakFinished(s *domain.CallSession) {
	rt := o.runtime(s.CallID)
	rt.mu.Lock()
	if len(rt.pending) == 0 {
		rt.speaking = false
		rt.mu.Unlock()
		return
	}
	next := rt.pending[0]
	rt.pending = rt.pending[1:]
	rt.mu.Unlock()

	o.dispatchSpeak(s, next)
}

// forwardToConversation pushes a customer turn into the AI session.
// A failed turn is logged and skipped; the conversation continues.
func (o *Orchestrator) forwardToConversation(s *domain.CallSession, text string) {
	rt := o.runtime(s.CallID)
	rt.mu.Lock()
	conv := rt.conv
	rt.mu.Unlock()
	if conv == nil {
		return
	}
	if err := conv.SendText(text); err != nil {
		logger.Base().Warn("Failed forwarding turn to conversation session",
			zap.String("call_id", s.CallID), zap.Error(err))
	}
}

// handleMenuDigit drives the scripted keypad flow.
func (o *Orchestrator) handleMenuDigit(s *domain.CallSession, digits string) {
	switch digits {
	case digitContinue:
		s.AppendMessage(domain.RoleAssistant, prompts.ScriptedPitch, time.Now())
		o.speak(s, prompts.ScriptedPitch)
		o.gatherMenu(s, prompts.ScriptedMenu)

	case digitDefer:
		s.AppendMessage(domain.RoleAssistant, prompts.ScriptedDefer, time.Now())
		o.speak(s, prompts.ScriptedDefer)
		o.hangupSoon(s.CallID)

	case digitOptOut:
		phone := s.PhoneNumber
		if o.customers != nil && phone != "" {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := o.customers.MarkOptedOut(ctx, phone); err != nil {
					logger.Base().Error("Failed recording opt-out",
						zap.String("phone", phone), zap.Error(err))
				}
			}()
		}
		s.AppendMessage(domain.RoleAssistant, prompts.ScriptedOptOut, time.Now())
		o.speak(s, prompts.ScriptedOptOut)
		o.hangupSoon(s.CallID)

	default:
		o.gatherMenu(s, prompts.ScriptedInvalidChoice)
	}
}

// handleNoInput re-prompts once, then ends the call politely.
func (o *Orchestrator) handleNoInput(s *domain.CallSession) {
	if s.Mode != domain.ModeScripted && s.Mode != domain.ModeMediaOnly {
		o.forwardToConversation(s, "The customer stayed silent.")
		return
	}
	rt := o.runtime(s.CallID)
	rt.mu.Lock()
	rt.menuAttempts++
	attempts := rt.menuAttempts
	rt.mu.Unlock()

	if attempts > 1 {
		o.speak(s, prompts.ScriptedGoodbye)
		o.hangupSoon(s.CallID)
		return
	}
	o.gatherMenu(s, prompts.ScriptedMenu)
}

// gatherMenu collects one keypad digit against the fixed menu.
func (o *Orchestrator) gatherMenu(s *domain.CallSession, prompt string) {
	callID := s.CallID
	spec := GatherSpec{
		Prompt:        prompt,
		ValidDigits:   menuDigits,
		MaxDigits:     1,
		TimeoutMillis: o.opts.GatherTimeoutMillis,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.gateway.GatherDigits(ctx, callID, spec); err != nil {
			logger.Base().Warn("Gather dispatch failed",
				zap.String("call_id", callID), zap.Error(err))
			if domain.IsFatal(err) {
				o.enqueueInternal(callID, event.TypeFatalError)
			}
		}
	}()
}

// announceRoom publishes the call context into the media room so room
// participants can follow along.
func (o *Orchestrator) announceRoom(s *domain.CallSession) {
	if o.media == nil || s.ExternalRefs.MediaRoomName == "" {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"type":    "call_connected",
		"call_id": s.CallID,
		"phone":   s.PhoneNumber,
	})
	roomName := s.ExternalRefs.MediaRoomName
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.media.SendData(ctx, roomName, payload); err != nil {
			logger.Base().Warn("Failed announcing call in media room",
				zap.String("room_name", roomName), zap.Error(err))
		}
	}()
}

// hangupSoon ends the call leg after giving the farewell line time to
// play out.
func (o *Orchestrator) hangupSoon(callID string) {
	go func() {
		time.Sleep(4 * time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.gateway.Hangup(ctx, callID); err != nil {
			logger.Base().Warn("Failed hanging up call",
				zap.String("call_id", callID), zap.Error(err))
		}
	}()
}
