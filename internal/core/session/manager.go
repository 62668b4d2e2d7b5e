package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/paperline/sales-voice-service/pkg/logger"
	"github.com/paperline/sales-voice-service/pkg/redis"
)

const (
	CleanupChannel   = "paperline:voice:call:cleanup"
	SessionKeyPrefix = "paperline:voice:call:info"
	SessionTTL       = 1 * time.Hour
)

// SessionInfo is the cross-instance monitoring record for one call.
type SessionInfo struct {
	CallID      string    `json:"callId"`
	InstanceID  string    `json:"instanceId"`
	PhoneNumber string    `json:"phoneNumber"`
	Direction   string    `json:"direction"`
	StartTime   time.Time `json:"startTime"`
}

// CleanupMessage is the payload for cleanup broadcast
type CleanupMessage struct {
	CallID string `json:"callId"`
}

// Manager tracks live calls in Redis so every service instance can see
// them and broadcasts cleanup so whichever instance holds provider
// resources for a call releases them.
type Manager struct {
	redisSvc   redis.RedisServiceInterface
	instanceID string
}

func NewManager(redisSvc redis.RedisServiceInterface, instanceID string) *Manager {
	return &Manager{
		redisSvc:   redisSvc,
		instanceID: instanceID,
	}
}

// Register records a live call for monitoring
func (m *Manager) Register(ctx context.Context, info SessionInfo) error {
	info.InstanceID = m.instanceID
	if info.StartTime.IsZero() {
		info.StartTime = time.Now()
	}

	data, _ := json.Marshal(info)
	key := fmt.Sprintf("%s:%s", SessionKeyPrefix, info.CallID)

	err := m.redisSvc.SetValue(ctx, key, string(data), SessionTTL)
	if err == nil {
		logger.Base().Info("Call registered in Redis", zap.String("call_id", info.CallID), zap.String("instance_id", m.instanceID))
	}
	return err
}

// Unregister removes a finished call from monitoring
func (m *Manager) Unregister(ctx context.Context, callID string) error {
	key := fmt.Sprintf("%s:%s", SessionKeyPrefix, callID)
	return m.redisSvc.DelValue(ctx, key)
}

// NotifyCleanup broadcasts a cleanup request to all instances
func (m *Manager) NotifyCleanup(ctx context.Context, callID string) error {
	logger.Base().Info("Broadcasting cleanup request", zap.String("call_id", callID))
	return m.redisSvc.Publish(ctx, CleanupChannel, CleanupMessage{CallID: callID})
}

// SubscribeToCleanup listens for cleanup broadcasts
func (m *Manager) SubscribeToCleanup(ctx context.Context, handler func(callID string)) error {
	return m.redisSvc.Subscribe(ctx, CleanupChannel, func(payload string) {
		var msg CleanupMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			logger.Base().Error("Failed to unmarshal cleanup message", zap.Error(err))
			return
		}
		handler(msg.CallID)
	})
}
