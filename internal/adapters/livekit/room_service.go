package livekit

import (
	"context"
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go"
	"go.uber.org/zap"

	"github.com/paperline/sales-voice-service/internal/domain"
	"github.com/paperline/sales-voice-service/pkg/logger"
	"github.com/paperline/sales-voice-service/pkg/twilio"
)

// Config holds the LiveKit connection settings
type Config struct {
	ServerURL string
	APIKey    string
	APISecret string
}

// RoomService manages media rooms for call sessions through the LiveKit
// server API. One room is created per answered call when the media leg
// of the fallback chain is attempted.
type RoomService struct {
	config     Config
	roomClient *lksdk.RoomServiceClient
	turnSvc    *twilio.TwilioTokenService
}

// AccessBundle is everything a participant needs to join a call's room
type AccessBundle struct {
	RoomName    string                   `json:"room_name"`
	ServerURL   string                   `json:"server_url"`
	Token       string                   `json:"token"`
	TURNServers []twilio.TURNCredentials `json:"turn_servers,omitempty"`
}

// NewRoomService creates a room service client. turnSvc may be nil when
// Twilio TURN credentials are not configured.
func NewRoomService(config Config, turnSvc *twilio.TwilioTokenService) (*RoomService, error) {
	if config.ServerURL == "" || config.APIKey == "" || config.APISecret == "" {
		return nil, fmt.Errorf("livekit config incomplete")
	}

	rs := &RoomService{
		config:     config,
		roomClient: lksdk.NewRoomServiceClient(config.ServerURL, config.APIKey, config.APISecret),
		turnSvc:    turnSvc,
	}

	logger.Base().Info("LiveKit room service initialized", zap.String("server_url", config.ServerURL))
	return rs, nil
}

// CreateRoom creates the media room for a call. The room name embeds
// the callID so webhooks and cleanup can correlate without extra state.
func (rs *RoomService) CreateRoom(ctx context.Context, callID, metadata string) (string, error) {
	roomName := "call-" + callID

	_, err := rs.roomClient.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:         roomName,
		EmptyTimeout: 300,
		Metadata:     metadata,
	})
	if err != nil {
		return "", domain.TransientError("livekit.create_room", err)
	}

	logger.Base().Info("Media room created",
		zap.String("call_id", callID), zap.String("room_name", roomName))
	return roomName, nil
}

// IssueToken generates a LiveKit access token for a room participant
func (rs *RoomService) IssueToken(roomName, identity string, canPublish bool) (string, error) {
	at := auth.NewAccessToken(rs.config.APIKey, rs.config.APISecret)

	canSubscribe := true
	grant := &auth.VideoGrant{
		RoomJoin:     true,
		Room:         roomName,
		CanPublish:   &canPublish,
		CanSubscribe: &canSubscribe,
	}

	at.SetVideoGrant(grant).
		SetIdentity(identity).
		SetValidFor(2 * time.Hour)

	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("failed to generate JWT: %w", err)
	}
	return token, nil
}

// AccessBundleFor builds the join bundle for a participant, attaching
// Twilio TURN credentials when the token service has them.
func (rs *RoomService) AccessBundleFor(roomName, identity string) (*AccessBundle, error) {
	token, err := rs.IssueToken(roomName, identity, true)
	if err != nil {
		return nil, err
	}
	bundle := &AccessBundle{
		RoomName:  roomName,
		ServerURL: rs.config.ServerURL,
		Token:     token,
	}
	if rs.turnSvc != nil && rs.turnSvc.IsEnabled() {
		bundle.TURNServers = rs.turnSvc.GetTURNCredentials()
	}
	return bundle, nil
}

// SendData publishes a reliable data message to everyone in the room
func (rs *RoomService) SendData(ctx context.Context, roomName string, payload []byte) error {
	_, err := rs.roomClient.SendData(ctx, &livekit.SendDataRequest{
		Room: roomName,
		Data: payload,
		Kind: livekit.DataPacket_RELIABLE,
	})
	if err != nil {
		return domain.TransientError("livekit.send_data", err)
	}
	return nil
}

// DeleteRoom tears down the media room for a finished call
func (rs *RoomService) DeleteRoom(ctx context.Context, roomName string) error {
	_, err := rs.roomClient.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: roomName})
	if err != nil {
		return domain.TransientError("livekit.delete_room", err)
	}
	logger.Base().Info("Media room deleted", zap.String("room_name", roomName))
	return nil
}
