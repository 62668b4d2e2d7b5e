package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/paperline/sales-voice-service/internal/domain"
)

// CallRecordRepository persists finished call sessions and their
// conversation history.
type CallRecordRepository struct {
	db *gorm.DB
}

// NewCallRecordRepository creates a new call record repository
func NewCallRecordRepository(db *gorm.DB) *CallRecordRepository {
	return &CallRecordRepository{db: db}
}

// SaveCallRecord writes the terminal snapshot of a session and its
// messages. Re-saving the same callID updates the row in place, so a
// redelivered finalize is harmless.
func (r *CallRecordRepository) SaveCallRecord(ctx context.Context, session *domain.CallSession, campaignID string) error {
	record := &domain.CallRecord{
		ID:           uuid.New().String(),
		CallID:       session.CallID,
		Direction:    string(session.Direction),
		PhoneNumber:  session.PhoneNumber,
		FromNumber:   session.FromNumber,
		CustomerRef:  session.CustomerRef,
		FinalStatus:  string(session.Status),
		Mode:         string(session.Mode),
		HangupCause:  session.HangupCause,
		RecordingURL: session.RecordingURL,
		CampaignID:   campaignID,
		StartedAt:    session.StartedAt,
		AnsweredAt:   session.AnsweredAt,
		EndedAt:      session.EndedAt,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "call_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"final_status", "mode", "hangup_cause", "recording_url",
				"answered_at", "ended_at", "updated_at",
			}),
		}).Create(record).Error
		if err != nil {
			return fmt.Errorf("failed to save call record: %w", err)
		}

		if len(session.History) == 0 {
			return nil
		}
		// Replace rather than append; the terminal snapshot carries the
		// full history.
		if err := tx.Where("call_id = ?", session.CallID).Delete(&domain.CallMessage{}).Error; err != nil {
			return fmt.Errorf("failed to clear call messages: %w", err)
		}
		messages := make([]domain.CallMessage, 0, len(session.History))
		for _, msg := range session.History {
			messages = append(messages, domain.CallMessage{
				ID:        uuid.New().String(),
				CallID:    session.CallID,
				Role:      string(msg.Role),
				Content:   msg.Text,
				SpokenAt:  msg.Timestamp,
				CreatedAt: time.Now(),
			})
		}
		if err := tx.Create(&messages).Error; err != nil {
			return fmt.Errorf("failed to save call messages: %w", err)
		}
		return nil
	})
}

// AttachRecording stores the recording URL on an already persisted call.
func (r *CallRecordRepository) AttachRecording(ctx context.Context, callID, url string) error {
	result := r.db.WithContext(ctx).Model(&domain.CallRecord{}).
		Where("call_id = ?", callID).
		Updates(map[string]interface{}{
			"recording_url": url,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to attach recording: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no call record for call %s", callID)
	}
	return nil
}

// GetByCallID retrieves a persisted call record.
func (r *CallRecordRepository) GetByCallID(ctx context.Context, callID string) (*domain.CallRecord, error) {
	var record domain.CallRecord
	err := r.db.WithContext(ctx).Where("call_id = ?", callID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call record: %w", err)
	}
	return &record, nil
}

// GetMessages retrieves the persisted transcript for a call in spoken order.
func (r *CallRecordRepository) GetMessages(ctx context.Context, callID string) ([]domain.CallMessage, error) {
	var messages []domain.CallMessage
	err := r.db.WithContext(ctx).
		Where("call_id = ?", callID).
		Order("spoken_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get call messages: %w", err)
	}
	return messages, nil
}

// ListByCampaign retrieves all call records placed by one campaign.
func (r *CallRecordRepository) ListByCampaign(ctx context.Context, campaignID string) ([]domain.CallRecord, error) {
	var records []domain.CallRecord
	err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("started_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list campaign calls: %w", err)
	}
	return records, nil
}
