package domain

import (
	"time"
)

// CallRecord is the persisted row for a finished call session
type CallRecord struct {
	ID           string     `json:"id" db:"id" gorm:"column:id;primaryKey"`
	CallID       string     `json:"call_id" db:"call_id" gorm:"column:call_id;unique"`
	Direction    string     `json:"direction" db:"direction" gorm:"column:direction"`
	PhoneNumber  string     `json:"phone_number" db:"phone_number" gorm:"column:phone_number"`
	FromNumber   string     `json:"from_number" db:"from_number" gorm:"column:from_number"`
	CustomerRef  string     `json:"customer_ref" db:"customer_ref" gorm:"column:customer_ref"`
	FinalStatus  string     `json:"final_status" db:"final_status" gorm:"column:final_status"`
	Mode         string     `json:"mode" db:"mode" gorm:"column:mode"`
	HangupCause  string     `json:"hangup_cause" db:"hangup_cause" gorm:"column:hangup_cause"`
	RecordingURL string     `json:"recording_url" db:"recording_url" gorm:"column:recording_url"`
	CampaignID   string     `json:"campaign_id" db:"campaign_id" gorm:"column:campaign_id;index"`
	StartedAt    time.Time  `json:"started_at" db:"started_at" gorm:"column:started_at"`
	AnsweredAt   *time.Time `json:"answered_at" db:"answered_at" gorm:"column:answered_at"`
	EndedAt      *time.Time `json:"ended_at" db:"ended_at" gorm:"column:ended_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at" gorm:"column:created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at" gorm:"column:updated_at"`
}

func (CallRecord) TableName() string {
	return "call_records"
}

// CallMessage is one persisted transcript turn
type CallMessage struct {
	ID        string    `json:"id" db:"id" gorm:"column:id;primaryKey"`
	CallID    string    `json:"call_id" db:"call_id" gorm:"column:call_id;index"`
	Role      string    `json:"role" db:"role" gorm:"column:role"` // customer, assistant
	Content   string    `json:"content" db:"content" gorm:"column:content"`
	SpokenAt  time.Time `json:"spoken_at" db:"spoken_at" gorm:"column:spoken_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at" gorm:"column:created_at"`
}

func (CallMessage) TableName() string {
	return "call_messages"
}
