// Package domain contains persistence models and contracts for the usage ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageEvent is one recorded quota-consuming attempt. Rows are append-only:
// normal operation never mutates or deletes them. (user_id, action, request_id)
// is unique so a retried attempt lands on the same row.
type UsageEvent struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID     int64             `gorm:"not null;uniqueIndex:uidx_usage_event_request,priority:1" json:"user_id"`
	Action     Action            `gorm:"type:varchar(20);not null;uniqueIndex:uidx_usage_event_request,priority:2" json:"action"`
	Status     Status            `gorm:"type:varchar(20);not null" json:"status"`
	RequestID  string            `gorm:"type:varchar(100);not null;uniqueIndex:uidx_usage_event_request,priority:3" json:"request_id"`
	SessionID  *int64            `json:"session_id,omitempty"`
	Amount     int64             `gorm:"not null;default:1" json:"amount"`
	ErrorCode  string            `gorm:"type:varchar(100)" json:"error_code,omitempty"`
	Source     string            `gorm:"type:varchar(50)" json:"source"`
	Metadata   datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	OccurredAt time.Time         `gorm:"not null;index" json:"occurred_at"`
	CreatedAt  time.Time         `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }

// DailyAggregate is the per-day rollup derived from usage events. The
// composite key (stat_date, user_id, action, status) is part of the persisted
// contract; count equals the sum of event amounts under that key.
type DailyAggregate struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	StatDate  string       `gorm:"type:varchar(10);not null;uniqueIndex:uidx_usage_daily_key,priority:1" json:"stat_date"`
	UserID    int64        `gorm:"not null;uniqueIndex:uidx_usage_daily_key,priority:2" json:"user_id"`
	Action    Action       `gorm:"type:varchar(20);not null;uniqueIndex:uidx_usage_daily_key,priority:3" json:"action"`
	Status    Status       `gorm:"type:varchar(20);not null;uniqueIndex:uidx_usage_daily_key,priority:4" json:"status"`
	Count     int64        `gorm:"not null;default:0" json:"count"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (DailyAggregate) TableName() string { return "usage_daily_aggregates" }

// UserUsageSummary is the live per-user counter row used for quota checks.
// Daily counters reset lazily on read; lifetime totals count successes only.
// Admin users never get a row.
type UserUsageSummary struct {
	ID     snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID int64        `gorm:"not null;uniqueIndex" json:"user_id"`

	ChatCount  int64  `gorm:"not null;default:0" json:"chat_count"`
	ImageCount int64  `gorm:"not null;default:0" json:"image_count"`
	ResetDate  string `gorm:"type:varchar(10);not null" json:"reset_date"`

	TotalChatCount  int64 `gorm:"not null;default:0" json:"total_chat_count"`
	TotalImageCount int64 `gorm:"not null;default:0" json:"total_image_count"`
	TotalPPTCount   int64 `gorm:"not null;default:0" json:"total_ppt_count"`

	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	LastChatAt  *time.Time `json:"last_chat_at,omitempty"`
	LastImageAt *time.Time `json:"last_image_at,omitempty"`
	LastPPTAt   *time.Time `json:"last_ppt_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (UserUsageSummary) TableName() string { return "user_usages" }

// DateLayout is the canonical layout for stat_date and reset_date values.
const DateLayout = "2006-01-02"
