// Package domain defines the reporting read models over the usage ledger.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/lumachat/ledger/internal/usage/domain"
	"github.com/lumachat/ledger/pkg/db/pagination"
)

// StatsFilter narrows the admin cross-user usage table.
type StatsFilter struct {
	Search   string             `json:"search,omitempty"`
	Action   usagedomain.Action `json:"action,omitempty"`
	Status   usagedomain.Status `json:"status,omitempty"`
	FromDate string             `json:"from_date,omitempty"`
	ToDate   string             `json:"to_date,omitempty"`
}

// ActionBreakdown is the success/failure split for one action within the
// filtered range.
type ActionBreakdown struct {
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
}

// StatsRow is one user's line in the admin usage table.
type StatsRow struct {
	UserID     int64  `json:"user_id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	Tier       string `json:"tier"`
	TierNameZH string `json:"tier_name_zh"`
	TierNameEN string `json:"tier_name_en"`

	ChatLimit   int64 `json:"chat_limit"`
	ChatUsed    int64 `json:"chat_used"`
	ImageLimit  int64 `json:"image_limit"`
	ImageUsed   int64 `json:"image_used"`
	IsUnlimited bool  `json:"is_unlimited"`

	TotalChatCount  int64 `json:"total_chat_count"`
	TotalImageCount int64 `json:"total_image_count"`
	TotalPPTCount   int64 `json:"total_ppt_count"`

	Chat  ActionBreakdown `json:"chat"`
	Image ActionBreakdown `json:"image"`
	PPT   ActionBreakdown `json:"ppt"`

	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// StatsPage is one page of the admin usage table.
type StatsPage struct {
	pagination.PageInfo
	Rows []StatsRow `json:"rows"`
}

// EventFilter narrows ledger event listings.
type EventFilter struct {
	UserID *int64             `json:"user_id,omitempty"`
	Action usagedomain.Action `json:"action,omitempty"`
	Status usagedomain.Status `json:"status,omitempty"`
	From   *time.Time         `json:"from,omitempty"`
	To     *time.Time         `json:"to,omitempty"`
}

// EventRow is one ledger entry joined to identity for display.
type EventRow struct {
	ID         snowflake.ID       `json:"id"`
	UserID     int64              `json:"user_id"`
	Username   string             `json:"username"`
	Email      string             `json:"email"`
	Action     usagedomain.Action `json:"action"`
	Status     usagedomain.Status `json:"status"`
	RequestID  string             `json:"request_id"`
	SessionID  *int64             `json:"session_id,omitempty"`
	Amount     int64              `json:"amount"`
	ErrorCode  string             `json:"error_code,omitempty"`
	Source     string             `json:"source,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
	CreatedAt  time.Time          `json:"created_at"`
}

// EventPage is one page of ledger entries.
type EventPage struct {
	pagination.PageInfo
	Events []EventRow `json:"events"`
}

// Service reads the ledger and its rollups for self-service and admin UIs.
type Service interface {
	UsageStats(ctx context.Context, filter StatsFilter, page pagination.Page) (*StatsPage, error)
	ListEvents(ctx context.Context, filter EventFilter, page pagination.Page) (*EventPage, error)
	ExportEvents(ctx context.Context, filter EventFilter) ([]EventRow, error)
}
