package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/lumachat/ledger/internal/identity/domain"
)

// Action is a quota-consuming action kind. The set is closed: unknown values
// are rejected at the boundary instead of being stored as free-form strings.
type Action string

const (
	ActionChat  Action = "chat"
	ActionImage Action = "image"
	ActionPPT   Action = "ppt"
)

func (a Action) Valid() bool {
	switch a {
	case ActionChat, ActionImage, ActionPPT:
		return true
	default:
		return false
	}
}

// Status is the outcome of a recorded attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailed:
		return true
	default:
		return false
	}
}

// RecordRequest describes one attempt to append to the ledger. RequestID is
// the caller-supplied idempotency token; retries must reuse it.
type RecordRequest struct {
	UserID     int64          `json:"user_id"`
	Action     Action         `json:"action"`
	Status     Status         `json:"status"`
	RequestID  string         `json:"request_id"`
	SessionID  *int64         `json:"session_id,omitempty"`
	Amount     int64          `json:"amount,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Source     string         `json:"source,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at,omitempty"`
}

// RecordResult reports what a Record call did. Duplicated means the request
// was recognized as a retry and had no effect.
type RecordResult struct {
	Recorded   bool         `json:"recorded"`
	Duplicated bool         `json:"duplicated"`
	EventID    snowflake.ID `json:"event_id"`
}

// UsageInfo is the self-service quota view merging tier policy with the live
// summary.
type UsageInfo struct {
	Tier       string `json:"tier"`
	TierNameZH string `json:"tier_name_zh"`
	TierNameEN string `json:"tier_name_en"`

	ChatLimit     int64 `json:"chat_limit"`
	ChatUsed      int64 `json:"chat_used"`
	ChatRemaining int64 `json:"chat_remaining"`

	ImageLimit     int64 `json:"image_limit"`
	ImageUsed      int64 `json:"image_used"`
	ImageRemaining int64 `json:"image_remaining"`

	TotalChatCount  int64 `json:"total_chat_count"`
	TotalImageCount int64 `json:"total_image_count"`
	TotalPPTCount   int64 `json:"total_ppt_count"`

	IsUnlimited bool       `json:"is_unlimited"`
	ResetDate   string     `json:"reset_date,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

// Service is the ledger writer and quota enforcer.
type Service interface {
	Record(ctx context.Context, req RecordRequest) (*RecordResult, error)
	CheckChatLimit(ctx context.Context, user identitydomain.User) (bool, string, error)
	CheckImageLimit(ctx context.Context, user identitydomain.User) (bool, string, error)
	UsageInfo(ctx context.Context, user identitydomain.User) (*UsageInfo, error)
}

var (
	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidAction    = errors.New("invalid_action")
	ErrInvalidStatus    = errors.New("invalid_status")
	ErrInvalidRequestID = errors.New("invalid_request_id")
	ErrInvalidAmount    = errors.New("invalid_amount")
)
