package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lumachat/ledger/internal/clock"
	identitydomain "github.com/lumachat/ledger/internal/identity/domain"
	"github.com/lumachat/ledger/internal/observability/metrics"
	usagedomain "github.com/lumachat/ledger/internal/usage/domain"
	pkgdb "github.com/lumachat/ledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	metrics *metrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

// Record appends one attempt to the ledger. The event insert, the daily
// aggregate upsert and the live summary update commit in a single
// transaction, so the three models cannot diverge from a crash mid-call.
// Retries with the same (user_id, action, request_id) are no-ops.
func (s *Service) Record(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.RecordResult, error) {
	req.RequestID = strings.TrimSpace(req.RequestID)
	if err := validateRecordRequest(req); err != nil {
		return nil, err
	}
	if req.Amount == 0 {
		req.Amount = 1
	}

	user, err := s.loadUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	// Strict idempotency: if the attempt was already accepted, report it
	// as-is with zero side effects. This is what lets a caller retry a
	// cancelled stream with the same correlation id without double-charging.
	existing, err := s.findEvent(ctx, req.UserID, req.Action, req.RequestID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.metrics.IncDeduplicated(string(req.Action))
		return &usagedomain.RecordResult{Duplicated: true, EventID: existing.ID}, nil
	}

	now := s.clock.Now().UTC()
	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}

	event := &usagedomain.UsageEvent{
		ID:         s.genID.Generate(),
		UserID:     req.UserID,
		Action:     req.Action,
		Status:     req.Status,
		RequestID:  req.RequestID,
		SessionID:  req.SessionID,
		Amount:     req.Amount,
		ErrorCode:  req.ErrorCode,
		Source:     req.Source,
		OccurredAt: occurredAt,
		CreatedAt:  now,
	}
	if req.Metadata != nil {
		event.Metadata = datatypes.JSONMap(req.Metadata)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(event).Error; err != nil {
			return err
		}
		if err := s.upsertAggregate(tx, event, now); err != nil {
			return err
		}
		// Summaries track quota state for regular users only; failed
		// attempts and admin activity stay out of them.
		if event.Status == usagedomain.StatusSuccess && !user.IsAdmin() {
			if err := s.applySummary(tx, event, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// Two racing retries can both pass the pre-check; the unique key on
		// (user_id, action, request_id) decides the winner and the loser
		// resolves to the winner's row.
		if pkgdb.IsDuplicateKeyErr(err) {
			winner, findErr := s.findEvent(ctx, req.UserID, req.Action, req.RequestID)
			if findErr != nil {
				return nil, findErr
			}
			if winner != nil {
				s.metrics.IncDeduplicated(string(req.Action))
				return &usagedomain.RecordResult{Duplicated: true, EventID: winner.ID}, nil
			}
		}
		return nil, err
	}

	s.metrics.IncRecorded(string(event.Action), string(event.Status))
	s.log.Debug("usage event recorded",
		zap.Int64("user_id", event.UserID),
		zap.String("action", string(event.Action)),
		zap.String("status", string(event.Status)),
		zap.String("request_id", event.RequestID),
	)

	return &usagedomain.RecordResult{Recorded: true, EventID: event.ID}, nil
}

func validateRecordRequest(req usagedomain.RecordRequest) error {
	if req.UserID <= 0 {
		return usagedomain.ErrInvalidUser
	}
	if !req.Action.Valid() {
		return usagedomain.ErrInvalidAction
	}
	if !req.Status.Valid() {
		return usagedomain.ErrInvalidStatus
	}
	if req.RequestID == "" {
		return usagedomain.ErrInvalidRequestID
	}
	if req.Amount < 0 {
		return usagedomain.ErrInvalidAmount
	}
	return nil
}

func (s *Service) loadUser(ctx context.Context, userID int64) (*identitydomain.User, error) {
	var user identitydomain.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, usagedomain.ErrInvalidUser
		}
		return nil, err
	}
	return &user, nil
}

func (s *Service) findEvent(ctx context.Context, userID int64, action usagedomain.Action, requestID string) (*usagedomain.UsageEvent, error) {
	var event usagedomain.UsageEvent
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND action = ? AND request_id = ?", userID, action, requestID).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (s *Service) upsertAggregate(tx *gorm.DB, event *usagedomain.UsageEvent, now time.Time) error {
	aggregate := usagedomain.DailyAggregate{
		ID:        s.genID.Generate(),
		StatDate:  event.OccurredAt.UTC().Format(usagedomain.DateLayout),
		UserID:    event.UserID,
		Action:    event.Action,
		Status:    event.Status,
		Count:     event.Amount,
		UpdatedAt: now,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "stat_date"},
			{Name: "user_id"},
			{Name: "action"},
			{Name: "status"},
		},
		DoUpdates: clause.Assignments(map[string]any{
			"count":      gorm.Expr("count + ?", event.Amount),
			"updated_at": now,
		}),
	}).Create(&aggregate).Error
}

// applySummary bumps the live summary inside the recording transaction:
// lazy daily reset, then the action's daily counter, lifetime total and
// last-used stamps. ppt has no daily counter; it is tracked for lifetime
// visibility but not quota-limited.
func (s *Service) applySummary(tx *gorm.DB, event *usagedomain.UsageEvent, now time.Time) error {
	summary, err := s.fetchOrCreateSummary(tx, event.UserID, now)
	if err != nil {
		return err
	}

	today := now.Format(usagedomain.DateLayout)
	if summary.ResetDate < today {
		summary.ChatCount = 0
		summary.ImageCount = 0
		summary.ResetDate = today
	}

	switch event.Action {
	case usagedomain.ActionChat:
		summary.ChatCount += event.Amount
		summary.TotalChatCount += event.Amount
		summary.LastChatAt = &now
	case usagedomain.ActionImage:
		summary.ImageCount += event.Amount
		summary.TotalImageCount += event.Amount
		summary.LastImageAt = &now
	case usagedomain.ActionPPT:
		summary.TotalPPTCount += event.Amount
		summary.LastPPTAt = &now
	}
	summary.LastUsedAt = &now
	summary.UpdatedAt = now

	return tx.Save(summary).Error
}

func (s *Service) fetchOrCreateSummary(tx *gorm.DB, userID int64, now time.Time) (*usagedomain.UserUsageSummary, error) {
	var summary usagedomain.UserUsageSummary
	err := tx.Where("user_id = ?", userID).First(&summary).Error
	if err == nil {
		return &summary, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	summary = usagedomain.UserUsageSummary{
		ID:        s.genID.Generate(),
		UserID:    userID,
		ResetDate: now.Format(usagedomain.DateLayout),
		CreatedAt: now,
		UpdatedAt: now,
	}
	// DO NOTHING keeps a racing first-use create from aborting the enclosing
	// transaction; the follow-up read returns whichever row won.
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&summary).Error
	if err != nil {
		return nil, err
	}
	if err := tx.Where("user_id = ?", userID).First(&summary).Error; err != nil {
		return nil, err
	}
	return &summary, nil
}
