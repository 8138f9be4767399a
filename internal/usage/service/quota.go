package service

import (
	"context"
	"errors"
	"fmt"

	identitydomain "github.com/lumachat/ledger/internal/identity/domain"
	"github.com/lumachat/ledger/internal/tier"
	usagedomain "github.com/lumachat/ledger/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CheckChatLimit reports whether the user may start another chat turn today.
func (s *Service) CheckChatLimit(ctx context.Context, user identitydomain.User) (bool, string, error) {
	return s.checkLimit(ctx, user, usagedomain.ActionChat)
}

// CheckImageLimit reports whether the user may generate another image today.
func (s *Service) CheckImageLimit(ctx context.Context, user identitydomain.User) (bool, string, error) {
	return s.checkLimit(ctx, user, usagedomain.ActionImage)
}

func (s *Service) checkLimit(ctx context.Context, user identitydomain.User, action usagedomain.Action) (bool, string, error) {
	if user.IsAdmin() {
		return true, "", nil
	}

	summary, err := s.getOrCreateSummary(ctx, user.ID)
	if err != nil {
		return false, "", err
	}
	summary, err = s.lazyDailyReset(ctx, summary)
	if err != nil {
		return false, "", err
	}

	limits := tier.LimitsFor(user.Tier)

	var limit, used int64
	var label string
	switch action {
	case usagedomain.ActionChat:
		limit, used, label = limits.ChatLimit, summary.ChatCount, "对话"
	case usagedomain.ActionImage:
		limit, used, label = limits.ImageLimit, summary.ImageCount, "生图"
	default:
		return false, "", usagedomain.ErrInvalidAction
	}

	if limit == tier.Unlimited {
		return true, "", nil
	}
	if used >= limit {
		s.metrics.IncQuotaDenied(string(action))
		return false, fmt.Sprintf("今日%s次数已用完（%d/%d），请明天再试或升级账户", label, used, limit), nil
	}
	return true, "", nil
}

// UsageInfo merges tier policy with the live summary into the self-service
// view. Admins get the unlimited sentinel without a storage read.
func (s *Service) UsageInfo(ctx context.Context, user identitydomain.User) (*usagedomain.UsageInfo, error) {
	if user.IsAdmin() {
		limits := tier.LimitsFor(tier.Admin)
		return &usagedomain.UsageInfo{
			Tier:           tier.Admin,
			TierNameZH:     limits.NameZH,
			TierNameEN:     limits.NameEN,
			ChatLimit:      tier.Unlimited,
			ChatRemaining:  tier.Unlimited,
			ImageLimit:     tier.Unlimited,
			ImageRemaining: tier.Unlimited,
			IsUnlimited:    true,
		}, nil
	}

	summary, err := s.getOrCreateSummary(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	summary, err = s.lazyDailyReset(ctx, summary)
	if err != nil {
		return nil, err
	}

	userTier := user.Tier
	if userTier == "" {
		userTier = tier.Free
	}
	limits := tier.LimitsFor(userTier)

	return &usagedomain.UsageInfo{
		Tier:            userTier,
		TierNameZH:      limits.NameZH,
		TierNameEN:      limits.NameEN,
		ChatLimit:       limits.ChatLimit,
		ChatUsed:        summary.ChatCount,
		ChatRemaining:   remaining(limits.ChatLimit, summary.ChatCount),
		ImageLimit:      limits.ImageLimit,
		ImageUsed:       summary.ImageCount,
		ImageRemaining:  remaining(limits.ImageLimit, summary.ImageCount),
		TotalChatCount:  summary.TotalChatCount,
		TotalImageCount: summary.TotalImageCount,
		TotalPPTCount:   summary.TotalPPTCount,
		ResetDate:       summary.ResetDate,
		LastUsedAt:      summary.LastUsedAt,
	}, nil
}

func remaining(limit, used int64) int64 {
	if limit == tier.Unlimited {
		return tier.Unlimited
	}
	if used >= limit {
		return 0
	}
	return limit - used
}

func (s *Service) getOrCreateSummary(ctx context.Context, userID int64) (*usagedomain.UserUsageSummary, error) {
	now := s.clock.Now().UTC()
	var summary usagedomain.UserUsageSummary
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&summary).Error
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
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&summary).Error
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&summary).Error; err != nil {
		return nil, err
	}
	return &summary, nil
}

// lazyDailyReset zeroes the daily counters the first time the row is seen on
// a new day. There is no scheduler: two requests spanning midnight can both
// reset and each charge one unit. That inaccuracy is bounded to a single unit
// and heals on the next read, so no cross-request lock is taken for it.
func (s *Service) lazyDailyReset(ctx context.Context, summary *usagedomain.UserUsageSummary) (*usagedomain.UserUsageSummary, error) {
	today := s.clock.Now().UTC().Format(usagedomain.DateLayout)
	if summary.ResetDate >= today {
		return summary, nil
	}

	err := s.db.WithContext(ctx).
		Model(&usagedomain.UserUsageSummary{}).
		Where("id = ?", summary.ID).
		Updates(map[string]any{
			"chat_count":  0,
			"image_count": 0,
			"reset_date":  today,
			"updated_at":  s.clock.Now().UTC(),
		}).Error
	if err != nil {
		return nil, err
	}

	summary.ChatCount = 0
	summary.ImageCount = 0
	summary.ResetDate = today
	return summary, nil
}
