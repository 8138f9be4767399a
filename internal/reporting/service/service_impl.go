package service

import (
	"context"
	"strings"

	"github.com/lumachat/ledger/internal/clock"
	identitydomain "github.com/lumachat/ledger/internal/identity/domain"
	reportingdomain "github.com/lumachat/ledger/internal/reporting/domain"
	"github.com/lumachat/ledger/internal/tier"
	usagedomain "github.com/lumachat/ledger/internal/usage/domain"
	"github.com/lumachat/ledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func NewService(p ServiceParam) reportingdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("reporting.service"),
		clock: p.Clock,
	}
}

// UsageStats builds the admin cross-user table: identity joined to the live
// summary, with today's counters and the filtered-range success/failure
// breakdown from the rollups. Ordered by user id so pages stay stable while
// new events arrive.
func (s *Service) UsageStats(ctx context.Context, filter reportingdomain.StatsFilter, page pagination.Page) (*reportingdomain.StatsPage, error) {
	page = page.Normalize()

	usersQuery := s.db.WithContext(ctx).Model(&identitydomain.User{})
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + search + "%"
		usersQuery = usersQuery.Where("username LIKE ? OR email LIKE ?", pattern, pattern)
	}

	var total int64
	if err := usersQuery.Count(&total).Error; err != nil {
		return nil, err
	}

	var users []identitydomain.User
	err := page.Apply(usersQuery.Order("id ASC")).Find(&users).Error
	if err != nil {
		return nil, err
	}

	result := &reportingdomain.StatsPage{PageInfo: page.Info(total)}
	if len(users) == 0 {
		result.Rows = []reportingdomain.StatsRow{}
		return result, nil
	}

	userIDs := make([]int64, 0, len(users))
	for _, u := range users {
		userIDs = append(userIDs, u.ID)
	}

	summaries, err := s.loadSummaries(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	breakdowns, err := s.loadBreakdowns(ctx, userIDs, filter)
	if err != nil {
		return nil, err
	}

	today := s.clock.Now().UTC().Format(usagedomain.DateLayout)
	rows := make([]reportingdomain.StatsRow, 0, len(users))
	for _, u := range users {
		rows = append(rows, s.buildStatsRow(u, summaries[u.ID], breakdowns[u.ID], today))
	}
	result.Rows = rows
	return result, nil
}

func (s *Service) buildStatsRow(
	user identitydomain.User,
	summary *usagedomain.UserUsageSummary,
	breakdown map[breakdownKey]int64,
	today string,
) reportingdomain.StatsRow {
	row := reportingdomain.StatsRow{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
	}

	if user.IsAdmin() {
		limits := tier.LimitsFor(tier.Admin)
		row.Tier = tier.Admin
		row.TierNameZH = limits.NameZH
		row.TierNameEN = limits.NameEN
		row.ChatLimit = tier.Unlimited
		row.ImageLimit = tier.Unlimited
		row.IsUnlimited = true
		return row
	}

	userTier := user.Tier
	if userTier == "" {
		userTier = tier.Free
	}
	limits := tier.LimitsFor(userTier)
	row.Tier = userTier
	row.TierNameZH = limits.NameZH
	row.TierNameEN = limits.NameEN
	row.ChatLimit = limits.ChatLimit
	row.ImageLimit = limits.ImageLimit

	if summary != nil {
		// Read-only reset check: a row from a previous day shows zero for
		// today without being written.
		if summary.ResetDate >= today {
			row.ChatUsed = summary.ChatCount
			row.ImageUsed = summary.ImageCount
		}
		row.TotalChatCount = summary.TotalChatCount
		row.TotalImageCount = summary.TotalImageCount
		row.TotalPPTCount = summary.TotalPPTCount
		row.LastUsedAt = summary.LastUsedAt
	}

	if breakdown != nil {
		row.Chat = reportingdomain.ActionBreakdown{
			Success: breakdown[breakdownKey{usagedomain.ActionChat, usagedomain.StatusSuccess}],
			Failed:  breakdown[breakdownKey{usagedomain.ActionChat, usagedomain.StatusFailed}],
		}
		row.Image = reportingdomain.ActionBreakdown{
			Success: breakdown[breakdownKey{usagedomain.ActionImage, usagedomain.StatusSuccess}],
			Failed:  breakdown[breakdownKey{usagedomain.ActionImage, usagedomain.StatusFailed}],
		}
		row.PPT = reportingdomain.ActionBreakdown{
			Success: breakdown[breakdownKey{usagedomain.ActionPPT, usagedomain.StatusSuccess}],
			Failed:  breakdown[breakdownKey{usagedomain.ActionPPT, usagedomain.StatusFailed}],
		}
	}

	return row
}

func (s *Service) loadSummaries(ctx context.Context, userIDs []int64) (map[int64]*usagedomain.UserUsageSummary, error) {
	var summaries []usagedomain.UserUsageSummary
	err := s.db.WithContext(ctx).
		Where("user_id IN ?", userIDs).
		Find(&summaries).Error
	if err != nil {
		return nil, err
	}

	out := make(map[int64]*usagedomain.UserUsageSummary, len(summaries))
	for i := range summaries {
		out[summaries[i].UserID] = &summaries[i]
	}
	return out, nil
}

type breakdownKey struct {
	Action usagedomain.Action
	Status usagedomain.Status
}

type breakdownRow struct {
	UserID int64
	Action usagedomain.Action
	Status usagedomain.Status
	Total  int64
}

func (s *Service) loadBreakdowns(ctx context.Context, userIDs []int64, filter reportingdomain.StatsFilter) (map[int64]map[breakdownKey]int64, error) {
	stmt := s.db.WithContext(ctx).
		Model(&usagedomain.DailyAggregate{}).
		Select("user_id, action, status, SUM(count) AS total").
		Where("user_id IN ?", userIDs).
		Group("user_id, action, status")

	if filter.FromDate != "" {
		stmt = stmt.Where("stat_date >= ?", filter.FromDate)
	}
	if filter.ToDate != "" {
		stmt = stmt.Where("stat_date <= ?", filter.ToDate)
	}
	if filter.Action != "" {
		stmt = stmt.Where("action = ?", filter.Action)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}

	var rows []breakdownRow
	if err := stmt.Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make(map[int64]map[breakdownKey]int64)
	for _, row := range rows {
		byKey := out[row.UserID]
		if byKey == nil {
			byKey = make(map[breakdownKey]int64)
			out[row.UserID] = byKey
		}
		byKey[breakdownKey{row.Action, row.Status}] = row.Total
	}
	return out, nil
}

// ListEvents scans the raw ledger joined to identity, newest first. The
// (occurred_at DESC, id DESC) order keeps page boundaries stable while new
// events keep arriving.
func (s *Service) ListEvents(ctx context.Context, filter reportingdomain.EventFilter, page pagination.Page) (*reportingdomain.EventPage, error) {
	page = page.Normalize()

	var total int64
	if err := s.eventQuery(ctx, filter).Count(&total).Error; err != nil {
		return nil, err
	}

	var events []reportingdomain.EventRow
	err := page.Apply(
		s.eventQuery(ctx, filter).
			Select("usage_events.*, users.username, users.email").
			Joins("JOIN users ON users.id = usage_events.user_id").
			Order("usage_events.occurred_at DESC, usage_events.id DESC"),
	).Scan(&events).Error
	if err != nil {
		return nil, err
	}

	return &reportingdomain.EventPage{
		PageInfo: page.Info(total),
		Events:   events,
	}, nil
}

// ExportEvents returns the full filtered ledger for bulk download. Unbounded
// on purpose: the export endpoint streams it as CSV.
func (s *Service) ExportEvents(ctx context.Context, filter reportingdomain.EventFilter) ([]reportingdomain.EventRow, error) {
	var events []reportingdomain.EventRow
	err := s.eventQuery(ctx, filter).
		Select("usage_events.*, users.username, users.email").
		Joins("JOIN users ON users.id = usage_events.user_id").
		Order("usage_events.occurred_at DESC, usage_events.id DESC").
		Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Service) eventQuery(ctx context.Context, filter reportingdomain.EventFilter) *gorm.DB {
	stmt := s.db.WithContext(ctx).Model(&usagedomain.UsageEvent{})
	if filter.UserID != nil {
		stmt = stmt.Where("usage_events.user_id = ?", *filter.UserID)
	}
	if filter.Action != "" {
		stmt = stmt.Where("usage_events.action = ?", filter.Action)
	}
	if filter.Status != "" {
		stmt = stmt.Where("usage_events.status = ?", filter.Status)
	}
	if filter.From != nil {
		stmt = stmt.Where("usage_events.occurred_at >= ?", *filter.From)
	}
	if filter.To != nil {
		stmt = stmt.Where("usage_events.occurred_at <= ?", *filter.To)
	}
	return stmt
}
