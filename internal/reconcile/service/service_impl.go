package service

import (
	"context"
	"sort"

	"github.com/lumachat/ledger/internal/clock"
	identitydomain "github.com/lumachat/ledger/internal/identity/domain"
	"github.com/lumachat/ledger/internal/observability/metrics"
	reconciledomain "github.com/lumachat/ledger/internal/reconcile/domain"
	usagedomain "github.com/lumachat/ledger/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	metrics *metrics.Metrics
}

func NewService(p ServiceParam) reconciledomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("reconcile.service"),
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

// Reconcile compares the three persisted models and reports every
// disagreement it finds. It holds no locks and writes nothing: a row
// changing between the two scans shows up as drift and disappears on the
// next run.
func (s *Service) Reconcile(ctx context.Context, userID *int64) (*reconciledomain.Report, error) {
	report := &reconciledomain.Report{
		GeneratedAt:         s.clock.Now().UTC(),
		UserTotalMismatches: []reconciledomain.TotalMismatch{},
		AggregateMismatches: []reconciledomain.AggregateMismatch{},
	}

	users, err := s.loadUsers(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return report, nil
	}

	userIDs := make([]int64, 0, len(users))
	names := make(map[int64]string, len(users))
	roles := make(map[int64]string, len(users))
	for _, u := range users {
		userIDs = append(userIDs, u.ID)
		names[u.ID] = u.Username
		roles[u.ID] = u.Role
	}
	report.Summary.UsersChecked = len(userIDs)

	totalMismatches, err := s.checkLifetimeTotals(ctx, userIDs, names, roles)
	if err != nil {
		return nil, err
	}
	aggregateMismatches, err := s.checkDailyAggregates(ctx, userIDs, names)
	if err != nil {
		return nil, err
	}

	report.Summary.UserTotalMismatches = len(totalMismatches)
	report.Summary.AggregateMismatches = len(aggregateMismatches)
	report.UserTotalMismatches = capTotals(totalMismatches)
	report.AggregateMismatches = capAggregates(aggregateMismatches)

	found := len(totalMismatches) + len(aggregateMismatches)
	s.metrics.AddReconcileMismatches(found)
	if found > 0 {
		s.log.Warn("reconcile found drift",
			zap.Int("users_checked", len(userIDs)),
			zap.Int("total_mismatches", len(totalMismatches)),
			zap.Int("aggregate_mismatches", len(aggregateMismatches)),
		)
	}

	return report, nil
}

func (s *Service) loadUsers(ctx context.Context, userID *int64) ([]identitydomain.User, error) {
	stmt := s.db.WithContext(ctx).Model(&identitydomain.User{}).Order("id ASC")
	if userID != nil {
		stmt = stmt.Where("id = ?", *userID)
	}
	var users []identitydomain.User
	if err := stmt.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

type actionTotalRow struct {
	UserID int64
	Action usagedomain.Action
	Total  int64
}

// checkLifetimeTotals verifies that each non-admin user's summary lifetime
// counters equal the sum of their successful daily rollups. A user with no
// summary row is expected to have zero everywhere.
func (s *Service) checkLifetimeTotals(
	ctx context.Context,
	userIDs []int64,
	names map[int64]string,
	roles map[int64]string,
) ([]reconciledomain.TotalMismatch, error) {
	var totals []actionTotalRow
	err := s.db.WithContext(ctx).
		Model(&usagedomain.DailyAggregate{}).
		Select("user_id, action, SUM(count) AS total").
		Where("user_id IN ? AND status = ?", userIDs, usagedomain.StatusSuccess).
		Group("user_id, action").
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}

	expected := make(map[int64]map[usagedomain.Action]int64, len(userIDs))
	for _, row := range totals {
		byAction := expected[row.UserID]
		if byAction == nil {
			byAction = make(map[usagedomain.Action]int64)
			expected[row.UserID] = byAction
		}
		byAction[row.Action] = row.Total
	}

	var summaries []usagedomain.UserUsageSummary
	err = s.db.WithContext(ctx).
		Where("user_id IN ?", userIDs).
		Find(&summaries).Error
	if err != nil {
		return nil, err
	}
	summaryByUser := make(map[int64]*usagedomain.UserUsageSummary, len(summaries))
	for i := range summaries {
		summaryByUser[summaries[i].UserID] = &summaries[i]
	}

	var mismatches []reconciledomain.TotalMismatch
	for _, uid := range userIDs {
		if roles[uid] == identitydomain.RoleAdmin {
			continue
		}

		var actualChat, actualImage, actualPPT int64
		if summary := summaryByUser[uid]; summary != nil {
			actualChat = summary.TotalChatCount
			actualImage = summary.TotalImageCount
			actualPPT = summary.TotalPPTCount
		}

		checks := []struct {
			metric   string
			expected int64
			actual   int64
		}{
			{"total_chat_count", expected[uid][usagedomain.ActionChat], actualChat},
			{"total_image_count", expected[uid][usagedomain.ActionImage], actualImage},
			{"total_ppt_count", expected[uid][usagedomain.ActionPPT], actualPPT},
		}
		for _, check := range checks {
			if check.expected != check.actual {
				mismatches = append(mismatches, reconciledomain.TotalMismatch{
					UserID:   uid,
					Username: names[uid],
					Metric:   check.metric,
					Expected: check.expected,
					Actual:   check.actual,
				})
			}
		}
	}
	return mismatches, nil
}

type dailyKey struct {
	StatDate string
	UserID   int64
	Action   string
	Status   string
}

type dailySumRow struct {
	StatDate string
	UserID   int64
	Action   string
	Status   string
	Total    int64
}

// checkDailyAggregates recomputes per-day sums straight from the event log
// and compares them against the rollup table, treating an absent key on
// either side as zero.
func (s *Service) checkDailyAggregates(
	ctx context.Context,
	userIDs []int64,
	names map[int64]string,
) ([]reconciledomain.AggregateMismatch, error) {
	var eventRows []dailySumRow
	err := s.db.WithContext(ctx).
		Model(&usagedomain.UsageEvent{}).
		Select("DATE(occurred_at) AS stat_date, user_id, action, status, SUM(amount) AS total").
		Where("user_id IN ?", userIDs).
		Group("DATE(occurred_at), user_id, action, status").
		Scan(&eventRows).Error
	if err != nil {
		return nil, err
	}

	var aggregateRows []dailySumRow
	err = s.db.WithContext(ctx).
		Model(&usagedomain.DailyAggregate{}).
		Select("stat_date, user_id, action, status, SUM(count) AS total").
		Where("user_id IN ?", userIDs).
		Group("stat_date, user_id, action, status").
		Scan(&aggregateRows).Error
	if err != nil {
		return nil, err
	}

	eventMap := make(map[dailyKey]int64, len(eventRows))
	for _, row := range eventRows {
		eventMap[keyOf(row)] = row.Total
	}
	aggregateMap := make(map[dailyKey]int64, len(aggregateRows))
	for _, row := range aggregateRows {
		aggregateMap[keyOf(row)] = row.Total
	}

	keys := make(map[dailyKey]struct{}, len(eventMap)+len(aggregateMap))
	for key := range eventMap {
		keys[key] = struct{}{}
	}
	for key := range aggregateMap {
		keys[key] = struct{}{}
	}

	ordered := make([]dailyKey, 0, len(keys))
	for key := range keys {
		ordered = append(ordered, key)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.StatDate != b.StatDate {
			return a.StatDate < b.StatDate
		}
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.Action != b.Action {
			return a.Action < b.Action
		}
		return a.Status < b.Status
	})

	var mismatches []reconciledomain.AggregateMismatch
	for _, key := range ordered {
		eventCount := eventMap[key]
		aggregateCount := aggregateMap[key]
		if eventCount != aggregateCount {
			mismatches = append(mismatches, reconciledomain.AggregateMismatch{
				StatDate:       key.StatDate,
				UserID:         key.UserID,
				Username:       names[key.UserID],
				Action:         key.Action,
				Status:         key.Status,
				EventsCount:    eventCount,
				AggregateCount: aggregateCount,
			})
		}
	}
	return mismatches, nil
}

func keyOf(row dailySumRow) dailyKey {
	statDate := row.StatDate
	// Some drivers hand DATE() back with a time suffix; the key is the
	// calendar day only.
	if len(statDate) > 10 {
		statDate = statDate[:10]
	}
	return dailyKey{StatDate: statDate, UserID: row.UserID, Action: row.Action, Status: row.Status}
}

func capTotals(mismatches []reconciledomain.TotalMismatch) []reconciledomain.TotalMismatch {
	if len(mismatches) > reconciledomain.MismatchCap {
		return mismatches[:reconciledomain.MismatchCap]
	}
	if mismatches == nil {
		return []reconciledomain.TotalMismatch{}
	}
	return mismatches
}

func capAggregates(mismatches []reconciledomain.AggregateMismatch) []reconciledomain.AggregateMismatch {
	if len(mismatches) > reconciledomain.MismatchCap {
		return mismatches[:reconciledomain.MismatchCap]
	}
	if mismatches == nil {
		return []reconciledomain.AggregateMismatch{}
	}
	return mismatches
}
