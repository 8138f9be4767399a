package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	usagedomain "github.com/lumachat/ledger/internal/usage/domain"
)

var testDay = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func TestRecordAppendsAllThreeModels(t *testing.T) {
	svc, db, _ := setupService(t, testDay)
	user := seedUser(t, db, 1, "user", "free")
	ctx := context.Background()

	result, err := svc.Record(ctx, usagedomain.RecordRequest{
		UserID:    user.ID,
		Action:    usagedomain.ActionChat,
		Status:    usagedomain.StatusSuccess,
		RequestID: "r1",
		Source:    "chat-api",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !result.Recorded || result.Duplicated {
		t.Fatalf("expected recorded result, got %+v", result)
	}

	if count := countRows(t, db, "usage_events"); count != 1 {
		t.Fatalf("expected 1 event, got %d", count)
	}
	if count := aggregateCount(t, db, "2025-06-15", user.ID, "chat", "success"); count != 1 {
		t.Fatalf("expected aggregate count 1, got %d", count)
	}

	var summary usagedomain.UserUsageSummary
	if err := db.Where("user_id = ?", user.ID).First(&summary).Error; err != nil {
		t.Fatalf("load summary: %v", err)
	}
	if summary.ChatCount != 1 || summary.TotalChatCount != 1 {
		t.Fatalf("expected chat counters 1/1, got %d/%d", summary.ChatCount, summary.TotalChatCount)
	}
	if summary.LastChatAt == nil || summary.LastUsedAt == nil {
		t.Fatalf("expected last-used stamps to be set")
	}
}

func TestRecordIdempotent(t *testing.T) {
	svc, db, _ := setupService(t, testDay)
	user := seedUser(t, db, 1, "user", "free")
	ctx := context.Background()

	req := usagedomain.RecordRequest{
		UserID:    user.ID,
		Action:    usagedomain.ActionChat,
		Status:    usagedomain.StatusSuccess,
		RequestID: "r1",
	}

	first, err := svc.Record(ctx, req)
	if err != nil {
		t.Fatalf("record first: %v", err)
	}
	second, err := svc.Record(ctx, req)
	if err != nil {
		t.Fatalf("record second: %v", err)
	}

	if !second.Duplicated {
		t.Fatalf("expected duplicated result, got %+v", second)
	}
	if first.EventID != second.EventID {
		t.Fatalf("expected same event id, got %s vs %s", first.EventID, second.EventID)
	}
	if count := countRows(t, db, "usage_events"); count != 1 {
		t.Fatalf("expected 1 event, got %d", count)
	}
	if count := aggregateCount(t, db, "2025-06-15", user.ID, "chat", "success"); count != 1 {
		t.Fatalf("expected aggregate count 1 after retry, got %d", count)
	}

	var summary usagedomain.UserUsageSummary
	if err := db.Where("user_id = ?", user.ID).First(&summary).Error; err != nil {
		t.Fatalf("load summary: %v", err)
	}
	if summary.ChatCount != 1 || summary.TotalChatCount != 1 {
		t.Fatalf("expected counters unchanged after retry, got %d/%d", summary.ChatCount, summary.TotalChatCount)
	}
}

func TestRecordConcurrentIdempotent(t *testing.T) {
	svc, db, _ := setupService(t, testDay)
	user := seedUser(t, db, 1, "user", "free")
	ctx := context.Background()

	req := usagedomain.RecordRequest{
		UserID:    user.ID,
		Action:    usagedomain.ActionImage,
		Status:    usagedomain.StatusSuccess,
		RequestID: "race-1",
	}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Record(ctx, req)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("record concurrent: %v", err)
		}
	}

	if count := countRows(t, db, "usage_events"); count != 1 {
		t.Fatalf("expected 1 event after concurrent records, got %d", count)
	}
	if count := aggregateCount(t, db, "2025-06-15", user.ID, "image", "success"); count != 1 {
		t.Fatalf("expected aggregate count 1 after concurrent records, got %d", count)
	}
}

func TestRecordValidation(t *testing.T) {
	svc, db, _ := setupService(t, testDay)
	user := seedUser(t, db, 1, "user", "free")
	ctx := context.Background()

	tests := []struct {
		name string
		req  usagedomain.RecordRequest
		want error
	}{
		{
			name: "unknown action",
			req:  usagedomain.RecordRequest{UserID: user.ID, Action: "video", Status: usagedomain.StatusSuccess, RequestID: "r1"},
			want: usagedomain.ErrInvalidAction,
		},
		{
			name: "unknown status",
			req:  usagedomain.RecordRequest{UserID: user.ID, Action: usagedomain.ActionChat, Status: "pending", RequestID: "r1"},
			want: usagedomain.ErrInvalidStatus,
		},
		{
			name: "missing request id",
			req:  usagedomain.RecordRequest{UserID: user.ID, Action: usagedomain.ActionChat, Status: usagedomain.StatusSuccess},
			want: usagedomain.ErrInvalidRequestID,
		},
		{
			name: "blank request id",
			req:  usagedomain.RecordRequest{UserID: user.ID, Action: usagedomain.ActionChat, Status: usagedomain.StatusSuccess, RequestID: "   "},
			want: usagedomain.ErrInvalidRequestID,
		},
		{
			name: "missing user",
			req:  usagedomain.RecordRequest{Action: usagedomain.ActionChat, Status: usagedomain.StatusSuccess, RequestID: "r1"},
			want: usagedomain.ErrInvalidUser,
		},
		{
			name: "unknown user",
			req:  usagedomain.RecordRequest{UserID: 999, Action: usagedomain.ActionChat, Status: usagedomain.StatusSuccess, RequestID: "r1"},
			want: usagedomain.ErrInvalidUser,
		},
		{
			name: "negative amount",
			req:  usagedomain.RecordRequest{UserID: user.ID, Action: usagedomain.ActionChat, Status: usagedomain.StatusSuccess, RequestID: "r1", Amount: -1},
			want: usagedomain.ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Record(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	// Rejected calls must leave no partial state.
	if count := countRows(t, db, "usage_events"); count != 0 {
		t.Fatalf("expected no events after rejected calls, got %d", count)
	}
	if count := countRows(t, db, "usage_daily_aggregates"); count != 0 {
		t.Fatalf("expected no aggregates after rejected calls, got %d", count)
	}
}

func TestRecordFailedStatusSkipsSummary(t *testing.T) {
	svc, db, _ := setupService(t, testDay)
	user := seedUser(t, db, 1, "user", "free")
	ctx := context.Background()

	if _, err := svc.Record(ctx, usagedomain.RecordRequest{
		UserID:    user.ID,
		Action:    usagedomain.ActionChat,
		Status:    usagedomain.StatusSuccess,
		RequestID: "r1",
	}); err != nil {
		t.Fatalf("record success: %v", err)
	}

	if _, err := svc.Record(ctx, usagedomain.RecordRequest{
		UserID:    user.ID,
		Action:    usagedomain.ActionChat,
		Status:    usagedomain.StatusFailed,
		RequestID: "r2",
		ErrorCode: "stream_cancelled",
	}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	var summary usagedomain.UserUsageSummary
	if err := db.Where("user_id = ?", user.ID).First(&summary).Error; err != nil {
		t.Fatalf("load summary: %v", err)
	}
	if summary.ChatCount != 1 || summary.TotalChatCount != 1 {
		t.Fatalf("failed attempt must not move summary counters, got %d/%d", summary.ChatCount, summary.TotalChatCount)
	}
	if count := aggregateCount(t, db, "2025-06-15", user.ID, "chat", "failed"); count != 1 {
		t.Fatalf("expected failed aggregate count 1, got %d", count)
	}
}

func TestRecordAdminSkipsSummary(t *testing.T) {
	svc, db, _ := setupService(t, testDay)
	admin := seedUser(t, db, 7, "admin", "admin")
	ctx := context.Background()

	if _, err := svc.Record(ctx, usagedomain.RecordRequest{
		UserID:    admin.ID,
		Action:    usagedomain.ActionChat,
		Status:    usagedomain.StatusSuccess,
		RequestID: "r1",
	}); err != nil {
		t.Fatalf("record admin: %v", err)
	}

	// Admin activity still lands in the ledger and rollup, only the quota
	// summary is skipped.
	if count := countRows(t, db, "usage_events"); count != 1 {
		t.Fatalf("expected 1 event, got %d", count)
	}
	if count := aggregateCount(t, db, "2025-06-15", admin.ID, "chat", "success"); count != 1 {
		t.Fatalf("expected aggregate count 1, got %d", count)
	}
	if count := countRows(t, db, "user_usages"); count != 0 {
		t.Fatalf("admin must not gain a summary row, got %d", count)
	}
}

func TestRecordPPTTracksLifetimeOnly(t *testing.T) {
	svc, db, _ := setupService(t, testDay)
	user := seedUser(t, db, 1, "user", "pro")
	ctx := context.Background()

	if _, err := svc.Record(ctx, usagedomain.RecordRequest{
		UserID:    user.ID,
		Action:    usagedomain.ActionPPT,
		Status:    usagedomain.StatusSuccess,
		RequestID: "deck-1",
	}); err != nil {
		t.Fatalf("record ppt: %v", err)
	}

	var summary usagedomain.UserUsageSummary
	if err := db.Where("user_id = ?", user.ID).First(&summary).Error; err != nil {
		t.Fatalf("load summary: %v", err)
	}
	if summary.ChatCount != 0 || summary.ImageCount != 0 {
		t.Fatalf("ppt must not move daily counters, got chat=%d image=%d", summary.ChatCount, summary.ImageCount)
	}
	if summary.TotalPPTCount != 1 {
		t.Fatalf("expected total_ppt_count 1, got %d", summary.TotalPPTCount)
	}
	if summary.LastPPTAt == nil {
		t.Fatalf("expected last_ppt_at stamp")
	}
}

func TestRecordAmountAccumulates(t *testing.T) {
	svc, db, _ := setupService(t, testDay)
	user := seedUser(t, db, 1, "user", "free")
	ctx := context.Background()

	if _, err := svc.Record(ctx, usagedomain.RecordRequest{
		UserID:    user.ID,
		Action:    usagedomain.ActionImage,
		Status:    usagedomain.StatusSuccess,
		RequestID: "batch-1",
		Amount:    3,
	}); err != nil {
		t.Fatalf("record amount: %v", err)
	}
	if _, err := svc.Record(ctx, usagedomain.RecordRequest{
		UserID:    user.ID,
		Action:    usagedomain.ActionImage,
		Status:    usagedomain.StatusSuccess,
		RequestID: "batch-2",
	}); err != nil {
		t.Fatalf("record default amount: %v", err)
	}

	if count := aggregateCount(t, db, "2025-06-15", user.ID, "image", "success"); count != 4 {
		t.Fatalf("expected aggregate count 4, got %d", count)
	}
	var summary usagedomain.UserUsageSummary
	if err := db.Where("user_id = ?", user.ID).First(&summary).Error; err != nil {
		t.Fatalf("load summary: %v", err)
	}
	if summary.ImageCount != 4 || summary.TotalImageCount != 4 {
		t.Fatalf("expected image counters 4/4, got %d/%d", summary.ImageCount, summary.TotalImageCount)
	}
}

func TestRecordResetsStaleSummary(t *testing.T) {
	svc, db, fake := setupService(t, testDay)
	user := seedUser(t, db, 1, "user", "free")
	ctx := context.Background()

	if _, err := svc.Record(ctx, usagedomain.RecordRequest{
		UserID:    user.ID,
		Action:    usagedomain.ActionChat,
		Status:    usagedomain.StatusSuccess,
		RequestID: "day1",
	}); err != nil {
		t.Fatalf("record day1: %v", err)
	}

	fake.Advance(24 * time.Hour)

	if _, err := svc.Record(ctx, usagedomain.RecordRequest{
		UserID:    user.ID,
		Action:    usagedomain.ActionChat,
		Status:    usagedomain.StatusSuccess,
		RequestID: "day2",
	}); err != nil {
		t.Fatalf("record day2: %v", err)
	}

	var summary usagedomain.UserUsageSummary
	if err := db.Where("user_id = ?", user.ID).First(&summary).Error; err != nil {
		t.Fatalf("load summary: %v", err)
	}
	if summary.ChatCount != 1 {
		t.Fatalf("expected daily counter reset to 1, got %d", summary.ChatCount)
	}
	if summary.TotalChatCount != 2 {
		t.Fatalf("lifetime total must span days, got %d", summary.TotalChatCount)
	}
	if summary.ResetDate != "2025-06-16" {
		t.Fatalf("expected reset_date 2025-06-16, got %s", summary.ResetDate)
	}
}
