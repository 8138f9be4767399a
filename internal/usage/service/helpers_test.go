package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lumachat/ledger/internal/clock"
	identitydomain "github.com/lumachat/ledger/internal/identity/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupService(t *testing.T, at time.Time) (*Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	db := openTestDB(t)
	prepareLedgerSchema(t, db)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	fake := clock.NewFakeClock(at)

	svc := &Service{
		db:    db,
		log:   zap.NewNop(),
		genID: node,
		clock: fake,
	}
	return svc, db, fake
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error
	return db
}

func prepareLedgerSchema(t *testing.T, db *gorm.DB) {
	t.Helper()

	statements := []string{
		`CREATE TABLE users (
			id BIGINT PRIMARY KEY,
			username VARCHAR(50) NOT NULL,
			email VARCHAR(100) NOT NULL,
			role VARCHAR(20) NOT NULL DEFAULT 'user',
			tier VARCHAR(20) NOT NULL DEFAULT 'free',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE usage_events (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			action VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL,
			request_id VARCHAR(100) NOT NULL,
			session_id BIGINT,
			amount BIGINT NOT NULL DEFAULT 1,
			error_code VARCHAR(100),
			source VARCHAR(50),
			metadata JSON,
			occurred_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX uidx_usage_event_request
			ON usage_events (user_id, action, request_id)`,
		`CREATE TABLE usage_daily_aggregates (
			id BIGINT PRIMARY KEY,
			stat_date VARCHAR(10) NOT NULL,
			user_id BIGINT NOT NULL,
			action VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL,
			count BIGINT NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX uidx_usage_daily_key
			ON usage_daily_aggregates (stat_date, user_id, action, status)`,
		`CREATE TABLE user_usages (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			chat_count BIGINT NOT NULL DEFAULT 0,
			image_count BIGINT NOT NULL DEFAULT 0,
			reset_date VARCHAR(10) NOT NULL,
			total_chat_count BIGINT NOT NULL DEFAULT 0,
			total_image_count BIGINT NOT NULL DEFAULT 0,
			total_ppt_count BIGINT NOT NULL DEFAULT 0,
			last_used_at DATETIME,
			last_chat_at DATETIME,
			last_image_at DATETIME,
			last_ppt_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX uidx_user_usages_user ON user_usages (user_id)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("prepare schema: %v", err)
		}
	}
}

func seedUser(t *testing.T, db *gorm.DB, id int64, role, userTier string) identitydomain.User {
	t.Helper()

	user := identitydomain.User{
		ID:       id,
		Username: fmt.Sprintf("user%d", id),
		Email:    fmt.Sprintf("user%d@example.com", id),
		Role:     role,
		Tier:     userTier,
		IsActive: true,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func countRows(t *testing.T, db *gorm.DB, table string) int {
	t.Helper()

	var count int
	if err := db.Raw(fmt.Sprintf("SELECT COUNT(1) FROM %s", table)).Scan(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func aggregateCount(t *testing.T, db *gorm.DB, statDate string, userID int64, action, status string) int64 {
	t.Helper()

	var count int64
	err := db.Raw(
		`SELECT COALESCE(SUM(count), 0) FROM usage_daily_aggregates
		 WHERE stat_date = ? AND user_id = ? AND action = ? AND status = ?`,
		statDate, userID, action, status,
	).Scan(&count).Error
	if err != nil {
		t.Fatalf("aggregate count: %v", err)
	}
	return count
}
