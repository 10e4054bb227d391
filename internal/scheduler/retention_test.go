package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/railzwaylabs/paygate/internal/config"
	whdomain "github.com/railzwaylabs/paygate/internal/webhook/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now(context.Context) time.Time { return c.now }

func TestPruneReplayedFailedEvents(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&whdomain.FailedEvent{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0).UTC()

	cfg := config.Config{}
	cfg.Scheduler.FailedEventRetentionDays = 30

	s := &Scheduler{
		db:    db,
		log:   zap.NewNop(),
		cfg:   cfg,
		clock: &fakeClock{now: now},
	}

	oldReplayed := now.Add(-40 * 24 * time.Hour)
	recentReplayed := now.Add(-10 * 24 * time.Hour)
	rows := []whdomain.FailedEvent{
		{ID: node.Generate(), EventID: "evt_old", EventType: "x", Reason: "r", ReplayToken: "a", CreatedAt: oldReplayed, ReplayedAt: &oldReplayed},
		{ID: node.Generate(), EventID: "evt_recent", EventType: "x", Reason: "r", ReplayToken: "b", CreatedAt: recentReplayed, ReplayedAt: &recentReplayed},
		{ID: node.Generate(), EventID: "evt_open", EventType: "x", Reason: "r", ReplayToken: "c", CreatedAt: oldReplayed},
	}
	for i := range rows {
		require.NoError(t, db.Create(&rows[i]).Error)
	}

	require.NoError(t, s.PruneReplayedFailedEventsJob(context.Background()))

	var remaining []whdomain.FailedEvent
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 2)
	ids := []string{remaining[0].EventID, remaining[1].EventID}
	require.ElementsMatch(t, []string{"evt_recent", "evt_open"}, ids)
}

func TestPruneDisabledWithoutRetention(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&whdomain.FailedEvent{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0).UTC()
	old := now.Add(-100 * 24 * time.Hour)

	require.NoError(t, db.Create(&whdomain.FailedEvent{
		ID: node.Generate(), EventID: "evt_old", EventType: "x", Reason: "r",
		ReplayToken: "a", CreatedAt: old, ReplayedAt: &old,
	}).Error)

	s := &Scheduler{db: db, log: zap.NewNop(), cfg: config.Config{}, clock: &fakeClock{now: now}}
	require.NoError(t, s.PruneReplayedFailedEventsJob(context.Background()))

	var count int64
	require.NoError(t, db.Model(&whdomain.FailedEvent{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}
