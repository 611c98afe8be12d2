package usage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newMockManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return &Manager{
		db:     gdb,
		logger: zap.NewNop(),
	}, mock
}

func TestSnapshotAggregates(t *testing.T) {
	m, mock := newMockManager(t)

	periodStart := time.Date(2021, time.February, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT count\(.+\) FROM "message_records" WHERE organization_id = \$1 AND created_at >= \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1200))
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(size_bytes\), 0\) FROM "storage_objects" WHERE organization_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(104857600))
	mock.ExpectQuery(`SELECT count\(.+\) FROM "memberships" WHERE organization_id = \$1 AND active = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	snap, err := m.Snapshot(context.Background(), "org_1", periodStart)
	require.NoError(t, err)
	require.True(t, snap.MessagesKnown)
	require.EqualValues(t, 1200, snap.Messages)
	require.True(t, snap.StorageKnown)
	require.EqualValues(t, 104857600, snap.Storage)
	require.True(t, snap.UsersKnown)
	require.EqualValues(t, 3, snap.Users)
	require.True(t, periodStart.Equal(snap.PeriodStart))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotPartialFailure(t *testing.T) {
	m, mock := newMockManager(t)

	periodStart := time.Date(2021, time.February, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT count\(.+\) FROM "message_records"`).
		WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(size_bytes\), 0\) FROM "storage_objects"`).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))
	mock.ExpectQuery(`SELECT count\(.+\) FROM "memberships"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	snap, err := m.Snapshot(context.Background(), "org_1", periodStart)
	require.NoError(t, err)
	require.False(t, snap.MessagesKnown)
	require.True(t, snap.StorageKnown)
	require.EqualValues(t, 0, snap.Storage)
	require.True(t, snap.UsersKnown)
	require.EqualValues(t, 5, snap.Users)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotRequiresOrganization(t *testing.T) {
	m, _ := newMockManager(t)

	_, err := m.Snapshot(context.Background(), "", time.Now())
	require.Error(t, err)
}
