package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/jackoliverdev/centrus/plan"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var subscriptionColumns = []string{
	"id", "plan_id", "organization_id", "user_id", "customer_id", "status", "mode", "created_at", "updated_at",
}

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
		ManagerOptions: ManagerOptions{
			DB:     gdb,
			Logger: zap.NewNop(),
		},
	}, mock
}

func TestUpsertKeyedOnExternalID(t *testing.T) {
	m, mock := newMockManager(t)

	mock.ExpectExec(`INSERT INTO "subscriptions" .* ON CONFLICT \("id"\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := m.Upsert(context.Background(), &Subscription{
		ID:             "sub_1",
		PlanID:         "plan_small_team_monthly",
		OrganizationID: "org_1",
		UserID:         "user_1",
		CustomerID:     "cus_1",
		Status:         StatusActive,
		Mode:           plan.ModeDev,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRequiresIdentifiers(t *testing.T) {
	m, _ := newMockManager(t)

	require.Error(t, m.Upsert(context.Background(), nil))
	require.Error(t, m.Upsert(context.Background(), &Subscription{ID: "sub_1"}))
	require.Error(t, m.Upsert(context.Background(), &Subscription{ID: "sub_1", OrganizationID: "org_1"}))
}

func TestGetActivePicksMostRecent(t *testing.T) {
	m, mock := newMockManager(t)

	now := time.Now()
	mock.ExpectQuery(`SELECT \* FROM "subscriptions" WHERE organization_id = \$1 AND status = \$2 AND mode = \$3 ORDER BY created_at desc`).
		WithArgs("org_1", string(StatusActive), string(plan.ModeDev)).
		WillReturnRows(sqlmock.NewRows(subscriptionColumns).
			AddRow("sub_2", "plan_x", "org_1", "user_1", "cus_1", "active", "dev", now, now))

	sub, err := m.GetActive(context.Background(), "org_1", plan.ModeDev)
	require.NoError(t, err)
	require.Equal(t, "sub_2", sub.ID)
	require.Equal(t, StatusActive, sub.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetActiveReturnsNilWhenAbsent(t *testing.T) {
	m, mock := newMockManager(t)

	mock.ExpectQuery(`SELECT \* FROM "subscriptions"`).
		WillReturnRows(sqlmock.NewRows(subscriptionColumns))

	sub, err := m.GetActive(context.Background(), "org_1", plan.ModeDev)
	require.NoError(t, err)
	require.Nil(t, sub)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusMissingRowIsNoop(t *testing.T) {
	m, mock := newMockManager(t)

	mock.ExpectExec(`UPDATE "subscriptions" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	sub, err := m.UpdateStatus(context.Background(), "sub_unknown", StatusCancelled)
	require.NoError(t, err)
	require.Nil(t, sub)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusEmptyIDIsNoop(t *testing.T) {
	m, _ := newMockManager(t)

	sub, err := m.UpdateStatus(context.Background(), "", StatusCancelled)
	require.NoError(t, err)
	require.Nil(t, sub)
}

func TestUpdateStatusReturnsUpdatedRecord(t *testing.T) {
	m, mock := newMockManager(t)

	now := time.Now()
	mock.ExpectExec(`UPDATE "subscriptions" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "subscriptions" WHERE id = \$1`).
		WithArgs("sub_1").
		WillReturnRows(sqlmock.NewRows(subscriptionColumns).
			AddRow("sub_1", "plan_x", "org_1", "user_1", "cus_1", "cancelled", "dev", now, now))

	sub, err := m.UpdateStatus(context.Background(), "sub_1", StatusCancelled)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, sub.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangePlanMissingRowIsNoop(t *testing.T) {
	m, mock := newMockManager(t)

	mock.ExpectExec(`UPDATE "subscriptions" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	sub, err := m.ChangePlan(context.Background(), "sub_unknown", "plan_x")
	require.NoError(t, err)
	require.Nil(t, sub)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangePlanReactivates(t *testing.T) {
	m, mock := newMockManager(t)

	now := time.Now()
	mock.ExpectExec(`UPDATE "subscriptions" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "subscriptions" WHERE id = \$1`).
		WithArgs("sub_1").
		WillReturnRows(sqlmock.NewRows(subscriptionColumns).
			AddRow("sub_1", "plan_y", "org_1", "user_1", "cus_1", "active", "dev", now, now))

	sub, err := m.ChangePlan(context.Background(), "sub_1", "plan_y")
	require.NoError(t, err)
	require.Equal(t, "plan_y", sub.PlanID)
	require.Equal(t, StatusActive, sub.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
