package usage

import (
	"context"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager aggregates current consumption per organization
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for usage aggregation
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&MessageRecord{}, &StorageObject{}, &Membership{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize usage.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// Snapshot computes the organization's usage. Each aggregate is queried
// independently; a failed aggregate clears its Known flag instead of failing
// the snapshot, since the billing view prefers partial data over a hard error.
func (m *Manager) Snapshot(ctx context.Context, orgID string, periodStart time.Time) (Snapshot, error) {
	if len(orgID) == 0 {
		return Snapshot{}, fmt.Errorf("empty OrganizationID is invalid")
	}

	snap := Snapshot{
		PeriodStart: periodStart,
	}

	var messages int64
	result := m.db.WithContext(ctx).
		Model(&MessageRecord{}).
		Where("organization_id = ?", orgID).
		Where("created_at >= ?", periodStart).
		Count(&messages)
	if result.Error != nil {
		m.logger.Error("Unable to count messages for period",
			zap.String("OrganizationID", orgID),
			zap.Error(result.Error),
		)
	} else {
		snap.Messages = messages
		snap.MessagesKnown = true
	}

	var storage int64
	row := m.db.WithContext(ctx).
		Model(&StorageObject{}).
		Select("COALESCE(SUM(size_bytes), 0)").
		Where("organization_id = ?", orgID).
		Row()
	if err := row.Scan(&storage); err != nil {
		m.logger.Error("Unable to sum storage size",
			zap.String("OrganizationID", orgID),
			zap.Error(err),
		)
	} else {
		snap.Storage = storage
		snap.StorageKnown = true
	}

	var users int64
	result = m.db.WithContext(ctx).
		Model(&Membership{}).
		Where("organization_id = ?", orgID).
		Where("active = ?", true).
		Count(&users)
	if result.Error != nil {
		m.logger.Error("Unable to count active members",
			zap.String("OrganizationID", orgID),
			zap.Error(result.Error),
		)
	} else {
		snap.Users = users
		snap.UsersKnown = true
	}

	return snap, nil
}
