package addon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNegativeQuantity is returned when a mutation would leave a ledger value
// below zero. The client clamps at zero in the UI, but the server re-validates
// and rejects instead of silently clamping.
var ErrNegativeQuantity = fmt.Errorf("addon quantity must not be negative")

// Manager handles the database operations relating to the addon Ledger
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for addon ledgers
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Ledger{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize addon.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// Get returns the organization's ledger. An organization that never purchased
// an addon has no row; that reads as a zero-valued ledger, never as not-found.
func (m *Manager) Get(ctx context.Context, orgID string) (*Ledger, error) {
	if len(orgID) == 0 {
		return nil, fmt.Errorf("empty OrganizationID is invalid")
	}
	var ledger Ledger
	result := m.db.WithContext(ctx).First(&ledger, "organization_id = ?", orgID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return &Ledger{OrganizationID: orgID}, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get addon ledger")
	}

	return &ledger, nil
}

// SetQuantities performs an absolute set of each supplied field. The caller is
// responsible for computing the new absolute value; any negative value is
// rejected. The row is locked for the duration of the transaction so two
// concurrent sets cannot interleave.
func (m *Manager) SetQuantities(ctx context.Context, orgID string, q Quantities) (*Ledger, error) {
	if len(orgID) == 0 {
		return nil, fmt.Errorf("empty OrganizationID is invalid")
	}
	if q.Empty() {
		return nil, fmt.Errorf("at least one quantity is required")
	}
	for _, v := range []*int64{q.Messages, q.Storage, q.Users} {
		if v != nil && *v < 0 {
			return nil, ErrNegativeQuantity
		}
	}

	var ledger Ledger
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var fresh bool
		result := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&ledger, "organization_id = ?", orgID)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			ledger = Ledger{
				ID:             uuid.New().String(),
				OrganizationID: orgID,
			}
			fresh = true
		} else if result.Error != nil {
			return result.Error
		}
		if q.Messages != nil {
			ledger.ExtraMessages = *q.Messages
		}
		if q.Storage != nil {
			ledger.ExtraStorage = *q.Storage
		}
		if q.Users != nil {
			ledger.ExtraUsers = *q.Users
		}
		if fresh {
			return tx.Create(&ledger).Error
		}
		return tx.Save(&ledger).Error
	})
	if err != nil {
		m.logger.Error("Unable to set addon quantities",
			zap.String("OrganizationID", orgID),
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot set addon quantities")
	}
	return &ledger, nil
}

// Increment applies an additive grant to the ledger. This is the path taken by
// a confirmed payment webhook: the addition is expressed in SQL so concurrent
// deliveries cannot lose an update, and the transaction is serializable.
func (m *Manager) Increment(ctx context.Context, orgID string, q Quantities) error {
	if len(orgID) == 0 {
		return fmt.Errorf("empty OrganizationID is invalid")
	}
	if q.Empty() {
		return nil
	}
	for _, v := range []*int64{q.Messages, q.Storage, q.Users} {
		if v != nil && *v < 0 {
			return ErrNegativeQuantity
		}
	}

	assignments := make(map[string]interface{})
	if q.Messages != nil {
		assignments["extra_messages"] = gorm.Expr("extra_messages + ?", *q.Messages)
	}
	if q.Storage != nil {
		assignments["extra_storage"] = gorm.Expr("extra_storage + ?", *q.Storage)
	}
	if q.Users != nil {
		assignments["extra_users"] = gorm.Expr("extra_users + ?", *q.Users)
	}

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Ledger{}).
			Where("organization_id = ?", orgID).
			UpdateColumns(assignments)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		// first purchase for this organization
		ledger := Ledger{
			ID:             uuid.New().String(),
			OrganizationID: orgID,
		}
		if q.Messages != nil {
			ledger.ExtraMessages = *q.Messages
		}
		if q.Storage != nil {
			ledger.ExtraStorage = *q.Storage
		}
		if q.Users != nil {
			ledger.ExtraUsers = *q.Users
		}
		return tx.Create(&ledger).Error
	}, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}
