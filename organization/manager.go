package organization

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager handles the database operations relating to Organizations
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for organizations
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Organization{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize organization.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// Create will create a new tenant bound to the given fallback plan
func (m *Manager) Create(ctx context.Context, name, planID string) (*Organization, error) {
	if len(name) == 0 {
		return nil, fmt.Errorf("empty Name is invalid")
	}
	if len(planID) == 0 {
		return nil, fmt.Errorf("empty PlanID is invalid")
	}
	org := &Organization{
		ID:     uuid.New().String(),
		Name:   name,
		PlanID: planID,
	}
	result := m.db.WithContext(ctx).Create(org)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot create a new Organization")
	}
	return org, nil
}

// GetByID will try to return the organization in the database by id
func (m *Manager) GetByID(ctx context.Context, id string) (*Organization, error) {
	var org Organization

	result := m.db.WithContext(ctx).First(&org, "id = ?", id)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get organization by id")
	}

	return &org, nil
}

// BindPlan rebinds the organization's fallback plan. Used when a webhook plan
// change or a switch to the free tier must be reflected on the tenant itself.
func (m *Manager) BindPlan(ctx context.Context, orgID, planID string) error {
	if len(orgID) == 0 {
		return fmt.Errorf("empty OrganizationID is invalid")
	}
	if len(planID) == 0 {
		return fmt.Errorf("empty PlanID is invalid")
	}
	result := m.db.WithContext(ctx).
		Model(&Organization{}).
		Where("id = ?", orgID).
		Update("plan_id", planID)
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot bind organization to plan")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("Unable to find Organization with ID %s", orgID)
	}
	return nil
}
