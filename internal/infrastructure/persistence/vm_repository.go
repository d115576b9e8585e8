package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/biocloudlabs/backend/internal/domain/shared"
	"github.com/biocloudlabs/backend/internal/domain/vm"
	"github.com/biocloudlabs/backend/internal/infrastructure/persistence/models"
)

// GormVMRepository implements vm.Repository using GORM
type GormVMRepository struct {
	db *gorm.DB
}

// NewGormVMRepository creates a new GormVMRepository
func NewGormVMRepository(db *gorm.DB) *GormVMRepository {
	return &GormVMRepository{db: db}
}

// FindByID finds a VM record by ID
func (r *GormVMRepository) FindByID(ctx context.Context, id uuid.UUID) (*vm.VirtualMachine, error) {
	return r.findOne(ctx, false, "id = ?", id)
}

// FindByIDForUpdate finds the record and takes a row lock. A user-initiated
// power-off racing a forced shutdown serializes on this lock.
func (r *GormVMRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*vm.VirtualMachine, error) {
	return r.findOne(ctx, true, "id = ?", id)
}

// FindByDNSName finds a VM record by its DNS name
func (r *GormVMRepository) FindByDNSName(ctx context.Context, dnsName string) (*vm.VirtualMachine, error) {
	return r.findOne(ctx, false, "dns_name = ?", dnsName)
}

// FindByDNSNameForUpdate is FindByDNSName with a row lock
func (r *GormVMRepository) FindByDNSNameForUpdate(ctx context.Context, dnsName string) (*vm.VirtualMachine, error) {
	return r.findOne(ctx, true, "dns_name = ?", dnsName)
}

func (r *GormVMRepository) findOne(ctx context.Context, locked bool, query string, arg any) (*vm.VirtualMachine, error) {
	db := conn(ctx, r.db)
	if locked {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model models.VirtualMachineModel
	if err := db.Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByAccountID lists all VM records for an account, newest first
func (r *GormVMRepository) FindByAccountID(ctx context.Context, accountID uuid.UUID) ([]*vm.VirtualMachine, error) {
	var machineModels []models.VirtualMachineModel
	if err := conn(ctx, r.db).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Find(&machineModels).Error; err != nil {
		return nil, err
	}
	machines := make([]*vm.VirtualMachine, len(machineModels))
	for i, model := range machineModels {
		machines[i] = model.ToDomain()
	}
	return machines, nil
}

// Create persists a new VM record
func (r *GormVMRepository) Create(ctx context.Context, machine *vm.VirtualMachine) error {
	model := models.VirtualMachineModelFromDomain(machine)
	if err := conn(ctx, r.db).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// Save persists power-off state changes with an optimistic version guard
func (r *GormVMRepository) Save(ctx context.Context, machine *vm.VirtualMachine) error {
	model := models.VirtualMachineModelFromDomain(machine)
	result := conn(ctx, r.db).Model(&models.VirtualMachineModel{}).
		Where("id = ? AND version <= ?", model.ID, model.Version).
		Updates(map[string]any{
			"powered_off_at": model.PoweredOffAt,
			"billing_state":  model.BillingState,
			"version":        model.Version,
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}
