package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/biocloudlabs/backend/internal/domain/vm"
)

// VirtualMachineModel is the persistence model for VM records.
type VirtualMachineModel struct {
	AggregateModel
	AccountID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	ResourceType string          `gorm:"type:varchar(50);not null"`
	DNSName      string          `gorm:"type:varchar(255);not null;uniqueIndex"`
	IP           string          `gorm:"type:varchar(45)"`
	PoweredOffAt *time.Time      `gorm:"index"`
	BillingState vm.BillingState `gorm:"type:varchar(20);not null;default:'SETTLED'"`
}

// TableName returns the table name for GORM
func (VirtualMachineModel) TableName() string {
	return "virtual_machines"
}

// ToDomain converts the persistence model to a domain VirtualMachine
func (m *VirtualMachineModel) ToDomain() *vm.VirtualMachine {
	return &vm.VirtualMachine{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		AccountID:         m.AccountID,
		ResourceType:      m.ResourceType,
		DNSName:           m.DNSName,
		IP:                m.IP,
		PoweredOffAt:      m.PoweredOffAt,
		BillingState:      m.BillingState,
	}
}

// VirtualMachineModelFromDomain converts a domain VirtualMachine to a persistence model
func VirtualMachineModelFromDomain(machine *vm.VirtualMachine) *VirtualMachineModel {
	model := &VirtualMachineModel{
		AccountID:    machine.AccountID,
		ResourceType: machine.ResourceType,
		DNSName:      machine.DNSName,
		IP:           machine.IP,
		PoweredOffAt: machine.PoweredOffAt,
		BillingState: machine.BillingState,
	}
	model.FromDomainAggregateRoot(machine.BaseAggregateRoot)
	return model
}
