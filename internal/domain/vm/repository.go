package vm

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the interface for virtual machine record persistence
type Repository interface {
	// FindByID finds a VM record by ID
	FindByID(ctx context.Context, id uuid.UUID) (*VirtualMachine, error)

	// FindByIDForUpdate finds the record and takes a row lock when called
	// inside a transaction, serializing concurrent power-off attempts
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*VirtualMachine, error)

	// FindByDNSName finds a VM record by its DNS name
	FindByDNSName(ctx context.Context, dnsName string) (*VirtualMachine, error)

	// FindByDNSNameForUpdate is FindByDNSName with a row lock inside a transaction
	FindByDNSNameForUpdate(ctx context.Context, dnsName string) (*VirtualMachine, error)

	// FindByAccountID lists all VM records for an account, newest first
	FindByAccountID(ctx context.Context, accountID uuid.UUID) ([]*VirtualMachine, error)

	// Create persists a new VM record
	Create(ctx context.Context, machine *VirtualMachine) error

	// Save persists power-off state changes for an existing record
	Save(ctx context.Context, machine *VirtualMachine) error
}
