package vm

import "context"

// ProvisionedHost is the address pair returned by the infrastructure manager
// when a machine finishes provisioning
type ProvisionedHost struct {
	DNSName string
	IP      string
}

// Provisioner drives the external infrastructure manager that creates and
// destroys the actual machines. Failures must not leave ledger side effects.
type Provisioner interface {
	// Setup requests a new machine and returns its addresses
	Setup(ctx context.Context) (*ProvisionedHost, error)

	// PowerOff deallocates the machine identified by its short host name
	PowerOff(ctx context.Context, name string) error
}
