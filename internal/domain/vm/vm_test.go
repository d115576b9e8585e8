package vm

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVirtualMachine(t *testing.T) {
	t.Run("creates running record", func(t *testing.T) {
		accountID := uuid.New()
		machine, err := NewVirtualMachine(accountID, "blast-7f3a.westeurope.cloudapp.azure.com", "20.31.4.10")

		require.NoError(t, err)
		assert.Equal(t, accountID, machine.AccountID)
		assert.Equal(t, DefaultResourceType, machine.ResourceType)
		assert.True(t, machine.IsRunning())
		assert.Equal(t, BillingStateSettled, machine.BillingState)
	})

	t.Run("fails with nil account", func(t *testing.T) {
		_, err := NewVirtualMachine(uuid.Nil, "blast-7f3a.example.com", "1.2.3.4")
		assert.Error(t, err)
	})

	t.Run("fails with empty dns name", func(t *testing.T) {
		_, err := NewVirtualMachine(uuid.New(), "", "1.2.3.4")
		assert.Error(t, err)
	})
}

func TestVirtualMachineShortName(t *testing.T) {
	machine, _ := NewVirtualMachine(uuid.New(), "blast-7f3a.westeurope.cloudapp.azure.com", "1.2.3.4")
	assert.Equal(t, "blast-7f3a", machine.ShortName())

	bare, _ := NewVirtualMachine(uuid.New(), "blast-7f3a", "1.2.3.4")
	assert.Equal(t, "blast-7f3a", bare.ShortName())
}

func TestVirtualMachinePowerOff(t *testing.T) {
	t.Run("sets the power-off timestamp once", func(t *testing.T) {
		machine, _ := NewVirtualMachine(uuid.New(), "blast-1.example.com", "1.2.3.4")
		at := machine.CreatedAt.Add(25 * time.Minute)

		require.NoError(t, machine.PowerOff(at))
		assert.False(t, machine.IsRunning())
		assert.Equal(t, at, *machine.PoweredOffAt)
	})

	t.Run("second power-off is rejected", func(t *testing.T) {
		machine, _ := NewVirtualMachine(uuid.New(), "blast-1.example.com", "1.2.3.4")
		require.NoError(t, machine.PowerOff(machine.CreatedAt.Add(time.Minute)))

		err := machine.PowerOff(machine.CreatedAt.Add(2 * time.Minute))
		assert.Error(t, err)
	})

	t.Run("timestamp before creation is clamped", func(t *testing.T) {
		machine, _ := NewVirtualMachine(uuid.New(), "blast-1.example.com", "1.2.3.4")

		require.NoError(t, machine.PowerOff(machine.CreatedAt.Add(-time.Hour)))
		assert.Equal(t, machine.CreatedAt, *machine.PoweredOffAt)
		assert.False(t, machine.PoweredOffAt.Before(machine.CreatedAt))
	})
}

func TestVirtualMachineRuntimeEnd(t *testing.T) {
	machine, _ := NewVirtualMachine(uuid.New(), "blast-1.example.com", "1.2.3.4")
	fallback := machine.CreatedAt.Add(time.Hour)

	assert.Equal(t, fallback, machine.RuntimeEnd(fallback))

	offAt := machine.CreatedAt.Add(10 * time.Minute)
	require.NoError(t, machine.PowerOff(offAt))
	assert.Equal(t, offAt, machine.RuntimeEnd(fallback))
}

func TestVirtualMachineOwnership(t *testing.T) {
	owner := uuid.New()
	machine, _ := NewVirtualMachine(owner, "blast-1.example.com", "1.2.3.4")

	assert.True(t, machine.OwnedBy(owner))
	assert.False(t, machine.OwnedBy(uuid.New()))
}

func TestVirtualMachineFlagReconciliation(t *testing.T) {
	machine, _ := NewVirtualMachine(uuid.New(), "blast-1.example.com", "1.2.3.4")
	machine.FlagReconciliation()
	assert.Equal(t, BillingStateReconcile, machine.BillingState)
}
