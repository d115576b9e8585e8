package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/biocloudlabs/backend/internal/domain/shared"
	"github.com/biocloudlabs/backend/internal/domain/vm"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newMockVMRepository creates a GormVMRepository with a mocked SQL connection
func newMockVMRepository(t *testing.T) (*GormVMRepository, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return NewGormVMRepository(gormDB), mock, mockDB
}

func TestGormVMRepository_FindByDNSName(t *testing.T) {
	t.Run("finds running machine", func(t *testing.T) {
		repo, mock, mockDB := newMockVMRepository(t)
		defer mockDB.Close()

		machineID := uuid.New()
		accountID := uuid.New()

		rows := sqlmock.NewRows([]string{"id", "account_id", "resource_type", "dns_name", "ip", "powered_off_at", "billing_state", "version"}).
			AddRow(machineID, accountID, "Standard_B2s", "vm-abc123.westeurope.cloudapp.azure.com", "20.61.10.5", nil, vm.BillingStateSettled, int64(1))

		mock.ExpectQuery(`SELECT \* FROM "virtual_machines" WHERE dns_name = \$1 ORDER BY .* LIMIT .*`).
			WithArgs("vm-abc123.westeurope.cloudapp.azure.com", 1).
			WillReturnRows(rows)

		machine, err := repo.FindByDNSName(context.Background(), "vm-abc123.westeurope.cloudapp.azure.com")

		assert.NoError(t, err)
		assert.NotNil(t, machine)
		assert.True(t, machine.IsRunning())
		assert.Equal(t, "vm-abc123", machine.ShortName())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns ErrNotFound for unknown name", func(t *testing.T) {
		repo, mock, mockDB := newMockVMRepository(t)
		defer mockDB.Close()

		mock.ExpectQuery(`SELECT \* FROM "virtual_machines" WHERE dns_name = \$1 ORDER BY .* LIMIT .*`).
			WithArgs("ghost.example.com", 1).
			WillReturnError(gorm.ErrRecordNotFound)

		machine, err := repo.FindByDNSName(context.Background(), "ghost.example.com")

		assert.Error(t, err)
		assert.Nil(t, machine)
		assert.Equal(t, shared.ErrNotFound, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormVMRepository_FindByIDForUpdate(t *testing.T) {
	t.Run("locks the row", func(t *testing.T) {
		repo, mock, mockDB := newMockVMRepository(t)
		defer mockDB.Close()

		machineID := uuid.New()
		accountID := uuid.New()

		rows := sqlmock.NewRows([]string{"id", "account_id", "resource_type", "dns_name", "ip", "powered_off_at", "billing_state", "version"}).
			AddRow(machineID, accountID, "Standard_B2s", "vm-abc123.westeurope.cloudapp.azure.com", "20.61.10.5", nil, vm.BillingStateSettled, int64(1))

		mock.ExpectQuery(`SELECT \* FROM "virtual_machines" WHERE id = \$1 ORDER BY .* LIMIT .* FOR UPDATE`).
			WithArgs(machineID, 1).
			WillReturnRows(rows)

		machine, err := repo.FindByIDForUpdate(context.Background(), machineID)

		assert.NoError(t, err)
		assert.NotNil(t, machine)
		assert.Equal(t, machineID, machine.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormVMRepository_FindByAccountID(t *testing.T) {
	t.Run("lists machines newest first", func(t *testing.T) {
		repo, mock, mockDB := newMockVMRepository(t)
		defer mockDB.Close()

		accountID := uuid.New()

		rows := sqlmock.NewRows([]string{"id", "account_id", "resource_type", "dns_name", "ip", "powered_off_at", "billing_state", "version"}).
			AddRow(uuid.New(), accountID, "Standard_B2s", "vm-one.westeurope.cloudapp.azure.com", "20.61.10.5", nil, vm.BillingStateSettled, int64(1)).
			AddRow(uuid.New(), accountID, "Standard_B2s", "vm-two.westeurope.cloudapp.azure.com", "20.61.10.6", nil, vm.BillingStateSettled, int64(1))

		mock.ExpectQuery(`SELECT \* FROM "virtual_machines" WHERE account_id = \$1 ORDER BY created_at DESC`).
			WithArgs(accountID).
			WillReturnRows(rows)

		machines, err := repo.FindByAccountID(context.Background(), accountID)

		assert.NoError(t, err)
		assert.Len(t, machines, 2)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns empty slice for account with no machines", func(t *testing.T) {
		repo, mock, mockDB := newMockVMRepository(t)
		defer mockDB.Close()

		accountID := uuid.New()

		mock.ExpectQuery(`SELECT \* FROM "virtual_machines" WHERE account_id = \$1 ORDER BY created_at DESC`).
			WithArgs(accountID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "resource_type", "dns_name", "ip", "powered_off_at", "billing_state", "version"}))

		machines, err := repo.FindByAccountID(context.Background(), accountID)

		assert.NoError(t, err)
		assert.Empty(t, machines)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormVMRepository_Save(t *testing.T) {
	t.Run("saves power-off state", func(t *testing.T) {
		repo, mock, mockDB := newMockVMRepository(t)
		defer mockDB.Close()

		machine, err := vm.NewVirtualMachine(uuid.New(), "vm-abc123.westeurope.cloudapp.azure.com", "20.61.10.5")
		require.NoError(t, err)
		require.NoError(t, machine.PowerOff(machine.CreatedAt.Add(time.Minute)))

		mock.ExpectExec(`UPDATE "virtual_machines" SET`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err = repo.Save(context.Background(), machine)

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns conflict when version is stale", func(t *testing.T) {
		repo, mock, mockDB := newMockVMRepository(t)
		defer mockDB.Close()

		machine, err := vm.NewVirtualMachine(uuid.New(), "vm-abc123.westeurope.cloudapp.azure.com", "20.61.10.5")
		require.NoError(t, err)

		mock.ExpectExec(`UPDATE "virtual_machines" SET`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err = repo.Save(context.Background(), machine)

		assert.Error(t, err)
		assert.Equal(t, shared.ErrConcurrencyConflict, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormVMRepository_InterfaceCompliance(t *testing.T) {
	t.Run("implements vm.Repository interface", func(t *testing.T) {
		repo, _, mockDB := newMockVMRepository(t)
		defer mockDB.Close()

		var _ vm.Repository = repo
	})
}
