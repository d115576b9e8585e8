package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/biocloudlabs/backend/internal/domain/billing"
	"github.com/biocloudlabs/backend/internal/domain/identity"
	"github.com/biocloudlabs/backend/internal/domain/vm"
	"github.com/biocloudlabs/backend/internal/infrastructure/auth"
	"github.com/biocloudlabs/backend/internal/infrastructure/config"
	"github.com/biocloudlabs/backend/internal/infrastructure/notification"
	"github.com/biocloudlabs/backend/internal/infrastructure/telemetry"
	"github.com/biocloudlabs/backend/internal/interfaces/http/dto"
)

// Handler tests run real application services against mocked repositories
// and stubbed upstreams, exercising the full request path below the router.

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.User), args.Error(1)
}

func (m *mockUserRepository) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.User), args.Error(1)
}

func (m *mockUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func (m *mockUserRepository) Create(ctx context.Context, user *identity.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepository) Save(ctx context.Context, user *identity.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

type mockAccountRepository struct {
	mock.Mock
}

func (m *mockAccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Account), args.Error(1)
}

func (m *mockAccountRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*billing.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Account), args.Error(1)
}

func (m *mockAccountRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*billing.Account, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Account), args.Error(1)
}

func (m *mockAccountRepository) FindByUserIDForUpdate(ctx context.Context, userID uuid.UUID) (*billing.Account, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Account), args.Error(1)
}

func (m *mockAccountRepository) Create(ctx context.Context, account *billing.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *mockAccountRepository) Save(ctx context.Context, account *billing.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

type mockLedgerRepository struct {
	mock.Mock
}

func (m *mockLedgerRepository) Create(ctx context.Context, transaction *billing.CreditTransaction) error {
	args := m.Called(ctx, transaction)
	return args.Error(0)
}

func (m *mockLedgerRepository) FindByAccountID(ctx context.Context, accountID uuid.UUID, filter billing.CreditTransactionFilter) ([]*billing.CreditTransaction, int64, error) {
	args := m.Called(ctx, accountID, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*billing.CreditTransaction), args.Get(1).(int64), args.Error(2)
}

func (m *mockLedgerRepository) FindBySourceID(ctx context.Context, source billing.CreditTransactionSource, sourceID string) ([]*billing.CreditTransaction, error) {
	args := m.Called(ctx, source, sourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*billing.CreditTransaction), args.Error(1)
}

type mockInvoiceRepository struct {
	mock.Mock
}

func (m *mockInvoiceRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Invoice), args.Error(1)
}

func (m *mockInvoiceRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Invoice), args.Error(1)
}

func (m *mockInvoiceRepository) FindByAccountID(ctx context.Context, accountID uuid.UUID) ([]*billing.Invoice, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*billing.Invoice), args.Error(1)
}

func (m *mockInvoiceRepository) Create(ctx context.Context, invoice *billing.Invoice) error {
	args := m.Called(ctx, invoice)
	return args.Error(0)
}

func (m *mockInvoiceRepository) Save(ctx context.Context, invoice *billing.Invoice) error {
	args := m.Called(ctx, invoice)
	return args.Error(0)
}

type mockVMRepository struct {
	mock.Mock
}

func (m *mockVMRepository) FindByID(ctx context.Context, id uuid.UUID) (*vm.VirtualMachine, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*vm.VirtualMachine), args.Error(1)
}

func (m *mockVMRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*vm.VirtualMachine, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*vm.VirtualMachine), args.Error(1)
}

func (m *mockVMRepository) FindByDNSName(ctx context.Context, dnsName string) (*vm.VirtualMachine, error) {
	args := m.Called(ctx, dnsName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*vm.VirtualMachine), args.Error(1)
}

func (m *mockVMRepository) FindByDNSNameForUpdate(ctx context.Context, dnsName string) (*vm.VirtualMachine, error) {
	args := m.Called(ctx, dnsName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*vm.VirtualMachine), args.Error(1)
}

func (m *mockVMRepository) FindByAccountID(ctx context.Context, accountID uuid.UUID) ([]*vm.VirtualMachine, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*vm.VirtualMachine), args.Error(1)
}

func (m *mockVMRepository) Create(ctx context.Context, machine *vm.VirtualMachine) error {
	args := m.Called(ctx, machine)
	return args.Error(0)
}

func (m *mockVMRepository) Save(ctx context.Context, machine *vm.VirtualMachine) error {
	args := m.Called(ctx, machine)
	return args.Error(0)
}

// stubTxManager executes the unit of work without a database
type stubTxManager struct{}

func (stubTxManager) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// stubCatalogProvider serves a fixed catalog snapshot
type stubCatalogProvider struct {
	snapshot *billing.CatalogSnapshot
	err      error
}

func (p *stubCatalogProvider) Fetch(context.Context) (*billing.CatalogSnapshot, error) {
	return p.snapshot, p.err
}

// stubCheckoutGateway returns a fixed checkout session
type stubCheckoutGateway struct {
	session *billing.CheckoutSession
	err     error
}

func (g *stubCheckoutGateway) CreateSession(context.Context, *billing.Invoice, billing.Product) (*billing.CheckoutSession, error) {
	return g.session, g.err
}

// stubWebhookVerifier returns a fixed verified event
type stubWebhookVerifier struct {
	event *billing.WebhookEvent
	err   error
}

func (v *stubWebhookVerifier) Verify([]byte, string) (*billing.WebhookEvent, error) {
	return v.event, v.err
}

// stubProvisioner records power-off calls and serves a fixed host
type stubProvisioner struct {
	host        *vm.ProvisionedHost
	setupErr    error
	powerOffErr error
	setupCalls  int
	poweredOff  []string
}

func (p *stubProvisioner) Setup(context.Context) (*vm.ProvisionedHost, error) {
	p.setupCalls++
	if p.setupErr != nil {
		return nil, p.setupErr
	}
	return p.host, nil
}

func (p *stubProvisioner) PowerOff(_ context.Context, name string) error {
	p.poweredOff = append(p.poweredOff, name)
	return p.powerOffErr
}

// recordingSender captures outbound emails
type recordingSender struct {
	sent []notification.Email
}

func (s *recordingSender) Send(_ context.Context, email notification.Email) error {
	s.sent = append(s.sent, email)
	return nil
}

const testPassword = "Str0ngPassword"

func newTestJWTService() *auth.JWTService {
	return auth.NewJWTService(config.JWTConfig{
		Secret:                 "test-secret-key-that-is-long-enough",
		AccessTokenExpiration:  15 * time.Minute,
		RefreshTokenExpiration: 24 * time.Hour,
		RecoveryExpiration:     15 * time.Minute,
		Issuer:                 "biocloudlabs-test",
	})
}

func newBillingMetrics(t *testing.T) *telemetry.BillingMetrics {
	t.Helper()
	metrics, err := telemetry.NewBillingMetrics()
	require.NoError(t, err)
	return metrics
}

func newTestUser(t *testing.T) *identity.User {
	t.Helper()
	user, err := identity.NewUser("ada@example.com", "Ada", "Lovelace", testPassword)
	require.NoError(t, err)
	return user
}

func newTestAccount(t *testing.T, userID uuid.UUID, balance int64) *billing.Account {
	t.Helper()
	account, err := billing.NewAccount(userID)
	require.NoError(t, err)
	account.Balance = balance
	return account
}

func newTestMachine(t *testing.T, accountID uuid.UUID) *vm.VirtualMachine {
	t.Helper()
	machine, err := vm.NewVirtualMachine(accountID, "dcu1.biocloudlabs.es", "20.50.10.5")
	require.NoError(t, err)
	return machine
}

// flatRateSchedule charges only the fixed overhead, so runtime costs do not
// depend on the wall clock during a test run.
func flatRateSchedule(overhead int64) billing.RateSchedule {
	return billing.RateSchedule{
		ComputePerMinute: decimal.Zero,
		NetworkPerMinute: decimal.Zero,
		StoragePerMinute: decimal.Zero,
		CreditsPerUnit:   decimal.NewFromInt(1),
		Overhead:         overhead,
		GraceWindow:      5 * time.Minute,
	}
}

// authAs simulates the JWT middleware for an authenticated user
func authAs(userID uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		setJWTContext(c, userID)
		c.Next()
	}
}

func performRequest(engine *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

// unmarshalBody decodes a raw JSON body that does not use the envelope
func unmarshalBody(w *httptest.ResponseRecorder, out any) error {
	return json.Unmarshal(w.Body.Bytes(), out)
}

// decodeResponse parses the envelope and re-decodes the data payload into out
func decodeResponse(t *testing.T, w *httptest.ResponseRecorder, out any) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	if out != nil && resp.Data != nil {
		raw, err := json.Marshal(resp.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out))
	}
	return resp
}

func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	resp := decodeResponse(t, w, nil)
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	require.Equal(t, code, resp.Error.Code)
}
