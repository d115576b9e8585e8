package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appbilling "github.com/biocloudlabs/backend/internal/application/billing"
	identityapp "github.com/biocloudlabs/backend/internal/application/identity"
	appvm "github.com/biocloudlabs/backend/internal/application/vm"
	"github.com/biocloudlabs/backend/internal/domain/billing"
	"github.com/biocloudlabs/backend/internal/domain/shared"
	"github.com/biocloudlabs/backend/internal/domain/vm"
	"github.com/biocloudlabs/backend/internal/infrastructure/auth"
	"github.com/biocloudlabs/backend/internal/infrastructure/cache"
	"github.com/biocloudlabs/backend/internal/infrastructure/config"
	"github.com/biocloudlabs/backend/internal/infrastructure/notification"
	"github.com/biocloudlabs/backend/internal/infrastructure/persistence"
	"github.com/biocloudlabs/backend/internal/infrastructure/telemetry"
	"github.com/biocloudlabs/backend/internal/interfaces/http/handler"
	"github.com/biocloudlabs/backend/internal/interfaces/http/middleware"
	"github.com/biocloudlabs/backend/internal/interfaces/http/router"
)

const testWebhookSignature = "t=integration,v1=valid"

// fixedCatalogProvider serves a static catalog so checkout flows do not
// reach the payment processor.
type fixedCatalogProvider struct {
	snapshot *billing.CatalogSnapshot
}

func (p *fixedCatalogProvider) Fetch(_ context.Context) (*billing.CatalogSnapshot, error) {
	return p.snapshot, nil
}

// localCheckoutGateway hands out deterministic session IDs and remembers
// which invoice each session belongs to.
type localCheckoutGateway struct {
	mu       sync.Mutex
	sessions map[string]string // session ID -> invoice ID
	seq      int
}

func (g *localCheckoutGateway) CreateSession(_ context.Context, invoice *billing.Invoice, _ billing.Product) (*billing.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	id := fmt.Sprintf("cs_local_%03d", g.seq)
	if g.sessions == nil {
		g.sessions = make(map[string]string)
	}
	g.sessions[id] = invoice.ID.String()
	return &billing.CheckoutSession{
		ID:  id,
		URL: "https://checkout.local/pay/" + id,
	}, nil
}

// jsonWebhookVerifier accepts deliveries carrying the fixed test
// signature and decodes the payload as a plain JSON event.
type jsonWebhookVerifier struct{}

func (jsonWebhookVerifier) Verify(payload []byte, signature string) (*billing.WebhookEvent, error) {
	if signature != testWebhookSignature {
		return nil, shared.ErrSignatureInvalid
	}
	var event billing.WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, shared.ErrSignatureInvalid
	}
	return &event, nil
}

// localProvisioner allocates hosts from a fixed pool and records power
// off calls.
type localProvisioner struct {
	mu         sync.Mutex
	seq        int
	poweredOff []string
}

func (p *localProvisioner) Setup(_ context.Context) (*vm.ProvisionedHost, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	return &vm.ProvisionedHost{
		DNSName: fmt.Sprintf("dcu%d.biocloudlabs.es", p.seq),
		IP:      fmt.Sprintf("20.50.10.%d", p.seq),
	}, nil
}

func (p *localProvisioner) PowerOff(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.poweredOff = append(p.poweredOff, name)
	return nil
}

// capturingSender keeps outbound mail in memory for assertions.
type capturingSender struct {
	mu   sync.Mutex
	sent []notification.Email
}

func (s *capturingSender) Send(_ context.Context, email notification.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, email)
	return nil
}

func (s *capturingSender) emails() []notification.Email {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notification.Email(nil), s.sent...)
}

// TestServer wires the full API against a real database with local
// stand-ins for the payment processor, the provisioner and email.
type TestServer struct {
	DB          *TestDB
	Engine      *gin.Engine
	Gateway     *localCheckoutGateway
	Provisioner *localProvisioner
	Sender      *capturingSender
	Schedule    billing.RateSchedule
}

func integrationCatalog() *billing.CatalogSnapshot {
	return billing.NewCatalogSnapshot(time.Now().UTC(), []billing.Product{
		{
			Key:      "price_starter",
			Name:     "Starter credit package",
			Price:    decimal.RequireFromString("5.00"),
			Currency: "eur",
			Credits:  500,
		},
		{
			Key:      "price_lab",
			Name:     "Lab credit package",
			Price:    decimal.RequireFromString("19.99"),
			Currency: "eur",
			Credits:  2500,
		},
	})
}

// flatSchedule bills only the fixed overhead so charges are stable no
// matter how long a test takes to run.
func flatSchedule(overhead int64) billing.RateSchedule {
	return billing.RateSchedule{
		ComputePerMinute: decimal.Zero,
		NetworkPerMinute: decimal.Zero,
		StoragePerMinute: decimal.Zero,
		CreditsPerUnit:   decimal.NewFromInt(1),
		Overhead:         overhead,
		GraceWindow:      5 * time.Minute,
	}
}

// NewTestServer builds the complete HTTP surface the way the server
// binary does, backed by the given test database.
func NewTestServer(t *testing.T, testDB *TestDB) *TestServer {
	t.Helper()

	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	db := persistence.NewDatabaseFromGorm(testDB.DB)

	userRepo := persistence.NewGormUserRepository(testDB.DB)
	accountRepo := persistence.NewGormAccountRepository(testDB.DB)
	creditTxRepo := persistence.NewGormCreditTransactionRepository(testDB.DB)
	invoiceRepo := persistence.NewGormInvoiceRepository(testDB.DB)
	vmRepo := persistence.NewGormVMRepository(testDB.DB)

	billingMetrics, err := telemetry.NewBillingMetrics()
	require.NoError(t, err)

	jwtService := auth.NewJWTService(config.JWTConfig{
		Secret:                 "integration-secret-key-1234567890abcdef",
		AccessTokenExpiration:  15 * time.Minute,
		RefreshTokenExpiration: 24 * time.Hour,
		RecoveryExpiration:     15 * time.Minute,
		Issuer:                 "biocloudlabs-integration",
	})
	blacklist := auth.NewInMemoryTokenBlacklist()
	sender := &capturingSender{}

	authService := identityapp.NewAuthService(
		userRepo, accountRepo, db, jwtService, blacklist, sender,
		"https://app.biocloudlabs.es/recover", log,
	)
	userService := identityapp.NewUserService(userRepo, log)

	catalogService := appbilling.NewCatalogService(&fixedCatalogProvider{snapshot: integrationCatalog()}, time.Minute, log)
	ledgerService := appbilling.NewLedgerService(accountRepo, creditTxRepo, db, billingMetrics, log)
	gateway := &localCheckoutGateway{}
	checkoutService := appbilling.NewCheckoutService(
		catalogService, invoiceRepo, accountRepo, gateway, billingMetrics, log,
	)
	settlementService := appbilling.NewSettlementService(
		jsonWebhookVerifier{}, invoiceRepo, ledgerService, db,
		cache.NewInMemoryIdempotencyStore(), billingMetrics, log,
	)

	schedule := flatSchedule(7)
	provisioner := &localProvisioner{}
	lifecycleService := appvm.NewLifecycleService(
		vmRepo, accountRepo, userRepo, ledgerService, provisioner, db,
		schedule, sender, billingMetrics, log,
	)

	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService, authService)
	billingHandler := handler.NewBillingHandler(ledgerService, catalogService, checkoutService)
	vmHandler := handler.NewVMHandler(lifecycleService)
	webhookHandler := handler.NewStripeWebhookHandler(settlementService)

	middleware.SetupValidator()

	engine := gin.New()
	r := router.NewRouter(engine, router.WithAPIVersion("v1"))

	jwtConfig := middleware.DefaultJWTConfig(jwtService)
	jwtConfig.TokenBlacklist = blacklist
	r.Use(middleware.JWTAuthMiddlewareWithConfig(jwtConfig))

	authRoutes := router.NewDomainGroup("auth", "/auth")
	authRoutes.POST("/register", authHandler.Register)
	authRoutes.POST("/login", authHandler.Login)
	authRoutes.POST("/refresh", authHandler.RefreshToken)
	authRoutes.POST("/recover", authHandler.RecoverPassword)
	authRoutes.POST("/reset", authHandler.ResetPassword)
	authRoutes.POST("/logout", authHandler.Logout)

	userRoutes := router.NewDomainGroup("users", "/users")
	userRoutes.GET("/profile", userHandler.GetProfile)
	userRoutes.PUT("/profile", userHandler.UpdateProfile)
	userRoutes.POST("/password", userHandler.ChangePassword)

	billingRoutes := router.NewDomainGroup("billing", "/billing")
	billingRoutes.GET("/balance", billingHandler.GetBalance)
	billingRoutes.GET("/catalog", billingHandler.GetCatalog)
	billingRoutes.GET("/transactions", billingHandler.ListTransactions)
	billingRoutes.POST("/checkout", billingHandler.CreateCheckout)

	webhookRoutes := router.NewDomainGroup("webhooks", "/webhooks")
	webhookRoutes.POST("/stripe", webhookHandler.HandleStripeWebhook)

	vmRoutes := router.NewDomainGroup("vms", "/vms")
	vmRoutes.POST("/setup", vmHandler.Setup)
	vmRoutes.DELETE("/:id", vmHandler.PowerOff)
	vmRoutes.GET("/history", vmHandler.History)
	vmRoutes.GET("/check/:name", vmHandler.CheckAndEnforce)

	r.Register(authRoutes).
		Register(userRoutes).
		Register(billingRoutes).
		Register(webhookRoutes).
		Register(vmRoutes)
	r.Setup()

	return &TestServer{
		DB:          testDB,
		Engine:      engine,
		Gateway:     gateway,
		Provisioner: provisioner,
		Sender:      sender,
		Schedule:    schedule,
	}
}
