package integration

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biocloudlabs/backend/internal/domain/billing"
	"github.com/biocloudlabs/backend/internal/interfaces/http/dto"
	"github.com/biocloudlabs/backend/tests/testutil"
)

// registerResponse mirrors the register/login payload shape.
type registerResponse struct {
	Token struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
	} `json:"token"`
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

type balanceResponse struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
}

type checkoutResponse struct {
	InvoiceID   string `json:"invoice_id"`
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
	Credits     int64  `json:"credits"`
}

type vmResponse struct {
	ID      string `json:"id"`
	DNSName string `json:"dns_name"`
	IP      string `json:"ip"`
	Running bool   `json:"running"`
}

func registerUser(t *testing.T, srv *TestServer, email string) registerResponse {
	t.Helper()

	w := testutil.PerformRequest(t, srv.Engine, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":    email,
		"name":     "Ada",
		"surname":  "Lovelace",
		"password": "Str0ngPassword",
	}, nil)

	var resp registerResponse
	testutil.RequireSuccess(t, w, http.StatusCreated, &resp)
	require.NotEmpty(t, resp.Token.AccessToken)
	return resp
}

func currentBalance(t *testing.T, srv *TestServer, token string) balanceResponse {
	t.Helper()

	w := testutil.PerformRequest(t, srv.Engine, http.MethodGet, "/api/v1/billing/balance", nil, testutil.AuthHeader(token))
	var resp balanceResponse
	testutil.RequireSuccess(t, w, http.StatusOK, &resp)
	return resp
}

func deliverWebhook(t *testing.T, srv *TestServer, event billing.WebhookEvent, signature string) *struct {
	Received bool   `json:"received"`
	Message  string `json:"message"`
} {
	t.Helper()

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	headers := map[string]string{}
	if signature != "" {
		headers["Stripe-Signature"] = signature
	}
	w := testutil.PerformRaw(t, srv.Engine, http.MethodPost, "/api/v1/webhooks/stripe", payload, headers)

	resp := &struct {
		Received bool   `json:"received"`
		Message  string `json:"message"`
	}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), resp))
	return resp
}

// purchaseCredits runs checkout and settles it through the webhook,
// returning the number of credits added.
func purchaseCredits(t *testing.T, srv *TestServer, token, productKey string) int64 {
	t.Helper()

	w := testutil.PerformRequest(t, srv.Engine, http.MethodPost, "/api/v1/billing/checkout", map[string]string{
		"product_key": productKey,
	}, testutil.AuthHeader(token))

	var checkout checkoutResponse
	testutil.RequireSuccess(t, w, http.StatusCreated, &checkout)
	require.NotEmpty(t, checkout.SessionID)

	resp := deliverWebhook(t, srv, billing.WebhookEvent{
		ID:        "evt_" + uuid.NewString(),
		Type:      billing.WebhookEventCheckoutCompleted,
		SessionID: checkout.SessionID,
		Metadata:  map[string]string{"invoice_id": checkout.InvoiceID},
	}, testWebhookSignature)
	require.True(t, resp.Received)

	return checkout.Credits
}

func TestEndToEndCreditAndComputeFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv := NewTestServer(t, NewTestDB(t))

	account := registerUser(t, srv, "ada@example.com")
	token := account.Token.AccessToken

	// Fresh accounts start empty.
	balance := currentBalance(t, srv, token)
	assert.Equal(t, int64(0), balance.Balance)

	// Buying the starter package credits the account once the webhook
	// settles.
	credits := purchaseCredits(t, srv, token, "price_starter")
	assert.Equal(t, int64(500), credits)

	balance = currentBalance(t, srv, token)
	assert.Equal(t, int64(500), balance.Balance)

	// Provision a machine against the new balance.
	w := testutil.PerformRequest(t, srv.Engine, http.MethodPost, "/api/v1/vms/setup", nil, testutil.AuthHeader(token))
	var machine vmResponse
	testutil.RequireSuccess(t, w, http.StatusCreated, &machine)
	assert.Equal(t, "dcu1.biocloudlabs.es", machine.DNSName)
	assert.True(t, machine.Running)

	// Powering off settles the runtime charge. The flat schedule bills
	// only the fixed overhead.
	w = testutil.PerformRequest(t, srv.Engine, http.MethodDelete, "/api/v1/vms/"+machine.ID, nil, testutil.AuthHeader(token))
	var powerOff struct {
		Machine   vmResponse `json:"machine"`
		Charged   int64      `json:"charged"`
		Reconcile bool       `json:"reconcile"`
	}
	testutil.RequireSuccess(t, w, http.StatusOK, &powerOff)
	assert.Equal(t, int64(7), powerOff.Charged)
	assert.False(t, powerOff.Machine.Running)
	assert.False(t, powerOff.Reconcile)
	assert.Equal(t, []string{"dcu1"}, srv.Provisioner.poweredOff)

	balance = currentBalance(t, srv, token)
	assert.Equal(t, int64(493), balance.Balance)

	// The ledger records both sides of the flow.
	w = testutil.PerformRequest(t, srv.Engine, http.MethodGet, "/api/v1/billing/transactions", nil, testutil.AuthHeader(token))
	var transactions []struct {
		TransactionType string `json:"transaction_type"`
		SignedAmount    int64  `json:"signed_amount"`
	}
	resp := testutil.RequireSuccess(t, w, http.StatusOK, &transactions)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(2), resp.Meta.Total)

	byType := map[string]int64{}
	for _, tx := range transactions {
		byType[tx.TransactionType] = tx.SignedAmount
	}
	assert.Equal(t, int64(500), byType["TOP_UP"])
	assert.Equal(t, int64(-7), byType["USAGE"])

	// Usage history reports the settled machine.
	w = testutil.PerformRequest(t, srv.Engine, http.MethodGet, "/api/v1/vms/history", nil, testutil.AuthHeader(token))
	var history []struct {
		Machine     vmResponse `json:"machine"`
		AccruedCost int64      `json:"accrued_cost"`
		Running     bool       `json:"running"`
	}
	testutil.RequireSuccess(t, w, http.StatusOK, &history)
	require.Len(t, history, 1)
	assert.Equal(t, int64(7), history[0].AccruedCost)
	assert.False(t, history[0].Running)
}

func TestWebhookSettlementIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv := NewTestServer(t, NewTestDB(t))

	account := registerUser(t, srv, "grace@example.com")
	token := account.Token.AccessToken

	w := testutil.PerformRequest(t, srv.Engine, http.MethodPost, "/api/v1/billing/checkout", map[string]string{
		"product_key": "price_lab",
	}, testutil.AuthHeader(token))
	var checkout checkoutResponse
	testutil.RequireSuccess(t, w, http.StatusCreated, &checkout)

	event := billing.WebhookEvent{
		ID:        "evt_" + uuid.NewString(),
		Type:      billing.WebhookEventCheckoutCompleted,
		SessionID: checkout.SessionID,
		Metadata:  map[string]string{"invoice_id": checkout.InvoiceID},
	}

	resp := deliverWebhook(t, srv, event, testWebhookSignature)
	require.True(t, resp.Received)

	// Same event again. The claim on the event ID and the terminal
	// invoice state both prevent a double credit.
	resp = deliverWebhook(t, srv, event, testWebhookSignature)
	require.True(t, resp.Received)

	balance := currentBalance(t, srv, token)
	assert.Equal(t, int64(2500), balance.Balance)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv := NewTestServer(t, NewTestDB(t))

	resp := deliverWebhook(t, srv, billing.WebhookEvent{
		ID:   "evt_" + uuid.NewString(),
		Type: billing.WebhookEventCheckoutCompleted,
	}, "t=forged,v1=bogus")
	assert.False(t, resp.Received)
}

func TestEnforcementPowersOffExhaustedMachine(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv := NewTestServer(t, NewTestDB(t))

	account := registerUser(t, srv, "edsger@example.com")
	token := account.Token.AccessToken
	purchaseCredits(t, srv, token, "price_starter")

	w := testutil.PerformRequest(t, srv.Engine, http.MethodPost, "/api/v1/vms/setup", nil, testutil.AuthHeader(token))
	var machine vmResponse
	testutil.RequireSuccess(t, w, http.StatusCreated, &machine)

	// A funded account passes the sweep untouched. The endpoint is
	// public so the external scheduler can call it.
	w = testutil.PerformRequest(t, srv.Engine, http.MethodGet, "/api/v1/vms/check/"+machine.DNSName, nil, nil)
	var check struct {
		DNSName       string `json:"dns_name"`
		Running       bool   `json:"running"`
		ProjectedCost int64  `json:"projected_cost"`
		Balance       int64  `json:"balance"`
		Enforced      bool   `json:"enforced"`
		Charged       int64  `json:"charged"`
	}
	testutil.RequireSuccess(t, w, http.StatusOK, &check)
	assert.False(t, check.Enforced)
	assert.True(t, check.Running)
	assert.Equal(t, int64(7), check.ProjectedCost)

	// Drain the account below the projected cost and sweep again.
	err := srv.DB.DB.Exec("UPDATE accounts SET balance = 3").Error
	require.NoError(t, err)

	w = testutil.PerformRequest(t, srv.Engine, http.MethodGet, "/api/v1/vms/check/"+machine.DNSName, nil, nil)
	testutil.RequireSuccess(t, w, http.StatusOK, &check)
	assert.True(t, check.Enforced)
	assert.False(t, check.Running)
	assert.Equal(t, int64(3), check.Charged)
	assert.Equal(t, int64(0), check.Balance)
	assert.Contains(t, srv.Provisioner.poweredOff, "dcu1")

	// The owner is told their machine was stopped.
	emails := srv.Sender.emails()
	require.NotEmpty(t, emails)
	assert.Equal(t, "edsger@example.com", emails[len(emails)-1].To)
}

func TestAuthTokenLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv := NewTestServer(t, NewTestDB(t))

	account := registerUser(t, srv, "alan@example.com")

	// Profile access requires a bearer token.
	w := testutil.PerformRequest(t, srv.Engine, http.MethodGet, "/api/v1/users/profile", nil, nil)
	testutil.RequireErrorCode(t, w, http.StatusUnauthorized, dto.ErrCodeUnauthorized)

	w = testutil.PerformRequest(t, srv.Engine, http.MethodGet, "/api/v1/users/profile", nil, testutil.AuthHeader(account.Token.AccessToken))
	var profile struct {
		Email string `json:"email"`
	}
	testutil.RequireSuccess(t, w, http.StatusOK, &profile)
	assert.Equal(t, "alan@example.com", profile.Email)

	// Refresh rotates the pair.
	w = testutil.PerformRequest(t, srv.Engine, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": account.Token.RefreshToken,
	}, nil)
	var refreshed struct {
		Token struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
		} `json:"token"`
	}
	testutil.RequireSuccess(t, w, http.StatusOK, &refreshed)
	require.NotEmpty(t, refreshed.Token.AccessToken)

	// Logout revokes the refresh token.
	w = testutil.PerformRequest(t, srv.Engine, http.MethodPost, "/api/v1/auth/logout", map[string]string{
		"refresh_token": refreshed.Token.RefreshToken,
	}, testutil.AuthHeader(refreshed.Token.AccessToken))
	testutil.RequireSuccess(t, w, http.StatusOK, nil)

	w = testutil.PerformRequest(t, srv.Engine, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": refreshed.Token.RefreshToken,
	}, nil)
	testutil.RequireErrorCode(t, w, http.StatusUnauthorized, dto.ErrCodeUnauthorized)
}
