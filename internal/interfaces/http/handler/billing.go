package handler

import (
	appbilling "github.com/biocloudlabs/backend/internal/application/billing"
	"github.com/biocloudlabs/backend/internal/domain/billing"
	"github.com/gin-gonic/gin"
)

// BillingHandler handles credit balance, catalog and checkout endpoints
type BillingHandler struct {
	BaseHandler
	ledgerService   *appbilling.LedgerService
	catalogService  *appbilling.CatalogService
	checkoutService *appbilling.CheckoutService
}

// NewBillingHandler creates a new billing handler
func NewBillingHandler(
	ledgerService *appbilling.LedgerService,
	catalogService *appbilling.CatalogService,
	checkoutService *appbilling.CheckoutService,
) *BillingHandler {
	return &BillingHandler{
		ledgerService:   ledgerService,
		catalogService:  catalogService,
		checkoutService: checkoutService,
	}
}

// GetBalance godoc
// @Summary      Get credit balance
// @Tags         billing
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} dto.Response{data=BalanceResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /billing/balance [get]
func (h *BillingHandler) GetBalance(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}

	account, err := h.ledgerService.GetBalance(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, BalanceResponse{
		AccountID: account.ID.String(),
		Balance:   account.Balance,
	})
}

// GetCatalog godoc
// @Summary      List purchasable credit packages
// @Description  Served from a cached catalog snapshot, cheapest first
// @Tags         billing
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} dto.Response{data=CatalogResponse}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /billing/catalog [get]
func (h *BillingHandler) GetCatalog(c *gin.Context) {
	snapshot, err := h.catalogService.Snapshot(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	products := snapshot.Products()
	responses := make([]ProductResponse, len(products))
	for i, p := range products {
		responses[i] = toProductResponse(p)
	}

	h.Success(c, CatalogResponse{
		Products:  responses,
		FetchedAt: snapshot.FetchedAt,
	})
}

// CreateCheckout godoc
// @Summary      Start a credit package purchase
// @Description  Creates a pending invoice and a hosted checkout session
// @Tags         billing
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body CheckoutRequest true "Catalog product key"
// @Success      201 {object} dto.Response{data=CheckoutResponse}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /billing/checkout [post]
func (h *BillingHandler) CreateCheckout(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body")
		return
	}

	result, err := h.checkoutService.CreateCheckout(c.Request.Context(), userID, req.ProductKey)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, CheckoutResponse{
		InvoiceID:   result.InvoiceID.String(),
		SessionID:   result.SessionID,
		CheckoutURL: result.CheckoutURL,
		Credits:     result.Credits,
	})
}

// ListTransactions godoc
// @Summary      List ledger entries
// @Description  Returns the user's credit movements, newest first
// @Tags         billing
// @Produce      json
// @Security     BearerAuth
// @Param        type query string false "Filter by transaction type" Enums(TOP_UP, USAGE, ADJUSTMENT)
// @Param        source query string false "Filter by source" Enums(SETTLEMENT, VM_POWEROFF, ENFORCEMENT, MANUAL)
// @Param        page query int false "Page number"
// @Param        page_size query int false "Page size"
// @Success      200 {object} dto.Response{data=[]TransactionResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /billing/transactions [get]
func (h *BillingHandler) ListTransactions(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}

	var req TransactionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, "Invalid query parameters")
		return
	}
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	filter := billing.CreditTransactionFilter{
		Page:     req.Page,
		PageSize: req.PageSize,
	}
	if req.Type != "" {
		txType := billing.CreditTransactionType(req.Type)
		filter.TransactionType = &txType
	}
	if req.Source != "" {
		source := billing.CreditTransactionSource(req.Source)
		filter.Source = &source
	}

	transactions, total, err := h.ledgerService.ListTransactions(c.Request.Context(), userID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	responses := make([]TransactionResponse, len(transactions))
	for i, tx := range transactions {
		responses[i] = toTransactionResponse(tx)
	}

	h.SuccessWithMeta(c, responses, total, req.Page, req.PageSize)
}
