package handler

import (
	"strings"
	"time"

	"github.com/biocloudlabs/backend/internal/domain/billing"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// BalanceResponse represents the credit balance of the authenticated user
type BalanceResponse struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
}

// ProductResponse represents a purchasable credit package
type ProductResponse struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	Price        string `json:"price"`
	Currency     string `json:"currency"`
	DisplayPrice string `json:"display_price"`
	Credits      int64  `json:"credits"`
}

// CatalogResponse represents the current product catalog
type CatalogResponse struct {
	Products  []ProductResponse `json:"products"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// CheckoutRequest represents the checkout creation request body
type CheckoutRequest struct {
	ProductKey string `json:"product_key" binding:"required"`
}

// CheckoutResponse represents a created checkout session
type CheckoutResponse struct {
	InvoiceID   string `json:"invoice_id"`
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
	Credits     int64  `json:"credits"`
}

// TransactionListRequest represents the ledger listing query parameters
type TransactionListRequest struct {
	Type     string `form:"type" binding:"omitempty,oneof=TOP_UP USAGE ADJUSTMENT"`
	Source   string `form:"source" binding:"omitempty,oneof=SETTLEMENT VM_POWEROFF ENFORCEMENT MANUAL"`
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// TransactionResponse represents one ledger entry
type TransactionResponse struct {
	ID              string    `json:"id"`
	TransactionType string    `json:"transaction_type"`
	Amount          int64     `json:"amount"`
	SignedAmount    int64     `json:"signed_amount"`
	BalanceBefore   int64     `json:"balance_before"`
	BalanceAfter    int64     `json:"balance_after"`
	Source          string    `json:"source"`
	SourceID        string    `json:"source_id,omitempty"`
	Remark          string    `json:"remark,omitempty"`
	TransactionDate time.Time `json:"transaction_date"`
}

func toProductResponse(p billing.Product) ProductResponse {
	return ProductResponse{
		Key:          p.Key,
		Name:         p.Name,
		Price:        p.Price.StringFixed(2),
		Currency:     strings.ToUpper(p.Currency),
		DisplayPrice: formatDisplayPrice(p.Price, p.Currency),
		Credits:      p.Credits,
	}
}

// formatDisplayPrice renders a localized price string such as "€5.00"
func formatDisplayPrice(price decimal.Decimal, currencyCode string) string {
	unit, err := currency.ParseISO(currencyCode)
	if err != nil {
		return price.StringFixed(2) + " " + strings.ToUpper(currencyCode)
	}
	printer := message.NewPrinter(language.English)
	return printer.Sprintf("%v", currency.Symbol(unit.Amount(price.InexactFloat64())))
}

func toTransactionResponse(tx *billing.CreditTransaction) TransactionResponse {
	resp := TransactionResponse{
		ID:              tx.ID.String(),
		TransactionType: string(tx.TransactionType),
		Amount:          tx.Amount,
		SignedAmount:    tx.SignedAmount(),
		BalanceBefore:   tx.BalanceBefore,
		BalanceAfter:    tx.BalanceAfter,
		Source:          string(tx.Source),
		Remark:          tx.Remark,
		TransactionDate: tx.TransactionDate,
	}
	if tx.SourceID != nil {
		resp.SourceID = *tx.SourceID
	}
	return resp
}
