package payment

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/price"
	"go.uber.org/zap"

	"github.com/biocloudlabs/backend/internal/domain/billing"
	"github.com/biocloudlabs/backend/internal/infrastructure/config"
)

// creditsMetadataKey is the Stripe metadata field that declares how many
// credits a price grants. Prices without it are not sellable packages.
const creditsMetadataKey = "credits"

// StripeCatalogProvider lists active prices from Stripe and turns them into
// catalog snapshots keyed by price ID
type StripeCatalogProvider struct {
	logger *zap.Logger
}

// NewStripeCatalogProvider creates a catalog provider. The Stripe API key is
// process-global in stripe-go, so it is set once here.
func NewStripeCatalogProvider(cfg config.StripeConfig, logger *zap.Logger) *StripeCatalogProvider {
	stripe.Key = cfg.SecretKey
	return &StripeCatalogProvider{logger: logger}
}

// Fetch lists active prices with their products and builds a snapshot
func (p *StripeCatalogProvider) Fetch(ctx context.Context) (*billing.CatalogSnapshot, error) {
	params := &stripe.PriceListParams{
		Active: stripe.Bool(true),
	}
	params.Context = ctx
	params.AddExpand("data.product")

	var products []billing.Product
	iter := price.List(params)
	for iter.Next() {
		pr := iter.Price()
		product, ok := p.toProduct(pr)
		if !ok {
			continue
		}
		products = append(products, product)
	}
	if err := iter.Err(); err != nil {
		p.logger.Error("Failed to list Stripe prices", zap.Error(err))
		return nil, fmt.Errorf("stripe: failed to list prices: %w", err)
	}

	p.logger.Debug("Fetched Stripe catalog", zap.Int("products", len(products)))
	return billing.NewCatalogSnapshot(time.Now().UTC(), products), nil
}

// toProduct maps a Stripe price to a catalog product. Prices without a
// credits grant or with an archived product are skipped.
func (p *StripeCatalogProvider) toProduct(pr *stripe.Price) (billing.Product, bool) {
	if pr.Product == nil || !pr.Product.Active {
		return billing.Product{}, false
	}

	creditsRaw, ok := pr.Metadata[creditsMetadataKey]
	if !ok {
		creditsRaw, ok = pr.Product.Metadata[creditsMetadataKey]
	}
	if !ok {
		return billing.Product{}, false
	}

	credits, err := strconv.ParseInt(creditsRaw, 10, 64)
	if err != nil || credits <= 0 {
		p.logger.Warn("Skipping Stripe price with invalid credits metadata",
			zap.String("price_id", pr.ID),
			zap.String("credits", creditsRaw),
		)
		return billing.Product{}, false
	}

	return billing.Product{
		Key:      pr.ID,
		Name:     pr.Product.Name,
		Price:    decimal.NewFromInt(pr.UnitAmount).Div(decimal.NewFromInt(100)),
		Currency: strings.ToUpper(string(pr.Currency)),
		Credits:  credits,
	}, true
}

var _ billing.CatalogProvider = (*StripeCatalogProvider)(nil)
