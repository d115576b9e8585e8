package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"github.com/biocloudlabs/backend/internal/infrastructure/config"
)

// MeterProvider wraps the OpenTelemetry MeterProvider with lifecycle management
type MeterProvider struct {
	provider *sdkmetric.MeterProvider
	logger   *zap.Logger
}

// NewMeterProvider creates a MeterProvider exporting over OTLP gRPC.
// When telemetry is disabled it returns a no-op provider.
func NewMeterProvider(ctx context.Context, cfg config.TelemetryConfig, logger *zap.Logger) (*MeterProvider, error) {
	mp := &MeterProvider{logger: logger}

	if !cfg.Enabled {
		logger.Info("Metrics disabled, using no-op meter provider")
		return mp, nil
	}

	exporterOpts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.CollectorEndpoint),
	}
	if cfg.Insecure {
		exporterOpts = append(exporterOpts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}

	res, err := newResource(cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	mp.provider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(60*time.Second)),
		),
	)
	otel.SetMeterProvider(mp.provider)

	logger.Info("OpenTelemetry MeterProvider initialized",
		zap.String("collector_endpoint", cfg.CollectorEndpoint),
	)
	return mp, nil
}

// Shutdown flushes pending metrics and shuts the provider down
func (mp *MeterProvider) Shutdown(ctx context.Context) error {
	if mp.provider == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := mp.provider.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}
	return nil
}

// BillingMetrics holds the domain instruments
type BillingMetrics struct {
	VMSetups         metric.Int64Counter
	VMPowerOffs      metric.Int64Counter
	ForcedPowerOffs  metric.Int64Counter
	CreditsDebited   metric.Int64Counter
	CreditsCredited  metric.Int64Counter
	WebhookEvents    metric.Int64Counter
	CheckoutSessions metric.Int64Counter
}

// NewBillingMetrics registers the domain instruments on the global meter
func NewBillingMetrics() (*BillingMetrics, error) {
	meter := otel.GetMeterProvider().Meter(TracerName)

	vmSetups, err := meter.Int64Counter("vm.setups",
		metric.WithDescription("Virtual machines provisioned"))
	if err != nil {
		return nil, err
	}
	vmPowerOffs, err := meter.Int64Counter("vm.poweroffs",
		metric.WithDescription("Virtual machines powered off"))
	if err != nil {
		return nil, err
	}
	forcedPowerOffs, err := meter.Int64Counter("vm.forced_poweroffs",
		metric.WithDescription("Machines shut down by balance enforcement"))
	if err != nil {
		return nil, err
	}
	creditsDebited, err := meter.Int64Counter("billing.credits_debited",
		metric.WithDescription("Credits charged for usage"))
	if err != nil {
		return nil, err
	}
	creditsCredited, err := meter.Int64Counter("billing.credits_credited",
		metric.WithDescription("Credits granted from settlements"))
	if err != nil {
		return nil, err
	}
	webhookEvents, err := meter.Int64Counter("billing.webhook_events",
		metric.WithDescription("Settlement webhook events processed"))
	if err != nil {
		return nil, err
	}
	checkoutSessions, err := meter.Int64Counter("billing.checkout_sessions",
		metric.WithDescription("Checkout sessions created"))
	if err != nil {
		return nil, err
	}

	return &BillingMetrics{
		VMSetups:         vmSetups,
		VMPowerOffs:      vmPowerOffs,
		ForcedPowerOffs:  forcedPowerOffs,
		CreditsDebited:   creditsDebited,
		CreditsCredited:  creditsCredited,
		WebhookEvents:    webhookEvents,
		CheckoutSessions: checkoutSessions,
	}, nil
}

// Metric attribute keys
var (
	AttrEventType = attribute.Key("event.type")
	AttrOutcome   = attribute.Key("outcome")
)
