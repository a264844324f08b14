package observability

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"csmbot/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// MetricsProvider manages OpenTelemetry metrics for the bot.
// A nil or disabled provider accepts every Record call and drops it.
type MetricsProvider struct {
	config        *config.Config
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	initialized   bool
	enabled       bool
	mu            sync.RWMutex

	// Metric instruments
	ticksCounter            metric.Int64Counter
	tickDurationHist        metric.Float64Histogram
	guildFailuresCounter    metric.Int64Counter
	resourcesCreatedCounter metric.Int64Counter
	setupCommandsCounter    metric.Int64Counter
	setupCompletedCounter   metric.Int64Counter
	guildsAbandonedCounter  metric.Int64Counter
	storeWritesCounter      metric.Int64Counter
	natsPublishedCounter    metric.Int64Counter
}

// NewMetricsProvider creates a new metrics provider
func NewMetricsProvider(cfg *config.Config) *MetricsProvider {
	return &MetricsProvider{
		config: cfg,
	}
}

// NewMetricsProviderWithReader builds an enabled provider on top of reader.
// Tests use it with a sdkmetric.ManualReader.
func NewMetricsProviderWithReader(reader sdkmetric.Reader) (*MetricsProvider, error) {
	mp := &MetricsProvider{
		meterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
	mp.meter = mp.meterProvider.Meter("csmbot")
	if err := mp.createInstruments(); err != nil {
		return nil, err
	}
	mp.initialized = true
	mp.enabled = true
	return mp, nil
}

// Initialize sets up the OpenTelemetry metrics provider
func (mp *MetricsProvider) Initialize(ctx context.Context) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.initialized {
		log.Println("Metrics provider already initialized")
		return nil
	}

	if !mp.config.OTelEnabled {
		log.Println("OpenTelemetry metrics disabled")
		mp.initialized = true
		return nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(mp.config.OTelServiceName),
			attribute.String("environment", mp.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdkmetric.Exporter
	switch mp.config.OTelExporterType {
	case "console":
		exporter, err = stdoutmetric.New()
		if err != nil {
			return fmt.Errorf("failed to create console exporter: %w", err)
		}
		log.Println("Using console metric exporter")

	case "otlp":
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		exporter, err = otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(mp.config.OTelOTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		log.Printf("Using OTLP metric exporter: %s", mp.config.OTelOTLPEndpoint)

	case "none":
		log.Println("Metrics export disabled (exporter_type='none')")
		mp.initialized = true
		return nil

	default:
		return fmt.Errorf("unknown exporter type: %s", mp.config.OTelExporterType)
	}

	mp.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(
				exporter,
				sdkmetric.WithInterval(time.Duration(mp.config.OTelExportIntervalMillis)*time.Millisecond),
			),
		),
	)

	otel.SetMeterProvider(mp.meterProvider)
	mp.meter = mp.meterProvider.Meter("csmbot")

	if err := mp.createInstruments(); err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	mp.initialized = true
	mp.enabled = true
	log.Println("Metrics provider initialized successfully")
	return nil
}

func (mp *MetricsProvider) createInstruments() error {
	var err error

	counters := []struct {
		target      *metric.Int64Counter
		name        string
		description string
	}{
		{&mp.ticksCounter, ReconcileTicksTotal, "Total number of reconciliation ticks"},
		{&mp.guildFailuresCounter, ReconcileGuildFailuresTotal, "Total number of per-guild reconciliation failures"},
		{&mp.resourcesCreatedCounter, ReconcileResourcesCreatedTotal, "Total number of guild resources created"},
		{&mp.setupCommandsCounter, SetupCommandsTotal, "Total number of setup dialog commands handled"},
		{&mp.setupCompletedCounter, SetupCompletedTotal, "Total number of completed guild setups"},
		{&mp.guildsAbandonedCounter, GuildsAbandonedTotal, "Total number of guilds left for lack of a writable channel"},
		{&mp.storeWritesCounter, StoreWritesTotal, "Total number of property store writes"},
		{&mp.natsPublishedCounter, NATSMessagesPublishedTotal, "Total number of NATS messages published"},
	}
	for _, c := range counters {
		*c.target, err = mp.meter.Int64Counter(c.name,
			metric.WithDescription(c.description),
			metric.WithUnit("1"),
		)
		if err != nil {
			return fmt.Errorf("failed to create counter %s: %w", c.name, err)
		}
	}

	mp.tickDurationHist, err = mp.meter.Float64Histogram(
		ReconcileTickDuration,
		metric.WithDescription("Duration of reconciliation ticks"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create tick duration histogram: %w", err)
	}

	return nil
}

// Shutdown flushes and stops the meter provider
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.meterProvider == nil {
		return nil
	}
	if err := mp.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}
	mp.enabled = false
	log.Println("Metrics provider shut down")
	return nil
}

// ObserveActiveDialogs reports count() as a gauge on every collection.
// It is a no-op while metrics are disabled.
func (mp *MetricsProvider) ObserveActiveDialogs(count func() int) error {
	if !mp.isEnabled() {
		return nil
	}
	_, err := mp.meter.Int64ObservableGauge(
		SetupActiveDialogs,
		metric.WithDescription("Number of setup dialogs waiting for commands"),
		metric.WithUnit("1"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(count()))
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create active dialogs gauge: %w", err)
	}
	return nil
}

// RecordTick records one completed reconciliation tick
func (mp *MetricsProvider) RecordTick(duration time.Duration) {
	if !mp.isEnabled() {
		return
	}
	mp.ticksCounter.Add(context.Background(), 1)
	mp.tickDurationHist.Record(context.Background(), duration.Seconds())
}

// RecordGuildFailure records a guild that could not be reconciled
func (mp *MetricsProvider) RecordGuildFailure() {
	if !mp.isEnabled() {
		return
	}
	mp.guildFailuresCounter.Add(context.Background(), 1)
}

// RecordResourceCreated records a role, category or channel created by reconciliation
func (mp *MetricsProvider) RecordResourceCreated(resourceKind string) {
	if !mp.isEnabled() {
		return
	}
	mp.resourcesCreatedCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String(LabelResource, resourceKind)),
	)
}

// RecordSetupCommand records a setup dialog command
func (mp *MetricsProvider) RecordSetupCommand(command string) {
	if !mp.isEnabled() {
		return
	}
	mp.setupCommandsCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String(LabelCommand, command)),
	)
}

// RecordSetupCompleted records a guild whose setup was persisted
func (mp *MetricsProvider) RecordSetupCompleted() {
	if !mp.isEnabled() {
		return
	}
	mp.setupCompletedCounter.Add(context.Background(), 1)
}

// RecordGuildAbandoned records a guild the bot left
func (mp *MetricsProvider) RecordGuildAbandoned() {
	if !mp.isEnabled() {
		return
	}
	mp.guildsAbandonedCounter.Add(context.Background(), 1)
}

// RecordStoreWrite records a property store mutation and whether it succeeded
func (mp *MetricsProvider) RecordStoreWrite(method string, err error) {
	if !mp.isEnabled() {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	mp.storeWritesCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String(LabelMethod, method),
			attribute.String(LabelResult, result),
		),
	)
}

// RecordNATSMessagePublished records a NATS message being published
func (mp *MetricsProvider) RecordNATSMessagePublished(eventType string) {
	if !mp.isEnabled() {
		return
	}
	mp.natsPublishedCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String(LabelEventType, eventType)),
	)
}

func (mp *MetricsProvider) isEnabled() bool {
	if mp == nil {
		return false
	}
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.initialized && mp.enabled
}
