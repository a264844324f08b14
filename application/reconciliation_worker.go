package application

import (
	"context"
	"sync/atomic"
	"time"

	"csmbot/domain/entities"
	"csmbot/domain/interfaces"
	"csmbot/domain/services"
	"csmbot/events"
	"csmbot/infrastructure/observability"

	log "github.com/sirupsen/logrus"
)

// TickSummary describes one reconciliation tick
type TickSummary struct {
	Tick      int64
	Guilds    int
	Failed    int
	Persisted int
	Rejected  int
	StoreErr  error
}

// ReconciliationWorker periodically reconciles every configured guild
type ReconciliationWorker struct {
	registry     *Registry
	reconciler   *services.Reconciler
	store        interfaces.PropertyStore
	bus          *events.Bus
	metrics      *observability.MetricsProvider
	guildTimeout time.Duration

	ticks atomic.Int64
}

// NewReconciliationWorker creates the worker; metrics may be nil
func NewReconciliationWorker(
	registry *Registry,
	reconciler *services.Reconciler,
	store interfaces.PropertyStore,
	bus *events.Bus,
	metrics *observability.MetricsProvider,
	guildTimeout time.Duration,
) *ReconciliationWorker {
	return &ReconciliationWorker{
		registry:     registry,
		reconciler:   reconciler,
		store:        store,
		bus:          bus,
		metrics:      metrics,
		guildTimeout: guildTimeout,
	}
}

// Start runs a tick immediately and then every interval.
// Returns a cleanup function that stops the worker and waits for an in-flight tick.
func (w *ReconciliationWorker) Start(ctx context.Context, interval time.Duration) func() {
	ticker := time.NewTicker(interval)
	stopChan := make(chan struct{})
	done := make(chan struct{})

	// Cancelled on stop so a slow guild does not hold up shutdown
	tickCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(done)
		log.WithField("interval", interval).Info("Reconciliation worker started")

		w.RunTick(tickCtx)

		for {
			select {
			case <-ctx.Done():
				log.Info("Reconciliation worker shutting down (context cancelled)...")
				return
			case <-stopChan:
				log.Info("Reconciliation worker shutting down (stop requested)...")
				return
			case <-ticker.C:
				w.RunTick(tickCtx)
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(stopChan)
		cancel()
		<-done
	}
}

// RunTick reconciles every configured guild once, in ascending guild ID order,
// and persists the records that gained resource ids.
// A failing guild is logged and skipped; its partial progress stays pending for the next tick.
func (w *ReconciliationWorker) RunTick(ctx context.Context) TickSummary {
	start := time.Now()
	summary := TickSummary{Tick: w.ticks.Add(1)}
	logger := log.WithField("tick", summary.Tick)

	properties := w.registry.Properties()
	summary.Guilds = len(properties)

	txBus := events.NewTransactionalBus(w.bus)
	var dirty []*entities.GuildProperty

	for _, property := range properties {
		if ctx.Err() != nil {
			logger.Info("Tick abandoned")
			break
		}

		outcome, err := w.reconcileGuild(ctx, property)
		if outcome != nil && outcome.Changed() {
			w.registry.RecordChanges(outcome.Property)
			w.recordCreated(outcome)
		}

		if err != nil {
			summary.Failed++
			w.metrics.RecordGuildFailure()
			logger.WithField("guild_id", property.GuildID).WithError(err).Error("Failed to reconcile guild")
			continue
		}

		if outcome.Changed() || w.registry.IsPending(property.GuildID) {
			current, ok := w.registry.Property(property.GuildID)
			if !ok {
				continue
			}
			dirty = append(dirty, current)
			txBus.Publish(ctx, events.GuildResourcesCreatedEvent{
				GuildID:           current.GuildID,
				RoleID:            current.RoleID,
				ChannelCategoryID: current.ChannelCategoryID,
				ChannelID:         current.ChannelID,
			})
		}
	}

	if len(dirty) > 0 {
		w.persist(ctx, dirty, txBus, &summary)
	}

	w.metrics.RecordTick(time.Since(start))
	w.bus.Emit(ctx, events.ReconciliationCompletedEvent{
		Tick:      summary.Tick,
		Guilds:    summary.Guilds,
		Failed:    summary.Failed,
		Persisted: summary.Persisted,
		Rejected:  summary.Rejected,
	})

	entry := logger.WithFields(log.Fields{
		"guilds":   summary.Guilds,
		"failed":   summary.Failed,
		"dirty":    len(dirty),
		"duration": time.Since(start),
	})
	if summary.Failed > 0 || summary.StoreErr != nil {
		entry.Warn("Reconciliation tick finished with failures")
	} else {
		entry.Info("Reconciliation tick finished")
	}
	return summary
}

func (w *ReconciliationWorker) reconcileGuild(ctx context.Context, property *entities.GuildProperty) (*services.ReconcileOutcome, error) {
	guildCtx, cancel := context.WithTimeout(ctx, w.guildTimeout)
	defer cancel()
	return w.reconciler.Reconcile(guildCtx, property)
}

// persist writes the dirty set and releases the matching events once the write succeeded
func (w *ReconciliationWorker) persist(ctx context.Context, dirty []*entities.GuildProperty, txBus *events.TransactionalBus, summary *TickSummary) {
	logger := log.WithFields(log.Fields{
		"tick":  summary.Tick,
		"dirty": len(dirty),
	})

	report, err := w.store.UpdateMany(ctx, dirty)
	w.metrics.RecordStoreWrite("update_many", err)
	if err != nil {
		txBus.Discard()
		summary.StoreErr = err
		logger.WithError(err).Error("Failed to persist reconciled guilds")
		return
	}

	w.registry.MarkPersisted(report.Updated)
	summary.Persisted = len(report.Updated)
	summary.Rejected = len(report.Rejected)

	if report.HasRejections() {
		// Rejected guilds are not in the store; they stay pending
		logger.WithFields(log.Fields{
			"rejected": report.Rejected,
			"anomaly":  true,
		}).Error("Store does not know some reconciled guilds")

		updated := make(map[int64]bool, len(report.Updated))
		for _, id := range report.Updated {
			updated[id] = true
		}
		txBus.Retain(func(ev events.Event) bool {
			created, ok := ev.(events.GuildResourcesCreatedEvent)
			return !ok || updated[created.GuildID]
		})
	}

	txBus.Flush(ctx)
}

func (w *ReconciliationWorker) recordCreated(outcome *services.ReconcileOutcome) {
	if outcome.CreatedRole {
		w.metrics.RecordResourceCreated(observability.ResourceRole)
	}
	if outcome.CreatedCategory {
		w.metrics.RecordResourceCreated(observability.ResourceCategory)
	}
	if outcome.CreatedChannel {
		w.metrics.RecordResourceCreated(observability.ResourceChannel)
	}
}
