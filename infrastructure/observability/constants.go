package observability

// Metric name prefixes
const (
	MetricPrefix = "csmbot"
)

// Metric names
const (
	// Reconciliation metrics
	ReconcileTicksTotal            = MetricPrefix + ".reconcile.ticks_total"
	ReconcileTickDuration          = MetricPrefix + ".reconcile.tick_duration"
	ReconcileGuildFailuresTotal    = MetricPrefix + ".reconcile.guild_failures_total"
	ReconcileResourcesCreatedTotal = MetricPrefix + ".reconcile.resources_created_total"

	// Setup dialog metrics
	SetupCommandsTotal   = MetricPrefix + ".setup.commands_total"
	SetupCompletedTotal  = MetricPrefix + ".setup.completed_total"
	GuildsAbandonedTotal = MetricPrefix + ".guilds.abandoned_total"
	SetupActiveDialogs   = MetricPrefix + ".setup.active_dialogs"

	// Store metrics
	StoreWritesTotal = MetricPrefix + ".store.writes_total"

	// NATS metrics
	NATSMessagesPublishedTotal = MetricPrefix + ".nats.messages_published_total"
)

// Label keys
const (
	LabelResource  = "resource"
	LabelCommand   = "command"
	LabelMethod    = "method"
	LabelResult    = "result"
	LabelEventType = "event_type"
)

// Resource kinds created by reconciliation
const (
	ResourceRole     = "role"
	ResourceCategory = "category"
	ResourceChannel  = "channel"
)

// Store write results
const (
	ResultSuccess = "success"
	ResultError   = "error"
)
