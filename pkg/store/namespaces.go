package store

// State store namespaces. Per-entity keys are the ticker unless noted.
const (
	// NSSchedulerLastRun and NSSchedulerLastSuccess are keyed by task name.
	NSSchedulerLastRun     = "scheduler.last_run"
	NSSchedulerLastSuccess = "scheduler.last_success"

	// NSFilingSeen holds a bounded list of filing ids per entity.
	NSFilingSeen = "filing.seen"

	// NSFilingCursor holds the last window-end timestamp per entity.
	NSFilingCursor = "filing.cursor"

	// NSHealth is keyed by component name.
	NSHealth = "health"

	NSQueueActive = "queue.active"
	NSQueueItems  = "queue.items"

	// NSLearning is keyed by pattern key.
	NSLearning = "learning"

	// NSChatCursor holds the durable last_update_ts chat cursor.
	NSChatCursor = "chat"

	// NSAlertDedup holds last-sent timestamps keyed by alert dedup key.
	NSAlertDedup = "alerts.dedup"

	// NSMonitorErrors tracks the rolling poll error count.
	NSMonitorErrors = "sec_monitor"
)
