package metrics

// Metric names recorded by the thread controller and its adapters.
const (
	PagesLoaded          = "thread_pages_loaded_total"
	PageReadFailures     = "thread_page_read_failures_total"
	PageReadDuration     = "thread_page_read_duration"
	RecordsDropped       = "thread_records_dropped_total"
	LiveMessages         = "thread_live_messages_total"
	SendsWritten         = "thread_sends_written_total"
	SendsDropped         = "thread_sends_dropped_total"
	SubscriptionFailures = "thread_subscription_failures_total"
	ActiveThreads        = "thread_active"
	ActiveStreams        = "thread_stream_clients"
	RecordsUnreadable    = "backend_records_unreadable_total"
	BreakerTrips         = "backend_breaker_trips_total"
	BreakerRejections    = "backend_breaker_rejections_total"
)
