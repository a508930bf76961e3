package config

import "time"

// Default timing configurations used throughout the daemon
const (
	// DefaultBatchSessionTimeout is the engine-side timeout handed to every start call
	DefaultBatchSessionTimeout = 20 * time.Second

	// DefaultEngineCallTimeout bounds a single unary call to the engine
	DefaultEngineCallTimeout = 10 * time.Second

	// DefaultResponseTimeout is how long an MCP tool waits for the async engine result
	DefaultResponseTimeout = 30 * time.Second

	// DefaultReportTTL is how long undelivered location reports stay in the mailbox
	DefaultReportTTL = 5 * time.Minute

	// DefaultQueueDepth is the capacity of the unit-of-work queue
	DefaultQueueDepth = 256

	// DefaultReconnectInitialDelay is the first backoff step when the event stream drops
	DefaultReconnectInitialDelay = 500 * time.Millisecond

	// DefaultReconnectMaxDelay caps the event stream reconnect backoff
	DefaultReconnectMaxDelay = 30 * time.Second
)

// Batching limits applied when the settings file omits them
const (
	// DefaultBatchSize is the routine batch buffer size programmed into the engine
	DefaultBatchSize = 20

	// DefaultTripBatchSize is the outdoor trip batch buffer size
	DefaultTripBatchSize = 600

	// DefaultAccuracy is the requested horizontal accuracy level
	DefaultAccuracy = 1
)
