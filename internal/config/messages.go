package config

// Messages used by the MCP front end
const (
	// ErrEngineTimeout is returned when the engine result did not arrive in time
	ErrEngineTimeout = "timed out waiting for engine result"
	// ErrClientRegistration is the format string for a session that could not become a batching client
	ErrClientRegistration = "failed to register batching client for session %s: %v"
	// MsgSessionStarted is the format string for a started session
	MsgSessionStarted = "Batching session %d started"
	// MsgSessionUpdated is the format string for an updated session
	MsgSessionUpdated = "Batching session %d updated"
	// MsgSessionStopped is the format string for a stopped session
	MsgSessionStopped = "Batching session %d stopped"
	// MsgLocationsRetrieved is the format string for a location retrieval
	MsgLocationsRetrieved = "Retrieved %d fixes for session %d"
)
