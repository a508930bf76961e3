package config

// Tool defines the available tools on the MCP surface
const (
	// ToolStart is the start batching tool name
	ToolStart = "batching.start"
	// ToolUpdate is the update batching options tool name
	ToolUpdate = "batching.update"
	// ToolStop is the stop batching tool name
	ToolStop = "batching.stop"
	// ToolGetLocations is the batched location retrieval tool name
	ToolGetLocations = "batching.get_locations"
	// ToolFetchReports drains asynchronously delivered reports
	ToolFetchReports = "batching.fetch_reports"
	// ToolStatus is the status snapshot tool name
	ToolStatus = "batching.status"
)

// AllTools returns a slice of all available tool names
func AllTools() []string {
	return []string{
		ToolStart,
		ToolUpdate,
		ToolStop,
		ToolGetLocations,
		ToolFetchReports,
		ToolStatus,
	}
}
