package cache

import "context"

// MailboxInterface defines the contract for report delivery storage.
// The MCP front end depends on it so tests can swap implementations.
type MailboxInterface interface {
	Store(ctx context.Context, clientID string, report Report) (string, error)
	Drain(ctx context.Context, clientID string, limit int) ([]Report, error)
	Pending(clientID string) int
	Delete(ctx context.Context, clientID string)
	Size() int
	Clear()
	Close()
}
