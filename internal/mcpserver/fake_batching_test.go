package mcpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/AltairaLabs/locbatch-mcp/internal/batching"
	"github.com/AltairaLabs/locbatch-mcp/internal/cache"
	"github.com/AltairaLabs/locbatch-mcp/internal/config"
	"github.com/AltairaLabs/locbatch-mcp/internal/types"
	"github.com/mark3labs/mcp-go/mcp"
)

// fakeBatching answers every command with a canned response
type fakeBatching struct {
	mu        sync.Mutex
	clients   map[batching.ClientID]batching.Callbacks
	removed   []batching.ClientID
	calls     []string
	lastOpts  types.BatchingOptions
	lastID    uint32
	lastCount int
	nextID    uint32
	respond   func(id uint32) *batching.Response
	snapshot  batching.Snapshot
	regErr    error
}

func newFakeBatching() *fakeBatching {
	return &fakeBatching{
		clients: make(map[batching.ClientID]batching.Callbacks),
		respond: func(id uint32) *batching.Response {
			return &batching.Response{Code: batching.CodeSuccess, SessionID: id}
		},
	}
}

func (f *fakeBatching) RegisterClient(id batching.ClientID, cb batching.Callbacks) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.regErr != nil {
		return f.regErr
	}
	f.clients[id] = cb
	return nil
}

func (f *fakeBatching) RemoveClient(id batching.ClientID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.clients, id)
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeBatching) callbacks(id batching.ClientID) batching.Callbacks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[id]
}

// resolve records the call and returns a future that is either resolved
// or left pending when respond returns nil
func (f *fakeBatching) resolve(name string, id uint32) <-chan batching.Response {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.lastID = id
	resp := f.respond(id)
	f.mu.Unlock()

	ch := make(chan batching.Response, 1)
	if resp != nil {
		ch <- *resp
	}
	return ch
}

func (f *fakeBatching) StartBatching(client batching.ClientID, opts types.BatchingOptions) (uint32, <-chan batching.Response) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.lastOpts = opts
	f.mu.Unlock()
	return id, f.resolve("start", id)
}

func (f *fakeBatching) UpdateBatchingOptions(client batching.ClientID, id uint32, opts types.BatchingOptions) <-chan batching.Response {
	f.mu.Lock()
	f.lastOpts = opts
	f.mu.Unlock()
	return f.resolve("update", id)
}

func (f *fakeBatching) StopBatching(client batching.ClientID, id uint32) <-chan batching.Response {
	return f.resolve("stop", id)
}

func (f *fakeBatching) GetBatchedLocations(client batching.ClientID, id uint32, count int) <-chan batching.Response {
	f.mu.Lock()
	f.lastCount = count
	f.mu.Unlock()
	return f.resolve("get_locations", id)
}

func (f *fakeBatching) Snapshot(ctx context.Context) (batching.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot, nil
}

// fakeNotifier records notifications
type fakeNotifier struct {
	mu      sync.Mutex
	methods []string
	params  []map[string]any
	err     error
}

func (n *fakeNotifier) SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.methods = append(n.methods, method)
	n.params = append(n.params, params)
	return n.err
}

var errRegistration = errors.New("queue stopped")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*MCPServer, *fakeBatching, *cache.Mailbox) {
	t.Helper()
	fake := newFakeBatching()
	mailbox := cache.NewMailbox(config.DefaultReportConfig())
	t.Cleanup(mailbox.Close)

	ms := NewMCPServer(Config{
		Name:            "test-server",
		Version:         "1.0.0",
		ResponseTimeout: 200 * time.Millisecond,
	}, fake, mailbox, testLogger())
	return ms, fake, mailbox
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = args
	return request
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("Expected result content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("Expected text content, got %T", result.Content[0])
	}
	return text.Text
}
