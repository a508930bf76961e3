// Package cache holds asynchronously delivered batching reports until the
// owning MCP client fetches them.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AltairaLabs/locbatch-mcp/internal/config"
	"github.com/AltairaLabs/locbatch-mcp/internal/types"
	"github.com/google/uuid"
)

var (
	// ErrEmptyClientID is returned when a client ID is empty
	ErrEmptyClientID = errors.New("clientID cannot be empty")
	errEmptyKind     = errors.New("report kind cannot be empty")
)

// ReportKind names what a report carries
type ReportKind string

const (
	// KindLocations is an auto-reported or retrieved location batch
	KindLocations ReportKind = "locations"
	// KindStatus is a batching status transition
	KindStatus ReportKind = "status"
	// KindCapabilities is an engine capability announcement
	KindCapabilities ReportKind = "capabilities"
)

// Report is one delivery waiting for its client
type Report struct {
	ID               string           `json:"id"`
	Kind             ReportKind       `json:"kind"`
	SessionID        uint32           `json:"session_id,omitempty"`
	Mode             string           `json:"mode,omitempty"`
	Locations        []types.Location `json:"locations,omitempty"`
	Status           string           `json:"status,omitempty"`
	CompletedTripIDs []uint32         `json:"completed_trip_ids,omitempty"`
	Capabilities     []string         `json:"capabilities,omitempty"`
	DeliveredAt      time.Time        `json:"delivered_at"`
}

// Mailbox keeps reports per client with TTL-based expiration
type Mailbox struct {
	boxes map[string][]*storedReport
	mu    sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
	done  chan struct{} // Signal to stop cleanup goroutine
	once  sync.Once
}

type storedReport struct {
	report    Report
	expiresAt time.Time
}

// NewMailbox creates a mailbox with the configured TTL and starts the
// background cleanup goroutine
func NewMailbox(cfg config.ReportConfig) *Mailbox {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = config.DefaultReportTTL
	}
	mb := &Mailbox{
		boxes: make(map[string][]*storedReport),
		ttl:   ttl,
		now:   time.Now,
		done:  make(chan struct{}),
	}

	go mb.cleanupLoop()

	return mb
}

// Store appends a report to the client's mailbox and returns its ID
func (mb *Mailbox) Store(ctx context.Context, clientID string, report Report) (string, error) {
	if clientID == "" {
		return "", ErrEmptyClientID
	}
	if report.Kind == "" {
		return "", errEmptyKind
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	now := mb.now()
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.DeliveredAt.IsZero() {
		report.DeliveredAt = now
	}
	mb.boxes[clientID] = append(mb.boxes[clientID], &storedReport{
		report:    report,
		expiresAt: now.Add(mb.ttl),
	})

	return report.ID, nil
}

// Drain removes and returns up to limit unexpired reports in delivery order.
// A limit of zero or less drains everything.
func (mb *Mailbox) Drain(ctx context.Context, clientID string, limit int) ([]Report, error) {
	if clientID == "" {
		return nil, ErrEmptyClientID
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	now := mb.now()
	box := mb.boxes[clientID]
	out := make([]Report, 0, len(box))
	rest := box[:0]
	for _, stored := range box {
		switch {
		case now.After(stored.expiresAt):
		case limit > 0 && len(out) >= limit:
			rest = append(rest, stored)
		default:
			out = append(out, stored.report)
		}
	}

	if len(rest) == 0 {
		delete(mb.boxes, clientID)
	} else {
		mb.boxes[clientID] = rest
	}
	return out, nil
}

// Pending returns the number of unexpired reports waiting for a client
func (mb *Mailbox) Pending(clientID string) int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	now := mb.now()
	n := 0
	for _, stored := range mb.boxes[clientID] {
		if !now.After(stored.expiresAt) {
			n++
		}
	}
	return n
}

// Delete drops every report held for a client
func (mb *Mailbox) Delete(ctx context.Context, clientID string) {
	if clientID == "" {
		return
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	delete(mb.boxes, clientID)
}

// Size returns the number of reports held across all clients
func (mb *Mailbox) Size() int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	n := 0
	for _, box := range mb.boxes {
		n += len(box)
	}
	return n
}

// Clear removes all reports
func (mb *Mailbox) Clear() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.boxes = make(map[string][]*storedReport)
}

// Close stops the cleanup goroutine
func (mb *Mailbox) Close() {
	mb.once.Do(func() { close(mb.done) })
}

// cleanupLoop periodically removes expired reports
func (mb *Mailbox) cleanupLoop() {
	interval := time.Minute
	if mb.ttl < interval {
		interval = mb.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mb.cleanup()
		case <-mb.done:
			return
		}
	}
}

// cleanup removes expired reports
func (mb *Mailbox) cleanup() {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	now := mb.now()
	for clientID, box := range mb.boxes {
		rest := box[:0]
		for _, stored := range box {
			if !now.After(stored.expiresAt) {
				rest = append(rest, stored)
			}
		}
		if len(rest) == 0 {
			delete(mb.boxes, clientID)
		} else {
			mb.boxes[clientID] = rest
		}
	}
}
