package grpcengine

import (
	"errors"
	"io"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/AltairaLabs/locbatch-mcp/internal/engine/wire"
)

// This file contains the event stream goroutine, which runs until Close.

// runEvents keeps an event stream open, reconnecting with backoff
func (c *Client) runEvents() {
	defer c.wg.Done()

	attempt := 0
	for {
		received, err := c.streamEvents()
		if c.ctx.Err() != nil {
			return
		}
		if received {
			attempt = 0
		}

		if !c.cfg.Reconnect.ShouldRetry(attempt) {
			c.logger.Error("Giving up on engine event stream", "attempts", attempt, "error", err)
			return
		}
		c.logger.Warn("Engine event stream lost, reconnecting",
			"error", err,
			"attempt", attempt+1,
			"delay", c.cfg.Reconnect.CalculateDelay(attempt),
		)
		if c.cfg.Reconnect.Wait(c.ctx, attempt) != nil {
			return
		}
		attempt++
	}
}

// streamEvents consumes one event stream until it fails. received reports
// whether at least one event arrived.
func (c *Client) streamEvents() (received bool, err error) {
	stream, err := c.conn.NewStream(c.ctx, wire.EventsStreamDesc, wire.FullMethod(wire.MethodEvents))
	if err != nil {
		return false, err
	}
	if err := stream.SendMsg(&structpb.Struct{}); err != nil {
		return false, err
	}
	if err := stream.CloseSend(); err != nil {
		return false, err
	}

	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return received, errStreamEnded
			}
			return received, err
		}

		ev, err := wire.EventFromStruct(msg)
		if err != nil {
			c.logger.Warn("Ignoring malformed engine event", "error", err)
			continue
		}
		if !received {
			c.logger.Info("Engine event stream established")
		}
		received = true
		c.dispatch(ev)
	}
}
