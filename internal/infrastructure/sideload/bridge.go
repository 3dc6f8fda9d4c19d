// Package sideload implements the stdio bridge: the newline-delimited
// JSON transport that carries command/response/event envelopes between
// the native host shell and this runtime.
package sideload

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/saorsa-labs/fae/internal/domain/valueobject"
	"go.uber.org/zap"
)

// Router is satisfied by the application layer's command router. It is
// the only thing the bridge needs to drive a command to completion.
type Router interface {
	Route(ctx context.Context, cmd valueobject.Command) valueobject.Response
}

// EventSource lets the bridge subscribe to the broadcast of outgoing
// event envelopes published by subsystems.
type EventSource interface {
	Subscribe() (<-chan valueobject.Event, func())
}

// Bridge owns the three cooperative tasks described for the stdio
// transport: a reader that parses commands and writes responses, an
// event forwarder that serializes broadcast events, and the router that
// runs inline on the reader's synchronous path.
type Bridge struct {
	in     io.Reader
	out    io.Writer
	outMu  sync.Mutex
	router Router
	events EventSource
	logger *zap.Logger
}

// NewBridge wires a Bridge over the given reader/writer pair, typically
// os.Stdin/os.Stdout.
func NewBridge(in io.Reader, out io.Writer, router Router, events EventSource, logger *zap.Logger) *Bridge {
	return &Bridge{in: in, out: out, router: router, events: events, logger: logger}
}

// Run blocks until stdin reaches EOF or a runtime.stop response has been
// written. It starts the event forwarder as a separate goroutine and
// runs the reader loop on the calling goroutine. Canceling ctx stops the
// event forwarder; the reader loop does not watch ctx and keeps waiting
// on stdin until EOF or runtime.stop.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if b.events != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.forwardEvents(ctx)
		}()
	}

	b.readLoop(ctx, cancel)
	wg.Wait()
	return nil
}

func (b *Bridge) readLoop(ctx context.Context, stop context.CancelFunc) {
	scanner := bufio.NewScanner(b.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		cmd, err := valueobject.ParseCommand(line, valueobject.EventVersion)
		if err != nil {
			b.writeResponse(valueobject.NewErrorResponse("", err.Error()))
			continue
		}

		resp := b.router.Route(ctx, cmd)

		b.logger.Info("command routed",
			zap.String("command", string(cmd.Command)),
			zap.String("request_id", cmd.RequestID),
			zap.Bool("ok", resp.OK),
		)

		b.writeResponse(resp)

		if cmd.Command == valueobject.CommandRuntimeStop && resp.OK {
			stop()
			return
		}
	}
}

func (b *Bridge) forwardEvents(ctx context.Context) {
	ch, unsubscribe := b.events.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			b.writeEvent(evt)
		}
	}
}

func (b *Bridge) writeResponse(resp valueobject.Response) {
	data, err := valueobject.EncodeResponse(resp)
	if err != nil {
		b.logger.Error("encode response failed", zap.Error(err))
		return
	}
	b.writeLocked(data)
}

func (b *Bridge) writeEvent(evt valueobject.Event) {
	data, err := valueobject.EncodeEvent(evt)
	if err != nil {
		b.logger.Error("encode event failed", zap.Error(err))
		return
	}
	b.writeLocked(data)
}

func (b *Bridge) writeLocked(data []byte) {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	if _, err := b.out.Write(data); err != nil {
		b.logger.Error("stdout write failed", zap.Error(err))
		return
	}
	if f, ok := b.out.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}
}

// decodePayload decodes a command's opaque payload into a typed struct;
// an empty payload leaves v untouched. Nothing in this package calls it.
func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
