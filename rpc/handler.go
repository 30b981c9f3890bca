package rpc

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/socketfabric/broker/errcode"
	"github.com/socketfabric/broker/msg"
)

// Handler answers one request message with a reply value, or an error.
type Handler func(ctx context.Context, req *msg.Message) (msg.Value, error)

// HandlerTimeout bounds how long a registered Handler may run before the
// caller gives up and gets errcode.HandlerTimeout back instead.
const HandlerTimeout = 10 * time.Second

// Registry maps channel names to Handlers, the Add() half of spec.md 4.G.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Add registers fn to answer every request whose CHAN field is chanName.
// Re-registering chanName replaces the previous handler.
func (r *Registry) Add(chanName string, fn Handler) {
	r.handlers[chanName] = fn
}

// Dispatch runs the handler registered for m's CHAN, if any, and returns the
// reply to send back (TO=FROM, ID echoed), or ok=false if no handler
// matches. A panicking handler is recovered and reported as
// errcode.HandlerPanic rather than crashing the port's read loop.
func (r *Registry) Dispatch(m *msg.Message) (*msg.Message, bool) {
	chanName, ok := m.GetString(msg.KeyChan)
	if !ok {
		return nil, false
	}
	fn, ok := r.handlers[chanName]
	if !ok {
		return nil, false
	}

	id, _ := m.GetID(msg.KeyID)
	from, _ := m.GetID(msg.KeyFrom)

	ctx, cancel := context.WithTimeout(context.Background(), HandlerTimeout)
	defer cancel()

	result, err := runHandler(ctx, fn, m)

	reply := msg.New().Set(msg.KeyChan, chanName)
	if !id.IsZero() {
		reply.Set(msg.KeyID, id)
	}
	if !from.IsZero() {
		reply.Set(msg.KeyTo, from)
	}

	if err != nil {
		code := errcode.HandlerPanic
		if ctx.Err() != nil {
			code = errcode.HandlerTimeout
		}
		reply.Set(msg.KeyCode, int32(code)).Set(msg.KeyError, err.Error())
		return reply, true
	}

	reply.Set(msg.KeyOK, int32(errcode.OK)).Set(msg.KeyValue, result)
	return reply, true
}

func runHandler(ctx context.Context, fn Handler, req *msg.Message) (result msg.Value, err error) {
	done := make(chan struct{})
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("rpc: handler panicked")
				err = errPanic
			}
			close(done)
		}()
		result, err = fn(ctx, req)
	}()

	select {
	case <-done:
		return result, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var errPanic = rpcCodeError{errcode.HandlerPanic}
