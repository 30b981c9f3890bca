package fabric

import (
	"github.com/socketfabric/broker/msg"
	"github.com/socketfabric/broker/wire"
)

// Hook is the user-supplied policy surface invoked at every routing
// decision point (spec.md §9: "re-architect as an explicit capability
// interface with fixed methods"). Embed DefaultHook to get allow-everything
// behavior for methods you don't need to override.
type Hook interface {
	// Accept is called once, when a new wire connects, before it is
	// registered. Returning false refuses the connection.
	Accept(w *wire.Wire) bool

	// Remove is called once the wire has been fully swept from the fabric.
	Remove(w *wire.Wire)

	// Recv is called for every inbound message before routing. Returning
	// false drops the message.
	Recv(w *wire.Wire, m *msg.Message) bool

	// Send is called per recipient candidate before delivery. Returning
	// false excludes that recipient.
	Send(w *wire.Wire, m *msg.Message) bool

	// Auth is called by the AUTH handler. Returning false fails
	// authentication.
	Auth(w *wire.Wire, m *msg.Message) bool

	// Attach is called by the ATTACH handler before the index is updated.
	Attach(w *wire.Wire, m *msg.Message, chanName string, labels []string) bool

	// Detach is called by the DETACH handler before the index is updated.
	Detach(w *wire.Wire, m *msg.Message, chanName string, labels []string) bool

	// Ping is called by the PING handler; it may mutate m to add extra
	// reply fields before the OK reply is sent.
	Ping(w *wire.Wire, m *msg.Message)

	// Custom is called by the CUSTOM handler; it may mutate m, which is
	// then echoed back to the caller.
	Custom(w *wire.Wire, m *msg.Message)

	// Kill is called by the KILL handler when w asks to kill a wire other
	// than itself. Returning false vetoes the kill.
	Kill(w *wire.Wire, m *msg.Message) bool

	// Query is called by the QUERY handler; it may add extra fields to m.
	Query(s *Socket, w *wire.Wire, m *msg.Message)
}

// DefaultHook implements Hook with allow-everything semantics, matching
// spec.md §9: "Implementations provide defaults equivalent to 'allow'."
// Grounded on original src/queen/hook.rs's `impl Hook for ()`.
type DefaultHook struct{}

func (DefaultHook) Accept(*wire.Wire) bool                                      { return true }
func (DefaultHook) Remove(*wire.Wire)                                           {}
func (DefaultHook) Recv(*wire.Wire, *msg.Message) bool                          { return true }
func (DefaultHook) Send(*wire.Wire, *msg.Message) bool                          { return true }
func (DefaultHook) Auth(*wire.Wire, *msg.Message) bool                          { return true }
func (DefaultHook) Attach(*wire.Wire, *msg.Message, string, []string) bool      { return true }
func (DefaultHook) Detach(*wire.Wire, *msg.Message, string, []string) bool      { return true }
func (DefaultHook) Ping(*wire.Wire, *msg.Message)                               {}
func (DefaultHook) Custom(*wire.Wire, *msg.Message)                             {}
func (DefaultHook) Kill(*wire.Wire, *msg.Message) bool                          { return true }
func (DefaultHook) Query(*Socket, *wire.Wire, *msg.Message)                     {}
