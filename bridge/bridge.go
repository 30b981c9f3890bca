// Package bridge implements spec.md component 4.H: a whitelist-driven
// mirror between two brokers, connected via two port.Port clients. Each
// whitelisted channel's traffic is forwarded in both directions, tagged
// with _bridge so the mirror never re-forwards its own relayed messages
// back across itself (spec.md §9, Open Question 3).
//
// Grounded on relaydns/director.go's mirrored-state shape (a background
// goroutine moving entries between two stores) and its reconnect-loop
// idiom, generalized from Director's single gossip topic to two independent
// Port connections exchanging arbitrary channel traffic.
package bridge

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/socketfabric/broker/msg"
	"github.com/socketfabric/broker/port"
)

// Route whitelists one channel for mirroring, optionally narrowed to a set
// of labels (supplemented feature: whitelist entries may carry label sets
// restricting what crosses).
type Route struct {
	Channel string
	Labels  []string
}

// MaxBackoff bounds the reconnect backoff (supplemented feature: bridge
// reconnects with exponential backoff capped at 30s).
const MaxBackoff = 30 * time.Second

// Dialer opens a fresh connection to one side of the bridge. Implementations
// typically close over port.DialTCP/DialUnix/DialWS and fixed Options.
type Dialer func(ctx context.Context) (*port.Port, error)

// Bridge mirrors whitelisted channels between two brokers reached via
// dialA and dialB.
type Bridge struct {
	dialA, dialB Dialer
	routes       []Route
}

// New returns a Bridge mirroring routes between the two dial targets.
func New(dialA, dialB Dialer, routes []Route) *Bridge {
	return &Bridge{dialA: dialA, dialB: dialB, routes: routes}
}

// Run connects both sides and mirrors traffic until ctx is canceled,
// reconnecting either side with exponential backoff (capped at
// MaxBackoff) if it drops.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pA, err := b.connectWithBackoff(ctx, b.dialA)
		if err != nil {
			return // ctx canceled during backoff
		}
		pB, err := b.connectWithBackoff(ctx, b.dialB)
		if err != nil {
			pA.Close()
			return
		}

		if err := b.attachRoutes(pA); err != nil {
			log.Warn().Err(err).Msg("bridge: attach side A failed")
		}
		if err := b.attachRoutes(pB); err != nil {
			log.Warn().Err(err).Msg("bridge: attach side B failed")
		}

		sessionCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{}, 2)
		go b.mirror(sessionCtx, pA, pB, done)
		go b.mirror(sessionCtx, pB, pA, done)

		<-done // one direction dropped
		cancel()
		pA.Close()
		pB.Close()
	}
}

// attachRoutes binds p to every configured route's channel with the BIND
// verb rather than ATTACH, so the bridge receives every un-TO message
// published on that channel instead of competing in SHARE round-robin
// (spec.md §4.H). TO-addressed messages are not mirrored to bound wires.
func (b *Bridge) attachRoutes(p *port.Port) error {
	for _, r := range b.routes {
		if err := p.Bind(r.Channel); err != nil {
			return err
		}
	}
	return nil
}

// connectWithBackoff retries dial with exponential backoff until it
// succeeds or ctx is canceled.
func (b *Bridge) connectWithBackoff(ctx context.Context, dial Dialer) (*port.Port, error) {
	backoff := 250 * time.Millisecond
	for {
		p, err := dial(ctx)
		if err == nil {
			return p, nil
		}
		log.Warn().Err(err).Dur("backoff", backoff).Msg("bridge: dial failed, retrying")

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		backoff *= 2
		if backoff > MaxBackoff {
			backoff = MaxBackoff
		}
	}
}

// mirror copies every message from src to dst, skipping anything already
// tagged _bridge (it came from a mirror hop and must not bounce back) and
// tagging forwarded messages before sending them on.
func (b *Bridge) mirror(ctx context.Context, src, dst *port.Port, done chan<- struct{}) {
	for {
		m, err := src.Wait(time.Second)
		if err != nil {
			done <- struct{}{}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		if m == nil {
			continue // Wait timeout, just poll ctx again
		}
		if bridged, _ := m.GetBool(msg.KeyBridge); bridged {
			continue
		}
		if !b.whitelisted(m) {
			continue
		}
		m.Set(msg.KeyBridge, true)
		if err := dst.Send(m); err != nil {
			done <- struct{}{}
			return
		}
	}
}

func (b *Bridge) whitelisted(m *msg.Message) bool {
	chanName, ok := m.GetString(msg.KeyChan)
	if !ok {
		return false
	}
	for _, r := range b.routes {
		if r.Channel != chanName {
			continue
		}
		if len(r.Labels) == 0 {
			return true
		}
		msgLabels := m.GetLabels()
		for _, want := range r.Labels {
			for _, have := range msgLabels {
				if want == have {
					return true
				}
			}
		}
	}
	return false
}
