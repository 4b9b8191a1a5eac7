/*
Package telemetry defines the ingress side of the engine: decoded resolution-chain events and the
Sink they are delivered to. The concrete listener in this package speaks the JSON/UDP form; a
streamed dnstap-shaped decoder is expected to satisfy the same Source interface and deliver to the
same Sink.
*/
package telemetry

import (
	"net/netip"
	"sync"
	"time"
)

// Event is the wire form of one observation: a client-visible address and the forward chain that
// led to it, terminal name first and original query name last.
type Event struct {
	Address string   `json:"address"`
	Chain   []string `json:"chain"`
}

// Sink consumes validated observations. The association store satisfies this directly.
type Sink interface {
	Observe(address netip.Addr, chain []string, now time.Time) error
}

// Source is a running telemetry ingress. Start returns once the listener is ready, or returns the
// error that prevented it; failures after a successful start arrive on the channel. Stop initiates
// shutdown and the WaitGroup accounts for full termination.
type Source interface {
	Start(errorChan chan<- error, wg *sync.WaitGroup) error
	Stop()
}
