// Package telemetry defines the publication boundary core components sit
// behind (§4.9/§6): core never depends on a concrete transport, only
// cmd/ecmcore wires one in, the same separation huskki keeps between its
// ecu.Processor and events.EventHub.
package telemetry

import (
	"context"

	"ecmcore/enginestate"
)

// Sample is the wire shape of a published EngineState snapshot, stamped
// with a publish time. It generalizes huskki's Stream/DataPoint pair from
// "one named scalar stream" to "one full snapshot".
type Sample struct {
	Stamp int64 `json:"stamp"`
	enginestate.Snapshot
}

// Publisher is the interface every core component publishes through.
type Publisher interface {
	Publish(ctx context.Context, sample Sample) error
}
