package ec

import (
	"github.com/robotalks/ec.go/pkg/dap"
	"github.com/robotalks/ec.go/pkg/flash"
	"github.com/robotalks/ec.go/pkg/hostcmd"
	"github.com/robotalks/ec.go/pkg/i2cbridge"
	"github.com/robotalks/ec.go/pkg/transport"
	"github.com/robotalks/ec.go/pkg/update"
)

// Stats is a snapshot of every counter of a Device.
type Stats struct {
	Links     uint64
	Reboots   uint64
	Attached  bool
	Mux       transport.MuxStats
	Endpoints map[uint32]transport.EndpointStats
	Flash     flash.Stats
	Update    update.Stats
	HostCmd   hostcmd.Stats
	I2C       i2cbridge.Stats
	DAP       dap.Stats
	// ScratchAcquired and ScratchFailed count update scratch requests.
	ScratchAcquired uint64
	ScratchFailed   uint64
}

// Stats returns a snapshot of the counters.
func (d *Device) Stats() Stats {
	s := Stats{
		Links:     d.links.Load(),
		Reboots:   d.reboots.Load(),
		Attached:  d.Attached(),
		Endpoints: make(map[uint32]transport.EndpointStats, len(d.endpoints)),
		Flash:     d.Flash.Stats(),
		Update:    d.Update.Stats(),
		HostCmd:   d.HostCmd.Stats(),
		I2C:       d.I2C.Stats(),
		DAP:       d.DAP.Stats(),
	}
	if mux := d.mux.Load(); mux != nil {
		s.Mux = mux.Stats()
	}
	for _, ep := range d.endpoints {
		s.Endpoints[ep.Port] = ep.Stats()
	}
	s.ScratchAcquired, s.ScratchFailed = d.Scratch.Stats()
	return s
}
