// Package ec assembles the firmware services of a simulated embedded
// controller and exposes them as ports of a packet link.
package ec

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/ec.go/pkg/dap"
	"github.com/robotalks/ec.go/pkg/flash"
	fx "github.com/robotalks/ec.go/pkg/framework"
	"github.com/robotalks/ec.go/pkg/hostcmd"
	"github.com/robotalks/ec.go/pkg/i2cbridge"
	"github.com/robotalks/ec.go/pkg/queue"
	"github.com/robotalks/ec.go/pkg/sharedmem"
	"github.com/robotalks/ec.go/pkg/transport"
	"github.com/robotalks/ec.go/pkg/update"
)

// Ports of the device link.
const (
	PortUpdate  uint32 = 1
	PortHostCmd uint32 = 2
	PortI2C     uint32 = 3
	PortDAP     uint32 = 4
)

// PortNames maps the name of each port to its number.
var PortNames = map[string]uint32{
	"update":  PortUpdate,
	"hostcmd": PortHostCmd,
	"i2c":     PortI2C,
	"dap":     PortDAP,
}

// ErrAttached indicates the device already has a link.
var ErrAttached = errors.New("device already attached")

// Config describes a Device.
type Config struct {
	ID string
	// PacketSize bounds the data carried by one outbound packet.
	PacketSize int
	// QueueSize is the size in bytes of every port queue. It must be a
	// power of two.
	QueueSize int
	// ScratchSize is the shared buffer for update blocks.
	ScratchSize int
	FlashSize   int64
	// RebootDelay lets the response of a reboot request go out first.
	RebootDelay time.Duration
	// I2CDevices are the addresses of simulated peripherals on port 0.
	I2CDevices []uint8

	Flash   flash.Config
	Update  update.Config
	HostCmd hostcmd.Config
	I2C     i2cbridge.Config
	DAP     dap.Config
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ID:          "ec",
		PacketSize:  transport.DefaultPacketSize,
		QueueSize:   256,
		ScratchSize: 2048,
		FlashSize:   flash.DefaultSize,
		RebootDelay: 50 * time.Millisecond,
		I2CDevices:  []uint8{0x0b, 0x50},
		Flash:       flash.DefaultConfig,
		Update:      update.DefaultConfig,
		HostCmd:     hostcmd.DefaultConfig,
		I2C:         i2cbridge.DefaultConfig,
		DAP:         dap.DefaultConfig,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ID == "" {
		return errors.New("missing device ID")
	}
	if c.QueueSize < transport.DefaultPacketSize || c.QueueSize&(c.QueueSize-1) != 0 {
		return fmt.Errorf("queue size %d must be a power of two no less than %d",
			c.QueueSize, transport.DefaultPacketSize)
	}
	if c.PacketSize <= 0 || c.PacketSize > c.QueueSize {
		return fmt.Errorf("invalid packet size %d", c.PacketSize)
	}
	if int64(c.Flash.ROSize) > c.FlashSize {
		return fmt.Errorf("RO size %#x exceeds flash size %#x", c.Flash.ROSize, c.FlashSize)
	}
	return nil
}

// Device is a simulated EC. Each service consumes the queue filled by its
// port and produces into the queue drained by the same port.
type Device struct {
	Config Config

	Flash    *flash.Engine
	Scratch  *sharedmem.Pool
	Update   *update.Session
	HostCmd  *hostcmd.Transport
	Commands *hostcmd.Dispatcher
	Bus      *i2cbridge.Registers
	I2C      *i2cbridge.Session
	Target   *dap.SimTarget
	DAP      *dap.Session

	endpoints  []*transport.Endpoint
	rebootWork *fx.Deferred
	attached   atomic.Bool
	mux        atomic.Pointer[transport.Mux]

	links   atomic.Uint64
	reboots atomic.Uint64
}

// NewDevice creates a Device on store.
func NewDevice(conf Config, store flash.Store) (*Device, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	d := &Device{
		Config:  conf,
		Flash:   &flash.Engine{Config: conf.Flash, Store: store},
		Scratch: sharedmem.NewPool(conf.ScratchSize),
		Bus:     i2cbridge.NewRegisters(conf.I2C.Ports),
		Target:  &dap.SimTarget{},
	}
	d.rebootWork = fx.NewDeferred(d.reboot)

	d.Update = update.NewSession(d.Flash, d.Scratch, update.ResetFunc(d.requestReboot))
	d.Update.Config = conf.Update
	d.Update.Extra = d.Flash

	d.Commands = hostcmd.RegisterBuiltins(hostcmd.NewDispatcher(), &hostcmd.DeviceInfo{
		VersionRO:    conf.Flash.Version,
		VersionRW:    conf.Flash.Version,
		CurrentImage: hostcmd.ImageRW,
		MaxRequest:   conf.HostCmd.MaxRequestSize,
		MaxResponse:  conf.HostCmd.MaxResponseSize,
		Reboot:       d.hostReboot,
	})
	d.HostCmd = hostcmd.NewTransportWith(conf.HostCmd, d.Commands)

	for _, addr := range conf.I2CDevices {
		if err := d.Bus.Attach(0, addr); err != nil {
			return nil, err
		}
	}
	d.I2C = i2cbridge.NewSessionWith(conf.I2C, d.Bus)

	d.DAP = dap.NewSession(d.Target)
	d.DAP.Config = conf.DAP

	d.wire(PortUpdate, d.Update.Consumer(), d.Update.Producer())
	d.wire(PortHostCmd, d.HostCmd.Consumer(), d.HostCmd.Producer())
	d.wire(PortI2C, d.I2C.Consumer(), d.I2C.Producer())
	d.wire(PortDAP, d.DAP.Consumer(), d.DAP.Producer())
	return d, nil
}

// wire connects a port endpoint to a service through a queue pair.
func (d *Device) wire(port uint32, consumer *queue.Consumer, producer *queue.Producer) {
	ep := transport.NewEndpoint(port, d.Config.PacketSize)
	queue.Wire(queue.New(d.Config.QueueSize, 1, nil), ep.Producer(), consumer)
	queue.Wire(queue.New(d.Config.QueueSize, 1, nil), producer, ep.Consumer())
	d.endpoints = append(d.endpoints, ep)
}

// Endpoints returns the port endpoints.
func (d *Device) Endpoints() []*transport.Endpoint {
	return d.endpoints
}

// Runnables returns the tasks which must run for the services to work.
func (d *Device) Runnables() []fx.Runnable {
	return []fx.Runnable{d.Commands, d.I2C, d.DAP}
}

// Run runs the service tasks until ctx ends.
func (d *Device) Run(ctx context.Context) error {
	return fx.NewRunnerWith(ctx).Go(d.Runnables()...).Wait()
}

// Attached tells if a link is attached.
func (d *Device) Attached() bool {
	return d.attached.Load()
}

// Attach serves a packet link until it fails or ctx ends. Only one link is
// served at a time; the services are reset when it detaches.
func (d *Device) Attach(ctx context.Context, rw transport.PacketReadWriter) error {
	if !d.attached.CompareAndSwap(false, true) {
		return ErrAttached
	}
	defer d.attached.Store(false)

	mux := transport.NewMux(rw, d.endpoints...)
	d.mux.Store(mux)
	d.links.Add(1)
	glog.Infof("ec: %s attached", d.Config.ID)
	err := mux.Run(ctx)
	d.Reset()
	glog.Infof("ec: %s detached", d.Config.ID)
	return err
}

// Reset drops buffered data and partial requests of every service.
func (d *Device) Reset() {
	d.Update.Discard()
	d.Update.Reset()
	d.HostCmd.Discard()
	d.HostCmd.Reset()
	d.I2C.Reset()
	d.DAP.Reset()
	for _, ep := range d.endpoints {
		ep.Flush()
	}
}

func (d *Device) hostReboot(cmd hostcmd.RebootCmd) {
	if cmd == hostcmd.RebootCancel {
		d.rebootWork.Cancel()
		return
	}
	d.requestReboot()
}

func (d *Device) requestReboot() {
	d.rebootWork.Call(d.Config.RebootDelay)
}

func (d *Device) reboot() {
	d.Reset()
	n := d.reboots.Add(1)
	glog.Infof("ec: %s reboot #%d", d.Config.ID, n)
}
