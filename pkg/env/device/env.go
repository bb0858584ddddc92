// Package device sets up the environment of a simulated EC: its flash
// storage and the links it serves.
package device

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robotalks/ec.go/pkg/ec"
	"github.com/robotalks/ec.go/pkg/env"
	"github.com/robotalks/ec.go/pkg/flash"
	fx "github.com/robotalks/ec.go/pkg/framework"
	"github.com/robotalks/ec.go/pkg/transport"
	"github.com/robotalks/ec.go/pkg/transport/mqtt"
	"github.com/robotalks/ec.go/pkg/transport/serial"
	"github.com/robotalks/ec.go/pkg/transport/tcp"
	"github.com/robotalks/ec.go/pkg/transport/websocket"
)

// Config provides the options of a simulated EC.
type Config struct {
	Device ec.Config

	// MQTTBrokerURL announces the device on an MQTT broker and serves the
	// link over it, e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string
	// Listen is the TCP address serving links.
	Listen string
	// WSListen is the HTTP address serving links over websocket at /ec.
	WSListen string
	// MetricsListen is the HTTP address serving /metrics.
	MetricsListen string
	// Serial is a character device, e.g. a UART or pty, serving the link.
	Serial string
	// FlashDB persists the flash in an SQLite database. Empty keeps the
	// flash in memory.
	FlashDB string
}

var defaultConfig = Config{
	Device: ec.DefaultConfig(),
	Listen: ":7070",
}

func init() {
	defaultConfig.Device.ID = env.MachineID()
	if val := os.Getenv("EC_ID"); val != "" {
		defaultConfig.Device.ID = val
	}
	if val := os.Getenv("EC_MQTT_URL"); val != "" {
		defaultConfig.MQTTBrokerURL = val
	}
	if val, ok := os.LookupEnv("EC_LISTEN"); ok {
		defaultConfig.Listen = val
	}
	if val := os.Getenv("EC_WS_LISTEN"); val != "" {
		defaultConfig.WSListen = val
	}
	if val := os.Getenv("EC_METRICS_LISTEN"); val != "" {
		defaultConfig.MetricsListen = val
	}
	if val := os.Getenv("EC_SERIAL"); val != "" {
		defaultConfig.Serial = val
	}
	if val := os.Getenv("EC_FLASH_DB"); val != "" {
		defaultConfig.FlashDB = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Device.ID, "id", defaultConfig.Device.ID, "Device ID")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL")
	flag.StringVar(&defaultConfig.Listen, "listen", defaultConfig.Listen, "TCP address serving links")
	flag.StringVar(&defaultConfig.WSListen, "ws-listen", defaultConfig.WSListen, "HTTP address serving websocket links")
	flag.StringVar(&defaultConfig.MetricsListen, "metrics-listen", defaultConfig.MetricsListen, "HTTP address serving metrics")
	flag.StringVar(&defaultConfig.Serial, "serial", defaultConfig.Serial, "Serial device serving the link")
	flag.StringVar(&defaultConfig.FlashDB, "flash-db", defaultConfig.FlashDB, "SQLite database persisting the flash")
	flag.Int64Var(&defaultConfig.Device.FlashSize, "flash-size", defaultConfig.Device.FlashSize, "Flash size in bytes")
	flag.StringVar(&defaultConfig.Device.Flash.Version, "fw-version", defaultConfig.Device.Flash.Version, "Firmware version")
	flag.BoolVar(&defaultConfig.Device.Update.SilentStall, "silent-stall", defaultConfig.Device.Update.SilentStall,
		"Drop update blocks silently when out of scratch memory")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	conf.Device.I2CDevices = append([]uint8(nil), defaultConfig.Device.I2CDevices...)
	return &conf
}

// Env is a running simulated EC.
type Env struct {
	Config *Config
	Device *ec.Device
	Store  flash.Store

	registry *prometheus.Registry
}

// NewEnv creates Env from config.
func (c *Config) NewEnv() (*Env, error) {
	if c.Listen == "" && c.WSListen == "" && c.MQTTBrokerURL == "" && c.Serial == "" {
		return nil, errors.New("at least one of listen, ws-listen, mqtt and serial is required")
	}
	var store flash.Store
	if c.FlashDB != "" {
		s, err := flash.OpenSQLiteStore(c.FlashDB, c.Device.FlashSize)
		if err != nil {
			return nil, fmt.Errorf("open flash %s: %w", c.FlashDB, err)
		}
		store = s
	} else {
		store = flash.NewMemStore(int(c.Device.FlashSize))
	}
	dev, err := ec.NewDevice(c.Device, store)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	e := &Env{Config: c, Device: dev, Store: store, registry: prometheus.NewRegistry()}
	e.registry.MustRegister(ec.NewCollector(dev))
	return e, nil
}

// MustNewEnv creates Env and fails on error.
func (c *Config) MustNewEnv() *Env {
	e, err := c.NewEnv()
	if err != nil {
		log.Fatalln(err)
	}
	return e
}

func closeStore(store flash.Store) {
	if closer, ok := store.(interface{ Close() error }); ok {
		closer.Close()
	}
}

// Runnables returns everything to run for the configured links.
func (e *Env) Runnables() []fx.Runnable {
	runnables := e.Device.Runnables()
	if e.Config.Listen != "" {
		runnables = append(runnables, fx.NamedRun("tcp", fx.RunnableFunc(e.serveTCP)))
	}
	if e.Config.WSListen != "" {
		runnables = append(runnables, fx.NamedRun("websocket", fx.RunnableFunc(e.serveWebsocket)))
	}
	if e.Config.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
		runnables = append(runnables, fx.NamedRun("metrics", httpServer(e.Config.MetricsListen, mux)))
	}
	if e.Config.Serial != "" {
		runnables = append(runnables, fx.NamedRun("serial", fx.RunnableFunc(e.serveSerial)))
	}
	if e.Config.MQTTBrokerURL != "" {
		runnables = append(runnables, fx.NamedRun("mqtt", fx.RunnableFunc(e.serveMQTT)))
	}
	return runnables
}

// Run runs the device until ctx ends.
func (e *Env) Run(ctx context.Context) error {
	defer closeStore(e.Store)
	return fx.NewRunnerWith(ctx).Go(e.Runnables()...).Wait()
}

// RunOrFail runs the device until interrupted and fails on error.
func (e *Env) RunOrFail() {
	runner := fx.NewRunner().HandleSignals()
	if err := e.Run(runner.Context); err != nil {
		log.Fatalln(err)
	}
}

func (e *Env) serveWebsocket(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/ec", websocket.Handler(func(rw transport.PacketReadWriter) error {
		return e.Device.Attach(ctx, rw)
	}))
	return httpServer(e.Config.WSListen, mux).Run(ctx)
}

func (e *Env) serveTCP(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.Config.Listen)
	if err != nil {
		return err
	}
	glog.Infof("ec: serving links on %s", ln.Addr())
	return fx.RunWithContextCloser(ctx, ln, func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return err
			}
			go func() {
				glog.Infof("ec: link from %s", conn.RemoteAddr())
				if err := e.Device.Attach(ctx, tcp.New(conn)); err != nil {
					glog.Warningf("ec: link from %s: %v", conn.RemoteAddr(), err)
					conn.Close()
				}
			}()
		}
	})
}

// serveSerial reopens the serial device whenever its link ends.
func (e *Env) serveSerial(ctx context.Context) error {
	for {
		if err := e.attachSerial(ctx); err != nil && !errors.Is(err, ec.ErrAttached) {
			glog.Warningf("ec: serial %s: %v", e.Config.Serial, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

func (e *Env) attachSerial(ctx context.Context) error {
	f, err := os.OpenFile(e.Config.Serial, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	link := serial.New(f)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go link.Run(ctx)
	glog.Infof("ec: serving link on %s", e.Config.Serial)
	err = e.Device.Attach(ctx, link)
	link.Close()
	return err
}

// serveMQTT keeps the broker link attached whenever the device is free.
func (e *Env) serveMQTT(ctx context.Context) error {
	reg, err := mqtt.NewRegistrar(e.Config.MQTTBrokerURL, mqtt.DeviceMeta{
		ID:      e.Config.Device.ID,
		Version: e.Config.Device.Flash.Version,
		Ports:   ec.PortNames,
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- reg.Run(ctx)
		cancel()
	}()

	// The broker link outlives each attachment, so the mux must not close it.
	link := struct{ transport.PacketReadWriter }{reg.ReadWriter}
	for ctx.Err() == nil {
		if err := e.Device.Attach(ctx, link); err != nil && !errors.Is(err, ec.ErrAttached) {
			glog.Warningf("ec: mqtt link: %v", err)
		}
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
	}
	return <-errCh
}

func httpServer(addr string, handler http.Handler) fx.Runnable {
	return fx.RunnableFunc(func(ctx context.Context) error {
		server := &http.Server{Addr: addr, Handler: handler}
		glog.Infof("http: serving on %s", addr)
		return fx.RunWithContextCancel(ctx, func() { server.Close() }, func() error {
			if err := server.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	})
}
