// Package host sets up the host side: which device to reach and how.
package host

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"

	"github.com/golang/glog"

	"github.com/robotalks/ec.go/pkg/ec"
	fx "github.com/robotalks/ec.go/pkg/framework"
	"github.com/robotalks/ec.go/pkg/transport"
	"github.com/robotalks/ec.go/pkg/transport/mqtt"
	"github.com/robotalks/ec.go/pkg/transport/serial"
	"github.com/robotalks/ec.go/pkg/transport/tcp"
	"github.com/robotalks/ec.go/pkg/transport/websocket"
)

// Config provides the options to reach a device.
type Config struct {
	// URL locates the device link:
	//   tcp://host:port
	//   ws://host:port/ec
	//   mqtt://host:port/topic-prefix
	//   serial:///dev/ttyUSB0
	URL string
	// ID selects the device on an MQTT broker.
	ID string
}

var defaultConfig = Config{
	URL: "tcp://localhost:7070",
}

func init() {
	if val := os.Getenv("EC_URL"); val != "" {
		defaultConfig.URL = val
	}
	if val := os.Getenv("EC_ID"); val != "" {
		defaultConfig.ID = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.URL, "url", defaultConfig.URL, "Device link URL")
	flag.StringVar(&defaultConfig.ID, "id", defaultConfig.ID, "Device ID on MQTT broker")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Dial opens the packet link to the device. The returned Runnable, if
// not nil, must run for the link to receive packets.
func (c *Config) Dial(ctx context.Context) (transport.PacketReadWriter, fx.Runnable, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "tcp":
		rw, err := tcp.Dial(u.Host)
		return rw, nil, err
	case "ws", "wss":
		origin := "http://" + u.Host
		rw, err := websocket.Dial(c.URL, origin)
		return rw, nil, err
	case "mqtt", "mqtts":
		if c.ID == "" {
			return nil, nil, fmt.Errorf("device ID is required for %s", c.URL)
		}
		connector, err := mqtt.NewConnector(c.URL)
		if err != nil {
			return nil, nil, err
		}
		conn, err := connector.Connect(ctx, c.ID)
		if err != nil {
			return nil, nil, err
		}
		return conn, conn.ReadWriter, nil
	case "serial":
		f, err := os.OpenFile(u.Path, os.O_RDWR, 0)
		if err != nil {
			return nil, nil, err
		}
		link := serial.New(f)
		return link, link, nil
	}
	return nil, nil, fmt.Errorf("unknown URL scheme: %q", u.Scheme)
}

// Connect opens a Link to the device and starts running it. The Link
// stops when ctx ends or it is closed.
func (c *Config) Connect(ctx context.Context) (*ec.Link, error) {
	rw, runnable, err := c.Dial(ctx)
	if err != nil {
		return nil, err
	}
	link := ec.NewLink(rw)
	if runnable != nil {
		go run(ctx, runnable)
	}
	go run(ctx, link)
	return link, nil
}

func run(ctx context.Context, runnable fx.Runnable) {
	if err := runnable.Run(ctx); err != nil && ctx.Err() == nil {
		glog.Warningf("link: %v", err)
	}
}

// MustConnect connects to the device and fails on error.
func (c *Config) MustConnect(ctx context.Context) *ec.Link {
	link, err := c.Connect(ctx)
	if err != nil {
		log.Fatalln(err)
	}
	return link
}

// Discover lists the devices announced on the MQTT broker in URL.
func (c *Config) Discover(ctx context.Context) ([]mqtt.DeviceMeta, error) {
	connector, err := mqtt.NewConnector(c.URL)
	if err != nil {
		return nil, err
	}
	return connector.Discover(ctx)
}
