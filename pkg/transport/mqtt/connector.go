package mqtt

import (
	"context"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
	"github.com/sugawarayuuta/sonnet"

	fx "github.com/robotalks/ec.go/pkg/framework"
)

// DefaultDiscoverTimeout defines the default timeout value of discovery.
const DefaultDiscoverTimeout = 500 * time.Millisecond

// Connector finds devices announced on the broker and connects to them.
type Connector struct {
	DiscoverTimeout time.Duration

	options     *paho.ClientOptions
	topicPrefix string
}

// NewConnector creates a Connector.
func NewConnector(brokerURL string) (*Connector, error) {
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	return &Connector{
		DiscoverTimeout: DefaultDiscoverTimeout,
		options:         opts,
		topicPrefix:     topicPrefix,
	}, nil
}

// ParseMeta decodes a retained announcement. An empty payload means the
// device is gone.
func ParseMeta(topic string, payload []byte) (DeviceMeta, bool) {
	items := strings.Split(topic, "/")
	if len(items) != 2 || items[1] != MetaTopic || len(payload) == 0 {
		return DeviceMeta{}, false
	}
	var meta DeviceMeta
	if err := sonnet.Unmarshal(payload, &meta); err != nil {
		glog.Warningf("mqtt: bad meta on %q: %v", topic, err)
		return DeviceMeta{}, false
	}
	if meta.ID == "" {
		meta.ID = items[0]
	}
	return meta, true
}

// Discover collects the devices announced within DiscoverTimeout.
func (c *Connector) Discover(ctx context.Context) (res []DeviceMeta, err error) {
	q := NewQueue(c.options, c.topicPrefix)
	token := q.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}
	defer q.Close()

	resCh := make(chan DeviceMeta, 16)
	sub := q.Sub("+/"+MetaTopic, Handler(func(topic string, payload []byte) {
		if meta, ok := ParseMeta(topic, payload); ok {
			select {
			case resCh <- meta:
			case <-time.After(time.Second):
			}
		}
	}))
	defer sub.Close()

	dur := c.DiscoverTimeout
	if dur == 0 {
		dur = DefaultDiscoverTimeout
	}
	timeout := time.After(dur)
	for {
		select {
		case meta := <-resCh:
			res = append(res, meta)
		case <-timeout:
			return
		case <-ctx.Done():
			err = ctx.Err()
			return
		}
	}
}

// Conn is a connected packet link to a device. Run must be running to
// receive packets.
type Conn struct {
	*ReadWriter
}

// Close closes the link and disconnects from the broker.
func (c *Conn) Close() error {
	c.ReadWriter.Close()
	return c.Queue.Close()
}

// Connect connects to the device with id.
func (c *Connector) Connect(ctx context.Context, id string) (*Conn, error) {
	q := NewQueue(c.options, c.topicPrefix)
	err := fx.RunWithContext(ctx, func() error {
		token := q.Connect()
		token.Wait()
		return token.Error()
	})
	if err != nil {
		q.Close()
		return nil, err
	}
	return &Conn{ReadWriter: NewPacketReadWriter(q).ForHost(id)}, nil
}
