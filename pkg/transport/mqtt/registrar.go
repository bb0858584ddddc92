package mqtt

import (
	"context"

	"github.com/golang/glog"
	"github.com/sugawarayuuta/sonnet"
)

// DeviceMeta is the retained announcement of a device.
type DeviceMeta struct {
	ID      string            `json:"id"`
	Version string            `json:"version,omitempty"`
	Ports   map[string]uint32 `json:"ports,omitempty"`
}

// Registrar announces a device on the broker and carries its packet link.
// The retained meta is cleared by the will when the device disappears.
type Registrar struct {
	Queue      *Queue
	Meta       DeviceMeta
	ReadWriter *ReadWriter

	metaJSON []byte
}

// NewRegistrar creates a Registrar.
func NewRegistrar(brokerURL string, meta DeviceMeta) (*Registrar, error) {
	encoded, err := sonnet.Marshal(&meta)
	if err != nil {
		return nil, err
	}
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	metaTopic := DeviceTopic(meta.ID, MetaTopic)
	opts.SetBinaryWill(topicPrefix+metaTopic, nil, 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("ec:" + meta.ID)
	}
	r := &Registrar{
		Queue:    NewQueue(opts, topicPrefix),
		Meta:     meta,
		metaJSON: encoded,
	}
	r.Queue.OnConnect = func(*Queue) { r.announce() }
	r.ReadWriter = NewPacketReadWriter(r.Queue).ForDevice(meta.ID)
	return r, nil
}

// Name implements framework.Named.
func (r *Registrar) Name() string {
	return "mqtt-registrar"
}

// Run implements framework.Runnable. The meta is withdrawn when ctx ends.
func (r *Registrar) Run(ctx context.Context) error {
	token := r.Queue.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	err := r.ReadWriter.Run(ctx)
	r.Queue.PubWith(DeviceTopic(r.Meta.ID, MetaTopic), nil, 1, true).Wait()
	r.Queue.Close()
	return err
}

func (r *Registrar) announce() {
	glog.Infof("mqtt: announce %s", r.Meta.ID)
	r.Queue.PubWith(DeviceTopic(r.Meta.ID, MetaTopic), r.metaJSON, 1, true)
}
