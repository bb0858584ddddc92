package transport

import (
	"github.com/golang/protobuf/proto"
)

// Envelope is the unit sent over a packet link.
type Envelope struct {
	Port uint32 `protobuf:"varint,1,opt,name=port,proto3" json:"port,omitempty"`
	Seq  uint32 `protobuf:"varint,2,opt,name=seq,proto3" json:"seq,omitempty"`
	Data []byte `protobuf:"bytes,3,opt,name=data,proto3" json:"data,omitempty"`
}

// Reset implements proto.Message.
func (m *Envelope) Reset() { *m = Envelope{} }

// String implements proto.Message.
func (m *Envelope) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*Envelope) ProtoMessage() {}

// Encode encodes the Envelope to bytes.
func (m *Envelope) Encode() ([]byte, error) {
	return proto.Marshal(m)
}

// DecodeEnvelope decodes bytes into an Envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := proto.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
