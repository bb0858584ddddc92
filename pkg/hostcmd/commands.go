package hostcmd

import (
	"bytes"
	"encoding/binary"
)

// Payload layouts of the built-in commands.
const (
	helloMagic        = 0x01020304
	versionStringSize = 32
	versionRespSize   = 3*versionStringSize + 4
	protoInfoRespSize = 12
)

// Image is the running firmware copy.
type Image uint32

// Images.
const (
	ImageUnknown Image = iota
	ImageRO
	ImageRW
)

func (i Image) String() string {
	switch i {
	case ImageRO:
		return "RO"
	case ImageRW:
		return "RW"
	}
	return "unknown"
}

// RebootCmd is the action requested by CmdRebootEC.
type RebootCmd uint8

// Reboot actions.
const (
	RebootCancel RebootCmd = iota
	RebootJumpRO
	RebootJumpRW
	_
	RebootCold
)

// DeviceInfo feeds the built-in commands.
type DeviceInfo struct {
	VersionRO    string
	VersionRW    string
	CurrentImage Image
	MaxRequest   int
	MaxResponse  int
	Reboot       func(cmd RebootCmd)
}

// VersionInfo is the response of CmdGetVersion.
type VersionInfo struct {
	VersionRO    string
	VersionRW    string
	CurrentImage Image
}

// ProtocolInfo is the response of CmdGetProtocolInfo.
type ProtocolInfo struct {
	ProtocolVersions uint32
	MaxRequest       int
	MaxResponse      int
	Flags            uint32
}

// RegisterBuiltins installs hello, version, protocol info and reboot.
func RegisterBuiltins(d *Dispatcher, info *DeviceInfo) *Dispatcher {
	d.Register(CmdHello, func(args *Args) Result {
		if len(args.Params) < 4 {
			return ResInvalidParam
		}
		in := binary.LittleEndian.Uint32(args.Params)
		binary.LittleEndian.PutUint32(args.Response, in+helloMagic)
		args.ResponseSize = 4
		return ResSuccess
	})
	d.Register(CmdGetVersion, func(args *Args) Result {
		if len(args.Response) < versionRespSize {
			return ResResponseTooBig
		}
		b := args.Response[:versionRespSize]
		for i := range b {
			b[i] = 0
		}
		copy(b[:versionStringSize-1], info.VersionRO)
		copy(b[versionStringSize:2*versionStringSize-1], info.VersionRW)
		binary.LittleEndian.PutUint32(b[3*versionStringSize:], uint32(info.CurrentImage))
		args.ResponseSize = versionRespSize
		return ResSuccess
	})
	d.Register(CmdGetProtocolInfo, func(args *Args) Result {
		b := args.Response[:protoInfoRespSize]
		binary.LittleEndian.PutUint32(b[0:], 1<<RequestVersion)
		binary.LittleEndian.PutUint16(b[4:], uint16(info.MaxRequest))
		binary.LittleEndian.PutUint16(b[6:], uint16(info.MaxResponse))
		binary.LittleEndian.PutUint32(b[8:], 0)
		args.ResponseSize = protoInfoRespSize
		return ResSuccess
	})
	d.Register(CmdRebootEC, func(args *Args) Result {
		if len(args.Params) < 2 {
			return ResInvalidParam
		}
		if info.Reboot == nil {
			return ResUnavailable
		}
		info.Reboot(RebootCmd(args.Params[0]))
		return ResSuccess
	})
	return d
}

func cString(b []byte) string {
	if n := bytes.IndexByte(b, 0); n >= 0 {
		b = b[:n]
	}
	return string(b)
}

// DecodeVersion decodes a CmdGetVersion response.
func DecodeVersion(b []byte) (*VersionInfo, error) {
	if len(b) < versionRespSize {
		return nil, ErrShortPacket
	}
	return &VersionInfo{
		VersionRO:    cString(b[:versionStringSize]),
		VersionRW:    cString(b[versionStringSize : 2*versionStringSize]),
		CurrentImage: Image(binary.LittleEndian.Uint32(b[3*versionStringSize:])),
	}, nil
}

// DecodeProtocolInfo decodes a CmdGetProtocolInfo response.
func DecodeProtocolInfo(b []byte) (*ProtocolInfo, error) {
	if len(b) < protoInfoRespSize {
		return nil, ErrShortPacket
	}
	return &ProtocolInfo{
		ProtocolVersions: binary.LittleEndian.Uint32(b[0:]),
		MaxRequest:       int(binary.LittleEndian.Uint16(b[4:])),
		MaxResponse:      int(binary.LittleEndian.Uint16(b[6:])),
		Flags:            binary.LittleEndian.Uint32(b[8:]),
	}, nil
}
