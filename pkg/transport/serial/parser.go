package serial

// State indicates the state of the link.
type State int

const (
	// StateSyncing means the link is not synchronized.
	StateSyncing State = 0
	// StateReady means the link is synchronized and ready for frames.
	StateReady State = 0x01
	// StateReceiving means a handshake or a frame is in progress.
	StateReceiving State = 0x02
)

// IsReady indicates if the link is ready for frames.
func (s State) IsReady() bool {
	return s&StateReady != 0
}

// IsReceiving indicates if a handshake or a frame is in progress.
func (s State) IsReceiving() bool {
	return s&StateReceiving != 0
}

func (s State) String() string {
	switch {
	case s.IsReady() && s.IsReceiving():
		return "receiving"
	case s.IsReady():
		return "ready"
	case s.IsReceiving():
		return "handshake"
	}
	return "syncing"
}

// TimerAction defines what to do with the resync timer.
type TimerAction int

const (
	// TimerNoChange keeps the timer as-is.
	TimerNoChange TimerAction = iota
	// TimerRestart restarts the timer.
	TimerRestart
	// TimerStop stops the timer.
	TimerStop
)

// Result is the outcome of one parsing step.
type Result struct {
	// Sync is the handshake byte to send, if not zero.
	Sync  byte
	State State
	Frame *Frame
}

// Timer decides what to do with the resync timer.
func (r Result) Timer() TimerAction {
	if r.State.IsReceiving() || r.Sync == syncREQ {
		return TimerRestart
	}
	if r.State.IsReady() {
		return TimerStop
	}
	return TimerNoChange
}

type parseState int

const (
	waitSyncAck    parseState = iota // syncREQ sent
	waitSyncReqSeq                   // after syncREQ
	waitSyncAckSeq                   // after syncACK
	waitSeq                          // idle, synchronized
	waitAckSeq                       // syncACK while synchronized
	waitFlags
	waitLen
	waitData
)

const (
	syncREQ byte = 0xff
	syncACK byte = 0xfe
)

// Parser decodes the received byte stream.
type Parser struct {
	peerSeq Seq
	state   parseState
	frame   *Frame
	recvLen byte
}

// State gets the current state.
func (p *Parser) State() State {
	switch {
	case p.state == waitSyncAck:
		return StateSyncing
	case p.state == waitSeq:
		return StateReady
	case p.state > waitSeq:
		return StateReady | StateReceiving
	}
	return StateSyncing | StateReceiving
}

// Reset drops everything and starts a handshake.
func (p *Parser) Reset() (r Result) {
	p.frame = nil
	r.Sync, r.Frame = p.resync()
	r.State = p.State()
	return
}

// Parse consumes one byte.
func (p *Parser) Parse(b byte) (r Result) {
	r.Sync, r.Frame = p.parseByte(b)
	r.State = p.State()
	return
}

// Timeout notifies the parser the resync timer expired.
func (p *Parser) Timeout() (r Result) {
	if p.state != waitSeq {
		r.Sync, r.Frame = p.resync()
	}
	r.State = p.State()
	return
}

func (p *Parser) parseByte(b byte) (byte, *Frame) {
	switch p.state {
	case waitSyncAck:
		switch b {
		case syncREQ:
			p.state = waitSyncReqSeq
		case syncACK:
			p.state = waitSyncAckSeq
		}
	case waitSyncReqSeq:
		if seq := Seq(b); seq.IsValid() {
			p.peerSeq, p.state = seq, waitSeq
			return syncACK, nil
		}
		return p.resync()
	case waitSyncAckSeq:
		if seq := Seq(b); seq.IsValid() {
			p.peerSeq, p.state = seq, waitSeq
			return 0, nil
		}
		return p.resync()
	case waitSeq:
		switch {
		case b == syncREQ:
			p.state = waitSyncReqSeq
		case b == syncACK:
			p.state = waitAckSeq
		case b != byte(p.peerSeq):
			return p.resync()
		default:
			p.frame = &Frame{Seq: p.peerSeq}
			p.peerSeq = p.peerSeq.Next()
			p.state = waitFlags
		}
	case waitAckSeq:
		if b != byte(p.peerSeq) {
			return p.resync()
		}
		p.state = waitSeq
	case waitFlags:
		p.frame.Flags = b & flagsMask
		switch dataLen := (b >> 4) & 7; dataLen {
		case 0:
			return p.frameReady()
		case 7:
			p.state = waitLen
		default:
			p.frame.Data, p.recvLen = make([]byte, dataLen), 0
			p.state = waitData
		}
	case waitLen:
		if b > MaxFrameData {
			return p.resync()
		}
		if b == 0 {
			return p.frameReady()
		}
		p.frame.Data, p.recvLen = make([]byte, b), 0
		p.state = waitData
	case waitData:
		p.frame.Data[p.recvLen] = b
		p.recvLen++
		if int(p.recvLen) >= len(p.frame.Data) {
			return p.frameReady()
		}
	}
	return 0, nil
}

func (p *Parser) resync() (byte, *Frame) {
	p.state, p.frame = waitSyncAck, nil
	return syncREQ, nil
}

func (p *Parser) frameReady() (byte, *Frame) {
	p.state = waitSeq
	f := p.frame
	p.frame = nil
	return 0, f
}
