package usbip

import "log"

// Phase is the bus lifecycle state from spec.md §4.8: Reset ⇌ Attached.
type Phase uint8

const (
	PhaseReset Phase = iota
	PhaseAttached
)

// PollKind classifies what, if anything, a Poll call advanced.
type PollKind uint8

const (
	// PollNone means poll made no progress this call (WouldBlock on the
	// socket, or no connection yet).
	PollNone PollKind = iota
	// PollReset means the connection was dropped and the bus returned
	// to PhaseReset.
	PollReset
	// PollSuspend and PollResume exist for device-stack-interface
	// completeness (spec.md §6 names a "suspended" status) but are
	// never emitted: USB/IP as specified here carries no suspend/resume
	// wire signal.
	PollSuspend
	PollResume
	// PollData means endpoint state changed; the three masks report
	// which endpoint indices currently have queued OUT data, have an
	// IN direction with no IN URB from the host outstanding, or have an
	// armed SETUP packet. An InMask bit does not mean Write will accept
	// data: Write returns ErrWouldBlock while a previously written
	// response is still queued. These
	// are level-triggered readiness snapshots, not one-shot edge
	// events: a mask bit stays set across polls until the condition it
	// reports is resolved.
	PollData
)

// PollResult is the outcome of one Bus.Poll call.
type PollResult struct {
	Kind      PollKind
	OutMask   uint16
	InMask    uint16
	SetupMask uint16
}

// Bus is the poll-driven device-stack interface of spec.md §4.7, backed
// by a non-blocking TCP socket speaking USB/IP.
type Bus struct {
	cfg   BusConfig
	sock  *socketHandler
	phase Phase

	address uint8
	eps     [MaxEndpoints]Endpoint
}

// NewBus binds a listener at cfg.BindAddr and returns a Bus ready to be
// polled. The listener is bound at construction and never rebound
// (spec.md §3).
func NewBus(cfg BusConfig) (*Bus, error) {
	sock, err := newSocketHandler(cfg.BindAddr)
	if err != nil {
		return nil, err
	}
	return &Bus{cfg: cfg, sock: sock, phase: PhaseReset}, nil
}

// AllocEndpoint creates or attaches a direction to endpoint index addr.
func (b *Bus) AllocEndpoint(addr int, dir Direction, kind TransferType, maxPacketSize uint16, interval uint8) (int, error) {
	if addr < 0 {
		for i := 0; i < MaxEndpoints; i++ {
			if !b.directionExists(i, dir) {
				addr = i
				break
			}
		}
		if addr < 0 {
			return 0, ErrEndpointOverflow
		}
	}
	if addr >= MaxEndpoints {
		return 0, ErrEndpointOverflow
	}
	if b.directionExists(addr, dir) {
		return 0, ErrInvalidEndpoint
	}

	epDir := &EndpointDir{Kind: kind, MaxPacketSize: maxPacketSize, Interval: interval}
	if dir == DirIn {
		b.eps[addr].In = epDir
	} else {
		b.eps[addr].Out = epDir
	}
	return addr, nil
}

func (b *Bus) directionExists(addr int, dir Direction) bool {
	if addr < 0 || addr >= MaxEndpoints {
		return false
	}
	if dir == DirIn {
		return b.eps[addr].In != nil
	}
	return b.eps[addr].Out != nil
}

// endpointFor returns the Endpoint at addr, failing InvalidEndpoint if
// neither direction has ever been allocated there.
func (b *Bus) endpointFor(addr int) (*Endpoint, error) {
	if addr < 0 || addr >= MaxEndpoints {
		return nil, ErrInvalidEndpoint
	}
	ep := &b.eps[addr]
	if ep.In == nil && ep.Out == nil {
		return nil, ErrInvalidEndpoint
	}
	return ep, nil
}

// Poll runs at most one protocol step and waits on the socket for at
// most about a millisecond when nothing is pending (spec.md §5):
// accept a pending connection, answer one attach-phase frame, or
// dispatch one URB frame, then report which endpoints became ready.
func (b *Bus) Poll() PollResult {
	b.sock.acceptIfIdle()
	if !b.sock.connected() {
		return PollResult{Kind: PollNone}
	}

	if err := b.sock.fill(); err != nil {
		b.dropConnection()
		return PollResult{Kind: PollReset}
	}

	var stepErr error
	if b.phase == PhaseReset {
		stepErr = b.handleAttach()
	} else {
		stepErr = b.handleCmd()
	}

	if stepErr == ErrConnectionClosed {
		b.dropConnection()
		return PollResult{Kind: PollReset}
	}
	if stepErr != nil && stepErr != ErrWouldBlock {
		log.Printf("usbip: protocol step failed: %v", stepErr)
	}

	// Masks only mean anything once URB traffic can flow; in Reset, no
	// CMD_SUBMIT is ever dispatched, so there is nothing to report.
	if b.phase != PhaseAttached {
		return PollResult{Kind: PollNone}
	}

	// Recomputed every call, not only when this call's step advanced
	// something: they report current queue/flag state, so a device stack
	// that misses one poll still sees outstanding OUT data or an armed
	// SETUP flag on the next one (level-triggered, not an edge event —
	// see PollData's doc comment).
	out, in, setup := b.outMask(), b.inMask(), b.setupMask()
	if out|in|setup == 0 {
		return PollResult{Kind: PollNone}
	}
	return PollResult{Kind: PollData, OutMask: out, InMask: in, SetupMask: setup}
}

func (b *Bus) outMask() uint16 {
	var mask uint16
	for i := 0; i < MaxEndpoints; i++ {
		if d := b.eps[i].Out; d != nil && len(d.data) > 0 {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

func (b *Bus) inMask() uint16 {
	var mask uint16
	for i := 0; i < MaxEndpoints; i++ {
		if d := b.eps[i].In; d != nil && d.bytesRequested == nil {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

func (b *Bus) setupMask() uint16 {
	var mask uint16
	for i := 0; i < MaxEndpoints; i++ {
		if d := b.eps[i].Out; d != nil && d.setupFlag {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// Read pops queued bytes from ep's OUT direction into buf, returning the
// number of bytes copied.
func (b *Bus) Read(ep int, buf []byte) (int, error) {
	epDir, err := b.outDir(ep)
	if err != nil {
		return 0, err
	}
	chunk, ok := epDir.readSetupOrOut()
	if !ok {
		return 0, ErrWouldBlock
	}
	if len(chunk) > len(buf) {
		return 0, ErrBufferOverflow
	}
	return copy(buf, chunk), nil
}

// Write pushes buf as one IN chunk on ep, then drives the drain
// algorithm immediately (SPEC_FULL.md supplemented feature #1: this is
// the same entry point CMD_SUBMIT arrival uses, not a separate copy).
// The transfer's target length is the host's own transfer_buffer_length,
// already recorded in epDir.bytesRequested by the outstanding CMD_SUBMIT
// (urb.go); a caller has no length of its own to contribute here, so
// Write takes none (spec.md §4.7: write(ep, buf) -> n).
func (b *Bus) Write(ep int, buf []byte) (int, error) {
	epDir, err := b.inDir(ep)
	if err != nil {
		return 0, err
	}
	if epDir.readyToSend {
		return 0, ErrWouldBlock
	}
	targetLen := 0
	if epDir.bytesRequested != nil {
		targetLen = int(*epDir.bytesRequested)
	}
	epDir.pushIn(buf, targetLen)
	if b.sock.connected() && b.phase == PhaseAttached {
		if err := b.drainIn(ep, epDir); err != nil && err != ErrWouldBlock {
			return 0, err
		}
	}
	return len(buf), nil
}

func (b *Bus) outDir(ep int) (*EndpointDir, error) {
	e, err := b.endpointFor(ep)
	if err != nil {
		return nil, err
	}
	if e.Out == nil {
		return nil, ErrInvalidEndpoint
	}
	return e.Out, nil
}

func (b *Bus) inDir(ep int) (*EndpointDir, error) {
	e, err := b.endpointFor(ep)
	if err != nil {
		return nil, err
	}
	if e.In == nil {
		return nil, ErrInvalidEndpoint
	}
	return e.In, nil
}

// SetDeviceAddress records the USB address assigned by the host's
// SET_ADDRESS control request. The bus core does not interpret SETUP
// bytes itself (spec.md §4.5 point 3); the device stack calls this once
// it has decoded that request from endpoint 0's SETUP bytes.
func (b *Bus) SetDeviceAddress(addr uint8) {
	b.address = addr
}

// DeviceAddress returns the address most recently set, 0 after reset.
func (b *Bus) DeviceAddress() uint8 {
	return b.address
}

// Reset drops the client, empties every endpoint queue, and returns to
// PhaseReset.
func (b *Bus) Reset() {
	b.dropConnection()
}

// ForceReset does exactly what Reset does. Neither is reported through
// Poll: the next Poll does not return PollReset for it, since Poll
// returns PollReset only when it finds the connection closed itself.
func (b *Bus) ForceReset() {
	b.dropConnection()
}

func (b *Bus) dropConnection() {
	b.sock.drop()
	b.phase = PhaseReset
	b.address = 0
	for i := range b.eps {
		if b.eps[i].In != nil {
			b.eps[i].In.data = nil
			b.eps[i].In.readyToSend = false
			b.eps[i].In.bytesRequested = nil
		}
		if b.eps[i].Out != nil {
			b.eps[i].Out.data = nil
			b.eps[i].Out.setupFlag = false
		}
	}
}
