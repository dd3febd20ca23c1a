package usbip

// TransferType classifies how an endpoint moves data, mirroring the USB
// endpoint descriptor's bmAttributes transfer-type field.
type TransferType uint8

const (
	TransferTypeControl = TransferType(iota)
	TransferTypeIsochronous
	TransferTypeBulk
	TransferTypeInterrupt
)

// Direction identifies one pipe of an endpoint index. USB endpoints are
// unidirectional; (index, Direction) is the full identity of a pipe.
type Direction uint8

const (
	DirOut Direction = 0
	DirIn  Direction = 1
)

// MaxEndpoints is the largest endpoint index the bus will allocate, plus
// one (indices run 0..MaxEndpoints-1). USB/IP and the USB spec itself cap
// a device at 16 endpoint numbers.
const MaxEndpoints = 16

// EndpointDir holds the packet-buffer state for one direction of one
// endpoint, per spec.md §3.
type EndpointDir struct {
	Kind          TransferType
	MaxPacketSize uint16
	Interval      uint8

	// data is the ordered queue of byte chunks. Invariants: every queued
	// chunk is non-empty (I1), and only the last chunk may be shorter
	// than MaxPacketSize (I2).
	data [][]byte

	// readyToSend is set once a complete IN response has been queued by
	// the device stack and cleared once that response is fully drained.
	readyToSend bool

	// setupFlag is only meaningful on endpoint 0 OUT: it marks that the
	// next read from this endpoint must return the latched SETUP bytes.
	setupFlag bool
	setup     [8]byte

	// seqnum is the last sequence number accepted from the client on
	// this pipe (I4: strictly monotonic).
	seqnum uint32

	// bytesRequested is set for the duration of an outstanding IN URB;
	// nil means no IN transfer is currently outstanding (I3).
	bytesRequested *uint32
}

// Endpoint is one endpoint index, with an optional direction each way.
type Endpoint struct {
	In  *EndpointDir
	Out *EndpointDir
}

// pushOut appends a chunk to the OUT queue. The caller (the URB protocol)
// is responsible for splitting payloads into MaxPacketSize-sized pieces
// before calling this, so chunk is assumed to already satisfy I1/I2.
func (d *EndpointDir) pushOut(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	d.data = append(d.data, cp)
}

// popOut pops the next OUT chunk, if any. Consumers must concatenate
// chunks until they see one shorter than MaxPacketSize, which marks the
// end of a transfer.
func (d *EndpointDir) popOut() ([]byte, bool) {
	if len(d.data) == 0 {
		return nil, false
	}
	chunk := d.data[0]
	d.data = d.data[1:]
	return chunk, true
}

// pushSetup latches an 8-byte SETUP packet, per spec.md §4.2. SETUP bytes
// of all zero never arm the flag (B4).
func (d *EndpointDir) pushSetup(setup [8]byte) {
	if setup == ([8]byte{}) {
		return
	}
	d.setup = setup
	d.setupFlag = true
}

// readSetupOrOut implements the "next read of endpoint 0 OUT returns the
// latched SETUP bytes" rule from spec.md §4.2: once armed, the first read
// returns the 8 SETUP bytes and clears the flag; subsequent reads fall
// through to ordinary queued OUT data.
func (d *EndpointDir) readSetupOrOut() ([]byte, bool) {
	if d.setupFlag {
		d.setupFlag = false
		setup := d.setup
		return setup[:], true
	}
	return d.popOut()
}

// pushIn appends a chunk to the IN queue and recomputes readyToSend. A
// chunk completes a transfer — and therefore arms readyToSend — when it
// is shorter than MaxPacketSize, or once the transfer size targetLen
// (0 meaning "unknown / not tracked here") has been reached; Bus.Write
// passes the host's requested transfer_buffer_length as targetLen.
func (d *EndpointDir) pushIn(chunk []byte, targetLen int) {
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	d.data = append(d.data, cp)

	if len(chunk) < int(d.MaxPacketSize) {
		d.readyToSend = true
		return
	}
	if targetLen > 0 {
		total := 0
		for _, c := range d.data {
			total += len(c)
		}
		if total >= targetLen {
			d.readyToSend = true
		}
	}
}

// takeIn drains queued IN chunks up to maxBytes, splitting the chunk that
// would overflow the limit and pushing its tail back to the front of the
// queue (B3). It clears readyToSend once the queue empties.
func (d *EndpointDir) takeIn(maxBytes int) []byte {
	out := make([]byte, 0, maxBytes)
	for len(d.data) > 0 && len(out) < maxBytes {
		chunk := d.data[0]
		take := maxBytes - len(out)
		if take > len(chunk) {
			take = len(chunk)
		}
		out = append(out, chunk[:take]...)
		if take < len(chunk) {
			d.data[0] = chunk[take:]
			break
		}
		d.data = d.data[1:]
	}
	if len(d.data) == 0 {
		d.readyToSend = false
	}
	return out
}
