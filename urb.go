package usbip

import (
	"bytes"
	"log"

	"github.com/daedaluz/usbip/wire"
)

// devid is always 2 on the synthetic bus (spec.md §4.5): one virtual
// device, no hub topology to distinguish it from.
const devid = 2

// handleCmd consumes one URB frame from the socket handler's buffer, if
// a complete one is available, and dispatches it per spec.md §4.5. Only
// CMD_SUBMIT does anything; CMD_UNLINK/RET_UNLINK are recognised and
// dropped (cancellation is a non-goal), any other command code is fatal
// to the connection.
func (b *Bus) handleCmd() error {
	raw, err := b.sock.peek(wire.PreambleSize)
	if err != nil {
		return err
	}
	header, err := wire.ReadHeader(bytes.NewReader(raw[:wire.HeaderSize]))
	if err != nil {
		return err
	}

	switch header.Command {
	case wire.CmdSubmit:
		body, err := wire.DecodeCmdBody(raw[wire.HeaderSize:wire.PreambleSize])
		if err != nil {
			return err
		}
		if body.Direction == wire.DirectionOut {
			total := wire.PreambleSize + int(body.TransferBufferLength)
			full, err := b.sock.peek(total)
			if err != nil {
				return err
			}
			b.sock.take(total)
			return b.dispatchCmdSubmit(header, body, full[wire.PreambleSize:])
		}
		if _, err := b.sock.take(wire.PreambleSize); err != nil {
			return err
		}
		return b.dispatchCmdSubmit(header, body, nil)

	case wire.CmdUnlink, wire.RetUnlink:
		if _, err := b.sock.take(wire.PreambleSize); err != nil {
			return err
		}
		log.Printf("usbip: dropping unsupported URB command 0x%08x", header.Command)
		return nil

	default:
		log.Printf("usbip: unknown URB command 0x%08x", header.Command)
		b.sock.drop()
		b.phase = PhaseReset
		return ErrInvalidCommand
	}
}

// dispatchCmdSubmit implements spec.md §4.5 steps 1-5 against a decoded
// CMD_SUBMIT frame.
func (b *Bus) dispatchCmdSubmit(header wire.Header, body wire.CmdBody, payload []byte) error {
	ep, err := b.endpointFor(int(body.Ep))
	if err != nil {
		log.Printf("usbip: received message for unimplemented endpoint %d", body.Ep)
		return nil
	}

	dir := Direction(body.Direction)
	epDir := ep.In
	if dir == DirOut {
		epDir = ep.Out
	}
	if epDir == nil {
		log.Printf("usbip: received message for unconfigured direction on endpoint %d", body.Ep)
		return nil
	}

	if header.Seqnum <= epDir.seqnum {
		log.Printf("usbip: received seqnum is too small on endpoint %d", body.Ep)
	} else {
		epDir.seqnum = header.Seqnum
	}

	if ep.Out != nil && body.Ep == 0 {
		ep.Out.pushSetup(body.Setup)
	}

	switch dir {
	case DirOut:
		for off := 0; off < len(payload); off += int(epDir.MaxPacketSize) {
			end := off + int(epDir.MaxPacketSize)
			if end > len(payload) || epDir.MaxPacketSize == 0 {
				end = len(payload)
			}
			epDir.pushOut(payload[off:end])
			if epDir.MaxPacketSize == 0 {
				break
			}
		}
		return b.sock.write(wire.EncodeRetSubmit(header.Seqnum, devid, body.Direction, body.Ep, 0, int32(len(payload)), nil))

	case DirIn:
		requested := body.TransferBufferLength
		epDir.bytesRequested = &requested
		return b.drainIn(int(body.Ep), epDir)
	}
	return nil
}

// drainIn implements the IN-transfer drain algorithm of spec.md §4.6. It
// is the single entry point for both CMD_SUBMIT arrival and a
// device-stack Write() call, per SPEC_FULL.md's supplemented feature #1.
func (b *Bus) drainIn(epAddr int, epDir *EndpointDir) error {
	if epDir.bytesRequested == nil {
		return nil
	}
	if !epDir.readyToSend {
		return nil
	}

	requested := int(*epDir.bytesRequested)
	out := epDir.takeIn(requested)

	seqnum := epDir.seqnum
	if err := b.sock.write(wire.EncodeRetSubmit(seqnum, devid, wire.DirectionIn, uint32(epAddr), 0, int32(len(out)), out)); err != nil {
		return err
	}
	epDir.bytesRequested = nil
	return nil
}
