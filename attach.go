package usbip

import (
	"bytes"
	"log"

	"github.com/daedaluz/usbip/wire"
)

// handleAttach consumes one attach-phase (OP) frame from the socket
// handler's buffer, if a complete one is available, and answers it.
// Only OP_REQ_DEVLIST and OP_REQ_IMPORT are recognised (spec.md §4.4);
// anything else drops the connection, mirroring the original handler's
// refusal to guess at an unknown command.
func (b *Bus) handleAttach() error {
	header, err := b.peekOpHeader()
	if err != nil {
		return err
	}

	switch header.Command {
	case wire.OpReqDevList:
		if _, err := b.sock.take(wire.OpHeaderSize); err != nil {
			return err
		}
		log.Printf("usbip: devlist request")
		rec := wire.NewDeviceRecord(b.cfg.Path, b.cfg.BusID)
		rec.BusNum = 1
		rec.DevNum = 2
		rec.Speed = 1
		rec.Vendor = b.cfg.VendorID
		rec.Product = b.cfg.ProductID
		rec.BcdDevice = b.cfg.BcdDevice
		rec.DeviceClass = uint8(b.cfg.DeviceClass)
		rec.DeviceSubClass = uint8(b.cfg.DeviceSub)
		rec.DeviceProtocol = b.cfg.DeviceProto
		rec.NumConfigurations = 1
		rec.NumInterfaces = 1
		iface := wire.InterfaceRecord{Class: uint8(b.cfg.DeviceClass), SubClass: uint8(b.cfg.DeviceSub), Protocol: b.cfg.DeviceProto}
		return b.sock.write(wire.EncodeDevListReply(rec, iface))

	case wire.OpReqImport:
		const frameSize = wire.OpHeaderSize + wire.BusIDSize
		raw, err := b.sock.take(frameSize)
		if err != nil {
			return err
		}
		var busIDBytes [wire.BusIDSize]byte
		copy(busIDBytes[:], raw[wire.OpHeaderSize:])
		requested := wire.DecodeImportBusID(busIDBytes)

		rec := wire.NewDeviceRecord(b.cfg.Path, b.cfg.BusID)
		rec.BusNum = 1
		rec.DevNum = 2
		rec.Speed = 1
		rec.Vendor = b.cfg.VendorID
		rec.Product = b.cfg.ProductID
		rec.BcdDevice = b.cfg.BcdDevice
		rec.DeviceClass = uint8(b.cfg.DeviceClass)
		rec.DeviceSubClass = uint8(b.cfg.DeviceSub)
		rec.DeviceProtocol = b.cfg.DeviceProto
		rec.NumConfigurations = 1
		rec.NumInterfaces = 1

		if requested != b.cfg.BusID {
			log.Printf("usbip: import request for unknown bus id %q", requested)
			return b.sock.write(wire.EncodeImportReply(1, wire.DeviceRecord{}))
		}

		log.Printf("usbip: device is leaving reset state (class %s)", b.cfg.DeviceClass)
		b.phase = PhaseAttached
		return b.sock.write(wire.EncodeImportReply(0, rec))

	default:
		log.Printf("usbip: unknown attach-phase command 0x%04x", header.Command)
		b.sock.drop()
		b.phase = PhaseReset
		return ErrInvalidCommand
	}
}

// peekOpHeader decodes the 8-byte OpHeader at the front of pending
// without consuming it, so handleAttach can decide how many further
// bytes the frame needs before committing to take().
func (b *Bus) peekOpHeader() (wire.OpHeader, error) {
	raw, err := b.sock.peek(wire.OpHeaderSize)
	if err != nil {
		return wire.OpHeader{}, err
	}
	return wire.ReadOpHeader(bytes.NewReader(raw))
}
