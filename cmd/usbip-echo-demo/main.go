// Command usbip-echo-demo is a minimal guest program for the usbip bus:
// it allocates a control endpoint and a bulk IN/OUT pair, answers
// GET_DESCRIPTOR(DEVICE) on ep0, and echoes back uppercased bytes on the
// bulk pair. It stands in for the device-class layer (serial/HID/etc.)
// that spec.md names as an out-of-scope external collaborator.
package main

import (
	"bytes"
	"log"
	"time"

	"github.com/fatih/color"
	"github.com/theckman/yacspin"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/daedaluz/usbip"
)

const (
	epControl = 0
	epBulk    = 1
	bulkMPS   = 64
)

// standard control-request bytes this demo actually interprets; the bus
// core itself treats SETUP opaquely (spec.md §4.5 point 3).
const (
	reqGetDescriptor = 0x06
	descTypeDevice   = 0x01
)

func main() {
	cfg, err := usbip.LoadConfig()
	if err != nil {
		log.Fatalf("usbip-echo-demo: config: %v", err)
	}

	bus, err := usbip.NewBus(cfg)
	if err != nil {
		log.Fatalf("usbip-echo-demo: bind: %v", err)
	}

	if _, err := bus.AllocEndpoint(epControl, usbip.DirOut, usbip.TransferTypeControl, 64, 0); err != nil {
		log.Fatalf("usbip-echo-demo: alloc ep0 out: %v", err)
	}
	if _, err := bus.AllocEndpoint(epControl, usbip.DirIn, usbip.TransferTypeControl, 64, 0); err != nil {
		log.Fatalf("usbip-echo-demo: alloc ep0 in: %v", err)
	}
	if _, err := bus.AllocEndpoint(epBulk, usbip.DirOut, usbip.TransferTypeBulk, bulkMPS, 0); err != nil {
		log.Fatalf("usbip-echo-demo: alloc bulk out: %v", err)
	}
	if _, err := bus.AllocEndpoint(epBulk, usbip.DirIn, usbip.TransferTypeBulk, bulkMPS, 0); err != nil {
		log.Fatalf("usbip-echo-demo: alloc bulk in: %v", err)
	}

	spinner, _ := yacspin.New(yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[11],
		Suffix:          " waiting for usbip attach on " + cfg.BindAddr,
		SuffixAutoColon: true,
	})
	spinner.Start()

	attached := color.New(color.FgGreen, color.Bold)
	resetColor := color.New(color.FgYellow)

	wasAttached := false
	var p *mpb.Progress
	var bar *mpb.Bar
	var echoed int64

	for {
		result := bus.Poll()

		switch result.Kind {
		case usbip.PollReset:
			if wasAttached {
				resetColor.Println("connection dropped, back to reset")
				spinner.Start()
			}
			wasAttached = false
			p = nil
			bar = nil

		case usbip.PollData:
			if !wasAttached {
				spinner.Stop()
				attached.Println("device attached")
				wasAttached = true
				p = mpb.New(mpb.WithWidth(40))
				bar = p.AddBar(0,
					mpb.PrependDecorators(decor.Name("bytes echoed: ")),
					mpb.AppendDecorators(decor.CurrentNoUnit("%d")),
				)
			}
			serveControl(bus, result)
			echoed = serveBulk(bus, result, bar, echoed)
		}

		time.Sleep(2 * time.Millisecond)
	}
}

// serveControl answers a GET_DESCRIPTOR(DEVICE) SETUP with an empty
// 18-byte device descriptor stand-in; this demo only needs enough of
// the standard control flow to prove ep0 SETUP latching works.
func serveControl(bus *usbip.Bus, result usbip.PollResult) {
	if result.SetupMask&(1<<epControl) == 0 {
		return
	}
	var setup [8]byte
	n, err := bus.Read(epControl, setup[:])
	if err != nil || n != 8 {
		return
	}
	bmRequestType := usbip.RequestType(setup[0])
	wantType := usbip.RequestDirectionIn | usbip.RequestTypeStandard | usbip.RequestRecipientDevice
	if bmRequestType != wantType {
		return
	}
	if setup[1] == reqGetDescriptor && setup[3] == descTypeDevice {
		desc := make([]byte, 18)
		desc[0] = 18
		desc[1] = descTypeDevice
		bus.Write(epControl, desc)
	}
}

func serveBulk(bus *usbip.Bus, result usbip.PollResult, bar *mpb.Bar, echoed int64) int64 {
	if result.OutMask&(1<<epBulk) == 0 {
		return echoed
	}
	buf := make([]byte, bulkMPS)
	n, err := bus.Read(epBulk, buf)
	if err != nil {
		return echoed
	}
	upper := bytes.ToUpper(buf[:n])
	if _, err := bus.Write(epBulk, upper); err != nil {
		log.Printf("usbip-echo-demo: write would block, dropping %d bytes", n)
		return echoed
	}
	echoed += int64(n)
	if bar != nil {
		bar.SetCurrent(echoed)
	}
	return echoed
}
