package usbip

import (
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
)

// BusConfig holds the values spec.md §6 says should be settable rather
// than hardcoded (bus id, device identifiers) plus the bind address and
// log verbosity the ambient stack needs. Defaults match the original
// prototype's hardcoded constants.
type BusConfig struct {
	BindAddr string `koanf:"bind_addr"`

	BusID string `koanf:"bus_id"`
	Path  string `koanf:"path"`

	VendorID    uint16    `koanf:"vendor_id"`
	ProductID   uint16    `koanf:"product_id"`
	BcdDevice   uint16    `koanf:"bcd_device"`
	DeviceClass ClassCode `koanf:"device_class"`
	DeviceSub   SubClass  `koanf:"device_subclass"`
	DeviceProto uint8     `koanf:"device_protocol"`

	Verbose bool `koanf:"verbose"`
}

// DefaultConfig returns the prototype's original hardcoded values
// (vendor 0x1111, product 0x1010, bus id "1-1") as the koanf struct
// defaults, matching how multiserver seeds koanf from a Config zero
// value before layering overrides on top.
func DefaultConfig() BusConfig {
	return BusConfig{
		BindAddr:    "127.0.0.1:3240",
		BusID:       "1-1",
		Path:        "/sys/devices/pci0000:00/0000:00:01.2/usb1/1-1",
		VendorID:    0x1111,
		ProductID:   0x1010,
		BcdDevice:   0,
		DeviceClass: 0,
		DeviceSub:   0,
		DeviceProto: 0,
		Verbose:     false,
	}
}

// LoadConfig builds a BusConfig from DefaultConfig, then overlays any
// USBIP_-prefixed environment variables (USBIP_BIND_ADDR, USBIP_VENDOR_ID,
// ...), the same structs-then-env layering multiserver does with
// structs-then-file. There is no config file in this system's scope
// (spec.md §6 says "via environment"), so no file provider is wired.
func LoadConfig() (BusConfig, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return BusConfig{}, err
	}
	envProvider := env.Provider("USBIP_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "USBIP_"))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return BusConfig{}, err
	}
	var cfg BusConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return BusConfig{}, err
	}
	return cfg, nil
}
