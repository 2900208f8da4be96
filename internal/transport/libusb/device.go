package libusb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/rjboer/GoSDDC/internal/logging"
	"github.com/rjboer/GoSDDC/internal/sddc"
	"github.com/rjboer/GoSDDC/internal/transport"
)

const (
	requestIn  = gousb.ControlIn | gousb.ControlVendor | gousb.ControlDevice  // 0xC0
	requestOut = gousb.ControlOut | gousb.ControlVendor | gousb.ControlDevice // 0x40
)

// Device is an opened receiver. It implements sddc.Transport and
// streaming.BulkReader.
type Device struct {
	mu     sync.Mutex
	dev    *gousb.Device
	cfg    *gousb.Config
	intf   *gousb.Interface
	in     *gousb.InEndpoint
	gpio   *transport.GPIOShadow
	logger logging.Logger
	closed bool
}

func newDevice(dev *gousb.Device, timeout time.Duration, logger logging.Logger) (*Device, error) {
	dev.ControlTimeout = timeout
	if err := dev.SetAutoDetach(true); err != nil {
		logger.Debug("auto detach unavailable", logging.Field{Key: "error", Value: err})
	}

	num, err := dev.ActiveConfigNum()
	if err != nil {
		return nil, fmt.Errorf("libusb: active config: %w", err)
	}
	cfg, err := dev.Config(num)
	if err != nil {
		return nil, fmt.Errorf("libusb: config %d: %w", num, err)
	}
	intf, err := cfg.Interface(interfaceNumber, 0)
	if err != nil {
		cfg.Close()
		return nil, fmt.Errorf("libusb: claim interface %d: %w", interfaceNumber, err)
	}
	in, err := intf.InEndpoint(bulkInEndpoint)
	if err != nil {
		intf.Close()
		cfg.Close()
		return nil, fmt.Errorf("libusb: bulk endpoint 0x%02x: %w", 0x80|bulkInEndpoint, err)
	}

	d := &Device{
		dev:  dev,
		cfg:  cfg,
		intf: intf,
		in:   in,
		logger: logger.With(
			logging.Field{Key: "bus", Value: dev.Desc.Bus},
			logging.Field{Key: "address", Value: dev.Desc.Address},
		),
	}
	d.gpio = transport.NewGPIOShadow(0, d.controlLocked)
	d.logger.Debug("usb device claimed", logging.Field{Key: "max_packet", Value: in.Desc.MaxPacketSize})
	return d, nil
}

// Control issues a vendor request in the direction implied by cmd.
func (d *Device) Control(cmd sddc.Command, value, index uint16, data []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.controlLocked(cmd, value, index, data)
}

func (d *Device) controlLocked(cmd sddc.Command, value, index uint16, data []byte) (int, error) {
	if d.closed {
		return 0, fmt.Errorf("libusb: %s: %w", cmd, sddc.ErrClosed)
	}
	rType := uint8(requestOut)
	if cmd.IsRead() {
		rType = uint8(requestIn)
	}
	n, err := d.dev.Control(rType, uint8(cmd), value, index, data)
	if err != nil {
		return n, fmt.Errorf("libusb: control %s: %w", cmd, err)
	}
	return n, nil
}

func (d *Device) GPIOGet() (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gpio.Get()
}

func (d *Device) GPIOSet(pattern, mask uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gpio.Set(pattern, mask)
}

func (d *Device) GPIOOn(bits uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gpio.On(bits)
}

func (d *Device) GPIOOff(bits uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gpio.Off(bits)
}

func (d *Device) GPIOToggle(bits uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gpio.Toggle(bits)
}

func (d *Device) I2CWrite(addr, reg uint8, data []byte) error {
	return transport.I2CWrite(d.Control, addr, reg, data)
}

func (d *Device) I2CRead(addr, reg uint8, data []byte) error {
	return transport.I2CRead(d.Control, addr, reg, data)
}

// HandleEvents is a no-op beyond cancellation: gousb pumps libusb events on
// its own goroutine.
func (d *Device) HandleEvents(ctx context.Context) error {
	return ctx.Err()
}

// ReadBulk reads one transfer from endpoint 0x81.
func (d *Device) ReadBulk(ctx context.Context, buf []byte) (int, error) {
	n, err := d.in.ReadContext(ctx, buf)
	if err != nil {
		return n, fmt.Errorf("libusb: bulk read: %w", err)
	}
	return n, nil
}

// Close releases the interface, the configuration and the device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return sddc.ErrClosed
	}
	d.closed = true
	d.intf.Close()
	if err := d.cfg.Close(); err != nil {
		d.logger.Warn("release config", logging.Field{Key: "error", Value: err})
	}
	return d.dev.Close()
}
