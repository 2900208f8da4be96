// Package libusb talks to real receivers through libusb via gousb.
package libusb

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/gousb"

	"github.com/rjboer/GoSDDC/internal/logging"
	"github.com/rjboer/GoSDDC/internal/sddc"
)

// USB identity of the FX3 running the SDDC streamer firmware.
const (
	VendorID  gousb.ID = 0x04b4
	ProductID gousb.ID = 0x00f1
)

const (
	defaultControlTimeout = time.Second
	interfaceNumber       = 0
	bulkInEndpoint        = 1 // 0x81
)

// Option customizes a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(l logging.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithControlTimeout bounds every vendor request.
func WithControlTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithIDs matches a different vendor and product id.
func WithIDs(vid, pid gousb.ID) Option {
	return func(b *Bus) { b.vid, b.pid = vid, pid }
}

// Bus implements sddc.Bus over a libusb context.
type Bus struct {
	ctx     *gousb.Context
	vid     gousb.ID
	pid     gousb.ID
	timeout time.Duration
	logger  logging.Logger
}

// NewBus creates a libusb context. Close releases it.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		ctx:     gousb.NewContext(),
		vid:     VendorID,
		pid:     ProductID,
		timeout: defaultControlTimeout,
		logger:  logging.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(logging.Field{Key: "subsystem", Value: "libusb"})
	return b
}

// Close releases the libusb context.
func (b *Bus) Close() error { return b.ctx.Close() }

func (b *Bus) match(desc *gousb.DeviceDesc) bool {
	return desc.Vendor == b.vid && desc.Product == b.pid
}

// Count returns the number of matching devices without opening them.
func (b *Bus) Count() (int, error) {
	n := 0
	devs, err := b.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if b.match(desc) {
			n++
		}
		return false
	})
	closeAll(devs)
	if err != nil {
		return 0, fmt.Errorf("libusb: count devices: %w", err)
	}
	return n, nil
}

// openAll opens every matching device ordered by bus and address so that
// indexes are stable between List and Open.
func (b *Bus) openAll() ([]*gousb.Device, error) {
	devs, err := b.ctx.OpenDevices(b.match)
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("libusb: open devices: %w", err)
	}
	if err != nil {
		b.logger.Warn("some devices could not be opened", logging.Field{Key: "error", Value: err})
	}
	sort.Slice(devs, func(i, j int) bool {
		if devs[i].Desc.Bus != devs[j].Desc.Bus {
			return devs[i].Desc.Bus < devs[j].Desc.Bus
		}
		return devs[i].Desc.Address < devs[j].Desc.Address
	})
	return devs, nil
}

// List opens every matching device long enough to read its string
// descriptors. The devices stay open until the list is freed.
func (b *Bus) List() (sddc.RawList, error) {
	devs, err := b.openAll()
	if err != nil {
		return nil, err
	}
	infos := make([]sddc.DeviceInfo, len(devs))
	for i, dev := range devs {
		infos[i] = describe(dev)
	}
	return &rawList{devs: devs, infos: infos}, nil
}

// Open opens the index-th matching device and claims its streaming interface.
func (b *Bus) Open(index int) (sddc.Transport, error) {
	devs, err := b.openAll()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(devs) {
		closeAll(devs)
		return nil, fmt.Errorf("libusb: no device at index %d (%d found)", index, len(devs))
	}
	dev := devs[index]
	closeAll(append(devs[:index:index], devs[index+1:]...))

	t, err := newDevice(dev, b.timeout, b.logger)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return t, nil
}

func describe(dev *gousb.Device) sddc.DeviceInfo {
	var info sddc.DeviceInfo
	info.Manufacturer, _ = dev.Manufacturer()
	info.Product, _ = dev.Product()
	info.SerialNumber, _ = dev.SerialNumber()
	return info
}

func closeAll(devs []*gousb.Device) {
	for _, d := range devs {
		d.Close()
	}
}

type rawList struct {
	devs  []*gousb.Device
	infos []sddc.DeviceInfo
}

func (l *rawList) Infos() []sddc.DeviceInfo { return l.infos }

func (l *rawList) Free() error {
	var first error
	for _, d := range l.devs {
		if err := d.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.devs = nil
	return first
}
