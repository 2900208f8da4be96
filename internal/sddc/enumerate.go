package sddc

import "fmt"

// DeviceInfo identifies an attached receiver without opening it.
type DeviceInfo struct {
	Manufacturer string `json:"manufacturer" yaml:"manufacturer"`
	Product      string `json:"product" yaml:"product"`
	SerialNumber string `json:"serialNumber" yaml:"serial_number"`
}

// DeviceList owns one enumeration result together with the transport list
// it was built from. Free releases both, exactly once.
type DeviceList struct {
	raw   RawList
	infos []DeviceInfo
	freed bool
}

// Enumerate lists reachable receivers. An empty list is not an error.
func Enumerate(bus Bus) (*DeviceList, error) {
	raw, err := bus.List()
	if err != nil {
		return nil, fmt.Errorf("enumerate: %w", err)
	}
	src := raw.Infos()
	infos := make([]DeviceInfo, len(src))
	copy(infos, src)
	return &DeviceList{raw: raw, infos: infos}, nil
}

// DeviceCount returns the number of attached receivers.
func DeviceCount(bus Bus) (int, error) {
	n, err := bus.Count()
	if err != nil {
		return 0, fmt.Errorf("count devices: %w", err)
	}
	return n, nil
}

// Len returns the number of receivers found, or 0 after Free.
func (l *DeviceList) Len() int {
	if l.freed {
		return 0
	}
	return len(l.infos)
}

// Infos returns a copy of the entries, or nil after Free.
func (l *DeviceList) Infos() []DeviceInfo {
	if l.freed {
		return nil
	}
	out := make([]DeviceInfo, len(l.infos))
	copy(out, l.infos)
	return out
}

// At returns entry i.
func (l *DeviceList) At(i int) (DeviceInfo, error) {
	if l.freed {
		return DeviceInfo{}, ErrListFreed
	}
	if i < 0 || i >= len(l.infos) {
		return DeviceInfo{}, fmt.Errorf("device list index %d of %d: %w", i, len(l.infos), ErrInvalidParameter)
	}
	return l.infos[i], nil
}

// Free releases the list and the underlying transport list.
func (l *DeviceList) Free() error {
	if l.freed {
		return ErrListFreed
	}
	l.freed = true
	l.infos = nil
	if err := l.raw.Free(); err != nil {
		return fmt.Errorf("free device list: %w", err)
	}
	return nil
}
