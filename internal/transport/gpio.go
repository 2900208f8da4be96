// Package transport holds the pieces shared by every sddc.Transport
// implementation: the GPIO shadow register, I2C request encoding, a simulated
// FX3 for tests and the mock backend, and decorators for tracing and metrics.
package transport

import (
	"encoding/binary"

	"github.com/rjboer/GoSDDC/internal/sddc"
)

// ControlFunc issues one vendor request.
type ControlFunc func(cmd sddc.Command, value, index uint16, data []byte) (int, error)

// GPIOShadow caches the FX3 GPIO register. The firmware cannot report the
// register, so every update writes the full 16-bit value with GPIOFX3.
//
// A GPIOShadow is not safe for concurrent use.
type GPIOShadow struct {
	reg     uint16
	control ControlFunc
}

// NewGPIOShadow returns a shadow starting at initial that writes through control.
func NewGPIOShadow(initial uint16, control ControlFunc) *GPIOShadow {
	return &GPIOShadow{reg: initial, control: control}
}

// Get returns the cached register.
func (g *GPIOShadow) Get() (uint16, error) { return g.reg, nil }

// Set replaces the bits selected by mask with the matching bits of pattern.
// The cache only changes when the write succeeds.
func (g *GPIOShadow) Set(pattern, mask uint16) error {
	next := g.reg&^mask | pattern&mask
	var payload [2]byte
	binary.LittleEndian.PutUint16(payload[:], next)
	if _, err := g.control(sddc.CmdGPIOFX3, 0, 0, payload[:]); err != nil {
		return err
	}
	g.reg = next
	return nil
}

func (g *GPIOShadow) On(bits uint16) error     { return g.Set(bits, bits) }
func (g *GPIOShadow) Off(bits uint16) error    { return g.Set(0, bits) }
func (g *GPIOShadow) Toggle(bits uint16) error { return g.Set(^g.reg, bits) }

// I2CWrite writes data to register reg of the I2C device at addr.
func I2CWrite(control ControlFunc, addr, reg uint8, data []byte) error {
	_, err := control(sddc.CmdI2CWriteFX3, uint16(addr), uint16(reg), data)
	return err
}

// I2CRead fills data from register reg of the I2C device at addr.
func I2CRead(control ControlFunc, addr, reg uint8, data []byte) error {
	_, err := control(sddc.CmdI2CReadFX3, uint16(addr), uint16(reg), data)
	return err
}
