package sddc

import "fmt"

// GPIO register bits.
const (
	GPIOADCShutdown uint16 = 0x0020
	GPIOADCDither   uint16 = 0x0040
	GPIOADCRandom   uint16 = 0x0080
	GPIOBiasHF      uint16 = 0x0100
	GPIOBiasVHF     uint16 = 0x0200
	GPIOLEDYellow   uint16 = 0x0400
	GPIOLEDRed      uint16 = 0x0800
	GPIOLEDBlue     uint16 = 0x1000
	GPIOAttSel0     uint16 = 0x2000
	GPIOAttSel1     uint16 = 0x4000
	GPIOVHFEnable   uint16 = 0x8000
)

// LED pattern bits accepted by the LED operations.
const (
	LEDYellow uint8 = 0x01
	LEDRed    uint8 = 0x02
	LEDBlue   uint8 = 0x04

	ledMask  = LEDYellow | LEDRed | LEDBlue
	ledShift = 10
)

// ledBits validates an LED pattern and moves it into register position.
func ledBits(pattern uint8) (uint16, error) {
	if pattern&^ledMask != 0 {
		return 0, fmt.Errorf("LED pattern 0x%02x: %w", pattern, ErrInvalidParameter)
	}
	return uint16(pattern) << ledShift, nil
}

// LEDOn lights the LEDs in pattern.
func (d *Device) LEDOn(pattern uint8) error {
	return d.led("led on", pattern, d.transport.GPIOOn)
}

// LEDOff turns off the LEDs in pattern.
func (d *Device) LEDOff(pattern uint8) error {
	return d.led("led off", pattern, d.transport.GPIOOff)
}

// LEDToggle flips the LEDs in pattern.
func (d *Device) LEDToggle(pattern uint8) error {
	return d.led("led toggle", pattern, d.transport.GPIOToggle)
}

func (d *Device) led(op string, pattern uint8, write func(uint16) error) error {
	if d.closed {
		return d.fail(op, ErrClosed)
	}
	bits, err := ledBits(pattern)
	if err != nil {
		return d.fail(op, err)
	}
	return d.gpioErr(op, write(bits))
}

// ADCDither reports whether ADC dithering is enabled.
func (d *Device) ADCDither() (bool, error) { return d.gpioFlag("adc dither", GPIOADCDither) }

// SetADCDither enables or disables ADC dithering.
func (d *Device) SetADCDither(on bool) error {
	return d.setGPIOFlag("set adc dither", GPIOADCDither, on)
}

// ADCRandom reports whether ADC output randomization is enabled.
func (d *Device) ADCRandom() (bool, error) { return d.gpioFlag("adc random", GPIOADCRandom) }

// SetADCRandom enables or disables ADC output randomization.
func (d *Device) SetADCRandom(on bool) error {
	return d.setGPIOFlag("set adc random", GPIOADCRandom, on)
}

// HFBias reports whether the HF antenna bias tee is powered.
func (d *Device) HFBias() (bool, error) { return d.gpioFlag("hf bias", GPIOBiasHF) }

// SetHFBias powers the HF antenna bias tee.
func (d *Device) SetHFBias(on bool) error { return d.setGPIOFlag("set hf bias", GPIOBiasHF, on) }

// VHFBias reports whether the VHF antenna bias tee is powered.
func (d *Device) VHFBias() (bool, error) { return d.gpioFlag("vhf bias", GPIOBiasVHF) }

// SetVHFBias powers the VHF antenna bias tee.
func (d *Device) SetVHFBias(on bool) error { return d.setGPIOFlag("set vhf bias", GPIOBiasVHF, on) }

func (d *Device) gpioFlag(op string, bit uint16) (bool, error) {
	if d.closed {
		return false, d.fail(op, ErrClosed)
	}
	reg, err := d.transport.GPIOGet()
	if err != nil {
		return false, d.opFail(op, CmdGPIOFX3, err)
	}
	return reg&bit != 0, nil
}

func (d *Device) setGPIOFlag(op string, bit uint16, on bool) error {
	if d.closed {
		return d.fail(op, ErrClosed)
	}
	if on {
		return d.gpioErr(op, d.transport.GPIOOn(bit))
	}
	return d.gpioErr(op, d.transport.GPIOOff(bit))
}

func (d *Device) gpioErr(op string, err error) error {
	if err != nil {
		return d.opFail(op, CmdGPIOFX3, err)
	}
	d.report()
	return nil
}
