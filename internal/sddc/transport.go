package sddc

import "context"

// Command is a single-byte FX3 vendor request.
type Command uint8

// Vendor requests understood by the receiver firmware.
const (
	CmdStartFX3     Command = 0xaa
	CmdStopFX3      Command = 0xab
	CmdTestFX3      Command = 0xac
	CmdGPIOFX3      Command = 0xad
	CmdI2CWriteFX3  Command = 0xae
	CmdI2CReadFX3   Command = 0xaf
	CmdDAT31FX3     Command = 0xb0
	CmdResetFX3     Command = 0xb1
	CmdSI5351A      Command = 0xb2
	CmdSI5351ATune  Command = 0xb3
	CmdR820T2Init   Command = 0xb4
	CmdR820T2Tune   Command = 0xb5
	CmdR820T2SetAtt Command = 0xb6
	CmdR820T2GetAtt Command = 0xb7
	CmdR820T2Stdby  Command = 0xb8
)

var commandNames = map[Command]string{
	CmdStartFX3:     "STARTFX3",
	CmdStopFX3:      "STOPFX3",
	CmdTestFX3:      "TESTFX3",
	CmdGPIOFX3:      "GPIOFX3",
	CmdI2CWriteFX3:  "I2CWFX3",
	CmdI2CReadFX3:   "I2CRFX3",
	CmdDAT31FX3:     "DAT31FX3",
	CmdResetFX3:     "RESETFX3",
	CmdSI5351A:      "SI5351A",
	CmdSI5351ATune:  "SI5351ATUNE",
	CmdR820T2Init:   "R820T2INIT",
	CmdR820T2Tune:   "R820T2TUNE",
	CmdR820T2SetAtt: "R820T2SETATT",
	CmdR820T2GetAtt: "R820T2GETATT",
	CmdR820T2Stdby:  "R820T2STDBY",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsRead reports whether the request moves data from the device to the host.
func (c Command) IsRead() bool {
	switch c {
	case CmdTestFX3, CmdI2CReadFX3, CmdR820T2GetAtt:
		return true
	default:
		return false
	}
}

// Transport is the USB control path to one opened receiver.
//
// Implementations are not required to be safe for concurrent use; a Device
// serializes all calls it makes.
type Transport interface {
	// Control issues a vendor request. For read requests data is filled
	// with the reply; for write requests data is the payload.
	Control(cmd Command, value, index uint16, data []byte) (int, error)

	// GPIOGet returns the cached 16-bit GPIO register.
	GPIOGet() (uint16, error)
	// GPIOSet applies pattern within mask and leaves other bits untouched.
	GPIOSet(pattern, mask uint16) error
	GPIOOn(bits uint16) error
	GPIOOff(bits uint16) error
	GPIOToggle(bits uint16) error

	I2CWrite(addr, reg uint8, data []byte) error
	I2CRead(addr, reg uint8, data []byte) error

	// HandleEvents runs one iteration of the transport event loop.
	HandleEvents(ctx context.Context) error

	Close() error
}

// RawList is the transport's own listing of attached receivers.
type RawList interface {
	Infos() []DeviceInfo
	Free() error
}

// Bus enumerates and opens receivers.
type Bus interface {
	Count() (int, error)
	List() (RawList, error)
	Open(index int) (Transport, error)
}
