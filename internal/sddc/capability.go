package sddc

import (
	"fmt"
	"strings"
)

// Model identifies the receiver hardware variant reported by the probe.
type Model uint8

const (
	ModelNoRadio Model = iota
	ModelBBRF103
	ModelHF103
	ModelRX888
	ModelRX888R2
	ModelRX999
	ModelRXLucy
	ModelRX888R3
)

func (m Model) String() string {
	switch m {
	case ModelNoRadio:
		return "NoRadio"
	case ModelBBRF103:
		return "BBRF103"
	case ModelHF103:
		return "HF103"
	case ModelRX888:
		return "RX888"
	case ModelRX888R2:
		return "RX888R2"
	case ModelRX999:
		return "RX999"
	case ModelRXLucy:
		return "RXLucy"
	case ModelRX888R3:
		return "RX888R3"
	default:
		return fmt.Sprintf("Model(0x%02x)", uint8(m))
	}
}

// ParseModel resolves a model name as printed by Model.String. Case is ignored.
func ParseModel(s string) (Model, error) {
	for m := ModelNoRadio; m <= ModelRX888R3; m++ {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return ModelNoRadio, fmt.Errorf("model %q: %w", s, ErrInvalidParameter)
}

// AttenuatorStyle is the kind of HF attenuator fitted to a model.
type AttenuatorStyle int

const (
	// AttenuatorNone means the board has no HF attenuator.
	AttenuatorNone AttenuatorStyle = iota
	// AttenuatorCoarse3 selects 0, 10 or 20 dB through two GPIO lines.
	AttenuatorCoarse3
	// AttenuatorFine32 is a 0..31 dB step attenuator driven by DAT31FX3.
	AttenuatorFine32
)

// Levels returns the number of attenuation settings.
func (s AttenuatorStyle) Levels() int {
	switch s {
	case AttenuatorCoarse3:
		return 3
	case AttenuatorFine32:
		return 32
	default:
		return 0
	}
}

func (s AttenuatorStyle) String() string {
	switch s {
	case AttenuatorNone:
		return "none"
	case AttenuatorCoarse3:
		return "coarse3"
	case AttenuatorFine32:
		return "fine32"
	default:
		return "unknown"
	}
}

// Capabilities describes the optional hardware present on a model.
type Capabilities struct {
	ClockSource  bool
	VHFTuner     bool
	HFAttenuator AttenuatorStyle
}

var capabilityTable = map[Model]Capabilities{
	// 3.3V SI5351A clock generator plus R820T2 tuner.
	ModelBBRF103: {ClockSource: true, VHFTuner: true, HFAttenuator: AttenuatorCoarse3},
	ModelRX888:   {ClockSource: true, VHFTuner: true, HFAttenuator: AttenuatorCoarse3},
	// High dynamic range HF-only board.
	ModelHF103: {HFAttenuator: AttenuatorFine32},
}

// CapabilitiesFor resolves the capability record of a model. Unknown models
// get the zero record.
func CapabilitiesFor(m Model) Capabilities {
	return capabilityTable[m]
}
