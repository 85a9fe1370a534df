package v2x

import "github.com/samsamfire/gochademo/pkg/frames"

// Local discharge settings of a vehicle
type VehicleSettings struct {
	RequestDischarge    bool
	MaxDischargeCurrent frames.Amps
	MinDischargeVoltage frames.Volts
	MinDischargeLevel   frames.Percent
	MaxChargeLevel      frames.Percent
}

// 0x200 for the given settings, limit is an additional dynamic cap (0 for none)
func (v VehicleSettings) Message(limit frames.Amps) frames.VehicleDischarge {
	current := frames.Amps(0)
	if v.RequestDischarge {
		current = v.MaxDischargeCurrent
		if limit > 0 {
			current = min(current, limit)
		}
	}
	return frames.VehicleDischarge{
		MaxDischargeCurrent: current,
		MinDischargeVoltage: v.MinDischargeVoltage,
		MinDischargeLevel:   v.MinDischargeLevel,
		MaxChargeLevel:      v.MaxChargeLevel,
	}
}

// Local discharge settings of a charger
type ChargerSettings struct {
	RequestDischarge      bool
	InputCurrentRating    frames.Amps
	InputVoltage          frames.Volts
	LowerThresholdVoltage frames.Volts
	Sequence              uint8
}

// Sequence control number used by the reference chargers
const DefaultSequence uint8 = 0x02

// 0x208 for the given settings and present discharge current
func (c ChargerSettings) Message(present frames.Amps, limit frames.Amps) frames.ChargerDischarge {
	rating := frames.Amps(0)
	if c.RequestDischarge {
		rating = c.InputCurrentRating
		if limit > 0 {
			rating = min(rating, limit)
		}
	}
	return frames.ChargerDischarge{
		PresentDischargeCurrent: present,
		AvailableInputVoltage:   c.InputVoltage,
		AvailableInputCurrent:   rating,
		LowerThresholdVoltage:   c.LowerThresholdVoltage,
	}
}

// 0x209 with the remaining discharge time in minutes
func (c ChargerSettings) Control(remainingMin uint16) frames.DischargeControl {
	sequence := c.Sequence
	if sequence == 0 {
		sequence = DefaultSequence
	}
	return frames.DischargeControl{Sequence: sequence, RemainingDischargeTime: remainingMin}
}
