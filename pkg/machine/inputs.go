package machine

import "github.com/samsamfire/gochademo/pkg/frames"

// Local hardware inputs, applied at the start of the next cycle
type Inputs struct {
	ConnectorLatched bool
	ContactorsClosed bool // Output contactors for a charger, battery contactors for a vehicle
	Ready            bool // Vehicle only, battery management permits energy transfer
	SoC              frames.Percent
	HasMeasurement   bool
	MeasuredVoltage  frames.Volts
	MeasuredCurrent  frames.Amps
	CurrentLimit     frames.Amps // Dynamic limit applied to the target, 0 if none
}
