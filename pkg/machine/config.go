package machine

import (
	"fmt"
	"time"

	chademo "github.com/samsamfire/gochademo"
	"github.com/samsamfire/gochademo/pkg/frames"
	"github.com/samsamfire/gochademo/pkg/safety"
	"github.com/samsamfire/gochademo/pkg/session"
	"github.com/samsamfire/gochademo/pkg/v2x"
)

const (
	DefaultCyclePeriod    = 100 * time.Millisecond
	DefaultProtocolNumber = 2
	DefaultRampLimit      = frames.Amps(10)
	DefaultTaperSoC       = frames.Percent(80)
	DefaultTargetSoC      = frames.Percent(100)
	DefaultTaperCurrent   = frames.Amps(10)
	DefaultTaperMargin    = frames.Percent(5)
	// Charger keeps the charging flag while stopping until current drops below this
	ChargingCutoffCurrent = frames.Amps(5)
)

// Machine configuration.
// Voltages and currents describe the local side : available output for a
// charger, battery limits for a vehicle.
type Config struct {
	Role             session.Role
	CyclePeriod      time.Duration
	ProtocolNumber   uint8
	MaxVoltage       frames.Volts
	MinVoltage       frames.Volts
	TargetVoltage    frames.Volts // Vehicle only
	MaxCurrent       frames.Amps
	MinCurrent       frames.Amps    // Vehicle only
	BatteryCapacity  frames.DeciKWh // Vehicle only
	MaxChargingTime  time.Duration  // Vehicle only
	WeldingDetection bool           // Charger only
	RampLimit        frames.Amps    // Mandated maximum increase per cycle
	RampRequest      frames.Amps    // Requested increase per cycle, 0 if none
	TaperSoC         frames.Percent
	TargetSoC        frames.Percent
	TaperCurrent     frames.Amps
	TaperMargin      frames.Percent // Discharge tapering starts this far above the minimum level
	Bidirectional    bool
	Vehicle          v2x.VehicleSettings
	Charger          v2x.ChargerSettings
	Safety           safety.Limits
}

func DefaultConfig(role session.Role) Config {
	cfg := Config{
		Role:           role,
		CyclePeriod:    DefaultCyclePeriod,
		ProtocolNumber: DefaultProtocolNumber,
		RampLimit:      DefaultRampLimit,
		TaperSoC:       DefaultTaperSoC,
		TargetSoC:      DefaultTargetSoC,
		TaperCurrent:   DefaultTaperCurrent,
		TaperMargin:    DefaultTaperMargin,
		Safety:         safety.DefaultLimits(),
	}
	switch role {
	case session.RoleVehicle:
		cfg.MaxVoltage = 435
		cfg.MinVoltage = 250
		cfg.TargetVoltage = 410
		cfg.MaxCurrent = 125
		cfg.MinCurrent = 0
		cfg.BatteryCapacity = 620
		cfg.MaxChargingTime = 60 * time.Minute
	default:
		cfg.MaxVoltage = 500
		cfg.MinVoltage = 150
		cfg.MaxCurrent = 125
		cfg.WeldingDetection = true
	}
	return cfg
}

// Ramp cap is the lesser of the mandated cap and the requested ramp
func (c Config) RampCap() frames.Amps {
	if c.RampRequest > 0 {
		return min(c.RampLimit, c.RampRequest)
	}
	return c.RampLimit
}

func (c Config) Validate() error {
	if c.Role != session.RoleCharger && c.Role != session.RoleVehicle {
		return fmt.Errorf("%w : invalid role %v", chademo.ErrIllegalArgument, c.Role)
	}
	if c.MaxVoltage == 0 || c.MaxCurrent == 0 {
		return fmt.Errorf("%w : max voltage and max current should be set", chademo.ErrIllegalArgument)
	}
	if c.MinVoltage > c.MaxVoltage {
		return fmt.Errorf("%w : min voltage %v above max voltage %v", chademo.ErrIllegalArgument, c.MinVoltage, c.MaxVoltage)
	}
	if c.Role == session.RoleVehicle && (c.TargetVoltage == 0 || c.TargetVoltage > c.MaxVoltage) {
		return fmt.Errorf("%w : target voltage %v should be within (0, %v]", chademo.ErrIllegalArgument, c.TargetVoltage, c.MaxVoltage)
	}
	if c.RampLimit == 0 {
		return fmt.Errorf("%w : ramp limit should be set", chademo.ErrIllegalArgument)
	}
	if c.TargetSoC > frames.MaxPercent || c.TaperSoC > c.TargetSoC {
		return fmt.Errorf("%w : expecting taper soc %v <= target soc %v <= 100", chademo.ErrIllegalArgument, c.TaperSoC, c.TargetSoC)
	}
	if c.TaperMargin > frames.MaxPercent {
		return fmt.Errorf("%w : taper margin %v above 100", chademo.ErrIllegalArgument, c.TaperMargin)
	}
	if c.Vehicle.MinDischargeLevel > frames.MaxPercent || c.Vehicle.MaxChargeLevel > frames.MaxPercent {
		return fmt.Errorf("%w : discharge levels %v / %v should be within [0, 100]",
			chademo.ErrIllegalArgument, c.Vehicle.MinDischargeLevel, c.Vehicle.MaxChargeLevel)
	}
	if c.Vehicle.MaxChargeLevel > 0 && c.Vehicle.MinDischargeLevel > c.Vehicle.MaxChargeLevel {
		return fmt.Errorf("%w : min discharge level %v above max charge level %v",
			chademo.ErrIllegalArgument, c.Vehicle.MinDischargeLevel, c.Vehicle.MaxChargeLevel)
	}
	if c.CyclePeriod <= 0 {
		return fmt.Errorf("%w : cycle period should be positive", chademo.ErrIllegalArgument)
	}
	return nil
}
