package machine

import (
	"github.com/samsamfire/gochademo/pkg/frames"
	"github.com/samsamfire/gochademo/pkg/session"
)

// Current the local side aims for in the negotiated direction
func (m *Machine) target(s session.Snapshot) frames.Amps {
	var target frames.Amps
	switch {
	case s.Negotiated.Direction == session.DirectionDischarge:
		target = s.Negotiated.ExportLimit
	case m.cfg.Role == session.RoleCharger:
		target = min(s.Vehicle.Status.Msg.CurrentRequest, s.Negotiated.MaxCurrent, m.cfg.MaxCurrent)
	default:
		target = min(m.cfg.MaxCurrent, s.Negotiated.MaxCurrent)
	}
	if m.inputs.CurrentLimit > 0 {
		target = min(target, m.inputs.CurrentLimit)
	}
	return target
}

func (m *Machine) targetVoltage(s session.Snapshot) frames.Volts {
	if m.cfg.Role == session.RoleVehicle {
		return m.cfg.TargetVoltage
	}
	voltage := s.Vehicle.Status.Msg.TargetVoltage
	if s.Negotiated.MaxVoltage > 0 {
		voltage = min(voltage, s.Negotiated.MaxVoltage)
	}
	return voltage
}

func rampUp(previous, target, rampCap frames.Amps) frames.Amps {
	if target <= previous {
		return target
	}
	return min(target, previous+min(rampCap, target-previous))
}

func stepDown(previous, rampCap frames.Amps) frames.Amps {
	if previous > rampCap {
		return previous - rampCap
	}
	return 0
}

// Setpoint for the phase the machine is in after the transition.
// Increases are limited to the ramp cap, decreases follow the target.
func (m *Machine) setpoint(s session.Snapshot) session.Setpoint {
	previous := s.Commanded.Current
	if s.Commanded.Direction != s.Negotiated.Direction {
		previous = 0
	}
	rampCap := s.Negotiated.RampCap
	target := m.target(s)
	sp := session.Setpoint{Direction: s.Negotiated.Direction, Voltage: m.targetVoltage(s)}

	switch s.Phase {
	case session.PhasePermissionGranted, session.PhaseEnergyTransferActive:
		sp.Current = rampUp(previous, target, rampCap)
	case session.PhaseTapering:
		if s.Stop != session.StopNone {
			sp.Current = min(previous, target)
		} else {
			sp.Current = min(target, previous, max(stepDown(previous, rampCap), m.cfg.TaperCurrent))
		}
	case session.PhaseStopRequested:
		sp.Current = min(target, stepDown(previous, rampCap))
	default:
		sp.Current = 0
	}
	return sp
}
