package machine

import (
	"time"

	"github.com/samsamfire/gochademo/pkg/frames"
	"github.com/samsamfire/gochademo/pkg/session"
)

// Messages transmitted by the local side in the current phase.
// Nothing is sent while idle and unplugged.
func (m *Machine) outgoing(s session.Snapshot) []frames.Message {
	if s.Phase == session.PhaseIdle && !m.inputs.ConnectorLatched {
		return nil
	}
	if m.cfg.Role == session.RoleVehicle {
		return m.vehicleMessages(s)
	}
	return m.chargerMessages(s)
}

func powered(phase session.Phase) bool {
	return phase == session.PhasePermissionGranted || phase.Transferring()
}

func (m *Machine) vehicleMessages(s session.Snapshot) []frames.Message {
	phase := s.Phase
	stopping := s.Stop != session.StopNone || phase == session.PhaseStopRequested || phase == session.PhaseTerminated
	enabled := m.inputs.Ready && !stopping &&
		(phase == session.PhaseParameterExchange || powered(phase))

	var flags frames.VehicleFlags
	flags = flags.Set(frames.VehicleChargingEnabled, enabled)
	flags = flags.Set(frames.VehicleContactorsOpen, !m.inputs.ContactorsClosed)
	flags = flags.Set(frames.VehicleStopRequest, stopping || phase == session.PhaseFault)
	flags = flags.Set(frames.VehicleSystemFault, phase == session.PhaseFault)
	flags = flags.Set(frames.VehicleDischargeCompatible, m.cfg.Bidirectional)

	request := frames.Amps(0)
	if s.Commanded.Direction == session.DirectionCharge {
		request = s.Commanded.Current
	}
	maxMinutes := min(m.cfg.MaxChargingTime/time.Minute, 0xFE)

	msgs := []frames.Message{
		frames.VehicleLimits{
			MinCurrent:        m.cfg.MinCurrent,
			MaxCurrent:        m.cfg.MaxCurrent,
			MinBatteryVoltage: m.cfg.MinVoltage,
			MaxBatteryVoltage: m.cfg.MaxVoltage,
			ChargedRate:       frames.MaxPercent,
		},
		frames.VehicleTiming{
			MaxChargingTime10s: frames.UseMinuteField,
			MaxChargingTimeMin: uint8(maxMinutes),
			BatteryCapacity:    m.cfg.BatteryCapacity,
		},
		frames.VehicleStatus{
			Protocol:       m.cfg.ProtocolNumber,
			TargetVoltage:  m.cfg.TargetVoltage,
			CurrentRequest: request,
			Flags:          flags,
			SoC:            min(m.inputs.SoC, frames.MaxPercent),
		},
	}
	if m.cfg.Bidirectional {
		msgs = append(msgs, m.cfg.Vehicle.Message(m.inputs.CurrentLimit))
	}
	return msgs
}

func (m *Machine) chargerMessages(s session.Snapshot) []frames.Message {
	phase := s.Phase
	present := measuredCurrent(s)
	if !powered(phase) && phase != session.PhaseStopRequested {
		present = 0
	}
	charging, discharging := present, frames.Amps(0)
	if s.Commanded.Direction == session.DirectionDischarge {
		charging, discharging = 0, present
	}

	closed := m.inputs.ContactorsClosed && (phase == session.PhaseParameterExchange || powered(phase))
	var flags frames.ChargerFlags
	flags = flags.Set(frames.ChargerConnectorLocked, m.inputs.ConnectorLatched)
	flags = flags.Set(frames.ChargerStopControl, !closed)
	flags = flags.Set(frames.ChargerCharging, powered(phase) ||
		(phase == session.PhaseStopRequested && present > ChargingCutoffCurrent))
	if phase == session.PhaseFault {
		flags = flags.Set(frames.ChargerCharging, false)
		if m.fault != nil && m.fault.Reason == session.ReasonBatteryIncompatible {
			flags = flags.Set(frames.ChargerBatteryIncompatible, true)
		} else {
			flags = flags.Set(frames.ChargerSystemMalfunction, true)
		}
	}

	voltage := frames.Volts(0)
	switch {
	case m.inputs.HasMeasurement:
		voltage = m.inputs.MeasuredVoltage
	case powered(phase):
		voltage = s.Commanded.Voltage
	}
	threshold := m.cfg.MaxVoltage
	if s.Negotiated.Done {
		threshold = s.Negotiated.MaxVoltage
	}
	welding := uint8(0)
	if m.cfg.WeldingDetection {
		welding = 1
	}

	msgs := []frames.Message{
		frames.ChargerOutput{
			WeldingDetection: welding,
			AvailableVoltage: m.cfg.MaxVoltage,
			AvailableCurrent: m.cfg.MaxCurrent,
			ThresholdVoltage: threshold,
		},
		frames.ChargerStatus{
			Protocol:            m.cfg.ProtocolNumber,
			OutputVoltage:       voltage,
			OutputCurrent:       charging,
			DischargeCompatible: m.cfg.Bidirectional,
			Flags:               flags,
			RemainingTime10s:    frames.UseMinuteField,
			RemainingTimeMin:    remainingMinutes(s),
		},
	}
	if m.cfg.Bidirectional {
		msgs = append(msgs,
			m.cfg.Charger.Message(discharging, m.inputs.CurrentLimit),
			m.cfg.Charger.Control(0),
		)
	}
	return msgs
}

// Minutes left of the charging time allowed by the vehicle
func remainingMinutes(s session.Snapshot) uint8 {
	if !s.Vehicle.Timing.Present || s.SessionStart.IsZero() {
		return 0
	}
	remaining := s.Vehicle.Timing.Msg.MaxChargingTime() - s.Now.Sub(s.SessionStart)
	if remaining <= 0 {
		return 0
	}
	return uint8(min(remaining/time.Minute, 0xFE))
}
