package machine

import (
	"github.com/samsamfire/gochademo/pkg/frames"
	"github.com/samsamfire/gochademo/pkg/safety"
	"github.com/samsamfire/gochademo/pkg/session"
	"github.com/samsamfire/gochademo/pkg/v2x"
)

// Stop flags of both sides, only meaningful once a session is running
func (m *Machine) observeStops(s session.Snapshot) {
	phase := s.Phase
	if phase == session.PhaseIdle || phase == session.PhaseTerminated || phase == session.PhaseFault {
		return
	}
	energized := phase == session.PhasePermissionGranted || phase.Transferring()
	if s.Vehicle.Status.Present {
		flags := s.Vehicle.Status.Msg.Flags
		if flags.Has(frames.VehicleStopRequest) || (energized && !flags.Has(frames.VehicleChargingEnabled)) {
			m.params.RequestStop(session.StopVehicle)
		}
	}
	if s.Charger.Status.Present && energized && s.Charger.Status.Msg.Flags.Has(frames.ChargerStopControl) {
		m.params.RequestStop(session.StopCharger)
	}
}

// Connector latched according to the local input or the charger lock flag
func (m *Machine) latched(s session.Snapshot) bool {
	return m.inputs.ConnectorLatched || s.ConnectorLocked()
}

// Compute the next phase, at most one transition per cycle
func (m *Machine) transition(s session.Snapshot, verdict safety.Verdict) session.Phase {
	phase := s.Phase
	if phase == session.PhaseFault {
		return phase
	}
	if verdict.Unsafe() {
		m.enterFault(s, verdict)
		return session.PhaseFault
	}
	stopping := s.Stop != session.StopNone

	switch phase {
	case session.PhaseIdle:
		if s.Vehicle.Status.Present && m.latched(s) {
			return session.PhaseConnected
		}

	case session.PhaseConnected:
		if stopping {
			return session.PhaseStopRequested
		}
		if s.Vehicle.Status.Present && s.Charger.Status.Present {
			return session.PhaseCapabilityNegotiation
		}

	case session.PhaseCapabilityNegotiation:
		if stopping {
			return session.PhaseStopRequested
		}
		if m.capabilitiesExchanged(s) {
			m.negotiate(s)
			return session.PhaseParameterExchange
		}

	case session.PhaseParameterExchange:
		if stopping {
			return session.PhaseStopRequested
		}
		if s.Vehicle.Status.Msg.Ready() && s.Charger.Status.Msg.ContactorsClosed() {
			return session.PhasePermissionGranted
		}

	case session.PhasePermissionGranted:
		if stopping {
			return session.PhaseStopRequested
		}
		if transferCurrent(s) > 0 {
			return session.PhaseEnergyTransferActive
		}

	case session.PhaseEnergyTransferActive:
		if stopping || m.taperReached(s) {
			return session.PhaseTapering
		}

	case session.PhaseTapering:
		if stopping || m.targetReached(s) || m.target(s) == 0 {
			return session.PhaseStopRequested
		}

	case session.PhaseStopRequested:
		if s.Commanded.Current == 0 && measuredCurrent(s) == 0 &&
			s.Vehicle.Status.Msg.Flags.Has(frames.VehicleContactorsOpen) {
			return session.PhaseTerminated
		}

	case session.PhaseTerminated:
		if !m.inputs.ConnectorLatched {
			return session.PhaseIdle
		}
	}
	return phase
}

// Current reported by the charger in the negotiated direction
func transferCurrent(s session.Snapshot) frames.Amps {
	if s.Negotiated.Direction == session.DirectionDischarge {
		return s.Charger.Discharge.Msg.PresentDischargeCurrent
	}
	return s.Charger.Status.Msg.OutputCurrent
}

// Both sides have sent their limits. When both advertise discharge
// compatibility the bidirectional messages are awaited for the negotiation
// timeout, after that the session falls back to charging.
func (m *Machine) capabilitiesExchanged(s session.Snapshot) bool {
	if !s.Vehicle.Limits.Present || !s.Vehicle.Status.Present || !s.Charger.Output.Present || !s.Charger.Status.Present {
		return false
	}
	local, peer := v2x.Capabilities(s)
	if local.Compatible && peer.Compatible && (!local.Present || !peer.Present) {
		return s.InPhase() >= m.monitor.Limits().NegotiationTimeout
	}
	return true
}

// Maximum current is the charger's available current capped by the vehicle
// maximum from 0x100. A vehicle advertising 0 stays capped every cycle by
// the current request of its 0x102.
func (m *Machine) negotiate(s session.Snapshot) {
	vehicle, charger := s.Vehicle.Limits.Msg, s.Charger.Output.Msg
	n := session.Negotiated{
		MaxVoltage: min(vehicle.MaxBatteryVoltage, charger.AvailableVoltage),
		MaxCurrent: charger.AvailableCurrent,
		RampCap:    m.cfg.RampCap(),
	}
	if vehicle.MaxCurrent > 0 {
		n.MaxCurrent = min(n.MaxCurrent, vehicle.MaxCurrent)
	}
	local, peer := v2x.Capabilities(s)
	n.Bidirectional = local.Present && peer.Present && local.Compatible && peer.Compatible
	n.Direction = v2x.NegotiateDirection(local, peer)
	if n.Bidirectional {
		n.ExportLimit = v2x.ExportLimit(v2x.VehicleCapability(s).Limit, v2x.ChargerCapability(s).Limit)
	}
	m.params.SetNegotiated(n)
	capped := "vehicle maximum"
	if vehicle.MaxCurrent == 0 {
		capped = "vehicle request"
	}
	m.logger.Infof("[MACHINE][%v] negotiated | %v %v (capped by %v) | ramp %v/cycle | %v (export %v)",
		m.cfg.Role, n.MaxVoltage, n.MaxCurrent, capped, n.RampCap, n.Direction, n.ExportLimit)
}

func (m *Machine) taperReached(s session.Snapshot) bool {
	soc := s.SoC()
	if s.Negotiated.Direction == session.DirectionDischarge {
		return soc <= s.Vehicle.Discharge.Msg.MinDischargeLevel+m.cfg.TaperMargin
	}
	return m.cfg.TaperSoC > 0 && soc >= m.cfg.TaperSoC
}

func (m *Machine) targetReached(s session.Snapshot) bool {
	soc := s.SoC()
	if s.Negotiated.Direction == session.DirectionDischarge {
		return soc <= s.Vehicle.Discharge.Msg.MinDischargeLevel
	}
	if maxLevel := s.Vehicle.Discharge.Msg.MaxChargeLevel; s.Vehicle.Discharge.Present && maxLevel > 0 && soc >= maxLevel {
		return true
	}
	return m.cfg.TargetSoC > 0 && soc >= m.cfg.TargetSoC
}
