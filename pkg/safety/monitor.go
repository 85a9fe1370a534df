package safety

import (
	"time"

	"github.com/samsamfire/gochademo/pkg/frames"
	"github.com/samsamfire/gochademo/pkg/session"
)

const (
	DefaultNegotiationTimeout = 1 * time.Second
	DefaultTransferTimeout    = 500 * time.Millisecond
	DefaultStartupGrace       = 2 * time.Second
	DefaultCurrentTolerance   = frames.Amps(10)
	DefaultVoltageTolerance   = frames.Volts(10)
)

// Safety limits, zero values are replaced by defaults
type Limits struct {
	NegotiationTimeout time.Duration // Connected to PermissionGranted
	TransferTimeout    time.Duration // EnergyTransferActive to StopRequested
	PhaseTimeouts      map[session.Phase]time.Duration
	StartupGrace       time.Duration
	CurrentTolerance   frames.Amps
	VoltageTolerance   frames.Volts
}

func DefaultLimits() Limits {
	return Limits{
		NegotiationTimeout: DefaultNegotiationTimeout,
		TransferTimeout:    DefaultTransferTimeout,
		StartupGrace:       DefaultStartupGrace,
		CurrentTolerance:   DefaultCurrentTolerance,
		VoltageTolerance:   DefaultVoltageTolerance,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.NegotiationTimeout == 0 {
		l.NegotiationTimeout = d.NegotiationTimeout
	}
	if l.TransferTimeout == 0 {
		l.TransferTimeout = d.TransferTimeout
	}
	if l.StartupGrace == 0 {
		l.StartupGrace = d.StartupGrace
	}
	if l.CurrentTolerance == 0 {
		l.CurrentTolerance = d.CurrentTolerance
	}
	if l.VoltageTolerance == 0 {
		l.VoltageTolerance = d.VoltageTolerance
	}
	return l
}

// Communication timeout for a phase, 0 if the peer is not supervised
func (l Limits) Timeout(phase session.Phase) time.Duration {
	if timeout, ok := l.PhaseTimeouts[phase]; ok {
		return timeout
	}
	switch {
	case phase.Negotiating():
		return l.NegotiationTimeout
	case phase.Transferring() || phase == session.PhaseStopRequested:
		return l.TransferTimeout
	}
	return 0
}

// Monitor evaluates the session against the safety limits.
// It holds no session state, every input comes from the snapshot.
type Monitor struct {
	limits Limits
}

func NewMonitor(limits Limits) *Monitor {
	return &Monitor{limits: limits.withDefaults()}
}

func (m *Monitor) Limits() Limits {
	return m.limits
}

// Evaluate a snapshot. With a message, only that message is checked,
// otherwise the cyclic checks run (liveness, deviation, ramp, startup).
// Nothing is supervised outside of an active session.
func (m *Monitor) Evaluate(s session.Snapshot, msg frames.Message) Verdict {
	if s.Phase == session.PhaseIdle || s.Phase == session.PhaseTerminated || s.Phase == session.PhaseFault {
		return Safe
	}
	if msg != nil {
		return m.evaluateMessage(s, msg)
	}
	return m.checkLiveness(s).
		Worst(m.checkStartup(s)).
		Worst(m.checkDeviation(s)).
		Worst(m.checkRamp(s))
}

func (m *Monitor) evaluateMessage(s session.Snapshot, msg frames.Message) Verdict {
	switch msg := msg.(type) {
	case frames.VehicleStatus:
		if s.Role != session.RoleCharger {
			return Safe
		}
		return m.checkVehicleStatus(s, msg)
	case frames.ChargerStatus:
		if s.Role != session.RoleVehicle {
			return Safe
		}
		return m.checkChargerStatus(msg)
	}
	return Safe
}

func (m *Monitor) checkVehicleStatus(s session.Snapshot, msg frames.VehicleStatus) Verdict {
	if msg.Faults != 0 {
		return unsafe(session.ReasonPeerReportedFault, "vehicle faults %v", msg.Faults)
	}
	if msg.Flags.Has(frames.VehicleSystemFault) {
		return unsafe(session.ReasonPeerReportedFault, "vehicle charging system fault")
	}
	if msg.Flags.Has(frames.VehicleShiftNotPark) && (s.Phase.Transferring() || s.Phase == session.PhasePermissionGranted) {
		return unsafe(session.ReasonPeerReportedFault, "shift lever left park position")
	}
	if s.Charger.Output.Present && msg.TargetVoltage > s.Charger.Output.Msg.AvailableVoltage {
		return unsafe(session.ReasonBatteryIncompatible, "target %v above available %v",
			msg.TargetVoltage, s.Charger.Output.Msg.AvailableVoltage)
	}
	return Safe
}

func (m *Monitor) checkChargerStatus(msg frames.ChargerStatus) Verdict {
	faults := msg.Flags & (frames.ChargerMalfunction | frames.ChargerBatteryIncompatible | frames.ChargerSystemMalfunction)
	if faults != 0 {
		return unsafe(session.ReasonPeerReportedFault, "charger reports %v", faults)
	}
	return Safe
}

func (m *Monitor) checkLiveness(s session.Snapshot) Verdict {
	timeout := m.limits.Timeout(s.Phase)
	if timeout <= 0 {
		return Safe
	}
	since := s.SincePeerStatus()
	if since >= timeout {
		return unsafe(session.ReasonCommLoss, "no peer status for %v (timeout %v)", since, timeout)
	}
	if since >= timeout/2 {
		return warn(session.ReasonCommDegraded, "no peer status for %v", since)
	}
	return Safe
}

func (m *Monitor) checkStartup(s session.Snapshot) Verdict {
	if s.Phase != session.PhasePermissionGranted {
		return Safe
	}
	if s.InPhase() >= m.limits.StartupGrace {
		return unsafe(session.ReasonStartupTimeout, "no current after %v", s.InPhase())
	}
	return Safe
}

// Measured current may lag the commanded current by one cycle, so the
// deviation is the distance to the span between previous and present setpoint.
// Only a measurement taken in the present cycle is compared, a stale one is
// left to the liveness check.
func (m *Monitor) checkDeviation(s session.Snapshot) Verdict {
	if s.Phase != session.PhaseEnergyTransferActive || !s.Measured.Valid {
		return Safe
	}
	if s.Measured.At.Before(s.Now) {
		return Safe
	}
	if s.Negotiated.MaxVoltage > 0 && s.Measured.Voltage > s.Negotiated.MaxVoltage+m.limits.VoltageTolerance {
		return unsafe(session.ReasonSetpointDeviation, "measured %v above negotiated %v",
			s.Measured.Voltage, s.Negotiated.MaxVoltage)
	}
	if s.Commanded.Voltage > 0 && s.Measured.Voltage > s.Commanded.Voltage+m.limits.VoltageTolerance {
		return unsafe(session.ReasonSetpointDeviation, "measured %v commanded %v",
			s.Measured.Voltage, s.Commanded.Voltage)
	}
	low := min(s.Commanded.Current, s.PreviousCommanded.Current)
	high := max(s.Commanded.Current, s.PreviousCommanded.Current)
	var deviation frames.Amps
	switch {
	case s.Measured.Current > high:
		deviation = s.Measured.Current - high
	case s.Measured.Current < low:
		deviation = low - s.Measured.Current
	}
	if deviation > m.limits.CurrentTolerance {
		return unsafe(session.ReasonSetpointDeviation, "measured %v commanded %v",
			s.Measured.Current, s.Commanded.Current)
	}
	if deviation > m.limits.CurrentTolerance/2 {
		return warn(session.ReasonSetpointDrift, "measured %v commanded %v",
			s.Measured.Current, s.Commanded.Current)
	}
	return Safe
}

func (m *Monitor) checkRamp(s session.Snapshot) Verdict {
	rampCap := s.Negotiated.RampCap
	if !s.Negotiated.Done || rampCap == 0 {
		return Safe
	}
	if s.Phase != session.PhasePermissionGranted && !s.Phase.Transferring() {
		return Safe
	}
	if s.Commanded.Direction == s.PreviousCommanded.Direction &&
		s.Commanded.Current > s.PreviousCommanded.Current &&
		s.Commanded.Current-s.PreviousCommanded.Current > rampCap {
		return unsafe(session.ReasonRampViolation, "commanded %v after %v, cap %v",
			s.Commanded.Current, s.PreviousCommanded.Current, rampCap)
	}
	if s.Measured.Valid && s.PreviousMeasured.Valid && s.Measured.Current > s.PreviousMeasured.Current {
		step := int(s.Measured.Current) - int(s.PreviousMeasured.Current)
		if step > int(rampCap)+int(m.limits.CurrentTolerance) {
			return unsafe(session.ReasonRampViolation, "measured %v after %v, cap %v",
				s.Measured.Current, s.PreviousMeasured.Current, rampCap)
		}
	}
	return Safe
}
