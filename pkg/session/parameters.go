package session

import (
	"time"

	"github.com/samsamfire/gochademo/pkg/frames"
)

// Latest observed value of a message with the time it was recorded
type Observed[T frames.Message] struct {
	Msg     T
	Present bool
	At      time.Time
}

func (o *Observed[T]) set(msg T, at time.Time) {
	o.Msg = msg
	o.Present = true
	o.At = at
}

// Messages transmitted by the vehicle
type VehicleRecords struct {
	Limits    Observed[frames.VehicleLimits]
	Timing    Observed[frames.VehicleTiming]
	Status    Observed[frames.VehicleStatus]
	Discharge Observed[frames.VehicleDischarge]
}

// Messages transmitted by the charger
type ChargerRecords struct {
	Output    Observed[frames.ChargerOutput]
	Status    Observed[frames.ChargerStatus]
	Discharge Observed[frames.ChargerDischarge]
	Control   Observed[frames.DischargeControl]
}

// Values agreed on during capability negotiation
type Negotiated struct {
	Done          bool
	MaxVoltage    frames.Volts
	MaxCurrent    frames.Amps
	RampCap       frames.Amps // Maximum current increase per cycle
	Bidirectional bool
	Direction     Direction
	ExportLimit   frames.Amps // Discharge only, recomputed every cycle
}

// Commanded output of the local node
type Setpoint struct {
	Direction Direction
	Current   frames.Amps
	Voltage   frames.Volts
}

// Present output of the power stage as seen by the local node
type Measurement struct {
	Valid   bool
	Voltage frames.Volts
	Current frames.Amps
	At      time.Time
}

// Immutable copy of the session parameters.
// It shares no memory with the store it was taken from.
type Snapshot struct {
	Role              Role
	Now               time.Time
	Cycle             uint64
	Phase             Phase
	PhaseEntered      time.Time
	SessionStart      time.Time
	Vehicle           VehicleRecords
	Charger           ChargerRecords
	PeerHeard         time.Time // Last frame received from the peer, zero if never
	PeerFrames        uint64
	Negotiated        Negotiated
	Commanded         Setpoint
	PreviousCommanded Setpoint
	Measured          Measurement
	PreviousMeasured  Measurement
	Stop              StopOrigin
}

// Time spent in the current phase
func (s Snapshot) InPhase() time.Duration {
	return s.Now.Sub(s.PhaseEntered)
}

// Time since the last status frame from the peer (0x102 for a charger,
// 0x109 for a vehicle), or since the phase started if none was received
func (s Snapshot) SincePeerStatus() time.Duration {
	last := s.PhaseEntered
	switch {
	case s.Role == RoleCharger && s.Vehicle.Status.Present:
		last = s.Vehicle.Status.At
	case s.Role == RoleVehicle && s.Charger.Status.Present:
		last = s.Charger.Status.At
	}
	return s.Now.Sub(last)
}

// Connector is latched according to the charger status
func (s Snapshot) ConnectorLocked() bool {
	return s.Charger.Status.Present && s.Charger.Status.Msg.Flags.Has(frames.ChargerConnectorLocked)
}

// Vehicle state of charge, zero if never received
func (s Snapshot) SoC() frames.Percent {
	return s.Vehicle.Status.Msg.SoC
}

// Session parameters store.
// The protocol state machine is the only writer, every other component
// works on a Snapshot.
type Parameters struct {
	role              Role
	now               time.Time
	cycle             uint64
	phase             Phase
	phaseEntered      time.Time
	sessionStart      time.Time
	vehicle           VehicleRecords
	charger           ChargerRecords
	peerHeard         time.Time
	peerFrames        uint64
	negotiated        Negotiated
	commanded         Setpoint
	previousCommanded Setpoint
	measured          Measurement
	previousMeasured  Measurement
	stop              StopOrigin
}

func NewParameters(role Role, now time.Time) *Parameters {
	p := &Parameters{role: role}
	p.Reset(now)
	return p
}

// Clear every record, the session starts over in Idle
func (p *Parameters) Reset(now time.Time) {
	role, cycle := p.role, p.cycle
	*p = Parameters{role: role, cycle: cycle, now: now, phase: PhaseIdle, phaseEntered: now}
}

func (p *Parameters) Role() Role {
	return p.role
}

func (p *Parameters) Phase() Phase {
	return p.phase
}

// Start a new drive cycle at the given time
func (p *Parameters) Tick(now time.Time) {
	p.now = now
	p.cycle++
}

// Record a decoded message, returns true if it was sent by the peer.
// Messages of the local side are recorded as the local node transmits them.
func (p *Parameters) Record(msg frames.Message, at time.Time) (peer bool) {
	switch m := msg.(type) {
	case frames.VehicleLimits:
		p.vehicle.Limits.set(m, at)
	case frames.VehicleTiming:
		p.vehicle.Timing.set(m, at)
	case frames.VehicleStatus:
		p.vehicle.Status.set(m, at)
	case frames.VehicleDischarge:
		p.vehicle.Discharge.set(m, at)
	case frames.ChargerOutput:
		p.charger.Output.set(m, at)
	case frames.ChargerStatus:
		p.charger.Status.set(m, at)
	case frames.ChargerDischarge:
		p.charger.Discharge.set(m, at)
	case frames.DischargeControl:
		p.charger.Control.set(m, at)
	default:
		return false
	}
	peer = frames.IsVehicleID(msg.ID()) == (p.role == RoleCharger)
	if peer {
		p.peerHeard = at
		p.peerFrames++
		if p.sessionStart.IsZero() {
			p.sessionStart = at
		}
	}
	return peer
}

func (p *Parameters) SetPhase(phase Phase) {
	if phase == p.phase {
		return
	}
	p.phase = phase
	p.phaseEntered = p.now
}

func (p *Parameters) SetNegotiated(n Negotiated) {
	n.Done = true
	p.negotiated = n
}

func (p *Parameters) SetExportLimit(limit frames.Amps) {
	p.negotiated.ExportLimit = limit
}

// Apply a new setpoint, the current one becomes the previous one
func (p *Parameters) Command(sp Setpoint) {
	p.previousCommanded = p.commanded
	p.commanded = sp
}

func (p *Parameters) Measure(m Measurement) {
	p.previousMeasured = p.measured
	p.measured = m
}

// Register a stop request, the first origin is kept
func (p *Parameters) RequestStop(origin StopOrigin) {
	if p.stop == StopNone {
		p.stop = origin
	}
}

func (p *Parameters) Snapshot() Snapshot {
	return Snapshot{
		Role:              p.role,
		Now:               p.now,
		Cycle:             p.cycle,
		Phase:             p.phase,
		PhaseEntered:      p.phaseEntered,
		SessionStart:      p.sessionStart,
		Vehicle:           p.vehicle,
		Charger:           p.charger,
		PeerHeard:         p.peerHeard,
		PeerFrames:        p.peerFrames,
		Negotiated:        p.negotiated,
		Commanded:         p.commanded,
		PreviousCommanded: p.previousCommanded,
		Measured:          p.measured,
		PreviousMeasured:  p.previousMeasured,
		Stop:              p.stop,
	}
}
