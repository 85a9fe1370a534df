package machine

import (
	"errors"
	"time"

	chademo "github.com/samsamfire/gochademo"
	"github.com/samsamfire/gochademo/pkg/frames"
	"github.com/samsamfire/gochademo/pkg/safety"
	"github.com/samsamfire/gochademo/pkg/session"
	"github.com/samsamfire/gochademo/pkg/v2x"
	log "github.com/sirupsen/logrus"
)

var ErrNotFaulted = errors.New("session is not in fault")

// Machine counters
type Stats struct {
	Cycles         uint64
	FramesReceived uint64
	DecodeErrors   uint64
	UnknownFrames  uint64
	OwnFrames      uint64
	Warnings       uint64
	Faults         uint64
}

// Result of one drive cycle
type Output struct {
	Frames  []chademo.Frame
	Phase   session.Phase
	Changed bool
	Verdict safety.Verdict
}

type Option func(m *Machine)

func WithLogger(logger log.FieldLogger) Option {
	return func(m *Machine) { m.logger = logger }
}

func WithCodec(codec *frames.Codec) Option {
	return func(m *Machine) { m.codec = codec }
}

// Protocol state machine for one side of the connector.
// One Cycle call is one atomic drive cycle, the machine is not safe for
// concurrent use and is normally owned by a controller.
type Machine struct {
	cfg           Config
	logger        log.FieldLogger
	codec         *frames.Codec
	params        *session.Parameters
	monitor       *safety.Monitor
	bidirectional *v2x.Handler
	inputs        Inputs
	stopRequested bool
	fault         *session.FaultRecord
	stats         Stats
	callback      func(from session.Phase, to session.Phase)
}

func New(cfg Config, opts ...Option) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Machine{
		cfg:           cfg,
		logger:        log.StandardLogger(),
		codec:         frames.NewCodec(),
		params:        session.NewParameters(cfg.Role, time.Time{}),
		monitor:       safety.NewMonitor(cfg.Safety),
		bidirectional: v2x.NewHandler(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Machine) Config() Config {
	return m.cfg
}

func (m *Machine) Phase() session.Phase {
	return m.params.Phase()
}

func (m *Machine) Snapshot() session.Snapshot {
	return m.params.Snapshot()
}

func (m *Machine) Setpoint() session.Setpoint {
	return m.params.Snapshot().Commanded
}

// Latched fault, ok is false when not in fault
func (m *Machine) Fault() (record session.FaultRecord, ok bool) {
	if m.fault == nil {
		return record, false
	}
	return *m.fault, true
}

func (m *Machine) Stats() Stats {
	return m.stats
}

func (m *Machine) Inputs() Inputs {
	return m.inputs
}

func (m *Machine) SetInputs(inputs Inputs) {
	m.inputs = inputs
}

// Ask for a controlled stop, taken into account at the next cycle
func (m *Machine) RequestStop() {
	m.stopRequested = true
}

// Called on every phase change
func (m *Machine) OnPhaseChange(callback func(from session.Phase, to session.Phase)) {
	m.callback = callback
}

// Clear a latched fault and return to Idle
func (m *Machine) AcknowledgeFault(now time.Time) error {
	if m.params.Phase() != session.PhaseFault || m.fault == nil {
		return ErrNotFaulted
	}
	m.logger.Infof("[MACHINE][%v] fault acknowledged | %v", m.cfg.Role, m.fault)
	m.fault = nil
	m.stopRequested = false
	m.params.Tick(now)
	m.enter(session.PhaseIdle)
	return nil
}

// Run one drive cycle : decode frames, update parameters, evaluate safety,
// at most one transition, compute setpoints and encode outgoing frames.
func (m *Machine) Cycle(now time.Time, rx []chademo.Frame) Output {
	m.stats.Cycles++
	m.params.Tick(now)
	phase := m.params.Phase()

	if m.stopRequested {
		m.stopRequested = false
		if phase != session.PhaseIdle && phase != session.PhaseTerminated && phase != session.PhaseFault {
			m.logger.Infof("[MACHINE][%v] stop requested in %v", m.cfg.Role, phase)
			m.params.RequestStop(session.StopLocal)
		}
	}

	verdict := safety.Safe
	for _, frame := range rx {
		msg, err := m.codec.Decode(frame)
		if err != nil {
			if errors.Is(err, frames.ErrUnknownIdentifier) {
				m.stats.UnknownFrames++
			} else {
				m.stats.DecodeErrors++
			}
			m.logger.Debugf("[MACHINE][%v] dropped frame | %v", m.cfg.Role, err)
			continue
		}
		if !m.fromPeer(msg) {
			m.stats.OwnFrames++
			continue
		}
		m.stats.FramesReceived++
		m.params.Record(msg, now)
		verdict = verdict.Worst(m.monitor.Evaluate(m.params.Snapshot(), msg))
	}

	m.params.Measure(m.measurement(m.params.Snapshot()))
	m.observeStops(m.params.Snapshot())

	s := m.params.Snapshot()
	if s.Negotiated.Bidirectional {
		proposal := m.bidirectional.Propose(s)
		m.params.SetExportLimit(proposal.ExportLimit)
		if proposal.Withdrawn && s.Phase.Transferring() {
			m.params.RequestStop(session.StopDischargeWithdrawn)
		}
		s = m.params.Snapshot()
	}

	verdict = verdict.Worst(m.monitor.Evaluate(s, nil))
	if verdict.Level == safety.LevelWarn {
		m.stats.Warnings++
		m.logger.Warnf("[MACHINE][%v] %v", m.cfg.Role, verdict)
	}

	next := m.transition(s, verdict)
	changed := next != phase
	if changed {
		m.enter(next)
	}

	s = m.params.Snapshot()
	m.params.Command(m.setpoint(s))

	out := Output{Phase: m.params.Phase(), Changed: changed, Verdict: verdict}
	for _, msg := range m.outgoing(m.params.Snapshot()) {
		m.params.Record(msg, now)
		frame := frames.Encode(msg)
		frame.Timestamp = now
		out.Frames = append(out.Frames, frame)
	}
	return out
}

func (m *Machine) fromPeer(msg frames.Message) bool {
	if m.cfg.Role == session.RoleCharger {
		return frames.IsVehicleID(msg.ID())
	}
	return frames.IsChargerID(msg.ID())
}

// Present output of the power stage. Local sensors are preferred, a vehicle
// otherwise relies on what the charger reports.
func (m *Machine) measurement(s session.Snapshot) session.Measurement {
	if m.inputs.HasMeasurement {
		return session.Measurement{
			Valid:   true,
			Voltage: m.inputs.MeasuredVoltage,
			Current: m.inputs.MeasuredCurrent,
			At:      s.Now,
		}
	}
	if m.cfg.Role == session.RoleVehicle && s.Charger.Status.Present {
		measured := session.Measurement{
			Valid:   true,
			Voltage: s.Charger.Status.Msg.OutputVoltage,
			Current: s.Charger.Status.Msg.OutputCurrent,
			At:      s.Charger.Status.At,
		}
		if s.Negotiated.Direction == session.DirectionDischarge {
			measured.Current = s.Charger.Discharge.Msg.PresentDischargeCurrent
		}
		return measured
	}
	return session.Measurement{}
}

// Current considered flowing, the commanded value when nothing is measured
func measuredCurrent(s session.Snapshot) frames.Amps {
	if s.Measured.Valid {
		return s.Measured.Current
	}
	return s.Commanded.Current
}

func (m *Machine) enter(next session.Phase) {
	prev := m.params.Phase()
	if next == session.PhaseIdle {
		m.params.Reset(m.params.Snapshot().Now)
	} else {
		m.params.SetPhase(next)
	}
	m.logger.Infof("[MACHINE][%v] phase changed | %v ==> %v", m.cfg.Role, prev, next)
	if m.callback != nil {
		m.callback(prev, next)
	}
}

func (m *Machine) enterFault(s session.Snapshot, verdict safety.Verdict) {
	m.stats.Faults++
	m.fault = &session.FaultRecord{
		Reason:    verdict.Reason,
		Phase:     s.Phase,
		Timestamp: s.Now,
		Detail:    verdict.Detail,
	}
	m.logger.Errorf("[MACHINE][%v] fault | %v", m.cfg.Role, m.fault)
}
