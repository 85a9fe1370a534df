package machine

import (
	"io"
	"testing"
	"time"

	chademo "github.com/samsamfire/gochademo"
	"github.com/samsamfire/gochademo/pkg/frames"
	"github.com/samsamfire/gochademo/pkg/session"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

var epoch = time.Unix(10000, 0)

func quietLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

// Decode the first message of type T from a cycle output
func messageOf[T frames.Message](t *testing.T, out Output) T {
	t.Helper()
	codec := frames.NewCodec()
	for _, f := range out.Frames {
		msg, err := codec.Decode(f)
		assert.Nil(t, err)
		if typed, ok := msg.(T); ok {
			return typed
		}
	}
	var zero T
	t.Fatalf("no %T in output", zero)
	return zero
}

// Drives a machine with scripted peer messages, 100 ms per step
type harness struct {
	t           *testing.T
	m           *Machine
	now         time.Time
	out         Output
	peer        func() []frames.Message
	afterStep   func(h *harness)
	transitions []session.Phase
}

func newHarness(t *testing.T, role session.Role, configure func(cfg *Config)) *harness {
	cfg := DefaultConfig(role)
	if role == session.RoleCharger {
		cfg.MaxCurrent = 100
	}
	if configure != nil {
		configure(&cfg)
	}
	m, err := New(cfg, WithLogger(quietLogger()))
	assert.Nil(t, err)
	h := &harness{t: t, m: m, now: epoch}
	m.OnPhaseChange(func(from, to session.Phase) {
		h.transitions = append(h.transitions, to)
	})
	return h
}

func (h *harness) stepWith(msgs ...frames.Message) Output {
	h.now = h.now.Add(100 * time.Millisecond)
	rx := []chademo.Frame{}
	for _, msg := range msgs {
		rx = append(rx, frames.Encode(msg))
	}
	h.out = h.m.Cycle(h.now, rx)
	if h.afterStep != nil {
		h.afterStep(h)
	}
	return h.out
}

// One step with the scripted peer messages
func (h *harness) step() Output {
	var msgs []frames.Message
	if h.peer != nil {
		msgs = h.peer()
	}
	return h.stepWith(msgs...)
}

func (h *harness) runUntil(phase session.Phase, maxSteps int) bool {
	for i := 0; i < maxSteps; i++ {
		h.step()
		if h.m.Phase() == phase {
			return true
		}
	}
	return false
}

func (h *harness) commanded() frames.Amps {
	return h.m.Setpoint().Current
}

// Scripted vehicle as seen by a charger
type scriptedVehicle struct {
	limits    frames.VehicleLimits
	status    frames.VehicleStatus
	discharge *frames.VehicleDischarge
}

func newScriptedVehicle() *scriptedVehicle {
	return &scriptedVehicle{
		limits: frames.VehicleLimits{MaxCurrent: 125, MinBatteryVoltage: 250, MaxBatteryVoltage: 435, ChargedRate: 100},
		status: frames.VehicleStatus{
			Protocol:       2,
			TargetVoltage:  400,
			CurrentRequest: 100,
			Flags:          frames.VehicleChargingEnabled,
			SoC:            50,
		},
	}
}

func (v *scriptedVehicle) messages() []frames.Message {
	msgs := []frames.Message{v.limits, v.status}
	if v.discharge != nil {
		msgs = append(msgs, *v.discharge)
	}
	return msgs
}

func newChargerHarness(t *testing.T, configure func(cfg *Config)) (*harness, *scriptedVehicle) {
	h := newHarness(t, session.RoleCharger, configure)
	vehicle := newScriptedVehicle()
	h.peer = vehicle.messages
	h.m.SetInputs(Inputs{ConnectorLatched: true, ContactorsClosed: true})
	return h, vehicle
}

// Scripted charger as seen by a vehicle, output current follows the last request
type scriptedCharger struct {
	output frames.ChargerOutput
	status frames.ChargerStatus
}

func newVehicleHarness(t *testing.T, configure func(cfg *Config)) (*harness, *scriptedCharger) {
	h := newHarness(t, session.RoleVehicle, configure)
	charger := &scriptedCharger{
		output: frames.ChargerOutput{AvailableVoltage: 500, AvailableCurrent: 100, ThresholdVoltage: 435},
		status: frames.ChargerStatus{Protocol: 2, Flags: frames.ChargerConnectorLocked | frames.ChargerStopControl},
	}
	h.peer = func() []frames.Message {
		return []frames.Message{charger.output, charger.status}
	}
	h.afterStep = func(h *harness) {
		if len(h.out.Frames) == 0 {
			return
		}
		status := messageOf[frames.VehicleStatus](h.t, h.out)
		if status.Flags.Has(frames.VehicleChargingEnabled) {
			charger.status.Flags = charger.status.Flags.Set(frames.ChargerStopControl, false)
		}
		charger.status.OutputCurrent = status.CurrentRequest
	}
	h.m.SetInputs(Inputs{ConnectorLatched: true, ContactorsClosed: true, Ready: true, SoC: 50})
	return h, charger
}
