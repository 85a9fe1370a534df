package controller

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	chademo "github.com/samsamfire/gochademo"
	"github.com/samsamfire/gochademo/pkg/can"
	_ "github.com/samsamfire/gochademo/pkg/can/loopback"
	"github.com/samsamfire/gochademo/pkg/frames"
	"github.com/samsamfire/gochademo/pkg/machine"
	"github.com/samsamfire/gochademo/pkg/session"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func quietLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newController(t *testing.T, channel string, clock chademo.Clock, role session.Role) *Controller {
	bus, err := can.NewBus("loopback", channel, can.DefaultBitrate)
	assert.Nil(t, err)
	bm := chademo.NewBusManager(bus)
	assert.Nil(t, bm.Connect())
	t.Cleanup(func() { bm.Disconnect() })
	m, err := machine.New(machine.DefaultConfig(role), machine.WithLogger(quietLogger()))
	assert.Nil(t, err)
	c, err := New(bm, clock, m, WithLogger(quietLogger()))
	assert.Nil(t, err)
	return c
}

type pair struct {
	clock   *chademo.ManualClock
	charger *Controller
	vehicle *Controller
}

func newPair(t *testing.T) *pair {
	clock := chademo.NewManualClock(time.Unix(10000, 0))
	p := &pair{
		clock:   clock,
		charger: newController(t, t.Name(), clock, session.RoleCharger),
		vehicle: newController(t, t.Name(), clock, session.RoleVehicle),
	}
	p.charger.UpdateInputs(machine.Inputs{ConnectorLatched: true, ContactorsClosed: true})
	p.vehicle.UpdateInputs(machine.Inputs{ConnectorLatched: true, ContactorsClosed: true, Ready: true, SoC: 50})
	return p
}

func (p *pair) tick(t *testing.T) {
	p.clock.Advance(machine.DefaultCyclePeriod)
	assert.Nil(t, p.vehicle.Step())
	assert.Nil(t, p.charger.Step())
}

func (p *pair) runUntil(t *testing.T, phase session.Phase, maxTicks int) bool {
	for i := 0; i < maxTicks; i++ {
		p.tick(t)
		if p.charger.Phase() == phase && p.vehicle.Phase() == phase {
			return true
		}
	}
	return false
}

func TestSessionOverLoopback(t *testing.T) {
	p := newPair(t)
	var chargerPhases []session.Phase
	p.charger.OnPhaseChange(func(from, to session.Phase) {
		chargerPhases = append(chargerPhases, to)
	})

	assert.True(t, p.runUntil(t, session.PhaseEnergyTransferActive, 10))
	assert.Equal(t, []session.Phase{
		session.PhaseConnected,
		session.PhaseCapabilityNegotiation,
		session.PhaseParameterExchange,
		session.PhasePermissionGranted,
		session.PhaseEnergyTransferActive,
	}, chargerPhases)
	assert.EqualValues(t, 125, p.charger.Parameters().Negotiated.MaxCurrent)
	assert.EqualValues(t, 435, p.vehicle.Parameters().Negotiated.MaxVoltage)

	for i := 0; i < 20; i++ {
		p.tick(t)
		assert.Equal(t, session.PhaseEnergyTransferActive, p.charger.Phase())
		assert.Equal(t, session.PhaseEnergyTransferActive, p.vehicle.Phase())
	}
	assert.EqualValues(t, 125, p.vehicle.Setpoint().Current)
	assert.EqualValues(t, 125, p.charger.Setpoint().Current)

	t.Run("vehicle initiated stop", func(t *testing.T) {
		p.vehicle.RequestStop()
		for i := 0; i < 30 && p.vehicle.Phase() != session.PhaseTerminated; i++ {
			p.tick(t)
			params := p.vehicle.Parameters()
			if params.Phase == session.PhaseStopRequested && params.Measured.Valid && params.Measured.Current == 0 {
				p.vehicle.ModifyInputs(func(inputs *machine.Inputs) { inputs.ContactorsClosed = false })
			}
		}
		assert.Equal(t, session.PhaseTerminated, p.vehicle.Phase())
		p.tick(t)
		assert.Equal(t, session.PhaseTerminated, p.charger.Phase())
		assert.Equal(t, session.StopVehicle, p.charger.Parameters().Stop)
		_, faulted := p.charger.Fault()
		assert.False(t, faulted)
	})

	t.Run("unplug", func(t *testing.T) {
		p.vehicle.UpdateInputs(machine.Inputs{})
		p.charger.UpdateInputs(machine.Inputs{})
		p.tick(t)
		assert.Equal(t, session.PhaseIdle, p.vehicle.Phase())
		assert.Equal(t, session.PhaseIdle, p.charger.Phase())
		stats := p.charger.Stats()
		assert.Positive(t, stats.FramesSent)
		assert.Positive(t, stats.FramesReceived)
		assert.Zero(t, stats.TransportErrors)
		assert.Zero(t, stats.Faults)
	})
}

func TestCommLossOverLoopback(t *testing.T) {
	p := newPair(t)
	assert.True(t, p.runUntil(t, session.PhaseEnergyTransferActive, 10))
	// Vehicle stops transmitting
	for i := 0; i < 5; i++ {
		p.clock.Advance(machine.DefaultCyclePeriod)
		assert.Nil(t, p.charger.Step())
	}
	assert.Equal(t, session.PhaseFault, p.charger.Phase())
	record, ok := p.charger.Fault()
	assert.True(t, ok)
	assert.Equal(t, session.ReasonCommLoss, record.Reason)

	assert.Nil(t, p.charger.AcknowledgeFault())
	assert.Equal(t, session.PhaseIdle, p.charger.Phase())
	assert.ErrorIs(t, p.charger.AcknowledgeFault(), ErrNotFaulted)
}

type failingTransport struct {
	sent int
}

func (f *failingTransport) Receive() (chademo.Frame, bool) { return chademo.Frame{}, false }
func (f *failingTransport) Send(frame chademo.Frame) error {
	f.sent++
	return chademo.ErrNoConnection
}

func TestStepJoinsSendErrors(t *testing.T) {
	transport := &failingTransport{}
	m, _ := machine.New(machine.DefaultConfig(session.RoleCharger), machine.WithLogger(quietLogger()))
	m.SetInputs(machine.Inputs{ConnectorLatched: true})
	c, err := New(transport, chademo.NewManualClock(time.Unix(0, 0)), m, WithLogger(quietLogger()))
	assert.Nil(t, err)

	err = c.Step()
	assert.ErrorIs(t, err, chademo.ErrNoConnection)
	assert.Equal(t, 2, transport.sent)
	assert.EqualValues(t, 2, c.Stats().TransportErrors)
	assert.EqualValues(t, 1, c.Stats().Cycles)

	_, err = New(nil, nil, m)
	assert.ErrorIs(t, err, chademo.ErrIllegalArgument)
}

func TestStepSupervisesLink(t *testing.T) {
	bus, err := can.NewBus("loopback", t.Name(), can.DefaultBitrate)
	assert.Nil(t, err)
	bm := chademo.NewBusManagerWithSize(bus, 2)
	assert.Nil(t, bm.Connect())
	defer bm.Disconnect()
	m, err := machine.New(machine.DefaultConfig(session.RoleCharger), machine.WithLogger(quietLogger()))
	assert.Nil(t, err)
	c, err := New(bm, chademo.NewManualClock(time.Unix(10000, 0)), m, WithLogger(quietLogger()))
	assert.Nil(t, err)

	for i := 0; i < 5; i++ {
		bm.Handle(frames.Encode(frames.VehicleLimits{}))
	}
	assert.Equal(t, chademo.CanErrorRxOverflow, int(bm.Error()))
	assert.Nil(t, c.Step())
	stats := c.Stats()
	assert.EqualValues(t, 3, stats.FramesDropped)
	assert.Equal(t, chademo.CanErrorRxOverflow, int(stats.BusError))
	assert.EqualValues(t, 0, bm.Error())

	assert.Nil(t, c.Step())
	stats = c.Stats()
	assert.EqualValues(t, 3, stats.FramesDropped)
	assert.EqualValues(t, 0, stats.BusError)
}

func TestRun(t *testing.T) {
	bus, _ := can.NewBus("loopback", t.Name(), 0)
	bm := chademo.NewBusManager(bus)
	assert.Nil(t, bm.Connect())
	defer bm.Disconnect()
	cfg := machine.DefaultConfig(session.RoleVehicle)
	cfg.CyclePeriod = 5 * time.Millisecond
	m, _ := machine.New(cfg, machine.WithLogger(quietLogger()))
	c, _ := New(bm, nil, m, WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Run(ctx) }()
	assert.Eventually(t, func() bool { return c.Stats().Cycles >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, session.PhaseIdle, c.Phase())
	_, ok := c.Fault()
	assert.False(t, ok)
	assert.EqualValues(t, 0, c.Setpoint().Current)
	assert.Equal(t, frames.Percent(0), c.Inputs().SoC)
}
