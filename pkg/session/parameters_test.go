package session

import (
	"testing"
	"time"

	"github.com/samsamfire/gochademo/pkg/frames"
	"github.com/stretchr/testify/assert"
)

func TestParametersRecord(t *testing.T) {
	start := time.Unix(1000, 0)

	t.Run("charger role peer is the vehicle", func(t *testing.T) {
		p := NewParameters(RoleCharger, start)
		assert.True(t, p.Record(frames.VehicleStatus{SoC: 40}, start.Add(time.Second)))
		assert.False(t, p.Record(frames.ChargerStatus{}, start.Add(2*time.Second)))
		s := p.Snapshot()
		assert.True(t, s.Vehicle.Status.Present)
		assert.True(t, s.Charger.Status.Present)
		assert.EqualValues(t, 40, s.SoC())
		assert.Equal(t, start.Add(time.Second), s.PeerHeard)
		assert.Equal(t, start.Add(time.Second), s.SessionStart)
		assert.EqualValues(t, 1, s.PeerFrames)
	})

	t.Run("vehicle role peer is the charger", func(t *testing.T) {
		p := NewParameters(RoleVehicle, start)
		assert.True(t, p.Record(frames.ChargerDischarge{}, start))
		assert.False(t, p.Record(frames.VehicleDischarge{}, start))
	})
}

func TestSnapshotIsACopy(t *testing.T) {
	start := time.Unix(1000, 0)
	p := NewParameters(RoleCharger, start)
	p.Record(frames.VehicleStatus{SoC: 40}, start)
	s := p.Snapshot()
	p.Record(frames.VehicleStatus{SoC: 80}, start)
	p.Command(Setpoint{Current: 10})
	assert.EqualValues(t, 40, s.SoC())
	assert.EqualValues(t, 0, s.Commanded.Current)
	assert.EqualValues(t, 80, p.Snapshot().SoC())
}

func TestSincePeerStatus(t *testing.T) {
	start := time.Unix(1000, 0)
	p := NewParameters(RoleVehicle, start)
	p.Tick(start.Add(100 * time.Millisecond))
	p.SetPhase(PhaseConnected)
	p.Tick(start.Add(400 * time.Millisecond))
	assert.Equal(t, 300*time.Millisecond, p.Snapshot().SincePeerStatus())

	p.Record(frames.ChargerStatus{}, start.Add(200*time.Millisecond))
	p.Record(frames.ChargerOutput{}, start.Add(400*time.Millisecond))
	s := p.Snapshot()
	assert.Equal(t, 200*time.Millisecond, s.SincePeerStatus())
	assert.Equal(t, start.Add(400*time.Millisecond), s.PeerHeard)
}

func TestParametersPhaseAndStop(t *testing.T) {
	start := time.Unix(1000, 0)
	p := NewParameters(RoleVehicle, start)
	p.Tick(start.Add(100 * time.Millisecond))
	p.SetPhase(PhaseConnected)
	p.Tick(start.Add(300 * time.Millisecond))
	s := p.Snapshot()
	assert.Equal(t, PhaseConnected, s.Phase)
	assert.Equal(t, 200*time.Millisecond, s.InPhase())
	assert.Equal(t, 200*time.Millisecond, s.SincePeerStatus())
	assert.EqualValues(t, 2, s.Cycle)

	p.RequestStop(StopLocal)
	p.RequestStop(StopCharger)
	assert.Equal(t, StopLocal, p.Snapshot().Stop)

	p.Command(Setpoint{Current: 10})
	p.Command(Setpoint{Current: 20})
	s = p.Snapshot()
	assert.EqualValues(t, 20, s.Commanded.Current)
	assert.EqualValues(t, 10, s.PreviousCommanded.Current)

	p.Reset(start.Add(time.Second))
	s = p.Snapshot()
	assert.Equal(t, PhaseIdle, s.Phase)
	assert.Equal(t, StopNone, s.Stop)
	assert.EqualValues(t, 2, s.Cycle)
	assert.Equal(t, RoleVehicle, s.Role)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "ENERGY-TRANSFER-ACTIVE", PhaseEnergyTransferActive.String())
	assert.Equal(t, "UNKNOWN", Phase(42).String())
	assert.Equal(t, "communication loss", ReasonCommLoss.String())
	role, err := ParseRole(" Vehicle ")
	assert.Nil(t, err)
	assert.Equal(t, RoleVehicle, role)
	_, err = ParseRole("evse")
	assert.NotNil(t, err)
	assert.Len(t, Phases, 10)
}
