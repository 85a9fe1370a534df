package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/samsamfire/gochademo/pkg/machine"
	"github.com/samsamfire/gochademo/pkg/session"
	"github.com/stretchr/testify/assert"
)

const vehicleConfig = `
[session]
role = vehicle
cycle_period = 50ms
bidirectional = true

[limits]
max_voltage = 420
target_voltage = 400
max_current = 110
battery_capacity = 400
max_charging_time = 90m

[ramp]
request = 5

[taper]
soc = 75
target_soc = 95

[safety]
transfer_timeout = 300ms
current_tolerance = 8

[bidirectional]
request_discharge = true
max_discharge_current = 20
min_discharge_level = 30

[can]
interface = virtualcan
channel = localhost:18888
`

func TestLoad(t *testing.T) {
	t.Run("from bytes", func(t *testing.T) {
		settings, err := Load([]byte(vehicleConfig))
		assert.Nil(t, err)
		cfg := settings.Machine
		assert.Equal(t, session.RoleVehicle, cfg.Role)
		assert.Equal(t, 50*time.Millisecond, cfg.CyclePeriod)
		assert.True(t, cfg.Bidirectional)
		assert.EqualValues(t, 420, cfg.MaxVoltage)
		assert.EqualValues(t, 400, cfg.TargetVoltage)
		assert.EqualValues(t, 110, cfg.MaxCurrent)
		assert.EqualValues(t, 250, cfg.MinVoltage)
		assert.Equal(t, 90*time.Minute, cfg.MaxChargingTime)
		assert.EqualValues(t, 5, cfg.RampCap())
		assert.EqualValues(t, 75, cfg.TaperSoC)
		assert.EqualValues(t, 95, cfg.TargetSoC)
		assert.Equal(t, 300*time.Millisecond, cfg.Safety.TransferTimeout)
		assert.EqualValues(t, 8, cfg.Safety.CurrentTolerance)
		assert.True(t, cfg.Vehicle.RequestDischarge)
		assert.EqualValues(t, 20, cfg.Vehicle.MaxDischargeCurrent)
		assert.EqualValues(t, 30, cfg.Vehicle.MinDischargeLevel)
		assert.Equal(t, "virtualcan", settings.Interface)
		assert.Equal(t, "localhost:18888", settings.Channel)
		assert.Equal(t, 500_000, settings.Bitrate)
	})

	t.Run("from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vehicle.ini")
		assert.Nil(t, os.WriteFile(path, []byte(vehicleConfig), 0o644))
		settings, err := Load(path)
		assert.Nil(t, err)
		assert.Equal(t, session.RoleVehicle, settings.Machine.Role)
	})

	t.Run("defaults", func(t *testing.T) {
		settings, err := Load(strings.NewReader(""))
		assert.Nil(t, err)
		assert.Equal(t, Default(session.RoleCharger), *settings)
	})
}

func TestLoadErrors(t *testing.T) {
	invalid := map[string]string{
		"unknown role":   "[session]\nrole = bus\n",
		"not a number":   "[limits]\nmax_current = lots\n",
		"out of range":   "[limits]\nmax_current = 300\n",
		"bad duration":   "[safety]\nstartup_grace = soon\n",
		"bad bool":       "[session]\nbidirectional = maybe\n",
		"fails validate": "[ramp]\nlimit = 0\n",
		"bad percent":    "[session]\nrole = vehicle\nbidirectional = true\n[bidirectional]\nmin_discharge_level = 150\n",
		"missing file":   "",
	}
	for name, content := range invalid {
		t.Run(name, func(t *testing.T) {
			var source any = []byte(content)
			if name == "missing file" {
				source = filepath.Join(t.TempDir(), "missing.ini")
			}
			_, err := Load(source)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestExport(t *testing.T) {
	for _, role := range []session.Role{session.RoleCharger, session.RoleVehicle} {
		t.Run(role.String(), func(t *testing.T) {
			settings := Default(role)
			settings.Machine.RampRequest = 4
			settings.Machine.Bidirectional = true
			settings.Channel = "vcan0"
			var buffer bytes.Buffer
			assert.Nil(t, Export(settings, &buffer))
			loaded, err := Load(buffer.Bytes())
			assert.Nil(t, err)
			assert.Equal(t, settings, *loaded)
		})
	}
}

func TestDefaultMatchesMachine(t *testing.T) {
	assert.Equal(t, machine.DefaultConfig(session.RoleVehicle), Default(session.RoleVehicle).Machine)
}
