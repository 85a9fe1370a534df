package frames

import (
	"fmt"
	"time"
)

// Charger status flags, byte 5 of 0x109
type ChargerFlags uint8

const (
	ChargerCharging            ChargerFlags = 1 << 0
	ChargerMalfunction         ChargerFlags = 1 << 1
	ChargerConnectorLocked     ChargerFlags = 1 << 2
	ChargerBatteryIncompatible ChargerFlags = 1 << 3
	ChargerSystemMalfunction   ChargerFlags = 1 << 4
	ChargerStopControl         ChargerFlags = 1 << 5

	chargerFlagMask ChargerFlags = 0x3F
)

var chargerFlagNames = map[uint8]string{
	uint8(ChargerCharging):            "CHARGING",
	uint8(ChargerMalfunction):         "MALFUNCTION",
	uint8(ChargerConnectorLocked):     "CONNECTOR-LOCKED",
	uint8(ChargerBatteryIncompatible): "BATTERY-INCOMPATIBLE",
	uint8(ChargerSystemMalfunction):   "SYSTEM-MALFUNCTION",
	uint8(ChargerStopControl):         "STOP-CONTROL",
}

func (f ChargerFlags) Has(bits ChargerFlags) bool {
	return f&bits == bits
}

func (f ChargerFlags) Set(bits ChargerFlags, value bool) ChargerFlags {
	if value {
		return f | bits
	}
	return f &^ bits
}

func (f ChargerFlags) String() string {
	return flagString(uint8(f), chargerFlagNames)
}

// 0x108 charger available output
type ChargerOutput struct {
	WeldingDetection uint8 // Non zero if the charger supports contactor welding detection
	AvailableVoltage Volts
	AvailableCurrent Amps
	ThresholdVoltage Volts // Charger stops when the battery voltage reaches this value
}

func (m ChargerOutput) ID() uint32 { return IDChargerOutput }

func (m ChargerOutput) Payload() [8]byte {
	var data [8]byte
	data[0] = m.WeldingDetection
	putVolts(data[1:3], m.AvailableVoltage)
	data[3] = uint8(m.AvailableCurrent)
	putVolts(data[4:6], m.ThresholdVoltage)
	return data
}

func decodeChargerOutput(data [8]byte) (Message, error) {
	if err := checkReserved(IDChargerOutput, data, 6, 7); err != nil {
		return nil, err
	}
	return ChargerOutput{
		WeldingDetection: data[0],
		AvailableVoltage: getVolts(data[1:3]),
		AvailableCurrent: Amps(data[3]),
		ThresholdVoltage: getVolts(data[4:6]),
	}, nil
}

// 0x109 charger status
type ChargerStatus struct {
	Protocol            uint8
	OutputVoltage       Volts
	OutputCurrent       Amps
	DischargeCompatible bool
	Flags               ChargerFlags
	RemainingTime10s    uint8 // 0xFF means RemainingTimeMin is used
	RemainingTimeMin    uint8
}

func (m ChargerStatus) ID() uint32 { return IDChargerStatus }

func (m ChargerStatus) Payload() [8]byte {
	var data [8]byte
	data[0] = m.Protocol
	putVolts(data[1:3], m.OutputVoltage)
	data[3] = uint8(m.OutputCurrent)
	if m.DischargeCompatible {
		data[4] = 1
	}
	data[5] = uint8(m.Flags)
	data[6] = m.RemainingTime10s
	data[7] = m.RemainingTimeMin
	return data
}

// Remaining charging time announced by the charger
func (m ChargerStatus) RemainingTime() time.Duration {
	if m.RemainingTime10s != UseMinuteField {
		return time.Duration(m.RemainingTime10s) * 10 * time.Second
	}
	return time.Duration(m.RemainingTimeMin) * time.Minute
}

// Charger contactors are closed once stop control is released
func (m ChargerStatus) ContactorsClosed() bool {
	return !m.Flags.Has(ChargerStopControl)
}

func (m ChargerStatus) String() string {
	return fmt.Sprintf("output %v %v | flags %v | remaining %v",
		m.OutputVoltage, m.OutputCurrent, m.Flags, m.RemainingTime())
}

func decodeChargerStatus(data [8]byte) (Message, error) {
	if data[4] > 1 {
		return nil, malformed(IDChargerStatus, "discharge compatibility x%x", data[4])
	}
	if ChargerFlags(data[5])&^chargerFlagMask != 0 {
		return nil, malformed(IDChargerStatus, "reserved status bits set x%x", data[5])
	}
	return ChargerStatus{
		Protocol:            data[0],
		OutputVoltage:       getVolts(data[1:3]),
		OutputCurrent:       Amps(data[3]),
		DischargeCompatible: data[4] == 1,
		Flags:               ChargerFlags(data[5]),
		RemainingTime10s:    data[6],
		RemainingTimeMin:    data[7],
	}, nil
}
