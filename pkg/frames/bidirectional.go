package frames

import "encoding/binary"

// IEEE 2030.1.1 bidirectional messages.
// Current fields and the discharge level are sent as 0xFF - value.

// 0x200 vehicle discharge capability
type VehicleDischarge struct {
	MaxDischargeCurrent Amps
	MinDischargeVoltage Volts
	MinDischargeLevel   Percent
	MaxChargeLevel      Percent // 0 if unused
}

func (m VehicleDischarge) ID() uint32 { return IDVehicleDischarge }

func (m VehicleDischarge) Payload() [8]byte {
	var data [8]byte
	data[0] = invert(uint8(m.MaxDischargeCurrent))
	putVolts(data[4:6], m.MinDischargeVoltage)
	data[6] = invert(uint8(m.MinDischargeLevel))
	data[7] = uint8(m.MaxChargeLevel)
	return data
}

func decodeVehicleDischarge(data [8]byte) (Message, error) {
	if err := checkReserved(IDVehicleDischarge, data, 1, 2, 3); err != nil {
		return nil, err
	}
	if err := checkPercent(IDVehicleDischarge, "min discharge level", invert(data[6])); err != nil {
		return nil, err
	}
	if err := checkPercent(IDVehicleDischarge, "max charge level", data[7]); err != nil {
		return nil, err
	}
	return VehicleDischarge{
		MaxDischargeCurrent: Amps(invert(data[0])),
		MinDischargeVoltage: getVolts(data[4:6]),
		MinDischargeLevel:   Percent(invert(data[6])),
		MaxChargeLevel:      Percent(data[7]),
	}, nil
}

// 0x208 charger discharge capability and present discharge current
type ChargerDischarge struct {
	PresentDischargeCurrent Amps
	AvailableInputVoltage   Volts
	AvailableInputCurrent   Amps
	LowerThresholdVoltage   Volts
}

func (m ChargerDischarge) ID() uint32 { return IDChargerDischarge }

func (m ChargerDischarge) Payload() [8]byte {
	var data [8]byte
	data[0] = invert(uint8(m.PresentDischargeCurrent))
	putVolts(data[1:3], m.AvailableInputVoltage)
	data[3] = invert(uint8(m.AvailableInputCurrent))
	putVolts(data[6:8], m.LowerThresholdVoltage)
	return data
}

func decodeChargerDischarge(data [8]byte) (Message, error) {
	if err := checkReserved(IDChargerDischarge, data, 4, 5); err != nil {
		return nil, err
	}
	return ChargerDischarge{
		PresentDischargeCurrent: Amps(invert(data[0])),
		AvailableInputVoltage:   getVolts(data[1:3]),
		AvailableInputCurrent:   Amps(invert(data[3])),
		LowerThresholdVoltage:   getVolts(data[6:8]),
	}, nil
}

// 0x209 discharge sequence control
type DischargeControl struct {
	Sequence               uint8
	RemainingDischargeTime uint16 // minutes
}

func (m DischargeControl) ID() uint32 { return IDDischargeControl }

func (m DischargeControl) Payload() [8]byte {
	var data [8]byte
	data[0] = m.Sequence
	binary.LittleEndian.PutUint16(data[1:3], m.RemainingDischargeTime)
	return data
}

func decodeDischargeControl(data [8]byte) (Message, error) {
	if err := checkReserved(IDDischargeControl, data, 3, 4, 5, 6, 7); err != nil {
		return nil, err
	}
	return DischargeControl{
		Sequence:               data[0],
		RemainingDischargeTime: binary.LittleEndian.Uint16(data[1:3]),
	}, nil
}
