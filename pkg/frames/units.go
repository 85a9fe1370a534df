package frames

import "fmt"

// Fixed-point physical units used on the wire.
// No floating point is involved in any protocol computation.
type (
	Volts   uint16 // 1 V/bit
	Amps    uint8  // 1 A/bit
	Percent uint8  // 1 %/bit, 0..100
	DeciKWh uint16 // 0.1 kWh/bit
)

const MaxPercent Percent = 100

func (v Volts) String() string {
	return fmt.Sprintf("%d V", uint16(v))
}

func (a Amps) String() string {
	return fmt.Sprintf("%d A", uint8(a))
}

func (p Percent) String() string {
	return fmt.Sprintf("%d %%", uint8(p))
}

func (c DeciKWh) String() string {
	return fmt.Sprintf("%d.%d kWh", c/10, c%10)
}

// Bidirectional current fields are transmitted as 0xFF - value
func invert(value uint8) uint8 {
	return 0xFF - value
}
