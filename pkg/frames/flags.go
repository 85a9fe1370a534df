package frames

import "strings"

func flagString(value uint8, names map[uint8]string) string {
	if value == 0 {
		return "NONE"
	}
	parts := []string{}
	for bit := 0; bit < 8; bit++ {
		mask := uint8(1) << bit
		if value&mask == 0 {
			continue
		}
		name, ok := names[mask]
		if !ok {
			name = "BIT" + string(rune('0'+bit))
		}
		parts = append(parts, name)
	}
	return strings.Join(parts, "|")
}
