package can

import (
	"fmt"
	"sort"
	"sync"

	chademo "github.com/samsamfire/gochademo"
)

// Bitrate mandated for the CHAdeMO control bus
const DefaultBitrate = 500_000

type NewInterfaceFunc func(channel string) (chademo.Bus, error)

var (
	registryMu        sync.RWMutex
	interfaceRegistry = make(map[string]NewInterfaceFunc)
)

// Register a new CAN bus interface type
// This should be called inside an init() function of plugin
func RegisterInterface(interfaceType string, newInterface NewInterfaceFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	interfaceRegistry[interfaceType] = newInterface
}

// Names of the registered interfaces, sorted
func AvailableInterfaces() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(interfaceRegistry))
	for name := range interfaceRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create a new CAN bus with given interface.
// Bitrate is configured outside of the process for socketcan, other than
// the mandated one is refused.
func NewBus(canInterface string, channel string, bitrate int) (chademo.Bus, error) {
	registryMu.RLock()
	createInterface, ok := interfaceRegistry[canInterface]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w : unsupported interface %v, available %v", chademo.ErrIllegalArgument, canInterface, AvailableInterfaces())
	}
	if bitrate != 0 && bitrate != DefaultBitrate {
		return nil, fmt.Errorf("%w : unsupported bitrate %v, expecting %v", chademo.ErrIllegalArgument, bitrate, DefaultBitrate)
	}
	return createInterface(channel)
}
