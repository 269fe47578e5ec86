package loader

import "github.com/shirou/gopsutil/v3/mem"

// MemoryProbe reports how much of the system memory is in use, in percent.
type MemoryProbe interface {
	UsedPercent() (float64, error)
}

// SystemMemory reads the host's virtual memory statistics.
type SystemMemory struct{}

func (SystemMemory) UsedPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// FixedMemory always reports the same usage.
type FixedMemory float64

func (f FixedMemory) UsedPercent() (float64, error) { return float64(f), nil }
