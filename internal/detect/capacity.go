// Package detect inspects the host to size the pools of the local backends.
package detect

import (
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"

	"github.com/determined-ai/capsched/pkg/resources"
)

const (
	// CPUResource is the number of logical CPUs.
	CPUResource = "cpu"
	// MemoryResource is the physical memory in MiB.
	MemoryResource = "memory_mib"

	mib = 1 << 20
)

var (
	cpuCounts     = cpu.Counts
	virtualMemory = mem.VirtualMemory
)

// Capacity returns the host's logical CPUs and physical memory as a resource vector.
func Capacity() (resources.Vector, error) {
	cpus, err := cpuCounts(true)
	switch {
	case err != nil:
		return resources.Vector{}, errors.Wrap(err, "error while counting CPUs")
	case cpus == 0:
		return resources.Vector{}, errors.New("no CPUs detected")
	}

	vm, err := virtualMemory()
	if err != nil {
		return resources.Vector{}, errors.Wrap(err, "error while gathering memory info")
	}
	return resources.New(map[string]float64{
		CPUResource:    float64(cpus),
		MemoryResource: float64(vm.Total / mib),
	}), nil
}
