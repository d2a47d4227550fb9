// Package resources reports process and host memory usage.
package resources

import (
	"os"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Probe tracks current and peak resident memory of the running process.
// When the process cannot be inspected through /proc it falls back to the
// memory the Go runtime obtained from the OS.
type Probe struct {
	mu   sync.Mutex
	peak uint64

	readProcess func() (*process.MemoryInfoStat, error)
	readRuntime func() uint64
}

// NewProbe creates a probe for the current process
func NewProbe() *Probe {
	var (
		once sync.Once
		proc *process.Process
		perr error
	)
	return &Probe{
		readProcess: func() (*process.MemoryInfoStat, error) {
			once.Do(func() {
				proc, perr = process.NewProcess(int32(os.Getpid()))
			})
			if perr != nil {
				return nil, perr
			}
			return proc.MemoryInfo()
		},
		readRuntime: runtimeSys,
	}
}

func runtimeSys() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys
}

// Current returns the resident set size in bytes
func (p *Probe) Current() uint64 {
	current, _ := p.sample()
	return current
}

// Peak returns the highest resident set size observed for the process,
// using the kernel high-water mark when it is available
func (p *Probe) Peak() uint64 {
	_, peak := p.sample()
	return peak
}

func (p *Probe) sample() (current, peak uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if info, err := p.readProcess(); err == nil && info != nil {
		current = info.RSS
		if info.HWM > p.peak {
			p.peak = info.HWM
		}
	} else {
		current = p.readRuntime()
	}

	if current > p.peak {
		p.peak = current
	}
	return current, p.peak
}

// SystemMemory describes host memory
type SystemMemory struct {
	Total       uint64  `json:"total_bytes"`
	Available   uint64  `json:"available_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// ReadSystemMemory returns host memory statistics
func ReadSystemMemory() (SystemMemory, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return SystemMemory{}, err
	}
	return SystemMemory{
		Total:       vm.Total,
		Available:   vm.Available,
		UsedPercent: vm.UsedPercent,
	}, nil
}

// Static is a fixed probe, handy for tests and for hosts without /proc
type Static struct {
	CurrentBytes uint64
	PeakBytes    uint64
}

func (s Static) Current() uint64 { return s.CurrentBytes }
func (s Static) Peak() uint64    { return s.PeakBytes }
