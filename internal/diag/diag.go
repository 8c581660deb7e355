// Package diag attaches host-side diagnostic context to PROTO/IO errors
// raised during probe/open (spec section 4.9). It is a read-only snapshot
// of CPU/memory/process state, following the same gopsutil CPU/mem sampling
// used for the resource readout in this codebase's interactive console.
package diag

import (
	"fmt"
	"os"
	"runtime"

	psutilcpu "github.com/shirou/gopsutil/v3/cpu"
	psutilmem "github.com/shirou/gopsutil/v3/mem"
	psutilprocess "github.com/shirou/gopsutil/v3/process"
)

// Snapshot is a point-in-time host diagnostic reading. It implements
// fmt.Stringer so it can be attached directly via errs.Error.WithDiag.
type Snapshot struct {
	CPUPercent    float64
	MemUsedPct    float64
	GoVersion     string
	OpenFDs       int32
	ProcessRSSMiB float64
}

// Capture samples host CPU and memory usage and the current process's open
// file descriptor count and resident set size. Any individual sample that
// fails is left at its zero value rather than aborting the whole capture —
// diagnostics are best-effort context, never a reason to fail the
// operation that requested them.
func Capture() Snapshot {
	snap := Snapshot{GoVersion: runtime.Version()}

	if pct, err := psutilcpu.Percent(0, false); err == nil && len(pct) > 0 {
		snap.CPUPercent = pct[0]
	}
	if vm, err := psutilmem.VirtualMemory(); err == nil {
		snap.MemUsedPct = vm.UsedPercent
	}
	if proc, err := psutilprocess.NewProcess(int32(os.Getpid())); err == nil {
		if fds, err := proc.NumFDs(); err == nil {
			snap.OpenFDs = fds
		}
		if mi, err := proc.MemoryInfo(); err == nil && mi != nil {
			snap.ProcessRSSMiB = float64(mi.RSS) / (1024 * 1024)
		}
	}
	return snap
}

func (s Snapshot) String() string {
	return fmt.Sprintf("cpu=%.1f%% mem=%.1f%% rss=%.1fMiB fds=%d go=%s",
		s.CPUPercent, s.MemUsedPct, s.ProcessRSSMiB, s.OpenFDs, s.GoVersion)
}
