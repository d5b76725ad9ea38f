package console

import (
	"bytes"
	"sync"

	"github.com/google/pprof/profile"

	"defs"
	"vfs"
)

// metricSrc holds one numeric sampler per subsystem that has opted into
// /dev/prof, distinct from /dev/stat's human-readable strings: each
// sampler contributes one pprof sample valued in whatever unit it
// declares (frames, allocations, runnable tasks).
var (
	metricMu  sync.Mutex
	metricSrc = map[string]func() int64{}
)

// RegisterProfMetric lets a subsystem contribute a named counter, sampled
// fresh on every /dev/prof read, to the profile unit "count".
func RegisterProfMetric(name string, sample func() int64) {
	metricMu.Lock()
	metricSrc[name] = sample
	metricMu.Unlock()
}

// snapshotProfile builds a minimal pprof profile.Profile with one sample
// per registered metric. There is no call-stack to symbolize (these are
// kernel counters, not CPU samples), so every sample carries zero
// locations — profile.Profile.Write does not require CheckValid to pass,
// so an empty Location slice per sample is legal, just unsymbolized.
func snapshotProfile() *profile.Profile {
	metricMu.Lock()
	defer metricMu.Unlock()
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "count", Unit: "count"}},
	}
	for name, f := range metricSrc {
		p.Sample = append(p.Sample, &profile.Sample{
			Value: []int64{f()},
			Label: map[string][]string{"counter": {name}},
		})
	}
	return p
}

// profOps backs /dev/prof: each read renders an entire fresh
// gzip-compressed pprof profile, so partial reads at a nonzero offset
// are not supported (matching a one-shot debug/pprof-style handler
// rather than a seekable file).
type profOps struct{}

func (profOps) Read(n *vfs.Node_t, dst []uint8, offset int) (int, defs.Err_t) {
	if offset != 0 {
		return 0, 0
	}
	var buf bytes.Buffer
	if err := snapshotProfile().Write(&buf); err != nil {
		return 0, -defs.EIO
	}
	return copy(dst, buf.Bytes()), 0
}
func (profOps) Write(n *vfs.Node_t, src []uint8, offset int) (int, defs.Err_t, int) {
	return 0, -defs.EBADF, 0
}
func (profOps) Open(n *vfs.Node_t, flags int) defs.Err_t { return 0 }
func (profOps) Close(n *vfs.Node_t) defs.Err_t           { return 0 }
func (profOps) Ioctl(n *vfs.Node_t, req uint, arg uintptr) (uintptr, defs.Err_t) {
	return 0, -defs.ENOTTY
}
