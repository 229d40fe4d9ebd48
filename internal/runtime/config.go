package runtime

import "time"

// ExecutionConfig holds sandbox resource and filesystem constraints.
// It is built once at startup and read-only afterwards.
type ExecutionConfig struct {
	// MemoryBytes caps container memory. The memory+swap limit is set equal
	// to MemoryBytes at creation so the sandbox gets no swap.
	MemoryBytes int64

	// CPUPeriod/CPUQuota cap the container to a fraction of one core.
	CPUPeriod int64
	CPUQuota  int64

	PidsLimit int64

	NetworkMode    string
	ReadOnlyRootfs bool

	// Timeout is the wall-clock budget for one code run, compile included.
	Timeout time.Duration

	// ScratchDir is the single writable tmpfs inside the sandbox.
	ScratchDir string
	TmpfsSize  string

	// MaxOutputBytes caps captured stdout and stderr per stream.
	MaxOutputBytes int64
}

// DefaultExecutionConfig returns the constraints used when no overrides are
// supplied: 256MB, half a core, 50 pids, no network, read-only root, 10s.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		MemoryBytes:    256 * 1024 * 1024,
		CPUPeriod:      100000,
		CPUQuota:       50000,
		PidsLimit:      50,
		NetworkMode:    "none",
		ReadOnlyRootfs: true,
		Timeout:        10 * time.Second,
		ScratchDir:     "/code",
		TmpfsSize:      "100m",
		MaxOutputBytes: 1 << 20,
	}
}
