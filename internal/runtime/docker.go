// Package runtime drives sandboxed code execution against the local
// container daemon.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"arena-worker/internal/language"
	"arena-worker/internal/logging"
)

// DockerRuntime is a ContainerRuntime backed by the Docker SDK.
type DockerRuntime struct {
	cli *client.Client
	cfg ExecutionConfig
	log *zap.Logger
}

// NewDockerRuntime connects to the local daemon using the environment
// (DOCKER_HOST et al.) with API version negotiation.
func NewDockerRuntime(cfg ExecutionConfig) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client init failed: %w", err)
	}
	return &DockerRuntime{
		cli: cli,
		cfg: cfg,
		log: logging.L().Named("runtime"),
	}, nil
}

// ResolveImage returns the image reference to run lang with. The pinned
// runner image is preferred but never pulled; the public fallback is pulled
// when neither is present locally.
func (d *DockerRuntime) ResolveImage(ctx context.Context, lang language.Language) (string, error) {
	lc := lang.Config()

	if _, _, err := d.cli.ImageInspectWithRaw(ctx, lc.Image); err == nil {
		return lc.Image, nil
	}
	d.log.Info("runner image not found locally, using fallback",
		zap.String("image", lc.Image), zap.String("fallback", lc.FallbackImage))

	if _, _, err := d.cli.ImageInspectWithRaw(ctx, lc.FallbackImage); err == nil {
		return lc.FallbackImage, nil
	}

	d.log.Info("pulling fallback image", zap.String("image", lc.FallbackImage))
	rc, err := d.cli.ImagePull(ctx, lc.FallbackImage, image.PullOptions{})
	if err != nil {
		return "", fmt.Errorf("pull image %s: %w", lc.FallbackImage, err)
	}
	defer rc.Close()
	_, _ = io.Copy(io.Discard, rc)
	return lc.FallbackImage, nil
}

// CreateSandbox creates (but does not start) a locked-down container. The
// command is a long-lived placeholder; execs drive all real behavior.
func (d *DockerRuntime) CreateSandbox(ctx context.Context, imageRef, name string) (string, error) {
	pids := d.cfg.PidsLimit
	created, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image:           imageRef,
			Cmd:             []string{"sh", "-c", "sleep infinity"},
			User:            "1000:1000",
			Env:             []string{"HOME=/tmp"},
			OpenStdin:       true,
			Tty:             false,
			NetworkDisabled: d.cfg.NetworkMode == "none",
		},
		&container.HostConfig{
			NetworkMode:    container.NetworkMode(d.cfg.NetworkMode),
			ReadonlyRootfs: d.cfg.ReadOnlyRootfs,
			SecurityOpt:    []string{"no-new-privileges:true"},
			Tmpfs: map[string]string{
				d.cfg.ScratchDir: fmt.Sprintf("size=%s,mode=1777", d.cfg.TmpfsSize),
			},
			Resources: container.Resources{
				Memory:     d.cfg.MemoryBytes,
				MemorySwap: d.cfg.MemoryBytes,
				CPUPeriod:  d.cfg.CPUPeriod,
				CPUQuota:   d.cfg.CPUQuota,
				PidsLimit:  &pids,
			},
		},
		nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("container create failed: %w", err)
	}
	return created.ID, nil
}

// StartSandbox starts a previously created sandbox.
func (d *DockerRuntime) StartSandbox(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("container start failed: %w", err)
	}
	return nil
}

// WriteFile injects content into the sandbox by piping it into a shell
// redirect. It returns once the write exec has finished.
func (d *DockerRuntime) WriteFile(ctx context.Context, id, path, content string) error {
	execResp, err := d.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          []string{"sh", "-c", "cat > " + path},
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return fmt.Errorf("write exec create failed: %w", err)
	}

	att, err := d.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return fmt.Errorf("write exec attach failed: %w", err)
	}
	defer att.Close()

	if _, err := io.WriteString(att.Conn, content); err != nil {
		return fmt.Errorf("write source content: %w", err)
	}
	if err := att.CloseWrite(); err != nil {
		return fmt.Errorf("close write stream: %w", err)
	}
	// Drain until the exec exits so the bytes are on disk before we return.
	_, _ = io.Copy(io.Discard, att.Reader)

	insp, err := d.cli.ContainerExecInspect(ctx, execResp.ID)
	if err == nil && insp.ExitCode != 0 {
		return fmt.Errorf("write exec exited %d", insp.ExitCode)
	}
	return nil
}

// Exec runs argv inside the sandbox, streaming stdin through the attach
// channel and demultiplexing captured stdout/stderr. Daemon failures come
// back as exit 1 with the error text on stderr, never as a panic or error.
func (d *DockerRuntime) Exec(ctx context.Context, id string, argv []string, stdin string, timeout time.Duration) ExecOutput {
	start := time.Now()
	failed := func(err error) ExecOutput {
		return ExecOutput{ExitCode: 1, Stderr: err.Error(), Elapsed: time.Since(start)}
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execResp, err := d.cli.ContainerExecCreate(execCtx, id, container.ExecOptions{
		Cmd:          argv,
		AttachStdin:  stdin != "",
		AttachStdout: true,
		AttachStderr: true,
		Env:          []string{"HOME=/tmp"},
	})
	if err != nil {
		return failed(err)
	}

	att, err := d.cli.ContainerExecAttach(execCtx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return failed(err)
	}
	defer att.Close()

	if stdin != "" {
		go func() {
			_, _ = io.WriteString(att.Conn, stdin)
			_ = att.CloseWrite()
		}()
	}

	var stdout, stderr bytes.Buffer
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(
			&limitedWriter{w: &stdout, limit: d.cfg.MaxOutputBytes},
			&limitedWriter{w: &stderr, limit: d.cfg.MaxOutputBytes},
			att.Reader)
		copied <- err
	}()

	select {
	case <-execCtx.Done():
		// The process may still be alive inside the container; the engine
		// destroys the whole sandbox right after, which reaps it. Closing
		// the attach unblocks the copier so the buffers are safe to read.
		att.Close()
		<-copied
		return ExecOutput{
			ExitCode: 124,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Elapsed:  time.Since(start),
		}
	case err := <-copied:
		if err != nil && !errors.Is(err, io.EOF) {
			d.log.Warn("exec stream copy failed", zap.Error(err))
		}
	}

	elapsed := time.Since(start)
	exitCode := 0
	if insp, err := d.cli.ContainerExecInspect(ctx, execResp.ID); err != nil {
		return ExecOutput{ExitCode: 1, Stdout: stdout.String(), Stderr: err.Error(), Elapsed: elapsed}
	} else {
		exitCode = insp.ExitCode
	}

	return ExecOutput{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Elapsed:  elapsed,
	}
}

// SampleMemory reads one stats sample and returns current usage in
// kilobytes, 0 when the daemon refuses or the sample is malformed. The
// sample is a lower bound on peak RSS, not a true peak.
func (d *DockerRuntime) SampleMemory(ctx context.Context, id string) int64 {
	stats, err := d.cli.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return 0
	}
	defer stats.Body.Close()

	var parsed struct {
		MemoryStats struct {
			Usage uint64 `json:"usage"`
		} `json:"memory_stats"`
	}
	if err := json.NewDecoder(stats.Body).Decode(&parsed); err != nil {
		return 0
	}
	return int64(parsed.MemoryStats.Usage / 1024)
}

// Destroy stops the sandbox with a 1-second grace and force-removes it.
// It never fails; leftover containers are the orphan reaper's problem.
func (d *DockerRuntime) Destroy(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	grace := 1
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &grace}); err != nil {
		d.log.Debug("container stop failed", zap.String("container", id), zap.Error(err))
	}
	if err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		d.log.Warn("container remove failed", zap.String("container", id), zap.Error(err))
	}
}

// ListByPrefix returns the ids of all containers (running or not) whose
// name starts with prefix.
func (d *DockerRuntime) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	list, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", prefix)),
	})
	if err != nil {
		return nil, fmt.Errorf("container list failed: %w", err)
	}
	ids := make([]string, 0, len(list))
	for _, c := range list {
		// The daemon's name filter matches anywhere in the name; keep only
		// names that begin with prefix.
		for _, n := range c.Names {
			if strings.HasPrefix(strings.TrimPrefix(n, "/"), prefix) {
				ids = append(ids, c.ID)
				break
			}
		}
	}
	return ids, nil
}

// RemoveByPrefix force-removes every container matching prefix and returns
// how many were reaped.
func (d *DockerRuntime) RemoveByPrefix(ctx context.Context, prefix string) int {
	ids, err := d.ListByPrefix(ctx, prefix)
	if err != nil {
		d.log.Error("orphan listing failed", zap.Error(err))
		return 0
	}
	removed := 0
	for _, id := range ids {
		if err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
			d.log.Error("orphan remove failed", zap.String("container", id), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		d.log.Info("reaped orphaned containers", zap.Int("count", removed))
	}
	return removed
}

// Ping checks daemon reachability.
func (d *DockerRuntime) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

// Close releases the daemon connection.
func (d *DockerRuntime) Close() error {
	return d.cli.Close()
}

type limitedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.limit <= 0 {
		return lw.w.Write(p)
	}
	if lw.written >= lw.limit {
		return len(p), nil
	}
	remaining := lw.limit - lw.written
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	if err != nil {
		return n, err
	}
	return len(p), nil
}
