package hostdriver

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/rs/zerolog"

	"github.com/cuemby/magpie/pkg/config"
	"github.com/cuemby/magpie/pkg/log"
	"github.com/cuemby/magpie/pkg/types"
)

const (
	// ContainerConfigPath is where every task container finds its config
	ContainerConfigPath = "/app/config.json"

	dialTimeout = 15 * time.Second
)

// ContainerState is the reconciler's view of a container
type ContainerState struct {
	Exists   bool
	Running  bool
	Status   string
	ExitCode int
}

// StartSpec describes one container start. The assembled command is
// deterministic: flags always appear in the same order so the audit
// trail is diffable across executions.
type StartSpec struct {
	ExecutionID   string
	Image         string
	StagedConfig  string   // host path of the staged config.json
	ExtraBinds    []string // additional -v specs, passed through verbatim
	CallbackURL   string
	HostPort      int
	ContainerPort int
	AutoRemove    bool
}

// Driver operates task containers on one host through the engine CLI.
// Every operation carries a bounded timeout; a deadline hit surfaces as a
// context.DeadlineExceeded wrap, distinguishable from a negative answer.
// The driver never retries; callers own their retry cadence.
type Driver struct {
	runner         Runner
	engine         string
	configDir      string
	opTimeout      time.Duration
	inspectTimeout time.Duration
	logger         zerolog.Logger
}

// New builds a driver from the host configuration. Remote mode requires
// working SSH credentials; the connection itself is dialed on first use.
func New(cfg config.HostConfig) (*Driver, error) {
	var runner Runner
	switch cfg.Mode {
	case "local":
		runner = NewLocalRunner()
	case "remote":
		r, err := NewSSHRunner(cfg.Address, cfg.User, cfg.KeyFile, cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("remote host driver unavailable: %w", err)
		}
		runner = r
	default:
		return nil, fmt.Errorf("unknown host mode %q: %w", cfg.Mode, errdefs.ErrInvalidArgument)
	}
	return NewWithRunner(cfg, runner), nil
}

// NewWithRunner builds a driver over an explicit runner
func NewWithRunner(cfg config.HostConfig, runner Runner) *Driver {
	d := &Driver{
		runner:         runner,
		engine:         cfg.Engine,
		configDir:      cfg.ConfigDir,
		opTimeout:      cfg.OpTimeout.D(),
		inspectTimeout: cfg.InspectTimeout.D(),
		logger:         log.WithComponent("hostdriver"),
	}
	if d.engine == "" {
		d.engine = "docker"
	}
	if d.opTimeout <= 0 {
		d.opTimeout = 30 * time.Second
	}
	if d.inspectTimeout <= 0 {
		d.inspectTimeout = 10 * time.Second
	}
	return d
}

// StageConfig places the execution's config.json on the host and returns
// its full path. The file is read-only; the directory is per execution so
// purge cannot touch a neighbour's files.
func (d *Driver) StageConfig(ctx context.Context, executionID string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opTimeout)
	defer cancel()

	dir := path.Join(d.configDir, executionID)
	if _, err := d.runner.Run(ctx, "mkdir", "-p", dir); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}

	staged := path.Join(dir, "config.json")
	if err := d.runner.Put(ctx, staged, data, 0444); err != nil {
		return "", err
	}
	return staged, nil
}

// Start runs the container detached and returns the engine-assigned id
// plus the exact command line for the audit trail.
func (d *Driver) Start(ctx context.Context, spec StartSpec) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opTimeout)
	defer cancel()

	args := d.startArgs(spec)
	command := strings.Join(args, " ")

	output, err := d.runner.Run(ctx, args...)
	if err != nil {
		if isNameInUse(output) {
			return "", command, fmt.Errorf("container name %s already in use: %w",
				types.ContainerName(spec.ExecutionID), errdefs.ErrConflict)
		}
		return "", command, fmt.Errorf("failed to start container %s: %w", types.ContainerName(spec.ExecutionID), err)
	}

	// detached run prints the container id as its only line
	containerID := strings.TrimSpace(output)
	if i := strings.LastIndexByte(containerID, '\n'); i >= 0 {
		containerID = containerID[i+1:]
	}
	if containerID == "" {
		return "", command, fmt.Errorf("engine returned no container id for %s", types.ContainerName(spec.ExecutionID))
	}
	return containerID, command, nil
}

// startArgs assembles the run command in its fixed order
func (d *Driver) startArgs(spec StartSpec) []string {
	name := types.ContainerName(spec.ExecutionID)
	args := []string{
		d.engine, "run", "-d",
		"--name", name,
		"--hostname", name,
	}
	if spec.AutoRemove {
		args = append(args, "--rm")
	}
	args = append(args, "-v", spec.StagedConfig+":"+ContainerConfigPath+":ro")
	for _, bind := range spec.ExtraBinds {
		args = append(args, "-v", bind)
	}
	args = append(args,
		"-e", "TASK_EXECUTION_ID="+spec.ExecutionID,
		"-e", "CONFIG_PATH="+ContainerConfigPath,
		"-e", "API_BASE_URL="+spec.CallbackURL,
		"-p", fmt.Sprintf("%d:%d", spec.HostPort, spec.ContainerPort),
		spec.Image,
	)
	return args
}

// Stop stops the container by id or name. A container the engine does not
// know returns a not-found error; callers treating stop as idempotent
// check errdefs.IsNotFound.
func (d *Driver) Stop(ctx context.Context, ref string) error {
	ctx, cancel := context.WithTimeout(ctx, d.opTimeout)
	defer cancel()

	output, err := d.runner.Run(ctx, d.engine, "stop", ref)
	if err != nil {
		if isNoSuchContainer(output) {
			return fmt.Errorf("container %s: %w", ref, errdefs.ErrNotFound)
		}
		return err
	}
	return nil
}

// Remove force-removes the container by id or name
func (d *Driver) Remove(ctx context.Context, ref string) error {
	ctx, cancel := context.WithTimeout(ctx, d.opTimeout)
	defer cancel()

	output, err := d.runner.Run(ctx, d.engine, "rm", "-f", ref)
	if err != nil {
		if isNoSuchContainer(output) {
			return fmt.Errorf("container %s: %w", ref, errdefs.ErrNotFound)
		}
		return err
	}
	return nil
}

// Inspect reports the container's state. A container unknown to the
// engine yields {Exists: false} with a nil error; only infrastructure
// failures (engine unreachable, timeout) return an error.
func (d *Driver) Inspect(ctx context.Context, ref string) (*ContainerState, error) {
	ctx, cancel := context.WithTimeout(ctx, d.inspectTimeout)
	defer cancel()

	output, err := d.runner.Run(ctx, d.engine, "inspect",
		"--format", "{{.State.Status}}|{{.State.Running}}|{{.State.ExitCode}}", ref)
	if err != nil {
		if isNoSuchContainer(output) {
			return &ContainerState{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to inspect container %s: %w", ref, err)
	}

	fields := strings.Split(strings.TrimSpace(output), "|")
	if len(fields) != 3 {
		return nil, fmt.Errorf("unexpected inspect output for %s: %q", ref, strings.TrimSpace(output))
	}
	exitCode, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, fmt.Errorf("unexpected exit code in inspect output for %s: %q", ref, fields[2])
	}
	return &ContainerState{
		Exists:   true,
		Running:  fields[1] == "true",
		Status:   fields[0],
		ExitCode: exitCode,
	}, nil
}

// Logs returns the last tail lines of the container's output
func (d *Driver) Logs(ctx context.Context, ref string, tail int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opTimeout)
	defer cancel()

	if tail <= 0 {
		tail = 100
	}
	output, err := d.runner.Run(ctx, d.engine, "logs", "--tail", strconv.Itoa(tail), ref)
	if err != nil {
		if isNoSuchContainer(output) {
			return "", fmt.Errorf("container %s: %w", ref, errdefs.ErrNotFound)
		}
		return "", err
	}
	return output, nil
}

// ProbePortListening reports whether any socket on the host listens on
// port. It tries ss, then netstat, then a bash tcp probe, so a minimal
// host image without net-tools still answers.
func (d *Driver) ProbePortListening(ctx context.Context, port int) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.inspectTimeout)
	defer cancel()

	if output, err := d.runner.Run(ctx, "ss", "-ltn"); err == nil {
		return listingHasPort(output, port), nil
	} else if ctx.Err() != nil {
		return false, fmt.Errorf("port probe %d: %w", port, ctx.Err())
	}

	if output, err := d.runner.Run(ctx, "netstat", "-ltn"); err == nil {
		return listingHasPort(output, port), nil
	} else if ctx.Err() != nil {
		return false, fmt.Errorf("port probe %d: %w", port, ctx.Err())
	}

	// connect probe: an accepted connection means something listens
	_, err := d.runner.Run(ctx, "bash", "-c", fmt.Sprintf("exec 3<>/dev/tcp/127.0.0.1/%d", port))
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, fmt.Errorf("port probe %d: %w", port, ctx.Err())
	}
	return false, nil
}

// ListPublishedPorts returns host ports currently published by containers,
// mapped to the publishing container's name.
func (d *Driver) ListPublishedPorts(ctx context.Context) (map[int]string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.inspectTimeout)
	defer cancel()

	output, err := d.runner.Run(ctx, d.engine, "ps", "--format", "{{.Names}}\t{{.Ports}}")
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	published := make(map[int]string)
	for _, line := range strings.Split(output, "\n") {
		name, ports, ok := strings.Cut(strings.TrimSpace(line), "\t")
		if !ok {
			continue
		}
		for _, port := range publishedHostPorts(ports) {
			published[port] = name
		}
	}
	return published, nil
}

// PurgeConfig removes the execution's staged directory. Best effort; a
// failure is logged and swallowed so cleanup never blocks a terminal
// transition.
func (d *Driver) PurgeConfig(ctx context.Context, executionID string) error {
	ctx, cancel := context.WithTimeout(ctx, d.opTimeout)
	defer cancel()

	dir := path.Join(d.configDir, executionID)
	if dir == "/" || dir == d.configDir {
		return fmt.Errorf("refusing to purge %s: %w", dir, errdefs.ErrInvalidArgument)
	}
	if _, err := d.runner.Run(ctx, "rm", "-rf", dir); err != nil {
		d.logger.Warn().
			Err(err).
			Str("execution_id", executionID).
			Msg("Failed to purge staged config")
		return err
	}
	return nil
}

// Close releases the underlying channel
func (d *Driver) Close() error {
	return d.runner.Close()
}

// isNoSuchContainer sniffs engine output for the not-found diagnostic.
// docker says "No such container"/"No such object"; podman says
// "no such container".
func isNoSuchContainer(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "no such container") || strings.Contains(lower, "no such object")
}

// isNameInUse matches the engine's name-conflict message. Both docker and
// podman phrase it "is already in use".
func isNameInUse(output string) bool {
	return strings.Contains(strings.ToLower(output), "already in use")
}

// listingHasPort scans ss/netstat output for a listener on port. The
// local address is the 4th column in both listings.
func listingHasPort(output string, port int) bool {
	suffix := ":" + strconv.Itoa(port)
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		if strings.HasSuffix(fields[3], suffix) {
			return true
		}
	}
	return false
}

// publishedHostPorts extracts host ports from an engine ps ports column,
// e.g. "0.0.0.0:50000->8080/tcp, :::50000->8080/tcp".
func publishedHostPorts(ports string) []int {
	var out []int
	for _, part := range strings.Split(ports, ",") {
		part = strings.TrimSpace(part)
		mapped, _, ok := strings.Cut(part, "->")
		if !ok {
			continue
		}
		i := strings.LastIndexByte(mapped, ':')
		if i < 0 {
			continue
		}
		port, err := strconv.Atoi(mapped[i+1:])
		if err != nil {
			continue
		}
		out = append(out, port)
	}
	return out
}
