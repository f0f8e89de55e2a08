package hostdriver

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/magpie/pkg/config"
)

// fakeRunner scripts host responses and records every call
type fakeRunner struct {
	mu      sync.Mutex
	calls   [][]string
	puts    map[string][]byte
	respond func(args []string) (string, error)
}

func newFakeRunner(respond func(args []string) (string, error)) *fakeRunner {
	return &fakeRunner{puts: make(map[string][]byte), respond: respond}
}

func (f *fakeRunner) Run(ctx context.Context, args ...string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(args)
	}
	return "", nil
}

func (f *fakeRunner) Put(ctx context.Context, path string, data []byte, mode os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts[path] = data
	return nil
}

func (f *fakeRunner) Close() error { return nil }

func newTestDriver(respond func(args []string) (string, error)) (*Driver, *fakeRunner) {
	runner := newFakeRunner(respond)
	driver := NewWithRunner(config.HostConfig{
		Engine:    "docker",
		ConfigDir: "/var/lib/magpie/executions",
	}, runner)
	return driver, runner
}

// TestStartCommandShape verifies the run command is assembled in its
// fixed order, flag for flag.
func TestStartCommandShape(t *testing.T) {
	driver, runner := newTestDriver(func(args []string) (string, error) {
		return "abc123def456\n", nil
	})

	spec := StartSpec{
		ExecutionID:   "e-100",
		Image:         "ghcr.io/cuemby/magpie-crawler:latest",
		StagedConfig:  "/var/lib/magpie/executions/e-100/config.json",
		ExtraBinds:    []string{"/srv/certs:/certs:ro"},
		CallbackURL:   "http://10.0.0.1:8421",
		HostPort:      50007,
		ContainerPort: 8080,
		AutoRemove:    true,
	}

	containerID, command, err := driver.Start(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "abc123def456", containerID)

	want := "docker run -d --name task-e-100 --hostname task-e-100 --rm" +
		" -v /var/lib/magpie/executions/e-100/config.json:/app/config.json:ro" +
		" -v /srv/certs:/certs:ro" +
		" -e TASK_EXECUTION_ID=e-100" +
		" -e CONFIG_PATH=/app/config.json" +
		" -e API_BASE_URL=http://10.0.0.1:8421" +
		" -p 50007:8080" +
		" ghcr.io/cuemby/magpie-crawler:latest"
	assert.Equal(t, want, command)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, strings.Fields(want), runner.calls[0])
}

// TestStartNoAutoRemove verifies --rm is omitted when auto-remove is off
func TestStartNoAutoRemove(t *testing.T) {
	driver, _ := newTestDriver(func(args []string) (string, error) {
		return "id1\n", nil
	})

	_, command, err := driver.Start(context.Background(), StartSpec{
		ExecutionID:   "e-2",
		Image:         "img",
		StagedConfig:  "/tmp/c.json",
		CallbackURL:   "http://cb",
		HostPort:      50000,
		ContainerPort: 8080,
	})
	require.NoError(t, err)
	assert.NotContains(t, command, "--rm")
}

// TestStartSkipsEngineWarnings verifies the container id is taken from
// the last output line; engines print pull progress above it.
func TestStartSkipsEngineWarnings(t *testing.T) {
	driver, _ := newTestDriver(func(args []string) (string, error) {
		return "Unable to find image locally\nPulling from library\nfeedbeef01\n", nil
	})

	containerID, _, err := driver.Start(context.Background(), StartSpec{
		ExecutionID: "e-3", Image: "img", StagedConfig: "/tmp/c.json",
		HostPort: 50000, ContainerPort: 8080,
	})
	require.NoError(t, err)
	assert.Equal(t, "feedbeef01", containerID)
}

// TestStopNotFound verifies a missing container maps to a typed not-found
func TestStopNotFound(t *testing.T) {
	driver, _ := newTestDriver(func(args []string) (string, error) {
		return "Error response from daemon: No such container: task-e-9", fmt.Errorf("exit status 1")
	})

	err := driver.Stop(context.Background(), "task-e-9")
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
}

// TestStartNameConflict verifies a leftover container with the same name
// surfaces as a conflict, which the engine resolves by force-removing and
// retrying once.
func TestStartNameConflict(t *testing.T) {
	driver, _ := newTestDriver(func(args []string) (string, error) {
		return `docker: Error response from daemon: Conflict. The container name "/task-e-7" is already in use by container "deadbeef".`,
			fmt.Errorf("exit status 125")
	})

	_, _, err := driver.Start(context.Background(), StartSpec{
		ExecutionID:   "e-7",
		Image:         "ghcr.io/cuemby/magpie-crawler:latest",
		StagedConfig:  "/var/lib/magpie/executions/e-7/config.json",
		HostPort:      50001,
		ContainerPort: 8080,
	})
	require.Error(t, err)
	assert.True(t, errdefs.IsConflict(err))
}

// TestInspect exercises the three container realities the reconciler
// distinguishes: running, exited, and gone.
func TestInspect(t *testing.T) {
	tests := []struct {
		name   string
		output string
		outErr error
		want   ContainerState
	}{
		{
			name:   "running",
			output: "running|true|0\n",
			want:   ContainerState{Exists: true, Running: true, Status: "running", ExitCode: 0},
		},
		{
			name:   "exited clean",
			output: "exited|false|0\n",
			want:   ContainerState{Exists: true, Running: false, Status: "exited", ExitCode: 0},
		},
		{
			name:   "exited crash",
			output: "exited|false|137\n",
			want:   ContainerState{Exists: true, Running: false, Status: "exited", ExitCode: 137},
		},
		{
			name:   "gone",
			output: "Error: No such object: task-e-1",
			outErr: fmt.Errorf("exit status 1"),
			want:   ContainerState{Exists: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver, _ := newTestDriver(func(args []string) (string, error) {
				return tt.output, tt.outErr
			})
			state, err := driver.Inspect(context.Background(), "task-e-1")
			require.NoError(t, err)
			assert.Equal(t, &tt.want, state)
		})
	}
}

// TestInspectMalformed verifies garbled engine output is an error, not a
// guessed state.
func TestInspectMalformed(t *testing.T) {
	driver, _ := newTestDriver(func(args []string) (string, error) {
		return "something unexpected", nil
	})
	_, err := driver.Inspect(context.Background(), "task-e-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected inspect output")
}

// TestProbePortListening verifies ss parsing and the netstat fallback
func TestProbePortListening(t *testing.T) {
	ssOutput := `State   Recv-Q  Send-Q  Local Address:Port   Peer Address:Port
LISTEN  0       128     0.0.0.0:22           0.0.0.0:*
LISTEN  0       511     127.0.0.1:50000      0.0.0.0:*
`
	driver, _ := newTestDriver(func(args []string) (string, error) {
		if args[0] == "ss" {
			return ssOutput, nil
		}
		return "", fmt.Errorf("unreachable")
	})

	listening, err := driver.ProbePortListening(context.Background(), 50000)
	require.NoError(t, err)
	assert.True(t, listening)

	listening, err = driver.ProbePortListening(context.Background(), 50001)
	require.NoError(t, err)
	assert.False(t, listening)

	listening, err = driver.ProbePortListening(context.Background(), 22)
	require.NoError(t, err)
	assert.True(t, listening)
}

// TestProbePortFallsBackToNetstat verifies a host without ss still answers
func TestProbePortFallsBackToNetstat(t *testing.T) {
	netstatOutput := `Proto Recv-Q Send-Q Local Address           Foreign Address         State
tcp        0      0 0.0.0.0:50042           0.0.0.0:*               LISTEN
`
	driver, runner := newTestDriver(func(args []string) (string, error) {
		switch args[0] {
		case "ss":
			return "", fmt.Errorf("exec: \"ss\": executable file not found in $PATH")
		case "netstat":
			return netstatOutput, nil
		}
		return "", fmt.Errorf("unreachable")
	})

	listening, err := driver.ProbePortListening(context.Background(), 50042)
	require.NoError(t, err)
	assert.True(t, listening)

	require.Len(t, runner.calls, 2)
	assert.Equal(t, "ss", runner.calls[0][0])
	assert.Equal(t, "netstat", runner.calls[1][0])
}

// TestListPublishedPorts parses the engine ps ports column, including
// dual-stack duplicates.
func TestListPublishedPorts(t *testing.T) {
	psOutput := "task-e-1\t0.0.0.0:50000->8080/tcp, :::50000->8080/tcp\n" +
		"task-e-2\t0.0.0.0:50003->8080/tcp\n" +
		"sidecar\t\n"
	driver, _ := newTestDriver(func(args []string) (string, error) {
		return psOutput, nil
	})

	published, err := driver.ListPublishedPorts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[int]string{
		50000: "task-e-1",
		50003: "task-e-2",
	}, published)
}

// TestStageConfig verifies the per-execution directory layout and the
// read-only file placement.
func TestStageConfig(t *testing.T) {
	driver, runner := newTestDriver(nil)

	staged, err := driver.StageConfig(context.Background(), "e-55", []byte(`{"base_url":"https://example.com"}`))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/magpie/executions/e-55/config.json", staged)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"mkdir", "-p", "/var/lib/magpie/executions/e-55"}, runner.calls[0])
	assert.Equal(t, []byte(`{"base_url":"https://example.com"}`), runner.puts[staged])
}

// TestPurgeConfigGuard refuses to purge when the path degenerates to the
// staging root.
func TestPurgeConfigGuard(t *testing.T) {
	driver, runner := newTestDriver(nil)

	err := driver.PurgeConfig(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidArgument(err))
	assert.Empty(t, runner.calls)
}

// TestShellQuote covers tokens SSH command lines must survive
func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"/var/lib/magpie/e-1/config.json", "/var/lib/magpie/e-1/config.json"},
		{"has space", "'has space'"},
		{"a'b", `'a'\''b'`},
		{"", "''"},
		{"$HOME", "'$HOME'"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shellQuote(tt.in), "quoting %q", tt.in)
	}
}
