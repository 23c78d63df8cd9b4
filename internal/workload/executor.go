package workload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"storage-bench/internal/config"
	"storage-bench/internal/logging"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"
)

// ErrAppNotReady is returned when a multi-mode app container does not become
// ready within its timeout. The iteration is aborted; the campaign proceeds.
var ErrAppNotReady = errors.New("app not ready")

// ContainerAPI is the slice of the Docker client the executor needs.
type ContainerAPI interface {
	ImagePull(ctx context.Context, refStr string, options types.ImagePullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
	ContainersPrune(ctx context.Context, pruneFilters filters.Args) (types.ContainersPruneReport, error)
	NetworkCreate(ctx context.Context, name string, options types.NetworkCreate) (types.NetworkCreateResponse, error)
	NetworkRemove(ctx context.Context, networkID string) error
}

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// ExecOutcome is the result of one workload execution. A non-zero exit code
// is recorded here, not surfaced as an error.
type ExecOutcome struct {
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration"`
	OutputDir string        `json:"output_dir"`
	Started   time.Time     `json:"started"`
	Finished  time.Time     `json:"finished"`
}

// Executor runs one benchmark iteration: a single container to completion,
// or an app+generator pair with defined startup ordering.
type Executor struct {
	docker ContainerAPI
	runner Runner
	pulled map[string]bool
}

func NewExecutor(docker ContainerAPI) *Executor {
	return &Executor{docker: docker, runner: execRunner{}, pulled: make(map[string]bool)}
}

func NewExecutorWithRunner(docker ContainerAPI, runner Runner) *Executor {
	return &Executor{docker: docker, runner: runner, pulled: make(map[string]bool)}
}

// Reset prunes stopped containers and drops OS page/inode caches so every
// iteration starts from comparable cold-cache conditions. Cache-drop failure
// is best-effort and only logged.
func (e *Executor) Reset(ctx context.Context) error {
	logger := logging.GetLogger()

	if _, err := e.docker.ContainersPrune(ctx, filters.Args{}); err != nil {
		return fmt.Errorf("prune containers: %w", err)
	}

	if out, err := e.runner.Run(ctx, "sh", "-c", "sync; echo 3 > /proc/sys/vm/drop_caches"); err != nil {
		logger.WithField("output", strings.TrimSpace(out)).WithError(err).Warn("Failed to drop OS caches")
	}

	return nil
}

// Run executes one iteration of the workload, writing raw output into
// outDir.
func (e *Executor) Run(ctx context.Context, ws config.WorkloadSpec, outDir string) (*ExecOutcome, error) {
	switch ws.Mode {
	case config.ModeMulti:
		return e.runMulti(ctx, ws, outDir)
	default:
		return e.runSingle(ctx, ws, outDir)
	}
}

func (e *Executor) runSingle(ctx context.Context, ws config.WorkloadSpec, outDir string) (*ExecOutcome, error) {
	logger := logging.GetLogger()

	if err := e.ensureImage(ctx, ws.Image); err != nil {
		return nil, err
	}

	name := containerName(ws.Name)
	cfg := &container.Config{Image: ws.Image}
	if ws.Command != "" {
		cfg.Cmd = []string{"sh", "-c", ws.Command}
	}

	resp, err := e.docker.ContainerCreate(ctx, cfg, &container.HostConfig{}, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("create container %s: %w", name, err)
	}
	defer e.removeContainer(resp.ID)

	logger.WithFields(logrus.Fields{
		"workload":     ws.Name,
		"container_id": resp.ID[:12],
		"image":        ws.Image,
	}).Info("Starting workload container")

	started := time.Now()
	if err := e.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container %s: %w", name, err)
	}

	exitCode, err := e.waitContainer(ctx, resp.ID)
	if err != nil {
		return nil, err
	}
	finished := time.Now()

	if err := e.captureLogs(ctx, resp.ID, outDir, ws.WorkloadResultFile()); err != nil {
		logger.WithField("workload", ws.Name).WithError(err).Warn("Failed to capture container output")
	}

	outcome := &ExecOutcome{
		ExitCode:  exitCode,
		Duration:  finished.Sub(started),
		OutputDir: outDir,
		Started:   started,
		Finished:  finished,
	}

	logger.WithFields(logrus.Fields{
		"workload":  ws.Name,
		"exit_code": exitCode,
		"duration":  outcome.Duration,
	}).Info("Workload container finished")
	return outcome, nil
}

func (e *Executor) runMulti(ctx context.Context, ws config.WorkloadSpec, outDir string) (*ExecOutcome, error) {
	logger := logging.GetLogger()

	if err := e.ensureImage(ctx, ws.App.Image); err != nil {
		return nil, err
	}
	if err := e.ensureImage(ctx, ws.Generator.Image); err != nil {
		return nil, err
	}

	netName := containerName(ws.Name + "-net")
	netResp, err := e.docker.NetworkCreate(ctx, netName, types.NetworkCreate{Driver: "bridge"})
	if err != nil {
		return nil, fmt.Errorf("create network %s: %w", netName, err)
	}
	defer func() {
		if err := e.docker.NetworkRemove(context.Background(), netResp.ID); err != nil {
			logger.WithField("network", netName).WithError(err).Warn("Failed to remove network")
		}
	}()

	appID, hostPort, err := e.startApp(ctx, ws, netName)
	if err != nil {
		return nil, err
	}
	defer e.removeContainer(appID)

	if err := e.waitAppReady(ctx, ws, hostPort); err != nil {
		// The deferred remove guarantees the app is stopped before we return
		return nil, err
	}

	genName := containerName(ws.Name + "-gen")
	genCfg := &container.Config{Image: ws.Generator.Image}
	if ws.Generator.Command != "" {
		genCfg.Cmd = []string{"sh", "-c", ws.Generator.Command}
	}
	genHost := &container.HostConfig{NetworkMode: container.NetworkMode(netName)}

	genResp, err := e.docker.ContainerCreate(ctx, genCfg, genHost, nil, nil, genName)
	if err != nil {
		return nil, fmt.Errorf("create generator %s: %w", genName, err)
	}
	defer e.removeContainer(genResp.ID)

	logger.WithFields(logrus.Fields{
		"workload":     ws.Name,
		"container_id": genResp.ID[:12],
		"image":        ws.Generator.Image,
	}).Info("Starting load generator")

	started := time.Now()
	if err := e.docker.ContainerStart(ctx, genResp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start generator %s: %w", genName, err)
	}

	// The generator runs to natural completion; the benchmark's configured
	// duration is the bound
	exitCode, err := e.waitContainer(ctx, genResp.ID)
	if err != nil {
		return nil, err
	}
	finished := time.Now()

	if err := e.captureLogs(ctx, genResp.ID, outDir, ws.WorkloadResultFile()); err != nil {
		logger.WithField("workload", ws.Name).WithError(err).Warn("Failed to capture generator output")
	}

	outcome := &ExecOutcome{
		ExitCode:  exitCode,
		Duration:  finished.Sub(started),
		OutputDir: outDir,
		Started:   started,
		Finished:  finished,
	}

	logger.WithFields(logrus.Fields{
		"workload":  ws.Name,
		"exit_code": exitCode,
		"duration":  outcome.Duration,
	}).Info("Load generator finished")
	return outcome, nil
}

// startApp launches the app container on the run network under the alias
// "app" so the generator can reach it by name.
func (e *Executor) startApp(ctx context.Context, ws config.WorkloadSpec, netName string) (string, string, error) {
	appName := containerName(ws.Name + "-app")
	appCfg := &container.Config{Image: ws.App.Image}
	if ws.App.Command != "" {
		appCfg.Cmd = []string{"sh", "-c", ws.App.Command}
	}

	appHost := &container.HostConfig{NetworkMode: container.NetworkMode(netName)}
	var hostPort string
	if ws.App.Port != "" {
		parts := strings.Split(ws.App.Port, ":")
		if len(parts) != 2 {
			return "", "", fmt.Errorf("invalid port format %s, expected host:container", ws.App.Port)
		}
		hostPort = parts[0]

		port, err := nat.NewPort("tcp", parts[1])
		if err != nil {
			return "", "", fmt.Errorf("invalid container port %s: %w", parts[1], err)
		}
		appHost.PortBindings = nat.PortMap{
			port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}},
		}
		appCfg.ExposedPorts = nat.PortSet{port: struct{}{}}
	}

	netCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			netName: {Aliases: []string{"app"}},
		},
	}

	resp, err := e.docker.ContainerCreate(ctx, appCfg, appHost, netCfg, nil, appName)
	if err != nil {
		return "", "", fmt.Errorf("create app container %s: %w", appName, err)
	}

	if err := e.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		e.removeContainer(resp.ID)
		return "", "", fmt.Errorf("start app container %s: %w", appName, err)
	}

	return resp.ID, hostPort, nil
}

// waitAppReady polls the app's published port until it accepts connections,
// or sleeps the settle delay when no port is configured.
func (e *Executor) waitAppReady(ctx context.Context, ws config.WorkloadSpec, hostPort string) error {
	logger := logging.GetLogger()

	if hostPort == "" {
		settle := time.Duration(ws.App.SettleDelaySec) * time.Second
		if settle <= 0 {
			settle = 5 * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(settle):
			return nil
		}
	}

	deadline := time.Now().Add(ws.App.ReadyTimeout())
	addr := net.JoinHostPort("127.0.0.1", hostPort)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			conn.Close()
			logger.WithFields(logrus.Fields{
				"workload": ws.Name,
				"addr":     addr,
			}).Debug("App container is ready")
			return nil
		}
		time.Sleep(time.Second)
	}

	logger.WithFields(logrus.Fields{
		"workload": ws.Name,
		"timeout":  ws.App.ReadyTimeout(),
	}).Error("App container never became ready")
	return fmt.Errorf("workload %s: %w", ws.Name, ErrAppNotReady)
}

func (e *Executor) waitContainer(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := e.docker.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return 0, fmt.Errorf("wait for container: %w", err)
	case status := <-statusCh:
		return int(status.StatusCode), nil
	}
}

// captureLogs demuxes the container's stdout into the result file and stderr
// into stderr.log in the run directory.
func (e *Executor) captureLogs(ctx context.Context, containerID, outDir, resultFile string) error {
	logs, err := e.docker.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return fmt.Errorf("fetch logs: %w", err)
	}
	defer logs.Close()

	stdout, err := os.Create(filepath.Join(outDir, resultFile))
	if err != nil {
		return err
	}
	defer stdout.Close()

	stderr, err := os.Create(filepath.Join(outDir, "stderr.log"))
	if err != nil {
		return err
	}
	defer stderr.Close()

	_, err = stdcopy.StdCopy(stdout, stderr, logs)
	return err
}

func (e *Executor) ensureImage(ctx context.Context, image string) error {
	if e.pulled[image] {
		return nil
	}

	logger := logging.GetLogger()
	logger.WithField("image", image).Info("Pulling image")

	resp, err := e.docker.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", image, err)
	}
	defer resp.Close()

	if _, err := io.Copy(io.Discard, resp); err != nil {
		return fmt.Errorf("complete image pull for %s: %w", image, err)
	}

	e.pulled[image] = true
	return nil
}

// removeContainer force-removes a container on every exit path so no
// workload container outlives its iteration. Uses a fresh context since the
// run context may already be cancelled.
func (e *Executor) removeContainer(containerID string) {
	logger := logging.GetLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := e.docker.ContainerRemove(ctx, containerID, types.ContainerRemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil {
		logger.WithField("container_id", containerID[:12]).WithError(err).Warn("Failed to remove container")
	}
}

func containerName(base string) string {
	return fmt.Sprintf("storage-bench-%s-%s", base, uuid.NewString()[:8])
}
