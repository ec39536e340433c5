package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrContainerNotFound is returned when the engine has no container under
// the given id or name.
var ErrContainerNotFound = errors.New("container not found")

// LaunchSpec describes one worker container to start.
type LaunchSpec struct {
	Name  string
	Image string
	Env   map[string]string
}

// ContainerInfo is the runtime's view of one container.
type ContainerInfo struct {
	ID       string
	Status   string
	Running  bool
	ExitCode int
	Error    string
}

// ContainerRuntime abstracts the container engine so the supervisor can be
// tested against a fake. The production implementation shells out to the
// docker CLI.
type ContainerRuntime interface {
	Launch(ctx context.Context, spec LaunchSpec) (string, error)
	Inspect(ctx context.Context, id string) (ContainerInfo, error)
	Stop(ctx context.Context, id string, grace time.Duration) error
	Kill(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Logs(ctx context.Context, id string, tail int) (string, error)
	Ping(ctx context.Context) error
}

// DockerRuntime drives containers through the docker CLI. Shelling out keeps
// the control plane free of an engine SDK and works against anything that
// answers the docker command set.
type DockerRuntime struct {
	binary string
}

func NewDockerRuntime(binary string) *DockerRuntime {
	if binary == "" {
		binary = "docker"
	}
	return &DockerRuntime{binary: binary}
}

func (d *DockerRuntime) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, d.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		if isNotFound(msg) {
			return "", ErrContainerNotFound
		}
		return "", fmt.Errorf("%s %s: %s", d.binary, args[0], msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func isNotFound(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "no such container") || strings.Contains(lower, "no such object")
}

// launchArgs builds the docker run command line for a spec. Env keys are
// sorted so the command is stable across runs.
func launchArgs(spec LaunchSpec) []string {
	args := []string{"run", "--rm", "-d", "--name", spec.Name}
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+spec.Env[k])
	}
	return append(args, spec.Image)
}

// Launch starts a detached container and returns its id. The --rm flag makes
// the engine clean up the container once it exits.
func (d *DockerRuntime) Launch(ctx context.Context, spec LaunchSpec) (string, error) {
	return d.run(ctx, launchArgs(spec)...)
}

// dockerState mirrors the fields of docker inspect's .State document that
// liveness checks care about.
type dockerState struct {
	Status   string `json:"Status"`
	Running  bool   `json:"Running"`
	ExitCode int    `json:"ExitCode"`
	Error    string `json:"Error"`
}

func parseState(id string, raw []byte) (ContainerInfo, error) {
	var st dockerState
	if err := json.Unmarshal(raw, &st); err != nil {
		return ContainerInfo{}, fmt.Errorf("parse container state: %w", err)
	}
	return ContainerInfo{
		ID:       id,
		Status:   st.Status,
		Running:  st.Running,
		ExitCode: st.ExitCode,
		Error:    st.Error,
	}, nil
}

func (d *DockerRuntime) Inspect(ctx context.Context, id string) (ContainerInfo, error) {
	out, err := d.run(ctx, "inspect", "--format", "{{json .State}}", id)
	if err != nil {
		return ContainerInfo{}, err
	}
	return parseState(id, []byte(out))
}

// Stop sends SIGTERM and waits up to grace before the engine escalates to
// SIGKILL on its own.
func (d *DockerRuntime) Stop(ctx context.Context, id string, grace time.Duration) error {
	secs := int(grace / time.Second)
	if secs < 1 {
		secs = 1
	}
	_, err := d.run(ctx, "stop", "-t", strconv.Itoa(secs), id)
	return err
}

func (d *DockerRuntime) Kill(ctx context.Context, id string) error {
	_, err := d.run(ctx, "kill", id)
	return err
}

func (d *DockerRuntime) Remove(ctx context.Context, id string) error {
	_, err := d.run(ctx, "rm", "-f", id)
	return err
}

// Logs returns the last tail lines of the container's combined output.
func (d *DockerRuntime) Logs(ctx context.Context, id string, tail int) (string, error) {
	cmd := exec.CommandContext(ctx, d.binary, "logs", "--tail", strconv.Itoa(tail), id)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		if isNotFound(msg) {
			return "", ErrContainerNotFound
		}
		return "", fmt.Errorf("%s logs: %s", d.binary, msg)
	}
	return string(out), nil
}

// Ping verifies the engine daemon is reachable.
func (d *DockerRuntime) Ping(ctx context.Context) error {
	_, err := d.run(ctx, "version", "--format", "{{.Server.Version}}")
	return err
}
