package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	dcontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	// ContainerManagedLabel marks containers created by the containers backend.
	ContainerManagedLabel = "ai.determined.capsched.managed"
	// ContainerBackendLabel records the name of the backend that created the container.
	ContainerBackendLabel = "ai.determined.capsched.backend"
)

// dockerClient is the subset of the Docker Engine API the containers backend uses.
type dockerClient interface {
	ImagePull(ctx context.Context, ref string, options types.ImagePullOptions) (io.ReadCloser, error)
	ContainerCreate(
		ctx context.Context,
		config *dcontainer.Config,
		hostConfig *dcontainer.HostConfig,
		networkingConfig *network.NetworkingConfig,
		platform *specs.Platform,
		containerName string,
	) (dcontainer.ContainerCreateCreatedBody, error)
	ContainerStart(ctx context.Context, id string, options types.ContainerStartOptions) error
	ContainerWait(
		ctx context.Context, id string, condition dcontainer.WaitCondition,
	) (<-chan dcontainer.ContainerWaitOKBody, <-chan error)
	ContainerInspect(ctx context.Context, id string) (types.ContainerJSON, error)
	ContainerLogs(
		ctx context.Context, id string, options types.ContainerLogsOptions,
	) (io.ReadCloser, error)
	ContainerKill(ctx context.Context, id, signal string) error
	ContainerRemove(ctx context.Context, id string, options types.ContainerRemoveOptions) error
	Close() error
}

// Containers runs Container work in Docker containers, one container per run. Images missing
// from the daemon are pulled on first use.
//
// A container killed by the OOM killer, or whose wait fails because the daemon went away, is
// reported as a *WorkerLostError. A non-zero exit is a *TaskError wrapping an *ExitError.
// Cancelling a run kills and removes the container.
type Containers struct {
	cl  dockerClient
	log *logrus.Entry
}

// NewContainersFromEnv connects to the Docker daemon configured by the standard DOCKER_*
// environment variables. A non-empty host overrides DOCKER_HOST.
func NewContainersFromEnv(host string) (*Containers, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cl, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to docker")
	}
	return newContainers(cl), nil
}

func newContainers(cl dockerClient) *Containers {
	return &Containers{
		cl:  cl,
		log: logrus.WithField("component", "backend").WithField("backend", "containers"),
	}
}

// Name implements Backend.
func (c *Containers) Name() string {
	return "containers"
}

// Run implements Backend. On success it returns the container's standard output as []byte.
func (c *Containers) Run(ctx context.Context, w Work) (interface{}, error) {
	spec, ok := w.(Container)
	if !ok {
		return nil, unsupported(c, w)
	}
	if spec.Image == "" {
		return nil, &TaskError{Err: errors.New("container has no image")}
	}

	id, err := c.create(ctx, spec)
	if err != nil {
		return nil, err
	}
	log := c.log.WithField("container-id", id)
	// The container is removed whatever the outcome; ctx may already be done here.
	defer func() {
		rmCtx := context.WithoutCancel(ctx)
		if rErr := c.cl.ContainerRemove(
			rmCtx, id, types.ContainerRemoveOptions{Force: true},
		); rErr != nil {
			log.WithError(rErr).Warn("removing container")
		}
	}()

	// Wait before start to not miss immediate exits.
	waitCtx, cancelWait := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWait()
	waiter, errs := c.cl.ContainerWait(waitCtx, id, dcontainer.WaitConditionNextExit)

	if err = c.cl.ContainerStart(ctx, id, types.ContainerStartOptions{}); err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "container cancelled")
		}
		return nil, &WorkerLostError{Backend: c.Name(), Reason: "starting container", Err: err}
	}
	log.Debug("container started")

	var status dcontainer.ContainerWaitOKBody
	select {
	case status = <-waiter:
	case err = <-errs:
		return nil, &WorkerLostError{Backend: c.Name(), Reason: "waiting for container", Err: err}
	case <-ctx.Done():
		log.Debug("cancelling container")
		if kErr := c.cl.ContainerKill(
			context.WithoutCancel(ctx), id, unix.SignalName(unix.SIGKILL),
		); kErr != nil {
			log.WithError(kErr).Warn("killing container")
		}
		return nil, errors.Wrap(ctx.Err(), "container cancelled")
	}

	if status.Error != nil && status.Error.Message != "" {
		return nil, &WorkerLostError{
			Backend: c.Name(), Reason: "waiting for container", Err: errors.New(status.Error.Message),
		}
	}

	info, err := c.cl.ContainerInspect(ctx, id)
	if err != nil {
		return nil, &WorkerLostError{Backend: c.Name(), Reason: "inspecting container", Err: err}
	}
	if info.ContainerJSONBase != nil && info.State != nil && info.State.OOMKilled {
		log.Warn("container was killed by the OOM killer")
		return nil, &WorkerLostError{Backend: c.Name(), Reason: "container killed by the OOM killer"}
	}

	stdout, stderr, err := c.logs(ctx, id)
	if err != nil {
		log.WithError(err).Warn("reading container logs")
	}
	if status.StatusCode != 0 {
		return nil, &TaskError{Err: &ExitError{
			Code:   int(status.StatusCode),
			Stderr: tail(stderr, stderrTailBytes),
		}}
	}
	return stdout, nil
}

// Close implements Backend.
func (c *Containers) Close() error {
	return c.cl.Close()
}

func (c *Containers) create(ctx context.Context, spec Container) (string, error) {
	labels := map[string]string{
		ContainerManagedLabel: "true",
		ContainerBackendLabel: c.Name(),
	}
	for k, v := range spec.Labels {
		labels[k] = v
	}
	config := &dcontainer.Config{
		Image:  spec.Image,
		Cmd:    spec.Cmd,
		Env:    spec.Env,
		Labels: labels,
	}
	hostConfig := &dcontainer.HostConfig{
		Resources: dcontainer.Resources{
			Memory:   spec.MemoryBytes,
			NanoCPUs: spec.NanoCPUs,
		},
	}

	resp, err := c.cl.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if client.IsErrNotFound(err) {
		if pErr := c.pull(ctx, spec.Image); pErr != nil {
			return "", pErr
		}
		resp, err = c.cl.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.Wrap(ctx.Err(), "container cancelled")
		}
		return "", &TaskError{Err: errors.Wrapf(err, "creating container from %s", spec.Image)}
	}
	for _, w := range resp.Warnings {
		c.log.WithField("container-id", resp.ID).Warnf("warning when creating container: %s", w)
	}
	return resp.ID, nil
}

func (c *Containers) pull(ctx context.Context, image string) error {
	c.log.WithField("image", image).Info("pulling image")
	r, err := c.cl.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return &TaskError{Err: errors.Wrapf(err, "pulling %s", image)}
	}
	defer func() {
		if cErr := r.Close(); cErr != nil {
			c.log.WithError(cErr).Debug("closing image pull stream")
		}
	}()
	if _, err = io.Copy(io.Discard, r); err != nil {
		return &WorkerLostError{
			Backend: c.Name(), Reason: fmt.Sprintf("pulling %s", image), Err: err,
		}
	}
	return nil
}

func (c *Containers) logs(ctx context.Context, id string) ([]byte, string, error) {
	r, err := c.cl.ContainerLogs(ctx, id, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, "", err
	}
	defer func() {
		if cErr := r.Close(); cErr != nil {
			c.log.WithError(cErr).Debug("closing container log stream")
		}
	}()
	var stdout, stderr bytes.Buffer
	if _, err = stdcopy.StdCopy(&stdout, &stderr, r); err != nil {
		return nil, "", err
	}
	return stdout.Bytes(), stderr.String(), nil
}
