package supervisor

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
)

// DockerHandle runs a Command agent's child inside a container instead of
// as a direct host process, for definitions whose manifest sets
// command.container (SPEC_FULL.md §2/§4.1's Docker Command Executor).
type DockerHandle struct {
	cli         *dockerclient.Client
	containerID string
	attach      io.ReadWriteCloser
}

// NewDockerSpawner returns a Spawner that creates and attaches to a
// container running image on network (both optional; network="" uses the
// daemon default), streaming stdin/stdout through the attach connection
// exactly like ExecHandle streams a local process's pipes.
func NewDockerSpawner(cli *dockerclient.Client, image, network string) Spawner {
	return func(ctx context.Context, cmdPath string, args []string, dir string, stderr *stderrForwarder) (ChildHandle, error) {
		cmd := append([]string{cmdPath}, args...)
		resp, err := cli.ContainerCreate(ctx, &container.Config{
			Image:        image,
			Cmd:          cmd,
			WorkingDir:   dir,
			Tty:          false,
			OpenStdin:    true,
			AttachStdin:  true,
			AttachStdout: true,
			AttachStderr: true,
		}, &container.HostConfig{
			NetworkMode: container.NetworkMode(network),
			AutoRemove:  true,
		}, nil, nil, "")
		if err != nil {
			return nil, fmt.Errorf("docker container create: %w", err)
		}

		attachResp, err := cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
			Stream: true,
			Stdin:  true,
			Stdout: true,
			Stderr: true,
		})
		if err != nil {
			return nil, fmt.Errorf("docker container attach: %w", err)
		}

		if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
			attachResp.Close()
			return nil, fmt.Errorf("docker container start: %w", err)
		}

		return &DockerHandle{cli: cli, containerID: resp.ID, attach: attachResp.Conn}, nil
	}
}

func (h *DockerHandle) Stdin() io.Writer  { return h.attach }
func (h *DockerHandle) Stdout() io.Reader { return h.attach }

func (h *DockerHandle) Wait() error {
	statusCh, errCh := h.cli.ContainerWait(context.Background(), h.containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return err
	case <-statusCh:
		return nil
	}
}

func (h *DockerHandle) Kill() error {
	_ = h.attach.Close()
	return h.cli.ContainerKill(context.Background(), h.containerID, "SIGKILL")
}
