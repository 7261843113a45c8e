// Package browser launches and tears down the Docker-isolated Chrome
// instance backing one pooled context. Adapted from the teacher's
// internal/browser/pool.go: a container-per-context model, but now keyed
// by userId rather than sessionId, and with the user data mount pointed at
// the control plane's persistent profile directory instead of a
// per-session temp dir.
package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// Instance is a running Chrome container backing one user's persistent
// context.
type Instance struct {
	ContainerID string
	UserID      string
	ConnectURL  string // ws:// CDP endpoint
	Port        string
	ProfileDir  string
}

// Pool manages the Docker lifecycle of Chrome containers. One Pool serves
// the whole process; it does not itself bound concurrency or LRU size —
// that is internal/pool.ContextPool's job.
type Pool struct {
	client *client.Client
	image  string
}

// NewPool creates a Pool using the ambient Docker environment.
func NewPool(image string) (*Pool, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if image == "" {
		image = "browserless/chrome:latest"
	}
	return &Pool{client: cli, image: image}, nil
}

// LaunchOptions configures one container launch.
type LaunchOptions struct {
	UserID     string
	ProfileDir string // bind-mounted to /data inside the container
	Headless   string // "true" | "false" | "virtual"
}

// Launch starts a container whose /data mount is the user's persistent
// profile directory, and waits for Chrome's CDP endpoint to answer.
func (p *Pool) Launch(ctx context.Context, opts LaunchOptions) (*Instance, error) {
	env := []string{
		"CONNECTION_TIMEOUT=-1",
		"MAX_CONCURRENT_SESSIONS=1",
		"PREBOOT_CHROME=true",
		"KEEP_ALIVE=true",
		"EXIT_ON_HEALTH_FAILURE=false",
	}
	if opts.Headless == "virtual" {
		env = append(env, "DISPLAY=:99", "XVFB=true")
	} else {
		env = append(env, fmt.Sprintf("HEADLESS=%s", opts.Headless))
	}

	containerConfig := &container.Config{
		Image: p.image,
		Labels: map[string]string{
			"user-id":    opts.UserID,
			"managed-by": "camofox-browser",
		},
		Env: env,
		ExposedPorts: nat.PortSet{
			"3000/tcp": struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			"3000/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "0"}},
		},
		AutoRemove: false,
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: opts.ProfileDir, Target: "/data"},
		},
	}

	name := fmt.Sprintf("camofox-%s", shortID(opts.UserID))
	resp, err := p.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := p.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	bindings := inspect.NetworkSettings.Ports["3000/tcp"]
	if len(bindings) == 0 {
		return nil, fmt.Errorf("container did not expose port 3000")
	}
	port := bindings[0].HostPort

	if err := p.waitForReady(ctx, port); err != nil {
		return nil, fmt.Errorf("browser failed to become ready: %w", err)
	}

	return &Instance{
		ContainerID: resp.ID,
		UserID:      opts.UserID,
		ConnectURL:  fmt.Sprintf("ws://localhost:%s", port),
		Port:        port,
		ProfileDir:  opts.ProfileDir,
	}, nil
}

// Stop stops and removes a container, best-effort.
func (p *Pool) Stop(ctx context.Context, containerID string) error {
	timeout := 10
	if err := p.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	if err := p.client.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// IsHealthy reports whether the container is still running.
func (p *Pool) IsHealthy(ctx context.Context, containerID string) bool {
	inspect, err := p.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return false
	}
	return inspect.State.Running
}

// EnsureImage pulls the configured Chrome image if it is not already local.
func (p *Pool) EnsureImage(ctx context.Context) error {
	images, err := p.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == p.image {
				return nil
			}
		}
	}

	reader, err := p.client.ImagePull(ctx, p.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", p.image, err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (p *Pool) Close() error { return p.client.Close() }

func (p *Pool) waitForReady(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/json/version", port)
	const maxRetries = 20

	for i := 0; i < maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err == nil {
			resp, err := http.DefaultClient.Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					time.Sleep(500 * time.Millisecond)
					return nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	return fmt.Errorf("browser did not become ready after %d retries", maxRetries)
}

func shortID(userID string) string {
	if len(userID) > 8 {
		return userID[:8]
	}
	return userID
}
