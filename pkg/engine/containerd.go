package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/health"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	// DefaultNamespace is the containerd namespace holding engine containers
	DefaultNamespace = "burrow"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"

	labelPort   = "io.burrow.port"
	labelVolume = "io.burrow.volume"
	labelRole   = "io.burrow.role"

	engineBinary = "longhorn"
)

// ContainerdConfig configures the containerd data engine
type ContainerdConfig struct {
	Socket    string
	Namespace string

	// DataDir holds one directory per replica
	DataDir string

	// AdvertiseIP is the address other hosts use to reach replicas here
	AdvertiseIP string

	// Replica and controller ports are taken from [PortBase, PortBase+PortCount)
	PortBase  int
	PortCount int

	StopTimeout time.Duration
}

// Containerd runs replicas and controllers as containers of the engine
// image, on the host network so their ports are reachable from other hosts
type Containerd struct {
	client *containerd.Client
	cfg    ContainerdConfig
	portMu sync.Mutex
	logger zerolog.Logger
}

// NewContainerd connects to containerd
func NewContainerd(cfg ContainerdConfig) (*Containerd, error) {
	if cfg.Socket == "" {
		cfg.Socket = DefaultSocketPath
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.PortBase == 0 {
		cfg.PortBase = 9600
	}
	if cfg.PortCount == 0 {
		cfg.PortCount = 400
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 10 * time.Second
	}

	client, err := containerd.New(cfg.Socket)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to containerd")
	}

	return &Containerd{
		client: client,
		cfg:    cfg,
		logger: log.WithComponent("engine"),
	}, nil
}

// Close closes the containerd client connection
func (c *Containerd) Close() error {
	return c.client.Close()
}

// Ping checks that containerd answers
func (c *Containerd) Ping(ctx context.Context) error {
	_, err := c.client.Version(ctx)
	return err
}

func (c *Containerd) nsctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, c.cfg.Namespace)
}

func controllerID(volume string) string {
	return volume + "-controller"
}

func (c *Containerd) replicaDir(replica string) string {
	return filepath.Join(c.cfg.DataDir, "replicas", replica)
}

func (c *Containerd) address(port int) string {
	return fmt.Sprintf("%s:%d", c.cfg.AdvertiseIP, port)
}

func (c *Containerd) image(ctx context.Context, ref string) (containerd.Image, error) {
	image, err := c.client.GetImage(ctx, ref)
	if err == nil {
		return image, nil
	}

	c.logger.Info().Str("image", ref).Msg("Pulling engine image")
	image, err = c.client.Pull(ctx, ref, containerd.WithPullUnpack)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to pull image %s", ref)
	}
	return image, nil
}

// allocatePort returns the lowest port of the range not claimed by an
// existing engine container
func (c *Containerd) allocatePort(ctx context.Context) (int, error) {
	containers, err := c.client.Containers(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list containers")
	}

	used := make(map[int]bool)
	for _, ctr := range containers {
		labels, err := ctr.Labels(ctx)
		if err != nil {
			continue
		}
		if port, err := strconv.Atoi(labels[labelPort]); err == nil {
			used[port] = true
		}
	}

	for port := c.cfg.PortBase; port < c.cfg.PortBase+c.cfg.PortCount; port++ {
		if !used[port] {
			return port, nil
		}
	}
	return 0, errors.Errorf("no free engine port in %d-%d", c.cfg.PortBase, c.cfg.PortBase+c.cfg.PortCount-1)
}

func (c *Containerd) port(ctx context.Context, id string) (int, error) {
	ctr, err := c.client.LoadContainer(ctx, id)
	if err != nil {
		return 0, errdefs.NewNotFoundError("engine container %s not found", id)
	}
	labels, err := ctr.Labels(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read labels of %s", id)
	}
	port, err := strconv.Atoi(labels[labelPort])
	if err != nil {
		return 0, errors.Errorf("container %s has no engine port", id)
	}
	return port, nil
}

// createContainer creates a privileged host-network engine container. The
// port is allocated and recorded as a label under portMu so concurrent
// creations do not collide.
func (c *Containerd) createContainer(ctx context.Context, id, imageRef string, labels map[string]string, mounts []specs.Mount, args func(port int) []string) (int, error) {
	image, err := c.image(ctx, imageRef)
	if err != nil {
		return 0, err
	}

	c.portMu.Lock()
	defer c.portMu.Unlock()

	port, err := c.allocatePort(ctx)
	if err != nil {
		return 0, err
	}
	labels[labelPort] = strconv.Itoa(port)

	_, err = c.client.NewContainer(
		ctx,
		id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithContainerLabels(labels),
		containerd.WithNewSpec(
			oci.WithImageConfig(image),
			oci.WithHostNamespace(specs.NetworkNamespace),
			oci.WithHostHostsFile,
			oci.WithHostResolvconf,
			oci.WithPrivileged,
			oci.WithMounts(mounts),
			oci.WithProcessArgs(args(port)...),
		),
	)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to create container %s", id)
	}
	return port, nil
}

func (c *Containerd) startTask(ctx context.Context, id string) error {
	ctr, err := c.client.LoadContainer(ctx, id)
	if err != nil {
		return errdefs.NewNotFoundError("engine container %s not found", id)
	}

	if task, err := ctr.Task(ctx, nil); err == nil {
		status, err := task.Status(ctx)
		if err == nil && status.Status == containerd.Running {
			return nil
		}
		if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil {
			return errors.Wrapf(err, "failed to clear stale task of %s", id)
		}
	}

	task, err := ctr.NewTask(ctx, cio.NullIO)
	if err != nil {
		return errors.Wrapf(err, "failed to create task for %s", id)
	}
	if err := task.Start(ctx); err != nil {
		return errors.Wrapf(err, "failed to start task for %s", id)
	}
	return nil
}

// stopTask sends SIGTERM, escalates to SIGKILL after StopTimeout and
// deletes the task
func (c *Containerd) stopTask(ctx context.Context, id string) error {
	ctr, err := c.client.LoadContainer(ctx, id)
	if err != nil {
		return nil
	}

	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, c.cfg.StopTimeout)
	defer cancel()

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return errors.Wrapf(err, "failed to wait for task of %s", id)
	}

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		c.logger.Debug().Err(err).Str("container", id).Msg("SIGTERM failed, task may have exited")
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return errors.Wrapf(err, "failed to force kill %s", id)
		}
	}

	if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil {
		return errors.Wrapf(err, "failed to delete task of %s", id)
	}
	return nil
}

func (c *Containerd) deleteContainer(ctx context.Context, id string) error {
	ctr, err := c.client.LoadContainer(ctx, id)
	if err != nil {
		return nil
	}
	if err := c.stopTask(ctx, id); err != nil {
		c.logger.Warn().Err(err).Str("container", id).Msg("Failed to stop container before delete")
	}
	if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return errors.Wrapf(err, "failed to delete container %s", id)
	}
	return nil
}

// exec runs the engine CLI inside a running container and returns stdout
func (c *Containerd) exec(ctx context.Context, id string, args ...string) (string, error) {
	ctr, err := c.client.LoadContainer(ctx, id)
	if err != nil {
		return "", errdefs.NewNotFoundError("engine container %s not found", id)
	}
	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return "", errors.Errorf("container %s is not running", id)
	}
	spec, err := ctr.Spec(ctx)
	if err != nil {
		return "", errors.Wrapf(err, "failed to load spec of %s", id)
	}

	pspec := spec.Process
	pspec.Args = args
	pspec.Terminal = false

	var stdout, stderr bytes.Buffer
	execID := "exec-" + uuid.New().String()[:8]
	process, err := task.Exec(ctx, execID, pspec, cio.NewCreator(cio.WithStreams(nil, &stdout, &stderr)))
	if err != nil {
		return "", errors.Wrapf(err, "failed to exec in %s", id)
	}
	defer process.Delete(ctx)

	statusC, err := process.Wait(ctx)
	if err != nil {
		return "", errors.Wrapf(err, "failed to wait for exec in %s", id)
	}
	if err := process.Start(ctx); err != nil {
		return "", errors.Wrapf(err, "failed to start exec in %s", id)
	}

	var status containerd.ExitStatus
	select {
	case status = <-statusC:
	case <-ctx.Done():
		_ = process.Kill(context.Background(), syscall.SIGKILL)
		return "", ctx.Err()
	}

	code, _, err := status.Result()
	if err != nil {
		return "", errors.Wrapf(err, "exec in %s", id)
	}
	if code != 0 {
		return "", errors.Errorf("%s exited with %d: %s", args[0], code, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.String(), nil
}

func (c *Containerd) CreateReplica(ctx context.Context, replica *types.Replica, size int64, image string) error {
	ctx = c.nsctx(ctx)
	if _, err := c.client.LoadContainer(ctx, replica.Name); err == nil {
		return nil
	}

	dir := c.replicaDir(replica.Name)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrapf(err, "failed to create replica directory %s", dir)
	}

	labels := map[string]string{labelVolume: replica.VolumeName, labelRole: "replica"}
	mounts := []specs.Mount{{
		Source:      dir,
		Destination: "/volume",
		Type:        "bind",
		Options:     []string{"rbind", "rw"},
	}}
	_, err := c.createContainer(ctx, replica.Name, image, labels, mounts, func(port int) []string {
		return []string{
			engineBinary, "replica",
			"--listen", fmt.Sprintf("0.0.0.0:%d", port),
			"--size", strconv.FormatInt(size, 10),
			"/volume",
		}
	})
	if err != nil {
		return err
	}

	c.logger.Info().Str("replica", replica.Name).Str("volume", replica.VolumeName).Msg("Replica created")
	return nil
}

func (c *Containerd) StartReplica(ctx context.Context, replica *types.Replica) (string, error) {
	ctx = c.nsctx(ctx)
	port, err := c.port(ctx, replica.Name)
	if err != nil {
		return "", err
	}
	if err := c.startTask(ctx, replica.Name); err != nil {
		return "", err
	}
	return c.address(port), nil
}

func (c *Containerd) StopReplica(ctx context.Context, replica *types.Replica) error {
	return c.stopTask(c.nsctx(ctx), replica.Name)
}

func (c *Containerd) DeleteReplica(ctx context.Context, replica *types.Replica) error {
	if err := c.deleteContainer(c.nsctx(ctx), replica.Name); err != nil {
		return err
	}
	if err := os.RemoveAll(c.replicaDir(replica.Name)); err != nil {
		return errors.Wrapf(err, "failed to remove data of replica %s", replica.Name)
	}
	return nil
}

func (c *Containerd) StartController(ctx context.Context, volume *types.Volume, hostID string, replicaAddrs []string) (string, error) {
	ctx = c.nsctx(ctx)
	id := controllerID(volume.Name)

	// Replica addresses are baked into the container args
	if err := c.deleteContainer(ctx, id); err != nil {
		return "", err
	}

	labels := map[string]string{labelVolume: volume.Name, labelRole: "controller"}
	mounts := []specs.Mount{{
		Source:      "/dev",
		Destination: "/host/dev",
		Type:        "bind",
		Options:     []string{"rbind", "rw"},
	}}
	port, err := c.createContainer(ctx, id, volume.EngineImage, labels, mounts, func(port int) []string {
		args := []string{
			engineBinary, "controller",
			"--frontend", "tgt-blockdev",
			"--listen", fmt.Sprintf("0.0.0.0:%d", port),
		}
		for _, addr := range replicaAddrs {
			args = append(args, "--replica", "tcp://"+addr)
		}
		return append(args, volume.Name)
	})
	if err != nil {
		return "", err
	}

	if err := c.startTask(ctx, id); err != nil {
		return "", err
	}

	c.logger.Info().Str("volume", volume.Name).Int("port", port).Msg("Controller started")
	return c.address(port), nil
}

func (c *Containerd) StopController(ctx context.Context, volume *types.Volume) error {
	return c.deleteContainer(c.nsctx(ctx), controllerID(volume.Name))
}

func (c *Containerd) ControllerHealthy(ctx context.Context, volume *types.Volume) error {
	ctx = c.nsctx(ctx)
	id := controllerID(volume.Name)

	ctr, err := c.client.LoadContainer(ctx, id)
	if err != nil {
		return errdefs.NewNotFoundError("controller of %s not found", volume.Name)
	}
	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return errors.Errorf("controller of %s is not running", volume.Name)
	}
	status, err := task.Status(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to get controller status of %s", volume.Name)
	}
	if status.Status != containerd.Running {
		return errors.Errorf("controller of %s is %s", volume.Name, status.Status)
	}

	port, err := c.port(ctx, id)
	if err != nil {
		return err
	}
	result := health.NewTCPChecker(fmt.Sprintf("127.0.0.1:%d", port)).Check(ctx)
	if !result.Healthy {
		return errors.Errorf("controller of %s: %s", volume.Name, result.Message)
	}
	return nil
}

// controllerCLI runs a snapshot subcommand of the engine CLI against the
// volume's controller
func (c *Containerd) controllerCLI(ctx context.Context, volume *types.Volume, args ...string) error {
	ctx = c.nsctx(ctx)
	id := controllerID(volume.Name)
	port, err := c.port(ctx, id)
	if err != nil {
		return err
	}
	full := append([]string{engineBinary, "--url", fmt.Sprintf("http://localhost:%d", port)}, args...)
	_, err = c.exec(ctx, id, full...)
	return err
}

func (c *Containerd) SnapshotCreate(ctx context.Context, volume *types.Volume, name string, labels map[string]string) error {
	args := []string{"snapshot", "create"}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--label", k+"="+labels[k])
	}
	return c.controllerCLI(ctx, volume, append(args, name)...)
}

func (c *Containerd) SnapshotDelete(ctx context.Context, volume *types.Volume, name string) error {
	return c.controllerCLI(ctx, volume, "snapshot", "rm", name)
}

func (c *Containerd) SnapshotRevert(ctx context.Context, volume *types.Volume, name string) error {
	return c.controllerCLI(ctx, volume, "snapshot", "revert", name)
}

func (c *Containerd) SnapshotPurge(ctx context.Context, volume *types.Volume) error {
	return c.controllerCLI(ctx, volume, "snapshot", "purge")
}

// ExportSnapshot opens the snapshot image file in the replica's data
// directory
func (c *Containerd) ExportSnapshot(ctx context.Context, replica *types.Replica, name string) (io.ReadCloser, error) {
	path := filepath.Join(c.replicaDir(replica.Name), "volume-snap-"+name+".img")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, errdefs.NewNotFoundError("snapshot %s not found on replica %s", name, replica.Name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	return f, nil
}

// ImportVolume copies r onto the block device the controller exposes on
// this host
func (c *Containerd) ImportVolume(ctx context.Context, volume *types.Volume, r io.Reader) error {
	if volume.Endpoint == "" {
		return errdefs.NewAttachConflictError("volume %s has no block device", volume.Name)
	}
	dev, err := os.OpenFile(volume.Endpoint, os.O_WRONLY, 0)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", volume.Endpoint)
	}
	defer dev.Close()

	n, err := io.Copy(dev, r)
	if err != nil {
		return errors.Wrapf(err, "failed to write %s", volume.Endpoint)
	}
	if err := dev.Sync(); err != nil {
		return errors.Wrapf(err, "failed to sync %s", volume.Endpoint)
	}

	c.logger.Info().Str("volume", volume.Name).Int64("bytes", n).Msg("Volume data imported")
	return nil
}
