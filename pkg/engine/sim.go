package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/types"
)

type simReplica struct {
	volume  string
	hostID  string
	size    int64
	running bool
	port    int
}

type simController struct {
	hostID   string
	replicas []string
	healthy  bool
}

// Sim is an in-process engine that keeps replica and controller state in
// memory. It backs the "sim" engine setting and tests, and can be told to
// fail operations.
type Sim struct {
	mu          sync.Mutex
	replicas    map[string]*simReplica
	controllers map[string]*simController
	snapshots   map[string]map[string]bool // volume -> snapshot names, outlives controllers
	removed     map[string]map[string]bool
	imported    map[string][]byte
	dropPurged  bool
	failures    map[string]int
	failErr     error
	nextPort    int
	calls       []string
}

// NewSim creates an empty simulated engine
func NewSim() *Sim {
	return &Sim{
		replicas:    make(map[string]*simReplica),
		controllers: make(map[string]*simController),
		snapshots:   make(map[string]map[string]bool),
		removed:     make(map[string]map[string]bool),
		imported:    make(map[string][]byte),
		failures:    make(map[string]int),
		nextPort:    9502,
	}
}

// FailNext makes the next n calls of op fail with err
func (s *Sim) FailNext(op string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = n
	s.failErr = err
}

// DropPurgedData makes SnapshotPurge discard the data of every removed
// snapshot, so later exports of it fail like they do on a real replica
func (s *Sim) DropPurgedData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropPurged = true
}

// SetControllerHealthy overrides the health of a volume's controller
func (s *Sim) SetControllerHealthy(volume string, healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.controllers[volume]; ok {
		c.healthy = healthy
	}
}

// Calls returns the operations performed so far, in order
func (s *Sim) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// ReplicaRunning reports whether a replica process is running
func (s *Sim) ReplicaRunning(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.replicas[name]
	return ok && r.running
}

// ReplicaExists reports whether a replica has been created and not deleted
func (s *Sim) ReplicaExists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.replicas[name]
	return ok
}

// ControllerHost returns the host running a volume's controller
func (s *Sim) ControllerHost(volume string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.controllers[volume]
	if !ok {
		return "", false
	}
	return c.hostID, true
}

// Snapshots returns the engine-side snapshot names of a volume
func (s *Sim) Snapshots(volume string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name := range s.snapshots[volume] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Imported returns the data last written into a volume by ImportVolume
func (s *Sim) Imported(volume string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.imported[volume]...)
}

// enter records a call and returns an injected failure, if any. Callers hold mu.
func (s *Sim) enter(op string) error {
	s.calls = append(s.calls, op)
	if n := s.failures[op]; n > 0 {
		s.failures[op] = n - 1
		return s.failErr
	}
	return nil
}

func (s *Sim) CreateReplica(ctx context.Context, replica *types.Replica, size int64, image string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreateReplica); err != nil {
		return err
	}
	if _, ok := s.replicas[replica.Name]; ok {
		return nil
	}
	s.replicas[replica.Name] = &simReplica{
		volume: replica.VolumeName,
		hostID: replica.HostID,
		size:   size,
		port:   s.nextPort,
	}
	s.nextPort += 3
	return nil
}

func (s *Sim) StartReplica(ctx context.Context, replica *types.Replica) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpStartReplica); err != nil {
		return "", err
	}
	r, ok := s.replicas[replica.Name]
	if !ok {
		return "", errdefs.NewNotFoundError("replica %s not found", replica.Name)
	}
	r.running = true
	return fmt.Sprintf("%s:%d", r.hostID, r.port), nil
}

func (s *Sim) StopReplica(ctx context.Context, replica *types.Replica) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpStopReplica); err != nil {
		return err
	}
	if r, ok := s.replicas[replica.Name]; ok {
		r.running = false
	}
	return nil
}

func (s *Sim) DeleteReplica(ctx context.Context, replica *types.Replica) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpDeleteReplica); err != nil {
		return err
	}
	delete(s.replicas, replica.Name)
	for _, r := range s.replicas {
		if r.volume == replica.VolumeName {
			return nil
		}
	}
	delete(s.snapshots, replica.VolumeName)
	delete(s.removed, replica.VolumeName)
	delete(s.imported, replica.VolumeName)
	return nil
}

func (s *Sim) StartController(ctx context.Context, volume *types.Volume, hostID string, replicaAddrs []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpStartController); err != nil {
		return "", err
	}
	if len(replicaAddrs) == 0 {
		return "", errdefs.NewInvalidArgumentError("controller of %s needs at least one replica", volume.Name)
	}
	if s.snapshots[volume.Name] == nil {
		s.snapshots[volume.Name] = make(map[string]bool)
	}
	s.controllers[volume.Name] = &simController{
		hostID:   hostID,
		replicas: append([]string(nil), replicaAddrs...),
		healthy:  true,
	}
	return fmt.Sprintf("%s:9501", hostID), nil
}

func (s *Sim) StopController(ctx context.Context, volume *types.Volume) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpStopController); err != nil {
		return err
	}
	delete(s.controllers, volume.Name)
	return nil
}

func (s *Sim) ControllerHealthy(ctx context.Context, volume *types.Volume) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.controllers[volume.Name]
	if !ok {
		return errdefs.NewNotFoundError("controller of %s is not running", volume.Name)
	}
	if !c.healthy {
		return fmt.Errorf("controller of %s is not responding", volume.Name)
	}
	return nil
}

// controller returns the snapshot set of a volume with a running controller
func (s *Sim) controller(op string, volume *types.Volume) (map[string]bool, error) {
	if err := s.enter(op); err != nil {
		return nil, err
	}
	if _, ok := s.controllers[volume.Name]; !ok {
		return nil, fmt.Errorf("controller of %s is not running", volume.Name)
	}
	return s.snapshots[volume.Name], nil
}

func (s *Sim) SnapshotCreate(ctx context.Context, volume *types.Volume, name string, labels map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps, err := s.controller(OpSnapshotCreate, volume)
	if err != nil {
		return err
	}
	snaps[name] = true
	return nil
}

func (s *Sim) SnapshotDelete(ctx context.Context, volume *types.Volume, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps, err := s.controller(OpSnapshotDelete, volume)
	if err != nil {
		return err
	}
	if !snaps[name] {
		return fmt.Errorf("snapshot %s not found in engine", name)
	}
	if s.removed[volume.Name] == nil {
		s.removed[volume.Name] = make(map[string]bool)
	}
	s.removed[volume.Name][name] = true
	return nil
}

func (s *Sim) SnapshotRevert(ctx context.Context, volume *types.Volume, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps, err := s.controller(OpSnapshotRevert, volume)
	if err != nil {
		return err
	}
	if !snaps[name] {
		return fmt.Errorf("snapshot %s not found in engine", name)
	}
	return nil
}

// SnapshotPurge keeps the data of removed snapshots, so exports keep
// working, unless DropPurgedData was called
func (s *Sim) SnapshotPurge(ctx context.Context, volume *types.Volume) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps, err := s.controller(OpSnapshotPurge, volume)
	if err != nil || !s.dropPurged {
		return err
	}
	for name := range s.removed[volume.Name] {
		delete(snaps, name)
	}
	delete(s.removed, volume.Name)
	return nil
}

// ExportSnapshot returns deterministic content derived from the volume and
// snapshot names
func (s *Sim) ExportSnapshot(ctx context.Context, replica *types.Replica, name string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("exportSnapshot"); err != nil {
		return nil, err
	}
	if _, ok := s.replicas[replica.Name]; !ok {
		return nil, errdefs.NewNotFoundError("replica %s not found", replica.Name)
	}
	if !s.snapshots[replica.VolumeName][name] {
		return nil, errdefs.NewNotFoundError("snapshot %s not found on replica %s", name, replica.Name)
	}
	return io.NopCloser(bytes.NewReader(SimSnapshotData(replica.VolumeName, name))), nil
}

func (s *Sim) ImportVolume(ctx context.Context, volume *types.Volume, r io.Reader) error {
	s.mu.Lock()
	if _, err := s.controller(OpImportVolume, volume); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.imported[volume.Name] = data
	return nil
}

// SimSnapshotData is the content the sim engine exports for a snapshot
func SimSnapshotData(volume, snapshot string) []byte {
	return bytes.Repeat([]byte(volume+"/"+snapshot+"\n"), 64)
}
