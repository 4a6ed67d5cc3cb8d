package volume

import (
	"context"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/pkg/errors"
)

// actor runs the mutations of one volume one at a time on its own goroutine.
// It exits after an op that leaves the volume absent, so deleted volumes and
// failed creates do not keep a goroutine.
type actor struct {
	name    string
	ops     chan func()
	stopCh  chan struct{}
	stopped chan struct{}
}

func (m *Manager) newActor(name string) *actor {
	a := &actor{
		name:    name,
		ops:     make(chan func()),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go m.runActor(a)
	return a
}

func (m *Manager) runActor(a *actor) {
	defer close(a.stopped)
	for {
		select {
		case op := <-a.ops:
			op()
			if m.volumeGone(a.name) {
				m.removeActor(a)
				return
			}
		case <-a.stopCh:
			return
		}
	}
}

// stop lets the running op finish and rejects the rest
func (a *actor) stop() {
	select {
	case <-a.stopCh:
	default:
		close(a.stopCh)
	}
}

func (m *Manager) volumeGone(name string) bool {
	_, err := m.cluster.GetVolume(name)
	return errors.Is(err, errdefs.ErrNotFound)
}

// actorFor returns the actor of a volume, starting it on first use
func (m *Manager) actorFor(name string) *actor {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.actors[name]
	if !ok {
		a = m.newActor(name)
		m.actors[name] = a
	}
	return a
}

func (m *Manager) removeActor(a *actor) {
	m.mu.Lock()
	if m.actors[a.name] == a {
		delete(m.actors, a.name)
	}
	m.mu.Unlock()
	a.stop()
}

// do runs fn on the volume's actor and waits for its result. When ctx ends
// first, fn still runs to completion but its result is dropped.
func (m *Manager) do(ctx context.Context, name string, fn func() error) error {
	for {
		a := m.actorFor(name)
		result := make(chan error, 1)

		select {
		case a.ops <- func() { result <- fn() }:
		case <-a.stopped:
			// the actor exited while we waited; retry on a fresh one
			continue
		case <-ctx.Done():
			return ctx.Err()
		case <-m.ctx.Done():
			return ErrShutdown
		}

		select {
		case err := <-result:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
