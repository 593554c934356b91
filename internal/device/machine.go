package device

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bnavetta/samwise/internal/agentclient"
	"github.com/bnavetta/samwise/internal/bootloader"
	"github.com/bnavetta/samwise/internal/config"
	"github.com/bnavetta/samwise/internal/id"
	"github.com/bnavetta/samwise/internal/samerr"
)

// pollInterval is the state poller's tick period.
const pollInterval = 5 * time.Second

// awaitTimeout bounds how long the action handler waits for a desired
// state to materialize after issuing a transport command.
const awaitTimeout = 5 * time.Minute

var errStateChannelClosed = errors.New("state channel closed")

// agentAPI is the subset of *agentclient.Client the handler needs.
// Narrowing to an interface lets tests exercise the action-semantics
// table against a fake Agent instead of a real HTTP server.
type agentAPI interface {
	Ping(ctx context.Context) agentclient.Status
	Reboot(ctx context.Context) error
	ShutDown(ctx context.Context) error
	Suspend(ctx context.Context) error
}

// wakerAPI is the subset of *wol.Waker the handler needs.
type wakerAPI interface {
	Wake(ifaceName string, destination net.HardwareAddr) error
}

// Manager owns the background poller and action handler for one
// configured device. Construct with NewManager and start its tasks
// with Run; Run blocks until ctx is cancelled.
type Manager struct {
	id     id.DeviceId
	cfg    config.DeviceConfig
	agent  agentAPI
	waker  wakerAPI
	iface  string
	tftp   string
	log    *zap.Logger
	states *broadcast
	queue  *actionQueue
}

// NewManager builds a Manager for one device. ctx governs the
// lifetime of both background tasks and the action queue; cancelling
// it is the device's shutdown signal.
func NewManager(ctx context.Context, deviceID id.DeviceId, cfg config.DeviceConfig, iface, tftpDir string, agent agentAPI, waker wakerAPI, log *zap.Logger) *Manager {
	return &Manager{
		id:     deviceID,
		cfg:    cfg,
		agent:  agent,
		waker:  waker,
		iface:  iface,
		tftp:   tftpDir,
		log:    log,
		states: newBroadcast(Unknown),
		queue:  newActionQueue(ctx),
	}
}

// Handle returns a cheaply clonable handle onto this device's channels.
func (m *Manager) Handle() *Handle {
	return &Handle{id: m.id, states: m.states, queue: m.queue}
}

// Run starts the poller and the action handler and blocks until both
// exit, which happens once ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		m.poll(ctx)
	}()
	go func() {
		defer wg.Done()
		m.handleActions(ctx)
	}()

	wg.Wait()
	m.states.close()
}

// poll is the state poller: every pollInterval it pings the Agent and
// publishes the mapped observed state. It never publishes Unknown.
func (m *Manager) poll(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := m.agent.Ping(ctx)
			if status.Active {
				m.states.publish(Running(status.Target))
			} else {
				m.states.publish(Off)
			}
		}
	}
}

// handleActions is the sequential action worker: it pops one Action at
// a time and never aborts the device on a single action's failure.
func (m *Manager) handleActions(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case action := <-m.queue.ch:
			if err := m.handleOne(ctx, action); err != nil {
				m.log.Warn("action failed",
					zap.String("device", m.id.String()),
					zap.String("action", action.String()),
					zap.Error(err))
			}
		}
	}
}

// handleOne implements the action-semantics table from spec.md §4.5.2.
// It always re-pings for up-to-date ground truth before deciding, and
// always issues any config write before any transport command, and any
// transport command before the await.
func (m *Manager) handleOne(ctx context.Context, action Action) error {
	status := m.agent.Ping(ctx)

	switch action.Kind {
	case ActionRun:
		return m.handleRun(ctx, action.Target, status)
	case ActionReboot:
		return m.handleReboot(ctx, status)
	case ActionSuspend:
		return m.handleSuspend(ctx, status)
	case ActionShutDown:
		return m.handleShutDown(ctx, status)
	default:
		return errors.Errorf("unknown action kind %v", action.Kind)
	}
}

func (m *Manager) handleRun(ctx context.Context, target id.TargetId, status agentclient.Status) error {
	if status.Active && status.Target == target {
		return nil // no-op: already running the requested target
	}

	if err := m.rewriteBootConfig(target); err != nil {
		return err
	}

	if status.Active {
		if err := m.agent.Reboot(ctx); err != nil {
			return samerr.Wrap(samerr.KindAgentRPCFailed, err, "reboot for run "+target.String())
		}
	} else {
		if err := m.wake(); err != nil {
			return err
		}
	}

	return m.await(ctx, func(s State) bool {
		return s.Kind == StateRunning && s.Target == target
	})
}

func (m *Manager) handleReboot(ctx context.Context, status agentclient.Status) error {
	if status.Active {
		if err := m.agent.Reboot(ctx); err != nil {
			return samerr.Wrap(samerr.KindAgentRPCFailed, err, "reboot")
		}
		current := status.Target
		return m.await(ctx, func(s State) bool {
			return s.Kind == StateRunning && s.Target == current
		})
	}

	if err := m.wake(); err != nil {
		return err
	}
	return m.await(ctx, func(s State) bool { return s.Kind == StateRunning })
}

func (m *Manager) handleSuspend(ctx context.Context, status agentclient.Status) error {
	if !status.Active {
		return nil // no-op: already off
	}
	if err := m.agent.Suspend(ctx); err != nil {
		return samerr.Wrap(samerr.KindAgentRPCFailed, err, "suspend")
	}
	return m.await(ctx, func(s State) bool { return s.Kind == StateOff })
}

func (m *Manager) handleShutDown(ctx context.Context, status agentclient.Status) error {
	if !status.Active {
		return nil // no-op: already off
	}
	if err := m.agent.ShutDown(ctx); err != nil {
		return samerr.Wrap(samerr.KindAgentRPCFailed, err, "shut down")
	}
	return m.await(ctx, func(s State) bool { return s.Kind == StateOff })
}

func (m *Manager) rewriteBootConfig(target id.TargetId) error {
	t, ok := m.cfg.Targets[target.String()]
	if !ok {
		return samerr.New(samerr.KindUnknownTarget, "unknown target "+target.String())
	}
	path := m.tftp + "/" + m.cfg.GrubConfig
	if err := bootloader.Configure(path, t.MenuEntry); err != nil {
		return samerr.Wrap(samerr.KindConfigWriteFailed, err, "writing boot config for "+target.String())
	}
	return nil
}

func (m *Manager) wake() error {
	mac, err := m.cfg.HardwareAddr()
	if err != nil {
		return samerr.Wrap(samerr.KindWakeFailed, err, "parsing mac address")
	}
	if err := m.waker.Wake(m.iface, mac); err != nil {
		return samerr.Wrap(samerr.KindWakeFailed, err, "sending magic packet")
	}
	return nil
}

// await subscribes to the state broadcast from its current snapshot and
// waits until predicate holds, up to awaitTimeout.
func (m *Manager) await(ctx context.Context, predicate func(State) bool) error {
	deadline, cancel := context.WithTimeout(ctx, awaitTimeout)
	defer cancel()

	value, gen := m.states.snapshot()
	if predicate(value) {
		return nil
	}

	for {
		var err error
		value, gen, err = m.states.recv(deadline, gen)
		if err != nil {
			if errors.Is(err, errStateChannelClosed) {
				return samerr.Wrap(samerr.KindStateChannelClosed, err, "awaiting device state")
			}
			return samerr.Wrap(samerr.KindTimeout, err, "awaiting device state")
		}
		if predicate(value) {
			return nil
		}
	}
}
