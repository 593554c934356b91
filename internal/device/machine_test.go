package device

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bnavetta/samwise/internal/agentclient"
	"github.com/bnavetta/samwise/internal/config"
	"github.com/bnavetta/samwise/internal/id"
)

// fakeAgent is a scriptable stand-in for agentclient.Client.
type fakeAgent struct {
	mu            sync.Mutex
	status        agentclient.Status
	rebootCalls   int
	shutDownCalls int
	suspendCalls  int
	rebootErr     error
	suspendErr    error
	shutDownErr   error
}

func (f *fakeAgent) Ping(ctx context.Context) agentclient.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeAgent) Reboot(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebootCalls++
	return f.rebootErr
}

func (f *fakeAgent) ShutDown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutDownCalls++
	return f.shutDownErr
}

func (f *fakeAgent) Suspend(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suspendCalls++
	return f.suspendErr
}

func (f *fakeAgent) setStatus(s agentclient.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
}

type fakeWaker struct {
	mu    sync.Mutex
	sends int
}

func (f *fakeWaker) Wake(ifaceName string, destination net.HardwareAddr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	return nil
}

func (f *fakeWaker) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

func testManager(t *testing.T, ctx context.Context, agent *fakeAgent, waker *fakeWaker) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	grubPath := filepath.Join(dir, "samwise.cfg")
	require.NoError(t, os.WriteFile(grubPath, []byte(""), 0o644))

	cfg := config.DeviceConfig{
		Agent:      "http://unused",
		MACAddress: "aa:bb:cc:dd:ee:ff",
		GrubConfig: "samwise.cfg",
		Targets: map[string]config.TargetConfig{
			"ubuntu":  {MenuEntry: "Ubuntu 22.04"},
			"windows": {MenuEntry: "Windows 10"},
		},
	}

	m := NewManager(ctx, id.DeviceId("htpc"), cfg, "eth0", dir, agent, waker, zap.NewNop())
	return m, grubPath
}

func TestRunIsNoOpWhenAlreadyActiveOnTarget(t *testing.T) {
	ctx := context.Background()
	agent := &fakeAgent{status: agentclient.Status{Active: true, Target: "ubuntu"}}
	waker := &fakeWaker{}
	m, grubPath := testManager(t, ctx, agent, waker)

	before, err := os.ReadFile(grubPath)
	require.NoError(t, err)

	err = m.handleOne(ctx, Action{Kind: ActionRun, Target: "ubuntu"})
	require.NoError(t, err)

	after, err := os.ReadFile(grubPath)
	require.NoError(t, err)
	assert.Equal(t, before, after, "no config write for idempotent run")
	assert.Equal(t, 0, waker.sendCount())
	assert.Equal(t, 0, agent.rebootCalls)
}

func TestRunFromOffWritesConfigAndWakes(t *testing.T) {
	ctx := context.Background()
	agent := &fakeAgent{status: agentclient.Status{Active: false}}
	waker := &fakeWaker{}
	m, grubPath := testManager(t, ctx, agent, waker)

	go func() {
		time.Sleep(10 * time.Millisecond)
		m.states.publish(Running("ubuntu"))
	}()

	err := m.handleOne(ctx, Action{Kind: ActionRun, Target: "ubuntu"})
	require.NoError(t, err)

	content, err := os.ReadFile(grubPath)
	require.NoError(t, err)
	assert.Equal(t, "set samwise_entry=\"Ubuntu 22.04\"\nexport samwise_entry\n", string(content))
	assert.Equal(t, 1, waker.sendCount())
	assert.Equal(t, 0, agent.rebootCalls)
}

func TestRunFromActiveOtherTargetReboots(t *testing.T) {
	ctx := context.Background()
	agent := &fakeAgent{status: agentclient.Status{Active: true, Target: "windows"}}
	waker := &fakeWaker{}
	m, grubPath := testManager(t, ctx, agent, waker)

	go func() {
		time.Sleep(10 * time.Millisecond)
		m.states.publish(Running("ubuntu"))
	}()

	err := m.handleOne(ctx, Action{Kind: ActionRun, Target: "ubuntu"})
	require.NoError(t, err)

	content, err := os.ReadFile(grubPath)
	require.NoError(t, err)
	assert.Equal(t, "set samwise_entry=\"Ubuntu 22.04\"\nexport samwise_entry\n", string(content))
	assert.Equal(t, 0, waker.sendCount())
	assert.Equal(t, 1, agent.rebootCalls)
}

func TestSuspendFromOffIsNoOp(t *testing.T) {
	ctx := context.Background()
	agent := &fakeAgent{status: agentclient.Status{Active: false}}
	waker := &fakeWaker{}
	m, _ := testManager(t, ctx, agent, waker)

	err := m.handleOne(ctx, Action{Kind: ActionSuspend})
	require.NoError(t, err)
	assert.Equal(t, 0, agent.suspendCalls)
}

func TestSuspendFromActiveCallsAgentAndAwaitsOff(t *testing.T) {
	ctx := context.Background()
	agent := &fakeAgent{status: agentclient.Status{Active: true, Target: "ubuntu"}}
	waker := &fakeWaker{}
	m, _ := testManager(t, ctx, agent, waker)

	go func() {
		time.Sleep(10 * time.Millisecond)
		m.states.publish(Off)
	}()

	err := m.handleOne(ctx, Action{Kind: ActionSuspend})
	require.NoError(t, err)
	assert.Equal(t, 1, agent.suspendCalls)
}

func TestUnknownTargetReturnsError(t *testing.T) {
	ctx := context.Background()
	agent := &fakeAgent{status: agentclient.Status{Active: false}}
	waker := &fakeWaker{}
	m, _ := testManager(t, ctx, agent, waker)

	err := m.handleOne(ctx, Action{Kind: ActionRun, Target: "nosuch"})
	assert.Error(t, err)
}

func TestActionQueueCapacityOneRejectsSecondSubmission(t *testing.T) {
	ctx := context.Background()
	agent := &fakeAgent{status: agentclient.Status{Active: false}}
	waker := &fakeWaker{}
	m, _ := testManager(t, ctx, agent, waker)

	h := m.Handle()
	assert.Equal(t, SubmitOK, h.Submit(Action{Kind: ActionReboot}))
	assert.Equal(t, SubmitBusy, h.Submit(Action{Kind: ActionReboot}))
}

func TestHandleSubmitReturnsClosedAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	agent := &fakeAgent{status: agentclient.Status{Active: false}}
	waker := &fakeWaker{}
	m, _ := testManager(t, ctx, agent, waker)

	h := m.Handle()
	cancel()
	assert.Equal(t, SubmitClosed, h.Submit(Action{Kind: ActionReboot}))
}

func TestAwaitTimesOutWhenStateNeverMaterializes(t *testing.T) {
	ctx := context.Background()
	agent := &fakeAgent{status: agentclient.Status{Active: false}}
	waker := &fakeWaker{}
	m, _ := testManager(t, ctx, agent, waker)

	deadlineCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	err := m.await(deadlineCtx, func(s State) bool { return false })
	assert.Error(t, err)
}

func TestBroadcastSnapshotKeepsLatestNonUnknownValue(t *testing.T) {
	b := newBroadcast(Unknown)
	b.publish(Running("ubuntu"))
	v, _ := b.snapshot()
	assert.Equal(t, StateRunning, v.Kind)

	b.publish(Off)
	v, _ = b.snapshot()
	assert.Equal(t, StateOff, v.Kind, "snapshot reflects the latest publish, not Unknown")
}
