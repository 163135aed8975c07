package audio

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHost is an in-memory audio graph for capture worker tests.
type fakeHost struct {
	mu       sync.Mutex
	list     []Node
	failOpen bool
	onFrames func(samples []float32) // last opened stream's callback
	opened   []string                // names of opened targets, "" = default
}

func (h *fakeHost) Nodes() ([]Node, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Node, len(h.list))
	copy(out, h.list)
	return out, nil
}

func (h *fakeHost) Open(target *Node, onFrames func(samples []float32)) (Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failOpen {
		return nil, errors.New("backend refused")
	}
	name := ""
	if target != nil {
		name = target.Name
	}
	h.opened = append(h.opened, name)
	h.onFrames = onFrames
	return &fakeStream{}, nil
}

func (h *fakeHost) Close() {}

func (h *fakeHost) setNodes(nodes []Node) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.list = nodes
}

func (h *fakeHost) feed(samples []float32) {
	h.mu.Lock()
	cb := h.onFrames
	h.mu.Unlock()
	if cb != nil {
		cb(samples)
	}
}

type fakeStream struct{}

func (*fakeStream) Stop() {}

var (
	monitorNode = Node{ID: 1, Name: "Monitor of Built-in Audio", Kind: NodeMonitor}
	appNode     = Node{ID: 42, Name: "Music Player", Kind: NodeAppStream}
)

func startTestCapture(t *testing.T, h *fakeHost, initial Source) *Capture {
	t.Helper()
	c, err := StartCapture(initial, WithHost(h), WithRescanInterval(10*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Shutdown()
		_ = c.Wait()
	})
	return c
}

func TestCaptureFeedsRing(t *testing.T) {
	h := &fakeHost{list: []Node{monitorNode, appNode}}
	c := startTestCapture(t, h, SystemMix())

	h.feed([]float32{0.1, 0.2, 0.3, 0.4})

	buf := make([]float32, 8)
	assert.Equal(t, 4, c.Ring().Read(buf))
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, buf[:4])
}

func TestCapturePrefersMonitorForSystemMix(t *testing.T) {
	h := &fakeHost{list: []Node{appNode, monitorNode}}
	startTestCapture(t, h, SystemMix())

	require.NotEmpty(t, h.opened)
	assert.Equal(t, monitorNode.Name, h.opened[0])
}

func TestCaptureSwitchSource(t *testing.T) {
	h := &fakeHost{list: []Node{monitorNode, appNode}}
	c := startTestCapture(t, h, SystemMix())

	c.SwitchSource(Source{Kind: SourceApplication, NodeID: appNode.ID, NodeName: appNode.Name})

	require.Eventually(t, func() bool {
		return c.CurrentSource().Kind == SourceApplication
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, appNode.ID, c.CurrentSource().NodeID)
}

func TestCaptureSwitchToMissingNodeFallsBack(t *testing.T) {
	h := &fakeHost{list: []Node{monitorNode, appNode}}
	c := startTestCapture(t, h, SystemMix())

	c.SwitchSource(Source{Kind: SourceApplication, NodeID: 999, NodeName: "gone"})

	// The worker tried the node, failed, and reconnected the system mix.
	require.Eventually(t, func() bool {
		return c.CurrentSource().Kind == SourceSystemMix
	}, time.Second, 5*time.Millisecond)
}

func TestCaptureFallbackOnDisappearance(t *testing.T) {
	h := &fakeHost{list: []Node{monitorNode, appNode}}
	c := startTestCapture(t, h,
		Source{Kind: SourceApplication, NodeID: appNode.ID, NodeName: appNode.Name})

	require.Equal(t, SourceApplication, c.CurrentSource().Kind)

	h.setNodes([]Node{monitorNode})

	select {
	case ev := <-c.Fallback():
		assert.Equal(t, appNode.ID, ev.LostID)
		assert.Equal(t, appNode.Name, ev.LostName)
	case <-time.After(time.Second):
		t.Fatal("no fallback event after node disappearance")
	}
	assert.Equal(t, SourceSystemMix, c.CurrentSource().Kind)
}

func TestCaptureTerminatesWhenFallbackFails(t *testing.T) {
	h := &fakeHost{list: []Node{monitorNode, appNode}}
	c, err := StartCapture(
		Source{Kind: SourceApplication, NodeID: appNode.ID, NodeName: appNode.Name},
		WithHost(h), WithRescanInterval(10*time.Millisecond))
	require.NoError(t, err)

	h.mu.Lock()
	h.failOpen = true
	h.mu.Unlock()
	h.setNodes([]Node{monitorNode})

	assert.Error(t, c.Wait())
}

func TestCaptureShutdownClosesEverything(t *testing.T) {
	h := &fakeHost{list: []Node{monitorNode}}
	c, err := StartCapture(SystemMix(), WithHost(h), WithRescanInterval(10*time.Millisecond))
	require.NoError(t, err)

	c.Shutdown()
	require.NoError(t, c.Wait())

	assert.True(t, c.Ring().Closed())
	_, open := <-c.Fallback()
	assert.False(t, open)
}

func TestCaptureStartStaleApplicationNodeUsesMix(t *testing.T) {
	// A persisted node id from a previous session may no longer exist;
	// startup degrades to the system mix instead of failing.
	h := &fakeHost{list: []Node{monitorNode}}
	c, err := StartCapture(
		Source{Kind: SourceApplication, NodeID: 777, NodeName: "nope"},
		WithHost(h))
	require.NoError(t, err)
	defer func() {
		c.Shutdown()
		_ = c.Wait()
	}()

	assert.Equal(t, SourceSystemMix, c.CurrentSource().Kind)
}

func TestNodesDisambiguatesDuplicates(t *testing.T) {
	h := &fakeHost{list: []Node{
		monitorNode,
		{ID: 7, Name: "Firefox", Kind: NodeAppStream},
		{ID: 9, Name: "Firefox", Kind: NodeAppStream},
	}}
	c := startTestCapture(t, h, SystemMix())

	var names []string
	for _, n := range c.Nodes() {
		names = append(names, n.Name)
	}
	assert.Contains(t, names, "Firefox (7)")
	assert.Contains(t, names, "Firefox (9)")
}
