package audio

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Capture errors by behavior: ErrUnavailableHost is fatal at startup,
// ErrNoSuchNode makes a source switch fall back to the system mix.
var (
	ErrUnavailableHost = errors.New("audio host unavailable")
	ErrNoSuchNode      = errors.New("capture node not found")
)

// SourceKind selects between the system mixdown and one application stream.
type SourceKind int

const (
	SourceSystemMix SourceKind = iota
	SourceApplication
)

// Source identifies what the capture worker records. For SourceApplication
// the NodeID must refer to a node that existed at selection time; NodeName
// is descriptive only.
type Source struct {
	Kind     SourceKind
	NodeID   uint32
	NodeName string
}

// SystemMix is the compound output of all applications.
func SystemMix() Source {
	return Source{Kind: SourceSystemMix}
}

func (s Source) String() string {
	if s.Kind == SourceApplication {
		return fmt.Sprintf("application %q (node %d)", s.NodeName, s.NodeID)
	}
	return "system mix"
}

// FallbackEvent reports that the captured node disappeared and capture
// reconnected to the system mix.
type FallbackEvent struct {
	LostID   uint32
	LostName string
}

type captureCommand struct {
	source   *Source // non-nil: switch to this source
	shutdown bool
}

// Capture owns the connection to the host audio graph. It delivers raw
// interleaved stereo float32 at CaptureRate into the shared ring, maintains
// the node directory, and reconnects to the system mix when the captured
// node disappears.
//
// The data path runs on the backend's real-time thread and only performs a
// wait-free ring write; everything else (commands, directory rescans,
// fallback) happens on the control goroutine.
type Capture struct {
	host   Host
	ring   *Ring
	logger *log.Logger
	rescan time.Duration

	cmds     chan captureCommand
	fallback chan FallbackEvent
	done     chan struct{}

	mu      sync.Mutex
	dir     map[uint32]Node
	current Source
	stream  Stream
	runErr  error
}

// CaptureOption configures a [Capture].
type CaptureOption func(*Capture)

// WithHost substitutes the audio backend; used by tests.
func WithHost(h Host) CaptureOption {
	return func(c *Capture) { c.host = h }
}

// WithRescanInterval sets how often the node directory is refreshed.
// The default is 2 seconds.
func WithRescanInterval(d time.Duration) CaptureOption {
	return func(c *Capture) {
		if d > 0 {
			c.rescan = d
		}
	}
}

// WithLogger sets the capture worker's logger.
func WithLogger(l *log.Logger) CaptureOption {
	return func(c *Capture) { c.logger = l }
}

// StartCapture connects to the host audio graph and begins capturing from
// initial. Returns ErrUnavailableHost (wrapped) when the graph cannot be
// reached. The returned Capture owns the ring producer; callers consume via
// Ring and watch Fallback for source-loss events.
func StartCapture(initial Source, opts ...CaptureOption) (*Capture, error) {
	c := &Capture{
		// One second of stereo at the capture rate, per the overflow budget.
		ring:     NewRing(CaptureRate*2, 2),
		logger:   log.Default(),
		rescan:   2 * time.Second,
		cmds:     make(chan captureCommand, 4),
		fallback: make(chan FallbackEvent, 4),
		done:     make(chan struct{}),
		dir:      make(map[uint32]Node),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.host == nil {
		h, err := newMalgoHost()
		if err != nil {
			return nil, err
		}
		c.host = h
	}

	if err := c.refreshDirectory(); err != nil {
		c.host.Close()
		return nil, err
	}

	if err := c.connect(initial); err != nil {
		// A persisted application node may be gone by the next start; the
		// system mix is always a valid target.
		if initial.Kind != SourceApplication {
			c.host.Close()
			return nil, err
		}
		c.logger.Warn("initial source unavailable, using system mix",
			"source", initial.String(), "err", err)
		if err := c.connect(SystemMix()); err != nil {
			c.host.Close()
			return nil, err
		}
	}

	go c.run()
	return c, nil
}

// Ring returns the sample ring written by the capture callback. The bridge
// is its only consumer.
func (c *Capture) Ring() *Ring {
	return c.ring
}

// Fallback returns the channel of source-loss events. Closed when the
// worker terminates.
func (c *Capture) Fallback() <-chan FallbackEvent {
	return c.fallback
}

// SwitchSource asks the worker to retarget capture. The ring and directory
// stay intact across the switch.
func (c *Capture) SwitchSource(s Source) {
	select {
	case c.cmds <- captureCommand{source: &s}:
	case <-c.done:
	}
}

// Shutdown disconnects from the graph and stops the worker. Safe to call
// once; Wait reports the worker's outcome.
func (c *Capture) Shutdown() {
	select {
	case c.cmds <- captureCommand{shutdown: true}:
	case <-c.done:
	}
}

// Wait blocks until the worker has terminated and returns its outcome.
func (c *Capture) Wait() error {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runErr
}

// CurrentSource returns the source currently being captured.
func (c *Capture) CurrentSource() Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Nodes returns a copy of the node directory, sorted by name. Duplicate
// names are disambiguated with the node id.
func (c *Capture) Nodes() []Node {
	c.mu.Lock()
	nodes := make([]Node, 0, len(c.dir))
	seen := make(map[string]int, len(c.dir))
	for _, n := range c.dir {
		nodes = append(nodes, n)
		seen[n.Name]++
	}
	c.mu.Unlock()

	for i, n := range nodes {
		if seen[n.Name] > 1 {
			nodes[i].Name = fmt.Sprintf("%s (%d)", n.Name, n.ID)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes
}

// run is the control loop: commands, periodic directory rescans, fallback.
func (c *Capture) run() {
	ticker := time.NewTicker(c.rescan)
	defer ticker.Stop()

	defer func() {
		c.mu.Lock()
		if c.stream != nil {
			c.stream.Stop()
			c.stream = nil
		}
		c.mu.Unlock()
		c.host.Close()
		c.ring.Close()
		close(c.fallback)
		close(c.done)
	}()

	for {
		select {
		case cmd := <-c.cmds:
			if cmd.shutdown {
				c.logger.Debug("capture shutting down", "dropped_samples", c.ring.Dropped())
				return
			}
			if err := c.switchTo(*cmd.source); err != nil {
				c.fail(err)
				return
			}
		case <-ticker.C:
			if err := c.checkGraph(); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *Capture) fail(err error) {
	c.logger.Error("capture worker terminating", "err", err)
	c.mu.Lock()
	c.runErr = err
	c.mu.Unlock()
}

// connect opens a stream for the source, resolving it against the directory.
func (c *Capture) connect(s Source) error {
	target, err := c.resolve(s)
	if err != nil {
		return err
	}

	st, err := c.host.Open(target, func(samples []float32) {
		c.ring.TryWrite(samples)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.stream = st
	c.current = s
	c.mu.Unlock()
	c.logger.Info("capturing", "source", s.String())
	return nil
}

// resolve maps a source onto a directory node. System mix prefers the first
// monitor endpoint and otherwise lets the backend pick its default.
func (c *Capture) resolve(s Source) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.Kind == SourceApplication {
		node, ok := c.dir[s.NodeID]
		if !ok {
			return nil, fmt.Errorf("%w: node %d (%s)", ErrNoSuchNode, s.NodeID, s.NodeName)
		}
		return &node, nil
	}

	var monitors []Node
	for _, n := range c.dir {
		if n.Kind == NodeMonitor {
			monitors = append(monitors, n)
		}
	}
	if len(monitors) == 0 {
		return nil, nil
	}
	sort.Slice(monitors, func(i, j int) bool { return monitors[i].Name < monitors[j].Name })
	return &monitors[0], nil
}

// switchTo tears down the current stream and retargets. On failure the
// system mix is attempted once before giving up.
func (c *Capture) switchTo(s Source) error {
	c.mu.Lock()
	st := c.stream
	c.stream = nil
	c.mu.Unlock()
	if st != nil {
		st.Stop()
	}

	err := c.connect(s)
	if err == nil {
		return nil
	}
	if s.Kind == SourceSystemMix {
		return fmt.Errorf("reconnect system mix: %w", err)
	}

	c.logger.Warn("source switch failed, trying system mix", "source", s.String(), "err", err)
	if err := c.connect(SystemMix()); err != nil {
		return fmt.Errorf("fallback to system mix: %w", err)
	}
	return nil
}

// checkGraph refreshes the directory and falls back to the system mix when
// the captured node has disappeared.
func (c *Capture) checkGraph() error {
	if err := c.refreshDirectory(); err != nil {
		c.logger.Warn("node directory refresh failed", "err", err)
		return nil
	}

	c.mu.Lock()
	current := c.current
	_, present := c.dir[current.NodeID]
	c.mu.Unlock()

	if current.Kind != SourceApplication || present {
		return nil
	}

	c.logger.Warn("capture node disappeared, falling back to system mix",
		"node", current.NodeID, "name", current.NodeName)

	if err := c.switchTo(SystemMix()); err != nil {
		return err
	}

	ev := FallbackEvent{LostID: current.NodeID, LostName: current.NodeName}
	select {
	case c.fallback <- ev:
	default:
		c.logger.Warn("fallback event dropped, consumer too slow")
	}
	return nil
}

// refreshDirectory re-enumerates the graph, keeping only nodes of interest.
func (c *Capture) refreshDirectory() error {
	nodes, err := c.host.Nodes()
	if err != nil {
		return err
	}

	fresh := make(map[uint32]Node, len(nodes))
	for _, n := range nodes {
		fresh[n.ID] = n
	}

	c.mu.Lock()
	for id, n := range fresh {
		if _, ok := c.dir[id]; !ok {
			c.logger.Debug("node added", "id", id, "name", n.Name, "kind", n.Kind.String())
		}
	}
	for id, n := range c.dir {
		if _, ok := fresh[id]; !ok {
			c.logger.Debug("node removed", "id", id, "name", n.Name)
		}
	}
	c.dir = fresh
	c.mu.Unlock()
	return nil
}
