package audio

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// NodeKind classifies entries in the node directory.
type NodeKind int

const (
	// NodeMonitor is a loopback source exposing what an output device plays.
	NodeMonitor NodeKind = iota
	// NodeAppStream is a single application's output stream.
	NodeAppStream
)

func (k NodeKind) String() string {
	switch k {
	case NodeMonitor:
		return "monitor"
	case NodeAppStream:
		return "app_stream"
	default:
		return "unknown"
	}
}

// Node is one capturable endpoint in the host audio graph.
type Node struct {
	ID   uint32
	Name string
	Kind NodeKind
}

// Host abstracts the audio backend so the capture worker's switching and
// fallback logic is testable without a sound server. The production
// implementation wraps malgo.
type Host interface {
	// Nodes enumerates the currently capturable endpoints.
	Nodes() ([]Node, error)
	// Open starts a capture stream from the node (nil means the default
	// system-mix monitor). onFrames receives interleaved stereo float32 at
	// CaptureRate and runs on the backend's real-time thread.
	Open(target *Node, onFrames func(samples []float32)) (Stream, error)
	// Close releases the backend.
	Close()
}

// Stream is a running capture connection.
type Stream interface {
	Stop()
}

// malgoHost is the production host backed by miniaudio.
type malgoHost struct {
	ctx *malgo.AllocatedContext

	mu  sync.Mutex
	ids map[uint32]malgo.DeviceID // node id -> backend device id, from last enumeration
}

func newMalgoHost() (*malgoHost, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailableHost, err)
	}
	return &malgoHost{ctx: ctx, ids: make(map[uint32]malgo.DeviceID)}, nil
}

func (h *malgoHost) Nodes() ([]Node, error) {
	infos, err := h.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate capture devices: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.ids = make(map[uint32]malgo.DeviceID, len(infos))

	nodes := make([]Node, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		node := Node{
			ID:   nodeID(info.ID),
			Name: name,
			Kind: classifyNode(name),
		}
		h.ids[node.ID] = info.ID
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (h *malgoHost) Open(target *Node, onFrames func(samples []float32)) (Stream, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 2
	deviceConfig.SampleRate = CaptureRate
	deviceConfig.PeriodSizeInMilliseconds = 32

	if target != nil {
		h.mu.Lock()
		id, ok := h.ids[target.ID]
		h.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("%w: node %d (%s)", ErrNoSuchNode, target.ID, target.Name)
		}
		deviceConfig.Capture.DeviceID = id.Pointer()
	}

	// Audio callback - runs on the backend's time-critical thread.
	// Converts via a pooled buffer and hands off; no locks, no I/O.
	onRecvFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		samples := bytesToFloat32(pInputSamples)
		if len(samples) > 0 {
			onFrames(samples)
		}
		returnFloat32Buffer(samples)
	}

	device, err := malgo.InitDevice(h.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("start capture device: %w", err)
	}
	return &malgoStream{device: device}, nil
}

func (h *malgoHost) Close() {
	if h.ctx != nil {
		_ = h.ctx.Uninit()
		h.ctx.Free()
		h.ctx = nil
	}
}

type malgoStream struct {
	device *malgo.Device
}

func (s *malgoStream) Stop() {
	_ = s.device.Stop()
	s.device.Uninit()
}

// nodeID derives a stable 32-bit id from the backend device identifier, so a
// node keeps its id across directory rescans.
func nodeID(id malgo.DeviceID) uint32 {
	h := fnv.New32a()
	h.Write(id[:])
	return h.Sum32()
}

// classifyNode maps a device name onto the directory kinds. Sound servers
// expose output-device loopbacks with a monitor marker in the name; every
// other capture endpoint is treated as an application stream.
func classifyNode(name string) NodeKind {
	lower := strings.ToLower(name)
	if strings.Contains(lower, "monitor of") || strings.HasSuffix(lower, ".monitor") {
		return NodeMonitor
	}
	return NodeAppStream
}

// float32Pool reduces allocations in the audio callback hot path.
var float32Pool = sync.Pool{
	New: func() interface{} {
		// Pre-allocate for 32ms of stereo at 48kHz (3072 samples) with headroom
		buf := make([]float32, 4096)
		return &buf
	},
}

// bytesToFloat32 converts raw bytes to float32 samples using a pooled buffer.
// The returned slice is only valid until returnFloat32Buffer is called.
func bytesToFloat32(data []byte) []float32 {
	numSamples := len(data) / 4
	pBuf := float32Pool.Get().(*[]float32)

	if cap(*pBuf) < numSamples {
		*pBuf = make([]float32, numSamples)
	}
	samples := (*pBuf)[:numSamples]

	for i := range samples {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}

// returnFloat32Buffer returns a conversion buffer to the pool.
func returnFloat32Buffer(samples []float32) {
	if samples == nil {
		return
	}
	buf := samples[:cap(samples)]
	float32Pool.Put(&buf)
}
