// Package app wires the caption pipeline: capture → ring → bridge →
// inference sink → caption buffer → renderer, plus the engine-swap and
// fallback coordinators and configuration hot-reload.
package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/jslandau/subtidal/internal/audio"
	"github.com/jslandau/subtidal/internal/caption"
	"github.com/jslandau/subtidal/internal/config"
	"github.com/jslandau/subtidal/internal/models"
	"github.com/jslandau/subtidal/internal/notify"
	"github.com/jslandau/subtidal/internal/render"
	"github.com/jslandau/subtidal/internal/stt"
)

// correction pairs a completed line with its repaired text, routed back to
// the caption goroutine which owns the buffer.
type correction struct {
	original  string
	corrected string
}

// App owns the long-lived workers and the channels joining them. One App
// runs per process; Run blocks until shutdown.
type App struct {
	store  *config.Store
	logger *log.Logger
	notify notify.Func

	capture     *audio.Capture
	captureOpts []audio.CaptureOption
	sink        *stt.Sink

	// lifeMu orders worker spawning against shutdown so the WaitGroup never
	// gains members after Wait begins.
	lifeMu   sync.Mutex
	stopping bool
	workers  sync.WaitGroup

	fragments    chan string // inference workers -> caption loop
	commands     chan render.Command
	ctrl         chan render.Command // commands from other goroutines, forwarded by the caption loop
	rawFragments chan string         // tee of fragments for the renderer
	reconfig     chan config.AppearanceConfig
	corrections  chan correction
	swapCh       chan stt.Choice

	buffer  *caption.Buffer
	enabled atomic.Bool // captions-enabled flag

	engineBuilder func(stt.Choice) (stt.Engine, error)

	mu           sync.Mutex
	engineChoice stt.Choice
	corrector    *caption.Corrector
}

// Option configures an [App].
type Option func(*App)

// WithNotifier substitutes the desktop notifier; used by tests.
func WithNotifier(fn notify.Func) Option {
	return func(a *App) { a.notify = fn }
}

// WithLogger sets the application logger.
func WithLogger(l *log.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithCaptureOptions forwards options to the capture worker (test hosts,
// rescan intervals).
func WithCaptureOptions(opts ...audio.CaptureOption) Option {
	return func(a *App) { a.captureOpts = opts }
}

// WithEngineBuilder substitutes engine construction; used by tests.
func WithEngineBuilder(fn func(stt.Choice) (stt.Engine, error)) Option {
	return func(a *App) { a.engineBuilder = fn }
}

// New builds the pipeline from the stored configuration. Engine construction
// and capture startup failures are fatal: inference or capture cannot
// start.
func New(store *config.Store, choice stt.Choice, opts ...Option) (*App, error) {
	cfg := store.Current()

	a := &App{
		store:        store,
		logger:       log.Default(),
		fragments:    make(chan string, 16),
		commands:     make(chan render.Command, 32),
		ctrl:         make(chan render.Command, 16),
		rawFragments: make(chan string, 32),
		reconfig:     make(chan config.AppearanceConfig, 4),
		corrections:  make(chan correction, 8),
		swapCh:       make(chan stt.Choice, 2),
		engineChoice: choice,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.notify == nil {
		a.notify = notify.Desktop
	}
	a.enabled.Store(true)

	maxChars := caption.EstimateLineChars(cfg.Appearance.Width, cfg.Appearance.FontSize)
	a.buffer = caption.NewBuffer(cfg.Appearance.MaxLines, maxChars, cfg.Appearance.ExpireDuration())

	engine, err := a.buildEngine(choice)
	if err != nil {
		return nil, fmt.Errorf("start engine %s: %w", choice, err)
	}

	a.configureCorrector(cfg.Correction)

	capture, err := audio.StartCapture(sourceFromConfig(cfg.AudioSource), a.captureOpts...)
	if err != nil {
		engine.Close()
		return nil, err
	}
	a.capture = capture
	a.sink = stt.NewSink()
	a.spawnWorker(engine, a.sink.Endpoint())

	return a, nil
}

// Commands returns the renderer command channel. Closed on shutdown after a
// final Quit.
func (a *App) Commands() <-chan render.Command {
	return a.commands
}

// Fragments returns the renderer's raw caption fragment channel.
func (a *App) Fragments() <-chan string {
	return a.rawFragments
}

// Run drives the pipeline until ctx is cancelled or a worker fails.
// Shutdown is end-of-stream driven: capture disconnects and closes the ring,
// the bridge drains and closes the sink, inference workers observe their
// endpoints close, and the caption loop finalizes the renderer.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()

	a.sendInitialState()
	a.store.Watch(a.onConfigChange)

	g, gctx := errgroup.WithContext(ctx)

	bridge := audio.NewBridge(a.capture.Ring(), a.sink, a.logger)
	g.Go(func() error {
		defer func() {
			a.lifeMu.Lock()
			a.stopping = true
			a.sink.Shutdown()
			a.lifeMu.Unlock()
			a.workers.Wait()
			close(a.fragments)
		}()
		return bridge.Run()
	})

	g.Go(a.captionLoop)
	g.Go(func() error { return a.swapLoop(gctx) })
	g.Go(a.fallbackLoop)
	g.Go(func() error {
		<-gctx.Done()
		a.capture.Shutdown()
		return nil
	})
	g.Go(a.capture.Wait)

	return g.Wait()
}

// SwitchEngine asks the swap coordinator to replace the engine at runtime.
// The audio pipeline keeps running throughout.
func (a *App) SwitchEngine(choice stt.Choice) {
	select {
	case a.swapCh <- choice:
	default:
		a.logger.Warn("engine swap already pending, ignoring request", "engine", choice)
	}
}

// SwitchSource retargets capture and persists the selection.
func (a *App) SwitchSource(src audio.Source) {
	a.capture.SwitchSource(src)
	if err := a.store.Update(func(c *config.Config) {
		c.AudioSource = sourceToConfig(src)
	}); err != nil {
		a.logger.Warn("persist source selection failed", "err", err)
	}
}

// SetCaptionsEnabled toggles caption processing and overlay visibility.
// While disabled, fragments are discarded.
func (a *App) SetCaptionsEnabled(enabled bool) {
	a.enabled.Store(enabled)
	a.enqueueCommand(render.SetVisible(enabled))
}

// CurrentSource reports what is being captured right now (the capture worker
// may have fallen back to the system mix on its own).
func (a *App) CurrentSource() audio.Source {
	return a.capture.CurrentSource()
}

// CurrentEngine reports the running engine variant.
func (a *App) CurrentEngine() stt.Choice {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engineChoice
}

// Sources lists the capturable nodes for the tray UI.
func (a *App) Sources() []audio.Node {
	return a.capture.Nodes()
}

// captionLoop is the renderer-side worker: it owns the caption buffer,
// applies fragments in arrival order, drives the 1Hz expiry tick, and folds
// in corrections and hot-reloaded geometry.
func (a *App) captionLoop() error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-a.ctrl:
			a.pushCommand(cmd)

		case frag, ok := <-a.fragments:
			if !ok {
				a.pushCommand(render.Quit())
				close(a.commands)
				close(a.rawFragments)
				return nil
			}
			if !a.enabled.Load() {
				continue
			}
			a.teeFragment(frag)

			prevBottom := a.bottomLine()
			prevCreated := a.buffer.LinesCreated()
			a.buffer.Push(frag)
			if a.buffer.LinesCreated() > prevCreated && prevBottom != "" {
				a.correctAsync(prevBottom)
			}
			a.pushCaption()

		case <-ticker.C:
			if a.buffer.ExpireTick() {
				a.pushCaption()
			}

		case corr := <-a.corrections:
			if a.buffer.ReplaceText(corr.original, corr.corrected) {
				a.pushCaption()
			}

		case ap := <-a.reconfig:
			a.buffer.UpdateConfig(
				caption.EstimateLineChars(ap.Width, ap.FontSize),
				ap.ExpireDuration(),
			)
			a.buffer.SetMaxLines(ap.MaxLines)
			a.pushCaption()
		}
	}
}

// swapLoop is the engine-swap coordinator. Construction happens outside any
// lock; the endpoint replacement is the only serialized step, so the bridge
// sees at most one chunk delayed by a swap.
func (a *App) swapLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case choice := <-a.swapCh:
			engine, err := a.buildEngine(choice)
			if err != nil {
				a.logger.Error("engine construction failed, keeping current engine",
					"engine", choice, "err", err)
				continue
			}

			ch := make(chan []float32, 8)
			a.lifeMu.Lock()
			if a.stopping {
				a.lifeMu.Unlock()
				engine.Close()
				return nil
			}
			old := a.sink.Replace(ch)
			a.spawnWorkerLocked(engine, ch)
			a.lifeMu.Unlock()
			close(old)

			a.mu.Lock()
			a.engineChoice = choice
			a.mu.Unlock()
			a.logger.Info("engine swapped", "engine", choice)

			if err := a.store.Update(func(c *config.Config) {
				c.Engine = string(choice)
			}); err != nil {
				a.logger.Warn("persist engine choice failed", "err", err)
			}
		}
	}
}

// fallbackLoop surfaces capture-node disappearance: desktop notification,
// tray-visible source state (via the capture worker), persisted config.
func (a *App) fallbackLoop() error {
	for ev := range a.capture.Fallback() {
		a.logger.Warn("capture source lost, now following system mix",
			"node", ev.LostID, "name", ev.LostName)

		body := fmt.Sprintf("%s disappeared; captions now follow the system mix.", ev.LostName)
		if err := a.notify("Caption source lost", body, 5*time.Second); err != nil {
			a.logger.Warn("desktop notification failed", "err", err)
		}

		if err := a.store.Update(func(c *config.Config) {
			c.AudioSource = config.AudioSourceConfig{Type: config.SourceSystemMix}
		}); err != nil {
			a.logger.Warn("persist fallback source failed", "err", err)
		}
	}
	return nil
}

// onConfigChange reacts to external config edits. Only genuinely changed
// values arrive here; appearance geometry is routed to the caption goroutine
// which owns the buffer.
func (a *App) onConfigChange(diff config.Diff, cfg *config.Config) {
	if diff.AppearanceChanged {
		select {
		case a.reconfig <- cfg.Appearance:
		default:
			a.logger.Warn("appearance reload dropped, caption worker busy")
		}
		a.enqueueCommand(render.UpdateAppearance(cfg.Appearance))
	}
	if diff.ModeChanged || diff.EdgeChanged {
		a.enqueueCommand(render.SetMode(cfg.OverlayMode, cfg.ScreenEdge, cfg.Position))
	}
	if diff.LockedChanged {
		a.enqueueCommand(render.SetLocked(cfg.Locked))
	}
	if diff.CorrectionChanged {
		a.configureCorrector(cfg.Correction)
	}
}

// buildEngine constructs the engine for a variant. Execution provider and
// thread count are resolved inside the engine constructor.
func (a *App) buildEngine(choice stt.Choice) (stt.Engine, error) {
	if a.engineBuilder != nil {
		return a.engineBuilder(choice)
	}
	switch choice {
	case stt.ChoiceParakeet:
		dir, err := models.Dir(string(choice))
		if err != nil {
			return nil, err
		}
		return stt.NewParakeet(stt.ParakeetConfig{ModelDir: dir})
	default:
		return nil, fmt.Errorf("unknown engine %q", choice)
	}
}

// spawnWorker starts an inference worker unless shutdown has begun.
func (a *App) spawnWorker(engine stt.Engine, ch <-chan []float32) {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()
	if a.stopping {
		engine.Close()
		return
	}
	a.spawnWorkerLocked(engine, ch)
}

// spawnWorkerLocked must be called with lifeMu held.
func (a *App) spawnWorkerLocked(engine stt.Engine, ch <-chan []float32) {
	a.workers.Add(1)
	go func() {
		defer a.workers.Done()
		stt.RunWorker(engine, ch, a.fragments, a.logger)
	}()
}

// configureCorrector rebuilds the optional line corrector from config.
func (a *App) configureCorrector(cc config.CorrectionConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !cc.Enabled {
		a.corrector = nil
		return
	}
	corrector, err := caption.NewCorrector(caption.CorrectorConfig{
		Host:  cc.OllamaURL,
		Model: cc.Model,
	})
	if err != nil {
		a.logger.Warn("caption corrector disabled", "err", err)
		a.corrector = nil
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := corrector.HealthCheck(ctx); err != nil {
		a.logger.Warn("caption corrector unreachable, will retry per line", "err", err)
	}
	a.corrector = corrector
	a.logger.Info("caption corrector enabled", "model", cc.Model)
}

// correctAsync repairs a completed line off the caption goroutine. Results
// come back through the corrections channel; a line that was evicted in the
// meantime is simply dropped.
func (a *App) correctAsync(line string) {
	a.mu.Lock()
	corrector := a.corrector
	a.mu.Unlock()
	if corrector == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		corrected, err := corrector.Correct(ctx, line)
		if err != nil {
			a.logger.Debug("line correction failed", "err", err)
			return
		}
		if corrected == line {
			return
		}
		select {
		case a.corrections <- correction{original: line, corrected: corrected}:
		default:
		}
	}()
}

// sendInitialState queues the renderer's starting display state; the
// caption loop forwards it once running.
func (a *App) sendInitialState() {
	cfg := a.store.Current()
	a.enqueueCommand(render.SetMode(cfg.OverlayMode, cfg.ScreenEdge, cfg.Position))
	a.enqueueCommand(render.SetLocked(cfg.Locked))
	a.enqueueCommand(render.UpdateAppearance(cfg.Appearance))
	a.enqueueCommand(render.SetVisible(true))
}

// pushCommand delivers a command without ever blocking the caption timer.
// Snapshots are idempotent, so dropping under renderer backpressure is safe.
// Only the caption loop calls this; everyone else goes through
// enqueueCommand so nothing races the channel close at shutdown.
func (a *App) pushCommand(cmd render.Command) {
	select {
	case a.commands <- cmd:
	default:
		a.logger.Debug("renderer busy, dropping command", "kind", cmd.Kind)
	}
}

// enqueueCommand hands a command to the caption loop for forwarding. Safe
// from any goroutine at any time; commands queued after shutdown are
// discarded.
func (a *App) enqueueCommand(cmd render.Command) {
	select {
	case a.ctrl <- cmd:
	default:
		a.logger.Debug("control queue full, dropping command", "kind", cmd.Kind)
	}
}

func (a *App) pushCaption() {
	a.pushCommand(render.SetCaption(a.buffer.DisplayText()))
}

func (a *App) teeFragment(frag string) {
	select {
	case a.rawFragments <- frag:
	default:
	}
}

func (a *App) bottomLine() string {
	lines := a.buffer.Lines()
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1].Text
}

// sourceFromConfig maps the persisted source record onto a capture target.
func sourceFromConfig(sc config.AudioSourceConfig) audio.Source {
	if sc.Type == config.SourceApplication {
		return audio.Source{
			Kind:     audio.SourceApplication,
			NodeID:   sc.NodeID,
			NodeName: sc.NodeName,
		}
	}
	return audio.SystemMix()
}

// sourceToConfig maps a capture target back onto the persisted record.
func sourceToConfig(src audio.Source) config.AudioSourceConfig {
	if src.Kind == audio.SourceApplication {
		return config.AudioSourceConfig{
			Type:     config.SourceApplication,
			NodeID:   src.NodeID,
			NodeName: src.NodeName,
		}
	}
	return config.AudioSourceConfig{Type: config.SourceSystemMix}
}
