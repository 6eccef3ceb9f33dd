// Package capture acquires decodable QR payloads for the stamp engine. A
// Negotiator walks the camera capability profiles for the device in order,
// falls back to image upload when no profile starts, and from there to manual
// text entry.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kkkkikiki/stampcard/internal/engine"
	"github.com/kkkkikiki/stampcard/internal/metrics"
)

// State is the negotiator state
type State int

const (
	Idle State = iota
	Negotiating
	Scanning
	Exhausted
	FileFallback
	ManualFallback
	Stopped
)

var stateNames = [...]string{"Idle", "Negotiating", "Scanning", "Exhausted", "FileFallback", "ManualFallback", "Stopped"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// DefaultAttemptTimeout bounds a single camera start
const DefaultAttemptTimeout = 10 * time.Second

// ErrStopped is returned by operations on a stopped negotiator
var ErrStopped = errors.New("capture stopped")

// Capabilities is what the device probe reports
type Capabilities struct {
	HasCamera bool
	Platform  string
}

// Prober inspects the device before any camera is touched
type Prober interface {
	Probe(ctx context.Context) (Capabilities, error)
}

// Camera starts live capture for a profile. Open may return a non-nil handle
// together with an error when the device was acquired but could not be
// configured; the negotiator releases it.
type Camera interface {
	Open(ctx context.Context, p Profile) (Handle, error)
}

// Handle is a running camera. Decodes is closed when the camera goes away.
type Handle interface {
	Decodes() <-chan string
	Release() error
}

// Sink receives decoded payloads, normally by scanning them with the engine
type Sink interface {
	Submit(ctx context.Context, payload string) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, payload string) error

// Submit implements Sink
func (f SinkFunc) Submit(ctx context.Context, payload string) error {
	return f(ctx, payload)
}

// Options configures a Negotiator
type Options struct {
	Table          Table
	AttemptTimeout time.Duration
	Logger         *zap.Logger
}

// Negotiator is the capture state machine. At most one payload is being
// resolved by the sink at a time; decodes arriving meanwhile are dropped.
type Negotiator struct {
	prober  Prober
	camera  Camera
	sink    Sink
	table   Table
	timeout time.Duration
	logger  *zap.Logger

	mu        sync.Mutex
	state     State
	profile   Profile
	handle    Handle
	cancelNeg context.CancelFunc
	stopPump  context.CancelFunc
	pumpDone  chan struct{}

	busy     atomic.Bool
	inflight sync.WaitGroup
}

// NewNegotiator creates an idle negotiator
func NewNegotiator(prober Prober, camera Camera, sink Sink, opts Options) *Negotiator {
	if opts.Table == nil {
		opts.Table = DefaultTable
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Negotiator{
		prober:  prober,
		camera:  camera,
		sink:    sink,
		table:   opts.Table,
		timeout: opts.AttemptTimeout,
		logger:  opts.Logger,
	}
}

// State returns the current state
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Profile returns the profile the camera is running with, if scanning
func (n *Negotiator) Profile() (Profile, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.profile, n.state == Scanning
}

func (n *Negotiator) setStateLocked(s State) {
	n.logger.Debug("Capture state changed", zap.Stringer("from", n.state), zap.Stringer("to", s))
	n.state = s
}

// Start probes the device and tries each capability profile in order until a
// camera starts. It returns nil once scanning. When no camera can be started
// it ends in FileFallback and returns a CaptureUnavailable error; that is a
// tier change, not a failure of the negotiator.
func (n *Negotiator) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.state != Idle {
		st := n.state
		n.mu.Unlock()
		return fmt.Errorf("negotiator already started (%s)", st)
	}
	ctx, cancel := context.WithCancel(ctx)
	n.cancelNeg = cancel
	n.setStateLocked(Negotiating)
	n.mu.Unlock()

	caps, err := n.prober.Probe(ctx)
	if err != nil {
		n.logger.Warn("Device probe failed, skipping live capture", zap.Error(err))
		return n.fallBack(fmt.Errorf("probe failed: %w", err))
	}
	if !caps.HasCamera {
		n.logger.Info("No camera on device", zap.String("platform", caps.Platform))
		return n.fallBack(errors.New("no camera"))
	}

	for _, p := range n.table.For(caps.Platform) {
		if ctx.Err() != nil {
			break
		}
		h, err := n.attempt(ctx, p)
		if err != nil {
			n.logger.Info("Camera profile failed", zap.String("profile", p.Name), zap.Error(err))
			continue
		}
		if n.bind(ctx, p, h) {
			n.logger.Info("Camera started", zap.String("profile", p.Name))
			return nil
		}
		n.release(h, p)
		return ErrStopped
	}

	return n.exhaust(errors.New("every camera profile failed"))
}

// exhaust passes through Exhausted to FileFallback in one step, so a
// concurrent Stop is never overwritten
func (n *Negotiator) exhaust(cause error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == Stopped {
		return ErrStopped
	}
	n.setStateLocked(Exhausted)
	n.setStateLocked(FileFallback)
	return &engine.Error{Kind: engine.KindCaptureUnavailable, Err: cause}
}

// attempt starts one profile within the attempt timeout. A handle that shows
// up after the timeout, or together with an error, is released.
func (n *Negotiator) attempt(ctx context.Context, p Profile) (Handle, error) {
	actx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	type opened struct {
		h   Handle
		err error
	}
	done := make(chan opened, 1)
	go func() {
		h, err := n.camera.Open(actx, p)
		done <- opened{h, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			metrics.RecordCaptureAttempt(p.Name, "failure")
			if o.h != nil {
				n.release(o.h, p)
			}
			return nil, o.err
		}
		if o.h == nil {
			metrics.RecordCaptureAttempt(p.Name, "failure")
			return nil, errors.New("camera returned no handle")
		}
		metrics.RecordCaptureAttempt(p.Name, "success")
		return o.h, nil
	case <-actx.Done():
		metrics.RecordCaptureAttempt(p.Name, "timeout")
		go func() {
			if o := <-done; o.h != nil {
				n.release(o.h, p)
			}
		}()
		return nil, fmt.Errorf("camera start: %w", actx.Err())
	}
}

// bind moves to Scanning with h unless the negotiator was stopped meanwhile
func (n *Negotiator) bind(ctx context.Context, p Profile, h Handle) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != Negotiating {
		return false
	}
	pctx, stop := context.WithCancel(context.WithoutCancel(ctx))
	n.profile = p
	n.handle = h
	n.stopPump = stop
	n.pumpDone = make(chan struct{})
	n.setStateLocked(Scanning)
	go n.pump(pctx, h, p, n.pumpDone)
	return true
}

func (n *Negotiator) fallBack(cause error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == Stopped {
		return ErrStopped
	}
	n.setStateLocked(FileFallback)
	return &engine.Error{Kind: engine.KindCaptureUnavailable, Err: cause}
}

func (n *Negotiator) pump(ctx context.Context, h Handle, p Profile, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case text, ok := <-h.Decodes():
			if !ok {
				n.lost(h, p)
				return
			}
			n.dispatch(ctx, text)
		}
	}
}

// lost handles a camera that went away while scanning
func (n *Negotiator) lost(h Handle, p Profile) {
	n.mu.Lock()
	if n.handle != h || n.state != Scanning {
		n.mu.Unlock()
		return
	}
	n.handle = nil
	n.setStateLocked(FileFallback)
	n.mu.Unlock()

	n.logger.Warn("Camera disconnected, falling back to file upload", zap.String("profile", p.Name))
	n.release(h, p)
}

// dispatch hands a camera decode to the sink without blocking the pump
func (n *Negotiator) dispatch(ctx context.Context, text string) {
	if !n.busy.CompareAndSwap(false, true) {
		metrics.RecordDroppedDecode()
		n.logger.Debug("Dropped decode while another is resolving")
		return
	}
	n.logger.Debug("Decoded", zap.String("payload", text))
	n.inflight.Add(1)
	go func() {
		defer n.inflight.Done()
		defer n.busy.Store(false)
		if err := n.sink.Submit(ctx, text); err != nil {
			n.logger.Info("Scan rejected", zap.Error(err))
		}
	}()
}

// submit resolves a payload synchronously under the re-entrancy guard
func (n *Negotiator) submit(ctx context.Context, text string) error {
	if !n.busy.CompareAndSwap(false, true) {
		metrics.RecordDroppedDecode()
		return &engine.Error{Kind: engine.KindDuplicateSubmission}
	}
	defer n.busy.Store(false)
	return n.sink.Submit(ctx, text)
}

// SubmitFile decodes the QR code in an uploaded image and submits it. Only
// available in FileFallback.
func (n *Negotiator) SubmitFile(ctx context.Context, r io.Reader) error {
	if st := n.State(); st != FileFallback {
		return fmt.Errorf("file upload not available in %s", st)
	}
	text, err := DecodeImage(r, true)
	if err != nil {
		return &engine.Error{Kind: engine.KindInvalidPayload, Err: err}
	}
	return n.submit(ctx, text)
}

// DegradeToManual switches from file upload to manual entry
func (n *Negotiator) DegradeToManual() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != FileFallback {
		return fmt.Errorf("manual entry not available in %s", n.state)
	}
	n.setStateLocked(ManualFallback)
	return nil
}

// SubmitText submits a manually entered payload. Only available in
// ManualFallback.
func (n *Negotiator) SubmitText(ctx context.Context, text string) error {
	if st := n.State(); st != ManualFallback {
		return fmt.Errorf("manual entry not available in %s", st)
	}
	return n.submit(ctx, text)
}

// Stop ends capture. The camera is released before Stop returns and any
// payload being resolved from a camera decode is cancelled and waited for.
func (n *Negotiator) Stop() {
	n.mu.Lock()
	if n.state == Stopped {
		n.mu.Unlock()
		return
	}
	n.setStateLocked(Stopped)
	cancelNeg, stopPump, done := n.cancelNeg, n.stopPump, n.pumpDone
	h, p := n.handle, n.profile
	n.handle = nil
	n.mu.Unlock()

	if cancelNeg != nil {
		cancelNeg()
	}
	if stopPump != nil {
		stopPump()
		<-done
	}
	if h != nil {
		n.release(h, p)
	}
	n.inflight.Wait()
}

func (n *Negotiator) release(h Handle, p Profile) {
	if err := h.Release(); err != nil {
		n.logger.Warn("Camera release failed", zap.String("profile", p.Name), zap.Error(err))
	}
}
