package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DirCamera is a camera backed by a directory of still frames written by an
// external grabber. Frames for a facing live in a subdirectory named after it
// ("environment", "user"); profiles without a facing read the root. Each
// frame is decoded once and removed.
type DirCamera struct {
	Root   string
	Logger *zap.Logger
}

// Open implements Camera
func (c *DirCamera) Open(ctx context.Context, p Profile) (Handle, error) {
	dir := c.Root
	if p.Constraints.Facing != "" {
		dir = filepath.Join(c.Root, p.Constraints.Facing)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("no %q camera: %w", p.Constraints.Facing, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("no %q camera: %s is not a directory", p.Constraints.Facing, dir)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &dirHandle{
		dir:     dir,
		profile: p,
		logger:  logger,
		decodes: make(chan string),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go h.run()
	return h, nil
}

type dirHandle struct {
	dir     string
	profile Profile
	logger  *zap.Logger

	decodes  chan string
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (h *dirHandle) Decodes() <-chan string { return h.decodes }

func (h *dirHandle) Release() error {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
	return nil
}

func (h *dirHandle) run() {
	defer close(h.done)
	defer close(h.decodes)

	ticker := time.NewTicker(h.profile.FrameInterval())
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
		}

		text, err := h.nextFrame()
		if err != nil {
			if !errors.Is(err, ErrNoCode) {
				h.logger.Debug("Frame skipped", zap.String("dir", h.dir), zap.Error(err))
			}
			continue
		}
		if text == "" {
			continue
		}
		select {
		case h.decodes <- text:
		case <-h.stop:
			return
		}
	}
}

// nextFrame decodes and removes the oldest frame, returning "" when there is
// none
func (h *dirHandle) nextFrame() (string, error) {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return "", err
	}
	var frames []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			frames = append(frames, e.Name())
		}
	}
	if len(frames) == 0 {
		return "", nil
	}
	sort.Strings(frames)

	path := filepath.Join(h.dir, frames[0])
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	text, err := DecodeImage(f, h.profile.Settings.TryHarder)
	f.Close()
	if rmErr := os.Remove(path); rmErr != nil {
		h.logger.Warn("Failed to remove frame", zap.String("path", path), zap.Error(rmErr))
	}
	return text, err
}

// StaticProber reports fixed capabilities
type StaticProber Capabilities

// Probe implements Prober
func (p StaticProber) Probe(context.Context) (Capabilities, error) {
	return Capabilities(p), nil
}

// DirProber reports a camera when the frame directory exists
type DirProber struct {
	Root     string
	Platform string
}

// Probe implements Prober
func (p DirProber) Probe(context.Context) (Capabilities, error) {
	caps := Capabilities{Platform: p.Platform}
	if p.Root == "" {
		return caps, nil
	}
	info, err := os.Stat(p.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return caps, nil
		}
		return caps, err
	}
	caps.HasCamera = info.IsDir()
	return caps, nil
}
