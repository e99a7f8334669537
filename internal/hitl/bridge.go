// Package hitl is the human-in-the-loop bridge. A suspended run waits on
// three filesystem/env signal channels, checked in a fixed order on a
// poll interval. A directory watcher wakes the poll early when a signal
// file lands, but the poll remains authoritative: a watcher failure only
// costs latency, never correctness. The bridge never touches a terminal.
package hitl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"pacts/internal/telemetry"
)

// ErrTimeout marks a wait that expired with no human signal.
var ErrTimeout = errors.New("no human signal before deadline")

// Config names the three channels and the wait bounds.
type Config struct {
	Timeout      time.Duration
	PollInterval time.Duration
	EnvVar       string // e.g. PACTS_2FA_CODE
	ContentFile  string // read then deleted
	PresenceFile string // existence is the signal; deleted on read
}

// Signal is a received human signal. Input carries the provided value for
// the env and content-file channels; the presence file carries none.
type Signal struct {
	Channel string `json:"channel"`
	Input   string `json:"input,omitempty"`
}

// Bridge waits for human signals. Safe for use by parallel runs; each
// Await builds its own watcher.
type Bridge struct {
	cfg  Config
	sink *telemetry.Sink
}

// New builds a bridge; zero config fields fall back to the documented
// defaults.
func New(cfg Config, sink *telemetry.Sink) *Bridge {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Minute
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.EnvVar == "" {
		cfg.EnvVar = "PACTS_2FA_CODE"
	}
	if cfg.ContentFile == "" {
		cfg.ContentFile = filepath.Join("hitl", "2fa_code.txt")
	}
	if cfg.PresenceFile == "" {
		cfg.PresenceFile = filepath.Join("hitl", "continue.ok")
	}
	if sink == nil {
		sink = telemetry.NewSink(nil)
	}
	return &Bridge{cfg: cfg, sink: sink}
}

// Await blocks until a signal arrives, the timeout expires (ErrTimeout),
// or ctx is cancelled.
func (b *Bridge) Await(ctx context.Context, reqID string, stepIdx int) (*Signal, error) {
	started := time.Now()
	deadline := time.NewTimer(b.cfg.Timeout)
	defer deadline.Stop()

	wake := b.watch(reqID, stepIdx)
	defer wake.close()

	b.sink.Event(telemetry.TagHITL, reqID, stepIdx, 0, 0, "waiting for human",
		zap.Duration("timeout", b.cfg.Timeout))

	for {
		if sig := b.check(); sig != nil {
			b.sink.Incr("hitl_signal_" + sig.Channel)
			b.sink.Event(telemetry.TagHITL, reqID, stepIdx, 0, time.Since(started),
				"human signal received", zap.String("channel", sig.Channel))
			return sig, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			b.sink.Incr("hitl_timeout")
			return nil, ErrTimeout
		case <-wake.events:
			// A file landed; loop around and re-check immediately.
		case <-time.After(b.cfg.PollInterval):
		}
	}
}

// check probes the channels in their documented order.
func (b *Bridge) check() *Signal {
	if v := os.Getenv(b.cfg.EnvVar); v != "" {
		return &Signal{Channel: "env", Input: v}
	}

	if data, err := os.ReadFile(b.cfg.ContentFile); err == nil {
		_ = os.Remove(b.cfg.ContentFile)
		return &Signal{Channel: "content_file", Input: strings.TrimSpace(string(data))}
	}

	if _, err := os.Stat(b.cfg.PresenceFile); err == nil {
		_ = os.Remove(b.cfg.PresenceFile)
		return &Signal{Channel: "presence_file"}
	}
	return nil
}

// waker wraps the optional fsnotify watcher.
type waker struct {
	watcher *fsnotify.Watcher
	events  chan struct{}
	done    chan struct{}
}

func (w *waker) close() {
	close(w.done)
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
}

// watch sets up a directory watcher over the signal-file directories. Any
// watcher error degrades to pure polling.
func (b *Bridge) watch(reqID string, stepIdx int) *waker {
	w := &waker{events: make(chan struct{}, 1), done: make(chan struct{})}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		b.sink.Warn(telemetry.TagHITL, reqID, stepIdx, 0, "fsnotify unavailable, polling only",
			zap.Error(err))
		return w
	}
	w.watcher = watcher

	dirs := map[string]bool{}
	for _, f := range []string{b.cfg.ContentFile, b.cfg.PresenceFile} {
		dir := filepath.Dir(f)
		if dirs[dir] {
			continue
		}
		dirs[dir] = true
		_ = os.MkdirAll(dir, 0o755)
		if err := watcher.Add(dir); err != nil {
			b.sink.Warn(telemetry.TagHITL, reqID, stepIdx, 0, "watch failed, polling only",
				zap.String("dir", dir), zap.Error(err))
		}
	}

	go func() {
		for {
			select {
			case <-w.done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				select {
				case w.events <- struct{}{}:
				default:
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return w
}
