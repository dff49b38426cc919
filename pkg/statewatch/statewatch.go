// Package statewatch reloads the organism state when the state file is
// changed on disk.
package statewatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/aion/internal/kernel"
)

// maxStateSize bounds the files we hash.
const maxStateSize = 1 << 20

// Config for the state file watcher
type Config struct {
	Path string
	// Debounce coalesces bursts of writes into one reload.
	Debounce time.Duration
}

// Submitter accepts a request and waits for its response.
type Submitter interface {
	Submit(ctx context.Context, req kernel.Request) (kernel.Response, error)
}

// Watcher submits a load request whenever the content of the state file
// changes.
type Watcher struct {
	cfg     Config
	sub     Submitter
	log     *logrus.Logger
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	lastHash string
}

// New creates a Watcher on the directory holding cfg.Path.
func New(cfg Config, sub Submitter, log *logrus.Logger) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 200 * time.Millisecond
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, err
	}
	cfg.Path = abs

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}

	w := &Watcher{
		cfg:     cfg,
		sub:     sub,
		log:     log,
		watcher: watcher,
	}
	// Baseline, so a file loaded at startup is not reloaded.
	if hash, ok := hashFile(abs); ok {
		w.lastHash = hash
	}
	return w, nil
}

// hashFile returns the sha256 of a regular file.
func hashFile(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() > maxStateSize {
		return "", false
	}

	file, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", false
	}
	return hex.EncodeToString(hasher.Sum(nil)), true
}

// Baseline records data as content the supervisor wrote itself, so the
// change it causes on disk is not loaded back.
func (w *Watcher) Baseline(data []byte) {
	sum := sha256.Sum256(data)
	w.mu.Lock()
	w.lastHash = hex.EncodeToString(sum[:])
	w.mu.Unlock()
}

// Start watches until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	w.log.WithField("path", w.cfg.Path).Info("Starting state file watcher")

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			w.log.Info("State file watcher stopping")
			w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.cfg.Path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			debounce = time.After(w.cfg.Debounce)

		case <-debounce:
			debounce = nil
			w.reload(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Error("Watcher error")
		}
	}
}

// reload submits a load if the file content differs from the last one seen.
func (w *Watcher) reload(ctx context.Context) {
	hash, ok := hashFile(w.cfg.Path)
	if !ok {
		return
	}
	w.mu.Lock()
	if hash == w.lastHash {
		w.mu.Unlock()
		return
	}
	w.lastHash = hash
	w.mu.Unlock()

	entry := w.log.WithFields(logrus.Fields{"path": w.cfg.Path, "sha256": hash[:12]})
	resp, err := w.sub.Submit(ctx, kernel.Request{Op: kernel.OpLoad, Source: "statewatch"})
	if err != nil {
		entry.WithError(err).Warn("State reload rejected")
		return
	}
	entry.WithField("tick", resp.Tick).Info(resp.Message)
}
