package converter

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long a watched file must stay quiet before the
// conversion is rerun.
const DefaultDebounce = 300 * time.Millisecond

// Watcher reruns a conversion whenever the input or a pattern file changes.
type Watcher struct {
	Converter *Converter
	Input     string
	Output    string
	Debounce  time.Duration

	// OnRun, when set, receives the outcome of every run
	OnRun func(*Result, error)
}

// NewWatcher returns a watcher for one input/output pair.
func NewWatcher(c *Converter, input, output string) *Watcher {
	return &Watcher{
		Converter: c,
		Input:     input,
		Output:    output,
		Debounce:  DefaultDebounce,
	}
}

// Run converts once, then again after every debounced change, until ctx is
// cancelled. Conversion errors are logged and do not stop the watch.
func (w *Watcher) Run(ctx context.Context) error {
	logger := w.Converter.Logger

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	// Editors often replace files instead of writing them in place, so the
	// parent directories are watched and events are matched by path.
	watched := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, p := range w.paths() {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		watched[abs] = true
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		dirs[dir] = true
		if err := fw.Add(dir); err != nil {
			if abs == w.inputPath() {
				return fmt.Errorf("watching %s: %w", dir, err)
			}
			logger.Warn("cannot watch pattern file directory, ignoring",
				zap.String("path", p),
				zap.Error(err))
		}
	}

	w.runOnce(ctx)

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("watch stopped", zap.String("input", w.Input))
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !watched[abs] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug("watched file changed",
				zap.String("path", event.Name),
				zap.String("op", event.Op.String()))
			timer.Reset(debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("file watcher error", zap.Error(err))

		case <-timer.C:
			w.runOnce(ctx)
		}
	}
}

func (w *Watcher) inputPath() string {
	abs, err := filepath.Abs(w.Input)
	if err != nil {
		return w.Input
	}
	return abs
}

func (w *Watcher) paths() []string {
	paths := []string{w.Input}
	filters := w.Converter.Config.Filters
	if filters.OnlyFile != "" {
		paths = append(paths, filters.OnlyFile)
	}
	if filters.SkipFile != "" {
		paths = append(paths, filters.SkipFile)
	}
	return paths
}

func (w *Watcher) runOnce(ctx context.Context) {
	res, err := w.Converter.Run(ctx, w.Input, w.Output)
	if err != nil {
		w.Converter.Logger.Error("conversion failed",
			zap.String("input", w.Input),
			zap.Error(err))
	}
	if w.OnRun != nil {
		w.OnRun(res, err)
	}
}
