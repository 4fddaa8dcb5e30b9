// Package ingest replays event log files into the run store, once per
// distinct file content.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Gracecr/sacred/internal/digest"
	"github.com/Gracecr/sacred/internal/events"
	"github.com/Gracecr/sacred/internal/observer"
	"github.com/Gracecr/sacred/internal/state"
	"github.com/Gracecr/sacred/pkg/core"
	"github.com/fsnotify/fsnotify"
)

// Result describes the outcome of ingesting one file.
type Result struct {
	Path   string
	Token  string
	Events int
	// Resumed is set when only events appended since the previous ingest
	// of the same path were replayed.
	Resumed bool
	Skipped bool
}

// ExtraObservers returns observers to run next to the SQL observer for
// one file. It may return nil.
type ExtraObservers func(ctx context.Context) ([]core.RunObserver, error)

// Ingester replays event logs into a store.
type Ingester struct {
	store  *state.Store
	logger *slog.Logger
	extra  ExtraObservers
}

// New creates an ingester writing into store.
func New(store *state.Store, logger *slog.Logger, extra ExtraObservers) *Ingester {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Ingester{store: store, logger: logger, extra: extra}
}

// File replays the event log at path inside its own session. Logs whose
// content was ingested before are skipped. A log that grew since its last
// ingest, with the earlier events unchanged, continues the run it created
// and replays only the new events; any other change replays the whole log.
// The session is committed only if every event was accepted.
func (in *Ingester) File(ctx context.Context, path string) (*Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	sum, err := digest.File(abs)
	if err != nil {
		return nil, err
	}

	evs, err := events.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	res := &Result{Path: abs, Events: len(evs)}
	err = in.store.InSession(ctx, func(sess *state.Session) error {
		seen, err := sess.IsIngested(ctx, sum)
		if err != nil {
			return err
		}
		if seen {
			res.Skipped = true
			return nil
		}

		observers := []core.RunObserver{observer.New(sess, observer.WithLogger(in.logger))}
		if in.extra != nil {
			extra, err := in.extra(ctx)
			if err != nil {
				return fmt.Errorf("failed to create observers: %w", err)
			}
			observers = append(observers, extra...)
		}
		d := events.NewDispatcher(in.logger, observers...)

		pending := evs
		progress, found, err := sess.IngestProgress(ctx, abs)
		if err != nil {
			return err
		}
		if found && progress.Events <= len(evs) && progress.PrefixDigest == eventsDigest(evs[:progress.Events]) {
			run, err := sess.GetRun(ctx, progress.Token)
			switch {
			case errors.Is(err, core.ErrRunNotFound):
				in.logger.Debug("resumed run no longer exists, replaying log",
					slog.String("path", abs), slog.String("run_token", progress.Token))
			case err != nil:
				return err
			default:
				if err := d.Resume(ctx, run.Token, run.StartTime); err != nil {
					return err
				}
				pending = evs[progress.Events:]
				res.Resumed = true
			}
		}

		if err := d.Replay(ctx, pending); err != nil {
			return err
		}
		res.Token = d.Token()
		if res.Resumed && len(pending) == 0 {
			res.Skipped = true
		}

		if res.Token != "" {
			if err := sess.SaveIngestProgress(ctx, state.IngestProgress{
				Path:         abs,
				Token:        res.Token,
				Events:       len(evs),
				PrefixDigest: eventsDigest(evs),
			}); err != nil {
				return err
			}
		}
		_, err = sess.MarkIngested(ctx, abs, sum, res.Token)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ingest %s: %w", filepath.Base(abs), err)
	}

	switch {
	case res.Skipped:
		in.logger.Debug("event log already ingested", slog.String("path", abs))
	case res.Resumed:
		in.logger.Info("resumed event log",
			slog.String("path", abs),
			slog.String("run_token", res.Token),
			slog.Int("events", res.Events),
		)
	default:
		in.logger.Info("ingested event log",
			slog.String("path", abs),
			slog.String("run_token", res.Token),
			slog.Int("events", res.Events),
		)
	}
	return res, nil
}

// eventsDigest fingerprints a sequence of decoded log events independently
// of how the log file laid them out.
func eventsDigest(evs []events.Event) string {
	var buf bytes.Buffer
	for _, ev := range evs {
		buf.WriteString(string(ev.Type))
		buf.WriteByte(0)
		buf.Write(ev.Payload)
		buf.WriteByte('\n')
	}
	return digest.Bytes(buf.Bytes())
}

// Dir ingests every event log below dir, in lexical order.
func (in *Ingester) Dir(ctx context.Context, dir string) ([]*Result, error) {
	var results []*Result
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !events.IsEventLog(path) {
			return nil
		}
		res, err := in.File(ctx, path)
		if err != nil {
			return err
		}
		results = append(results, res)
		return nil
	})
	return results, err
}

// Watch ingests event logs created or written below dir until ctx is
// cancelled. Writes to the same file are coalesced within debounce. Failed
// files are logged and retried on their next write. onIngest, if set, is
// called for each newly ingested run.
func (in *Ingester) Watch(ctx context.Context, dir string, debounce time.Duration, onIngest func(*Result)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watchDirRecursive(watcher, dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	in.logger.Info("watching for event logs", slog.String("dir", dir))

	ready := make(chan string)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if isDir(event.Name) {
					if err := watchDirRecursive(watcher, event.Name); err != nil {
						in.logger.Error("failed to watch directory", slog.String("dir", event.Name), slog.Any("error", err))
					}
					continue
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !events.IsEventLog(event.Name) {
				continue
			}

			name := event.Name
			if t, ok := timers[name]; ok {
				t.Stop()
			}
			timers[name] = time.AfterFunc(debounce, func() {
				select {
				case ready <- name:
				case <-ctx.Done():
				}
			})

		case name := <-ready:
			delete(timers, name)
			res, err := in.File(ctx, name)
			if err != nil {
				in.logger.Error("ingest failed", slog.String("path", name), slog.Any("error", err))
				continue
			}
			if !res.Skipped && onIngest != nil {
				onIngest(res)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			in.logger.Error("watcher error", slog.Any("error", err))
		}
	}
}

// watchDirRecursive adds a directory and all subdirectories to the watcher.
func watchDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
