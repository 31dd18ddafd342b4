package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/screencast/internal/logging"
)

type watchedConfig struct {
	Name  string `toml:"name"`
	Value int    `toml:"value"`
}

func loadWatched(path string) (watchedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return watchedConfig{}, err
	}
	var cfg watchedConfig
	err = toml.Unmarshal(data, &cfg)
	return cfg, err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startWatcher[T any](t *testing.T, path string, loader func(string) (T, error), opts ...WatcherOption[T]) *Watcher[T] {
	t.Helper()
	opts = append([]WatcherOption[T]{WithDebounce[T](50 * time.Millisecond)}, opts...)
	w := NewConfigWatcher(path, loader, quietLogger(), opts...)
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.toml")
	write(t, path, "name = \"initial\"\nvalue = 1\n")

	w := startWatcher(t, path, loadWatched)
	received := make(chan watchedConfig, 4)
	w.OnReload(func(cfg watchedConfig) { received <- cfg })

	write(t, path, "name = \"updated\"\nvalue = 2\n")

	select {
	case cfg := <-received:
		if cfg.Name != "updated" || cfg.Value != 2 {
			t.Errorf("reloaded = %+v", cfg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload")
	}
}

func TestWatcherSeesReplacedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.toml")
	write(t, path, "name = \"old\"\n")

	w := startWatcher(t, path, loadWatched)
	received := make(chan watchedConfig, 4)
	w.OnReload(func(cfg watchedConfig) { received <- cfg })

	tmp := filepath.Join(dir, "watched.toml.tmp")
	write(t, tmp, "name = \"renamed\"\n")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-received:
		if cfg.Name != "renamed" {
			t.Errorf("reloaded = %+v", cfg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload after rename")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.toml")
	write(t, path, "name = \"a\"\n")

	w := startWatcher(t, path, loadWatched)
	var calls atomic.Int32
	w.OnReload(func(watchedConfig) { calls.Add(1) })

	write(t, filepath.Join(dir, "other.toml"), "name = \"b\"\n")
	time.Sleep(200 * time.Millisecond)

	if n := calls.Load(); n != 0 {
		t.Errorf("handler called %d times for an unrelated file", n)
	}
}

func TestWatcherDebounce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.toml")
	write(t, path, "value = 0\n")

	w := startWatcher(t, path, loadWatched, WithDebounce[watchedConfig](150*time.Millisecond))
	var calls atomic.Int32
	var last atomic.Int64
	w.OnReload(func(cfg watchedConfig) {
		calls.Add(1)
		last.Store(int64(cfg.Value))
	})

	for i := 1; i <= 5; i++ {
		write(t, path, "value = "+string(rune('0'+i))+"\n")
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond)

	if n := calls.Load(); n != 1 {
		t.Errorf("handler called %d times, want 1", n)
	}
	if v := last.Load(); v != 5 {
		t.Errorf("last value = %d, want 5", v)
	}
}

func TestWatcherUnsubscribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.toml")
	write(t, path, "value = 1\n")

	w := startWatcher(t, path, loadWatched)
	var kept, removed atomic.Int32
	w.OnReload(func(watchedConfig) { kept.Add(1) })
	unsub := w.OnReload(func(watchedConfig) { removed.Add(1) })
	unsub()

	write(t, path, "value = 2\n")
	deadline := time.Now().Add(2 * time.Second)
	for kept.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if kept.Load() == 0 {
		t.Fatal("remaining handler not called")
	}
	if removed.Load() != 0 {
		t.Error("unsubscribed handler was called")
	}
}

func TestWatcherErrorHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.toml")
	write(t, path, "value = 1\n")

	errs := make(chan error, 4)
	w := startWatcher(t, path, loadWatched, WithErrorHandler[watchedConfig](func(err error) { errs <- err }))
	var calls atomic.Int32
	w.OnReload(func(watchedConfig) { calls.Add(1) })

	write(t, path, "value = [broken\n")

	select {
	case err := <-errs:
		if err == nil {
			t.Error("expected a parse error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error handler not called")
	}
	if calls.Load() != 0 {
		t.Error("handler should not run when loading fails")
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.toml")
	write(t, path, "value = 1\n")

	w := NewConfigWatcher(path, loadWatched, quietLogger())
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestWatcherStartFailsForMissingDir(t *testing.T) {
	w := NewConfigWatcher(filepath.Join(t.TempDir(), "missing", "x.toml"), loadWatched, quietLogger())
	if err := w.Start(); err == nil {
		_ = w.Stop()
		t.Fatal("Start() should fail when the directory does not exist")
	}
}

func TestWatchLoggingAppliesLevels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "screencast.toml")
	write(t, path, "[logging]\nlevel = \"info\"\n")

	base := logging.Config{Level: "info", Format: "text"}
	logging.Initialize(base)
	logger := logging.GetLogger("watcher-test")

	w, err := WatchLogging(path, base, quietLogger())
	if err != nil {
		t.Fatalf("WatchLogging() error = %v", err)
	}
	defer w.Stop()

	applied := make(chan logging.Config, 1)
	w.OnReload(func(cfg logging.Config) { applied <- cfg })

	write(t, path, "[logging]\nwatcher-test = \"debug\"\n")

	select {
	case cfg := <-applied:
		if cfg.Modules["watcher-test"] != "debug" {
			t.Fatalf("reloaded = %+v", cfg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload")
	}

	deadline := time.Now().Add(time.Second)
	for !logger.Enabled(t.Context(), slog.LevelDebug) {
		if time.Now().After(deadline) {
			t.Fatal("module level not lowered to debug")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
