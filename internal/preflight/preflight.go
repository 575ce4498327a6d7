// Package preflight checks the robot's external dependencies before a run.
package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/order-robot/internal/db"
	"github.com/jonathan/order-robot/internal/fetch"
)

// DefaultProbeTimeout bounds each probe.
const DefaultProbeTimeout = 10 * time.Second

// Probe is one named check. Run returns a short detail on success.
type Probe struct {
	Name string
	Run  func(ctx context.Context) (string, error)
}

// Result is the outcome of one probe.
type Result struct {
	Name    string
	OK      bool
	Detail  string
	Elapsed time.Duration
}

// FailedError reports how many probes failed.
type FailedError struct {
	Failed int
	Total  int
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("%d of %d checks failed", e.Failed, e.Total)
}

// Run executes probes concurrently, each bounded by timeout, and returns the
// results in probe order. A failing probe never cancels the others.
func Run(ctx context.Context, probes []Probe, timeout time.Duration) []Result {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	results := make([]Result, len(probes))

	var g errgroup.Group
	for i, probe := range probes {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			detail, err := probe.Run(probeCtx)
			results[i] = Result{Name: probe.Name, OK: err == nil, Detail: detail, Elapsed: time.Since(start)}
			if err != nil {
				results[i].Detail = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Report prints one line per result and returns a FailedError when any failed.
func Report(w io.Writer, results []Result) error {
	failed := 0
	for _, r := range results {
		mark := "✓"
		if !r.OK {
			mark = "✗"
			failed++
		}
		fmt.Fprintf(w, "  %s %-12s %s (%s)\n", mark, r.Name, r.Detail, r.Elapsed.Round(time.Millisecond))
	}
	fmt.Fprintf(w, "\nResults: %d passed, %d failed\n", len(results)-failed, failed)
	if failed > 0 {
		return &FailedError{Failed: failed, Total: len(results)}
	}
	return nil
}

// OrdersURL checks that the orders file can be downloaded.
func OrdersURL(url string, opts *fetch.Options) Probe {
	return Probe{Name: "orders", Run: func(ctx context.Context) (string, error) {
		result, err := fetch.URL(ctx, url, opts)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s: HTTP %d, %d bytes", url, result.StatusCode, len(result.Body)), nil
	}}
}

// Browser checks that a Chrome binary is available. An explicit execPath must
// exist; otherwise the rod launcher's search path and PATH are consulted.
func Browser(execPath string) Probe {
	return Probe{Name: "browser", Run: func(context.Context) (string, error) {
		if execPath != "" {
			info, err := os.Stat(execPath)
			if err != nil {
				return "", fmt.Errorf("chrome binary: %w", err)
			}
			if info.IsDir() {
				return "", fmt.Errorf("chrome binary %s is a directory", execPath)
			}
			return execPath, nil
		}
		if path, ok := launcher.LookPath(); ok {
			return path, nil
		}
		for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
			if path, err := exec.LookPath(name); err == nil {
				return path, nil
			}
		}
		return "", fmt.Errorf("no chrome or chromium binary found; set browser.exec_path")
	}}
}

// Database checks that PostgreSQL accepts connections.
func Database(databaseURL string) Probe {
	return Probe{Name: "database", Run: func(ctx context.Context) (string, error) {
		conn, err := db.Connect(ctx, databaseURL)
		if err != nil {
			return "", err
		}
		defer conn.Close()
		if err := conn.Ping(ctx); err != nil {
			return "", fmt.Errorf("ping failed: %w", err)
		}
		return "connected", nil
	}}
}

// OutputDir checks that dir exists (creating it) and is writable.
func OutputDir(dir string) Probe {
	return Probe{Name: "output", Run: func(context.Context) (string, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create %s: %w", dir, err)
		}
		f, err := os.CreateTemp(dir, ".preflight-*")
		if err != nil {
			return "", fmt.Errorf("%s is not writable: %w", dir, err)
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		abs, err := filepath.Abs(dir)
		if err != nil {
			abs = dir
		}
		return abs, nil
	}}
}
