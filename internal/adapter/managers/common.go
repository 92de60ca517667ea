// Package managers implements one adapter per package manager, each
// constructing an adapter.Manager value whose functions build argv,
// invoke the Process Runner, and parse output defensively.
package managers

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jasoncavinder/helm/internal/adapter"
	"github.com/jasoncavinder/helm/internal/models"
	"github.com/jasoncavinder/helm/internal/procrunner"
)

// defaultTimeout bounds list/search/detect operations; install/upgrade
// operations that may compile from source use longTimeout.
const (
	defaultTimeout = 30 * time.Second
	longTimeout    = 15 * time.Minute
)

// runner is the subset of *procrunner.Runner every adapter depends on,
// narrowed so adapter tests can substitute a fake.
type runner interface {
	Run(ctx context.Context, managerID string, taskType models.TaskType, operation, binary string, args []string, timeout time.Duration) (*procrunner.Result, error)
	Resolve(binary string) (string, error)
}

// scanLines runs fn over every non-empty line of out, counting and
// skipping lines fn rejects. Parsing is defensive: unknown
// lines are skipped with a count, never fatal.
func scanLines(out []byte, fn func(line string) bool) (skipped int) {
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !fn(line) {
			skipped++
		}
	}
	return skipped
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// detectByVersionFlag is the common Detect shape: resolve binary on PATH,
// then run it with versionArgs and take the first line of stdout as the
// version string. Used by every adapter whose binary supports a simple
// --version invocation.
func detectByVersionFlag(ctx context.Context, r runner, managerID, binary string, versionArgs []string) (adapter.DetectResponse, error) {
	path, err := r.Resolve(binary)
	if err != nil {
		return adapter.DetectResponse{Detected: false}, nil
	}
	res, err := r.Run(ctx, managerID, models.TaskDetection, "detect", binary, versionArgs, defaultTimeout)
	if err != nil {
		return adapter.DetectResponse{Detected: true, ExecutablePath: ptr(path)}, nil
	}
	firstLine := ""
	if sc := bufio.NewScanner(strings.NewReader(string(res.Stdout))); sc.Scan() {
		firstLine = strings.TrimSpace(sc.Text())
	}
	return adapter.DetectResponse{
		Detected:       true,
		Version:        models.NormalizeVersion(firstLine),
		ExecutablePath: ptr(path),
	}, nil
}

// appBundleExists is Detect for DetectionOnly managers that have no CLI of
// their own: their presence is inferred from a known app bundle path.
func appBundleExists(path string) adapter.DetectResponse {
	if _, err := os.Stat(path); err != nil {
		return adapter.DetectResponse{Detected: false}
	}
	return adapter.DetectResponse{Detected: true, ExecutablePath: ptr(path)}
}

// appNameFromBundle strips the .app suffix and directory from a bundle path.
func appNameFromBundle(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".app")
}
