// Package shell hands downloaded files and the download folder to the desktop's default opener.
package shell

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/italolelis/surface_downloader/internal/logctx"
	"github.com/italolelis/surface_downloader/internal/transfer"
)

const dirPerm = 0755

// PathError is returned when a path may not be opened.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("cannot open %s: %s", e.Path, e.Reason)
}

// RunFunc starts an external command without waiting for it to exit.
type RunFunc func(ctx context.Context, name string, args ...string) error

// Opener opens paths inside the download directory.
type Opener struct {
	dir string
	run RunFunc
}

func NewOpener(dir string) *Opener {
	return &Opener{dir: dir, run: startCommand}
}

// WithRunner replaces how commands are started.
func (o *Opener) WithRunner(run RunFunc) *Opener {
	o.run = run

	return o
}

// OpenFolder opens the download directory, creating it first if needed.
func (o *Opener) OpenFolder(ctx context.Context) error {
	if err := os.MkdirAll(o.dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	return o.open(ctx, o.dir)
}

// OpenFile opens a file that lives inside the download directory.
func (o *Opener) OpenFile(ctx context.Context, path string) error {
	abs, err := o.resolve(path)
	if err != nil {
		return err
	}

	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return &transfer.NotFoundError{Kind: "file", ID: path}
		}

		return fmt.Errorf("failed to stat file: %w", err)
	}

	return o.open(ctx, abs)
}

func (o *Opener) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", &PathError{Path: path, Reason: "empty path"}
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(o.dir, path)
	}

	root, err := filepath.Abs(o.dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve download directory: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &PathError{Path: path, Reason: err.Error()}
	}

	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &PathError{Path: path, Reason: "outside the download directory"}
	}

	return abs, nil
}

func (o *Opener) open(ctx context.Context, target string) error {
	name, args := openCommand(runtime.GOOS, target)

	logctx.LoggerFromContext(ctx).Debug("opening path", "path", target, "command", name)

	if err := o.run(ctx, name, args...); err != nil {
		return fmt.Errorf("failed to open %s: %w", target, err)
	}

	return nil
}

func openCommand(goos, target string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{target}
	case "windows":
		return "explorer", []string{target}
	default:
		return "xdg-open", []string{target}
	}
}

func startCommand(_ context.Context, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}

	go cmd.Wait() //nolint:errcheck

	return nil
}
