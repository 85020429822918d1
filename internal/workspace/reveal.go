package workspace

import (
	"context"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/afero"
)

// Revealer shows a file to the user.
type Revealer interface {
	Reveal(ctx context.Context, path string) error
}

// SystemRevealer opens the host file manager at a path.
type SystemRevealer struct {
	Fs   afero.Fs
	GOOS string
	// Run starts the command without waiting for it. Defaults to os/exec.
	Run func(ctx context.Context, name string, args ...string) error
}

// NewSystemRevealer reveals files on the real file system.
func NewSystemRevealer() *SystemRevealer {
	return &SystemRevealer{Fs: afero.NewOsFs(), GOOS: runtime.GOOS, Run: run}
}

func run(_ context.Context, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// Command returns the command that reveals path. Missing files fall back to
// their parent directory.
func (r *SystemRevealer) Command(path string) (string, []string) {
	isFile := false
	if fi, err := r.Fs.Stat(path); err == nil {
		isFile = !fi.IsDir()
	} else {
		path = filepath.Dir(path)
	}

	switch r.GOOS {
	case "darwin":
		if isFile {
			return "open", []string{"-R", path}
		}
		return "open", []string{path}
	case "windows":
		if isFile {
			return "explorer", []string{"/select," + path}
		}
		return "explorer", []string{path}
	default:
		if isFile {
			path = filepath.Dir(path)
		}
		return "xdg-open", []string{path}
	}
}

func (r *SystemRevealer) Reveal(ctx context.Context, path string) error {
	name, args := r.Command(path)
	runFn := r.Run
	if runFn == nil {
		runFn = run
	}
	return runFn(ctx, name, args...)
}
