// Package workspace locates and initializes anc projects: a directory tree
// of card sources with a .anc directory at its root.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danisheto/anc/internal/apperr"
)

// Dir is the name of the project configuration directory.
const Dir = ".anc"

// DefaultConfig is written to .anc/config by Init.
const DefaultConfig = "# anki_dir = \"~/.local/share/Anki2/User 1\"\n"

// Project is an initialized anc project.
type Project struct {
	root string // absolute path to the directory holding .anc
}

// Root returns the absolute project root.
func (p *Project) Root() string { return p.root }

// ConfigDir returns the .anc directory.
func (p *Project) ConfigDir() string { return filepath.Join(p.root, Dir) }

// ConfigPath returns the project config file.
func (p *Project) ConfigPath() string { return filepath.Join(p.root, Dir, "config") }

// HooksDir returns the directory holding project hooks.
func (p *Project) HooksDir() string { return filepath.Join(p.root, Dir, "hooks") }

// Find walks from start up to the file system root looking for a .anc
// directory.
func Find(start string) (*Project, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve %s: %w", start, err)
	}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	for {
		info, err := os.Stat(filepath.Join(dir, Dir))
		if err == nil && info.IsDir() {
			return &Project{root: dir}, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, apperr.ErrNoProject
		}
		dir = parent
	}
}

// Init creates the .anc layout in dir. Anything created before a failure
// is removed again.
func Init(dir string) (p *Project, err error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve %s: %w", dir, err)
	}
	p = &Project{root: root}

	if _, err := os.Stat(p.ConfigDir()); err == nil {
		return nil, fmt.Errorf("workspace: %s: %w", p.ConfigDir(), apperr.ErrAlreadyExists)
	}

	var created []string
	defer func() {
		if err == nil {
			return
		}
		for i := len(created) - 1; i >= 0; i-- {
			if rmErr := os.Remove(created[i]); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				err = errors.Join(err, fmt.Errorf("workspace: undo %s: %w", created[i], rmErr))
			}
		}
	}()

	for _, d := range []string{p.ConfigDir(), p.HooksDir()} {
		if err := os.Mkdir(d, 0o755); err != nil {
			return nil, fmt.Errorf("workspace: create %s: %w", d, err)
		}
		created = append(created, d)
	}
	f, err := os.OpenFile(p.ConfigPath(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("workspace: create config: %w", err)
	}
	created = append(created, p.ConfigPath())
	if _, err := f.WriteString(DefaultConfig); err != nil {
		f.Close()
		return nil, fmt.Errorf("workspace: write config: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("workspace: close config: %w", err)
	}
	return p, nil
}
