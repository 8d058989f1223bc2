// Package stage implements the two external analysis passes (observation
// and narration) against a generative text collaborator, plus the prompt
// templates that drive them.
package stage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/canvaslab/emergence/internal/core"
	"github.com/canvaslab/emergence/internal/logging"
)

//go:embed templates/*.yaml
var embeddedTemplates embed.FS

// Template is one named prompt with {{placeholder}} variables.
type Template struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Prompt      string `yaml:"prompt"`
}

// Templates holds the prompt set. Embedded defaults are always present;
// files in an optional override directory shadow them and can be
// hot-reloaded while the engine runs.
type Templates struct {
	mu  sync.RWMutex
	set map[string]*Template
	dir string
	log *logging.Logger
}

// LoadTemplates loads the embedded defaults, then overlays any *.yaml
// files found in dir (empty dir skips the overlay).
func LoadTemplates(dir string, log *logging.Logger) (*Templates, error) {
	t := &Templates{
		set: make(map[string]*Template),
		dir: dir,
		log: log,
	}

	entries, err := fs.ReadDir(embeddedTemplates, "templates")
	if err != nil {
		return nil, fmt.Errorf("reading embedded templates: %w", err)
	}
	for _, entry := range entries {
		data, err := embeddedTemplates.ReadFile("templates/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading embedded template %s: %w", entry.Name(), err)
		}
		if err := t.add(data); err != nil {
			return nil, fmt.Errorf("parsing embedded template %s: %w", entry.Name(), err)
		}
	}

	if dir != "" {
		if err := t.loadDir(dir); err != nil {
			return nil, err
		}
	}

	return t, nil
}

func (t *Templates) loadDir(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return fmt.Errorf("scanning template dir: %w", err)
	}
	for _, path := range matches {
		if err := t.loadFile(path); err != nil {
			return err
		}
	}
	return nil
}

func (t *Templates) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading template %s: %w", path, err)
	}
	if err := t.add(data); err != nil {
		return fmt.Errorf("parsing template %s: %w", path, err)
	}
	return nil
}

func (t *Templates) add(data []byte) error {
	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return err
	}
	if tpl.Name == "" || tpl.Prompt == "" {
		return fmt.Errorf("template needs both name and prompt")
	}
	t.mu.Lock()
	t.set[tpl.Name] = &tpl
	t.mu.Unlock()
	return nil
}

// Render substitutes {{key}} placeholders and returns the final prompt.
func (t *Templates) Render(name string, vars map[string]string) (string, error) {
	t.mu.RLock()
	tpl, ok := t.set[name]
	t.mu.RUnlock()
	if !ok {
		return "", core.ErrState(core.CodeTemplateNotFound, "no template named "+name)
	}

	prompt := tpl.Prompt
	for key, value := range vars {
		prompt = strings.ReplaceAll(prompt, "{{"+key+"}}", value)
	}
	return prompt, nil
}

// Watch hot-reloads override templates when their files change. Blocks
// until ctx is done. No-op when no override directory is configured.
func (t *Templates) Watch(ctx context.Context) error {
	if t.dir == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating template watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(t.dir); err != nil {
		return fmt.Errorf("watching %s: %w", t.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if filepath.Ext(event.Name) != ".yaml" {
				continue
			}
			if err := t.loadFile(event.Name); err != nil {
				t.log.Warn("template reload failed", "path", event.Name, "error", err)
				continue
			}
			t.log.Info("template reloaded", "path", event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.log.Warn("template watcher error", "error", err)
		}
	}
}
