package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileConfigProvider watches a YAML config file's containing directory and
// reloads on write/create, the same directory-watch shape
// internal/stream.CertWatcher and the teacher's own FileConfigProvider both
// use since fsnotify loses a watch across an editor's atomic rename.
type FileConfigProvider struct {
	path string

	mu          sync.RWMutex
	current     *Config
	subscribers []chan *Config

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// NewFileConfigProvider loads path once and starts watching it for changes.
func NewFileConfigProvider(path string) (*FileConfigProvider, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg, err := Load(absPath)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &FileConfigProvider{
		path:    absPath,
		current: cfg,
		watcher: watcher,
		cancel:  cancel,
	}
	go p.watchLoop(ctx)
	return p, nil
}

// Current returns the most recently loaded configuration.
func (p *FileConfigProvider) Current() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Subscribe returns a channel that receives every successfully reloaded
// configuration, starting with the current one.
func (p *FileConfigProvider) Subscribe() <-chan *Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan *Config, 1)
	ch <- p.current
	p.subscribers = append(p.subscribers, ch)
	return ch
}

// Close stops the watcher.
func (p *FileConfigProvider) Close() error {
	p.cancel()
	return p.watcher.Close()
}

func (p *FileConfigProvider) watchLoop(ctx context.Context) {
	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != p.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, p.reload)
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("config watcher error: %v", err)
		}
	}
}

func (p *FileConfigProvider) reload() {
	cfg, err := Load(p.path)
	if err != nil {
		log.Printf("config reload from %s failed: %v", p.path, err)
		return
	}

	p.mu.Lock()
	p.current = cfg
	subs := make([]chan *Config, len(p.subscribers))
	copy(subs, p.subscribers)
	p.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- cfg:
		default:
		}
	}
}
