package cookiestore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// DefaultDebounce 是文件变更后触发重新加载前的静默时间。
const DefaultDebounce = 200 * time.Millisecond

// Watcher 监听存储文件所在目录，文档被其他进程改写后重新 Load。
// 监听目录而不是文件本身：原子 rename 会替换 inode，直接监听文件会丢失后续事件。
type Watcher struct {
	store    *Store
	debounce time.Duration
	watcher  *fsnotify.Watcher

	// OnReload 在每次重新加载后调用（可为 nil），err 为 Load 的结果。
	OnReload func(err error)

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher 创建 watcher；debounce<=0 时使用 DefaultDebounce。
func NewWatcher(store *Store, debounce time.Duration) (*Watcher, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		store:    store,
		debounce: debounce,
		watcher:  fw,
	}, nil
}

// Run 阻塞直到 ctx 结束，期间把目标文件的变更去抖后转换为 store.Load。
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()

	dir := filepath.Dir(w.store.Path())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	log.Infof("watching cookie store %s", w.store.Path())

	target := filepath.Clean(w.store.Path())
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != target || event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			log.Debugf("cookie store event: %s %s", event.Op, event.Name)
			w.trigger()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			log.Warnf("cookie store watcher error: %v", err)
		}
	}
}

func (w *Watcher) trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	err := w.store.Load()
	if err != nil {
		log.Errorf("cookie store reload failed: %v", err)
	} else {
		log.Debug("cookie store reloaded")
	}
	if w.OnReload != nil {
		w.OnReload(err)
	}
}

func (w *Watcher) stop() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	_ = w.watcher.Close()
}
