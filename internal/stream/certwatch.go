package stream

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// CertWatcher watches the directories holding the configured key, cert and
// CA files and reloads Context whenever one of them changes, the same
// write-then-atomic-rename pattern cert-manager and friends use for
// delivering rotated credentials. It watches directories rather than the
// files themselves since fsnotify loses the watch across a rename/replace
// of the file it was attached to.
type CertWatcher struct {
	ctxCfg  *Context
	watcher *fsnotify.Watcher
	logger  *Logger

	keyPath, certPath, caPath string

	done chan struct{}
}

// WatchCertFiles starts a CertWatcher over the given paths. Any path may be
// empty, in which case it is not watched. Call Close to stop it.
func WatchCertFiles(ctxCfg *Context, keyPath, certPath, caPath string) (*CertWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, newErrWithCause(ErrProto, "cert_watch", err)
	}

	w := &CertWatcher{
		ctxCfg:   ctxCfg,
		watcher:  watcher,
		logger:   ctxCfg.logger,
		keyPath:  keyPath,
		certPath: certPath,
		caPath:   caPath,
		done:     make(chan struct{}),
	}

	dirs := map[string]bool{}
	for _, p := range []string{keyPath, certPath, caPath} {
		if p == "" {
			continue
		}
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, newErrWithCause(ErrProto, "cert_watch", err).WithContext("dir", dir)
		}
	}

	go w.run()
	return w, nil
}

func (w *CertWatcher) run() {
	defer w.watcher.Close()
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.maybeReload(ev.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.LogRateLimited(context.Background(), "cert_watch_error", "certificate watcher error", "cert_watch", "", "", err)
		case <-w.done:
			return
		}
	}
}

func (w *CertWatcher) maybeReload(changed string) {
	switch changed {
	case w.keyPath:
		if err := w.ctxCfg.SetPrivateKeyFile(w.keyPath); err != nil {
			w.logger.LogRateLimited(context.Background(), "cert_reload_error", "failed reloading private key", "cert_watch", "", "", err)
		}
	case w.certPath:
		if err := w.ctxCfg.SetCertificateFile(w.certPath); err != nil {
			w.logger.LogRateLimited(context.Background(), "cert_reload_error", "failed reloading certificate", "cert_watch", "", "", err)
		}
	case w.caPath:
		if err := w.ctxCfg.SetCACertFile(w.caPath, false); err != nil {
			w.logger.LogRateLimited(context.Background(), "cert_reload_error", "failed reloading CA cert", "cert_watch", "", "", err)
		}
	}
}

// Close stops the watcher.
func (w *CertWatcher) Close() error {
	close(w.done)
	return nil
}
