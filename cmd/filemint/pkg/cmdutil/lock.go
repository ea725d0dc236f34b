package cmdutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockCheckpoint keeps two processes from driving the run behind one checkpoint file.
func LockCheckpoint(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}

	err := os.MkdirAll(filepath.Dir(path), 0o700)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	lock := flock.New(path + ".lock")

	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock checkpoint: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("checkpoint %s is in use by another filemint process", path)
	}

	return func() {
		_ = lock.Unlock()
	}, nil
}
