package cmdutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/filemint/filemint/filemint/failures"
	"github.com/filemint/filemint/filemint/workflow"
)

// DefaultCheckpointDir is where register keeps one checkpoint per upload.
func DefaultCheckpointDir() string {
	return filepath.Join(xdg.StateHome, "filemint", "checkpoints")
}

// CheckpointPath is the checkpoint file of the upload with submission key under dir.
func CheckpointPath(dir, key string) string {
	return filepath.Join(dir, strings.TrimPrefix(key, "0x")+".json")
}

// WriteCheckpoint replaces the checkpoint at path. The file never holds a partial write.
func WriteCheckpoint(path string, cp workflow.Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	err = os.MkdirAll(filepath.Dir(path), 0o700)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	tmp := path + ".tmp"
	err = os.WriteFile(tmp, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	err = os.Rename(tmp, path)
	if err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

func ReadCheckpoint(path string) (workflow.Checkpoint, error) {
	var cp workflow.Checkpoint

	data, err := os.ReadFile(path)
	if err != nil {
		return cp, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	err = json.Unmarshal(data, &cp)
	if err != nil {
		return cp, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return cp, nil
}

// SaveCheckpoints keeps path current with every checkpoint a run records, so a killed
// process leaves behind what it had submitted.
func SaveCheckpoints(path string) func(workflow.Checkpoint) {
	return func(cp workflow.Checkpoint) {
		if err := WriteCheckpoint(path, cp); err != nil {
			log.Warn("Failed to save checkpoint", "path", path, "state", cp.State, "err", err)
		}
	}
}

// CheckRegistrable refuses a new run of an upload whose checkpoint at path shows that it
// completed or may have reached the ledger.
func CheckRegistrable(path string) error {
	cp, err := ReadCheckpoint(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	if cp.State == workflow.Completed {
		return fmt.Errorf("%w: this upload was registered by %s (checkpoint %s)", failures.ErrDuplicateRegistration, cp.RegistrationTx.Hex(), path)
	}
	if cp.RegistrationTx == (common.Hash{}) {
		return nil
	}
	if cp.Registration != nil && cp.Registration.Status == types.ReceiptStatusFailed {
		return nil
	}
	return fmt.Errorf("%w: an earlier run of this upload stopped in %s after submitting %s, continue it with: filemint resume --checkpoint %s", failures.ErrDuplicateRegistration, cp.State, cp.RegistrationTx.Hex(), path)
}
