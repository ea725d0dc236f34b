package workflow

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/filemint/filemint/filemint/contentstore"
	"github.com/filemint/filemint/filemint/registry"
	"github.com/filemint/filemint/filemint/treasury"
)

// UploadRequest is one user submission. It is never modified once the run starts.
type UploadRequest struct {
	File         []byte
	FileName     string
	DisplayName  string
	CreatorName  string
	OwnerAccount string
}

// Key identifies the submission for duplicate detection: the same bytes registered under
// the same name, creator and owner.
func (r UploadRequest) Key() string {
	fileHash := crypto.Keccak256(r.File)
	return crypto.Keccak256Hash(
		[]byte(strings.ToLower(strings.TrimSpace(r.OwnerAccount))),
		[]byte{0},
		[]byte(strings.TrimSpace(r.DisplayName)),
		[]byte{0},
		[]byte(strings.TrimSpace(r.CreatorName)),
		[]byte{0},
		fileHash,
	).Hex()
}

func (r UploadRequest) owner() common.Address {
	return common.HexToAddress(strings.TrimSpace(r.OwnerAccount))
}

func (r UploadRequest) pinName() string {
	if r.FileName != "" {
		return r.FileName
	}
	return strings.TrimSpace(r.DisplayName)
}

// Result is what a completed run hands back.
type Result struct {
	RunID        string                      `json:"runId"`
	Key          string                      `json:"key"`
	File         contentstore.PinnedArtifact `json:"file"`
	Metadata     contentstore.PinnedArtifact `json:"metadata"`
	Registration registry.FileRegistration   `json:"registration"`
	Reward       treasury.RewardTransfer     `json:"reward"`
	Balance      treasury.AccountBalance     `json:"balance"`
}
