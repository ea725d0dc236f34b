package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/filemint/filemint/filemint/contentstore"
	"github.com/filemint/filemint/filemint/failures"
	"github.com/filemint/filemint/filemint/registry"
	"github.com/filemint/filemint/filemint/treasury"
)

// Checkpoint is everything a run has learned so far. It is enough to resume the run
// from the step after the last one that completed.
type Checkpoint struct {
	Key   string `json:"key"`
	RunID string `json:"runId"`
	State State  `json:"state"`

	Owner       common.Address `json:"owner"`
	DisplayName string         `json:"displayName"`
	CreatorName string         `json:"creatorName"`

	File           *contentstore.PinnedArtifact `json:"file,omitempty"`
	Metadata       *contentstore.PinnedArtifact `json:"metadata,omitempty"`
	RegistrationTx common.Hash                  `json:"registrationTx"`
	Registration   *registry.FileRegistration   `json:"registration,omitempty"`
	RewardTx       common.Hash                  `json:"rewardTx"`
	Reward         *treasury.RewardTransfer     `json:"reward,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Registered reports whether the registration is confirmed on the ledger.
func (c Checkpoint) Registered() bool {
	return c.Registration != nil && c.Registration.Status == types.ReceiptStatusSuccessful && c.Registration.TokenID != nil
}

// Rewarded reports whether the reward transfer is confirmed on the ledger.
func (c Checkpoint) Rewarded() bool {
	return c.Reward != nil && c.Reward.Status == types.ReceiptStatusSuccessful
}

// restartable reports whether a new run for the same submission can be started without
// risking a second registration.
func (c Checkpoint) restartable() bool {
	if !c.State.Failed() || c.Registered() {
		return false
	}
	if c.RegistrationTx == (common.Hash{}) {
		return true
	}
	return c.Registration != nil && c.Registration.Status == types.ReceiptStatusFailed
}

func (c Checkpoint) clone() Checkpoint {
	out := c
	if c.File != nil {
		f := *c.File
		out.File = &f
	}
	if c.Metadata != nil {
		m := *c.Metadata
		out.Metadata = &m
	}
	if c.Registration != nil {
		r := *c.Registration
		out.Registration = &r
	}
	if c.Reward != nil {
		r := *c.Reward
		out.Reward = &r
	}
	return out
}

// Journal is the in-process record of every run, keyed by submission. It also indexes
// reward transactions by token id so a registration is never paid twice.
type Journal struct {
	mu      sync.Mutex
	runs    map[string]Checkpoint
	active  map[string]bool
	rewards map[string]common.Hash
}

func NewJournal() *Journal {
	return &Journal{
		runs:    map[string]Checkpoint{},
		active:  map[string]bool{},
		rewards: map[string]common.Hash{},
	}
}

// Get returns the latest checkpoint for key.
func (j *Journal) Get(key string) (Checkpoint, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp, ok := j.runs[key]
	if !ok {
		return Checkpoint{}, false
	}
	return cp.clone(), true
}

// claim marks key as running. A fresh run is refused when an earlier run for the same
// submission completed, is still running, or may already have registered.
func (j *Journal) claim(cp Checkpoint, fresh bool) (Checkpoint, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.active[cp.Key] {
		return Checkpoint{}, fmt.Errorf("%w: run %s for this submission is in progress", failures.ErrDuplicateRegistration, j.runs[cp.Key].RunID)
	}

	prev, ok := j.runs[cp.Key]
	if ok && fresh && !prev.restartable() {
		if prev.State == Completed {
			return Checkpoint{}, fmt.Errorf("%w: already registered as token %s", failures.ErrDuplicateRegistration, prev.Registration.TokenID)
		}
		return Checkpoint{}, fmt.Errorf("%w: run %s stopped in %s, resume it instead", failures.ErrDuplicateRegistration, prev.RunID, prev.State)
	}

	if ok && !fresh {
		cp = merge(prev, cp)
	}

	j.active[cp.Key] = true
	j.runs[cp.Key] = cp.clone()
	return cp, nil
}

func (j *Journal) release(key string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.active, key)
}

func (j *Journal) save(cp Checkpoint) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs[cp.Key] = cp.clone()
	if cp.Registered() && cp.RewardTx != (common.Hash{}) {
		j.rewards[cp.Registration.TokenID.String()] = cp.RewardTx
	}
}

// rewardFor returns the reward transaction already submitted for a token.
func (j *Journal) rewardFor(tokenID string) (common.Hash, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	h, ok := j.rewards[tokenID]
	return h, ok
}

// merge fills gaps in the journal's copy with the artifacts and transaction hashes of a
// caller supplied checkpoint. Confirmed outcomes only ever come from the journal.
func merge(journaled, supplied Checkpoint) Checkpoint {
	out := journaled.clone()
	in := supplied.clone()

	if out.File == nil {
		out.File = in.File
	}
	if out.Metadata == nil {
		out.Metadata = in.Metadata
	}
	if out.RegistrationTx == (common.Hash{}) {
		out.RegistrationTx = in.RegistrationTx
	}
	if out.RewardTx == (common.Hash{}) {
		out.RewardTx = in.RewardTx
	}
	return out
}
