// Package workflow turns an upload into a pinned file, a registration token and a reward,
// recovering from partial failures without ever registering or paying twice.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/filemint/filemint/filemint/contentstore"
	"github.com/filemint/filemint/filemint/failures"
	"github.com/filemint/filemint/filemint/ledger"
	"github.com/filemint/filemint/filemint/metadata"
	"github.com/filemint/filemint/filemint/registry"
	"github.com/filemint/filemint/filemint/treasury"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// Registry is the part of *registry.Registry the orchestrator uses.
type Registry interface {
	Register(ctx context.Context, signer ledger.Signer, owner common.Address, uri string) (common.Hash, error)
	AwaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (registry.FileRegistration, error)
	Resolve(ctx context.Context, receipt *types.Receipt) (registry.FileRegistration, error)
	Lookup(ctx context.Context, hash common.Hash) (ledger.TxState, *types.Receipt, error)
}

// Treasury is the part of *treasury.Treasury the orchestrator uses.
type Treasury interface {
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error)
	AwaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (treasury.RewardTransfer, error)
	Resolve(receipt *types.Receipt) (treasury.RewardTransfer, error)
	Lookup(ctx context.Context, hash common.Hash) (ledger.TxState, *types.Receipt, error)
	BalanceOf(ctx context.Context, addr common.Address) (treasury.AccountBalance, error)
}

type Options struct {
	// RewardAmount is paid per registration, in base units.
	RewardAmount *big.Int

	ReceiptTimeout time.Duration
	StorageTimeout time.Duration
	StorageRetries uint64
	StorageBackoff time.Duration

	// Resubmits bounds how often a registration the ledger dropped is sent again.
	Resubmits int

	// OnTransition observes every checkpoint the run records. It must not block.
	OnTransition func(Checkpoint)
}

func (o *Options) setDefaults() {
	if o.RewardAmount == nil {
		o.RewardAmount = ledger.TokensToWei(big.NewInt(500))
	}
	if o.ReceiptTimeout == 0 {
		o.ReceiptTimeout = 2 * time.Minute
	}
	if o.StorageTimeout == 0 {
		o.StorageTimeout = time.Minute
	}
	if o.StorageRetries == 0 {
		o.StorageRetries = 3
	}
	if o.StorageBackoff == 0 {
		o.StorageBackoff = 500 * time.Millisecond
	}
	if o.Resubmits == 0 {
		o.Resubmits = 1
	}
}

// Orchestrator runs registrations. It is safe for concurrent use; runs share nothing but
// the journal and the treasury signer.
type Orchestrator struct {
	store    contentstore.Store
	registry Registry
	treasury Treasury
	signers  ledger.SignerSource
	journal  *Journal
	opts     Options
	logger   log.Logger
}

func New(store contentstore.Store, reg Registry, tr Treasury, signers ledger.SignerSource, journal *Journal, opts Options) *Orchestrator {
	opts.setDefaults()
	if journal == nil {
		journal = NewJournal()
	}
	return &Orchestrator{
		store:    store,
		registry: reg,
		treasury: tr,
		signers:  signers,
		journal:  journal,
		opts:     opts,
		logger:   log.New("component", "workflow"),
	}
}

// Checkpoint returns the latest journaled checkpoint of the run for a submission key.
func (o *Orchestrator) Checkpoint(key string) (Checkpoint, bool) {
	return o.journal.Get(key)
}

type run struct {
	cp      Checkpoint
	last    int
	started time.Time
	logger  log.Logger
}

// errDropped means a submitted registration is unknown to the node.
var errDropped = errors.New("transaction dropped")

// Register runs a new submission end to end. Submitting the same upload again fails with
// ErrDuplicateRegistration unless the earlier run failed before anything reached the ledger.
func (o *Orchestrator) Register(ctx context.Context, req UploadRequest) (*Result, error) {
	cp := Checkpoint{
		Key:         req.Key(),
		RunID:       uuid.NewString(),
		State:       Idle,
		DisplayName: req.DisplayName,
		CreatorName: req.CreatorName,
		UpdatedAt:   time.Now(),
	}

	err := metadata.Validate(req.DisplayName, req.OwnerAccount)
	if err != nil {
		return nil, &Error{State: Idle, Err: err, Checkpoint: cp}
	}
	cp.Owner = req.owner()

	cp, err = o.journal.claim(cp, true)
	if err != nil {
		prev, _ := o.journal.Get(req.Key())
		return nil, &Error{State: Idle, Err: err, Checkpoint: prev}
	}

	r := o.start(cp)
	defer o.finish(r)

	r.logger.Info("Workflow started", "name", cp.DisplayName, "size", len(req.File))

	return o.drive(ctx, r, &req)
}

// Resume continues a run from a checkpoint returned in an *Error. Steps already recorded
// are not repeated; a confirmed registration goes straight to the reward.
func (o *Orchestrator) Resume(ctx context.Context, cp Checkpoint) (*Result, error) {
	if cp.Key == "" {
		return nil, &Error{State: cp.State, Err: fmt.Errorf("%w: checkpoint has no key", failures.ErrInvalidSubmission), Checkpoint: cp}
	}

	// Outcomes are only taken from the ledger. A supplied checkpoint contributes the pinned
	// artifacts and transaction hashes, which are reconciled before anything is paid.
	cp.Registration = nil
	cp.Reward = nil

	claimed, err := o.journal.claim(cp, false)
	if err != nil {
		return nil, &Error{State: cp.State, Err: err, Checkpoint: cp}
	}

	r := o.start(claimed)
	defer o.finish(r)

	r.logger.Info("Workflow resumed", "from", claimed.State, "registrationTx", claimed.RegistrationTx, "rewardTx", claimed.RewardTx)

	return o.drive(ctx, r, nil)
}

func (o *Orchestrator) start(cp Checkpoint) *run {
	return &run{
		cp:      cp,
		last:    -1,
		started: time.Now(),
		logger:  o.logger.New("run", cp.RunID, "owner", cp.Owner),
	}
}

func (o *Orchestrator) finish(r *run) {
	o.journal.release(r.cp.Key)
	runDuration.WithLabelValues(string(r.cp.State)).Observe(time.Since(r.started).Seconds())
}

func (o *Orchestrator) drive(ctx context.Context, r *run, req *UploadRequest) (*Result, error) {
	if !r.cp.Registered() {
		err := o.prepare(ctx, r, req)
		if err != nil {
			return nil, o.fail(r, err)
		}

		err = o.registration(ctx, r)
		if err != nil {
			return nil, o.fail(r, err)
		}
	}

	if !r.cp.Rewarded() {
		err := o.reward(ctx, r)
		if err != nil {
			return nil, o.fail(r, err)
		}
	}

	balance, err := o.treasury.BalanceOf(ctx, r.cp.Owner)
	if err != nil {
		return nil, o.fail(r, fmt.Errorf("failed to read balance: %w", err))
	}

	o.advance(r, Completed)

	r.logger.Info("Workflow completed",
		"tokenId", r.cp.Registration.TokenID,
		"reward", ledger.FormatTokens(r.cp.Reward.Amount),
		"balance", ledger.FormatTokens(balance.Balance),
		"elapsed", time.Since(r.started),
	)

	return &Result{
		RunID:        r.cp.RunID,
		Key:          r.cp.Key,
		File:         deref(r.cp.File),
		Metadata:     deref(r.cp.Metadata),
		Registration: *r.cp.Registration,
		Reward:       *r.cp.Reward,
		Balance:      balance,
	}, nil
}

// prepare pins whatever the checkpoint does not have yet.
func (o *Orchestrator) prepare(ctx context.Context, r *run, req *UploadRequest) error {
	if r.cp.Metadata != nil || r.cp.RegistrationTx != (common.Hash{}) {
		return nil
	}

	if r.cp.File == nil {
		if req == nil {
			return fmt.Errorf("%w: nothing was pinned before the run stopped, submit the upload again", failures.ErrInvalidSubmission)
		}

		o.advance(r, Pinning)
		artifact, err := o.pin(ctx, r, func(ctx context.Context) (contentstore.PinnedArtifact, error) {
			return o.store.Pin(ctx, req.pinName(), req.File)
		})
		if err != nil {
			return fmt.Errorf("failed to pin file: %w", err)
		}
		r.cp.File = &artifact
		o.save(r)

		r.logger.Info("File pinned", "cid", artifact.ContentID, "size", artifact.Size)
	}

	o.advance(r, MetadataPinning)

	record, err := metadata.Build(r.cp.File.ContentID, r.cp.DisplayName, r.cp.CreatorName, r.cp.Owner.Hex())
	if err != nil {
		return err
	}

	artifact, err := o.pin(ctx, r, func(ctx context.Context) (contentstore.PinnedArtifact, error) {
		return o.store.PinJSON(ctx, record.PinName(), record)
	})
	if err != nil {
		return fmt.Errorf("failed to pin metadata: %w", err)
	}
	r.cp.Metadata = &artifact
	o.save(r)

	r.logger.Info("Metadata pinned", "cid", artifact.ContentID, "uri", artifact.URI())

	return nil
}

// pin retries while the storage network reports itself unavailable. Each attempt gets its
// own deadline, and running out of it counts as unavailability.
func (o *Orchestrator) pin(ctx context.Context, r *run, op func(context.Context) (contentstore.PinnedArtifact, error)) (contentstore.PinnedArtifact, error) {
	var artifact contentstore.PinnedArtifact

	backoff := retry.WithMaxRetries(o.opts.StorageRetries, retry.NewExponential(o.opts.StorageBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, o.opts.StorageTimeout)
		defer cancel()

		a, err := op(attemptCtx)
		if err == nil {
			artifact = a
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: no answer within %s: %w", failures.ErrStorageUnavailable, o.opts.StorageTimeout, err)
		}
		if !failures.Retryable(err) {
			return err
		}

		storageRetriesTotal.Inc()
		r.logger.Warn("Storage unavailable", "state", r.cp.State, "err", err)

		return retry.RetryableError(err)
	})

	return artifact, err
}

// registration gets the registration confirmed, reconciling with the ledger first when a
// transaction was already submitted.
func (o *Orchestrator) registration(ctx context.Context, r *run) error {
	if r.cp.RegistrationTx != (common.Hash{}) {
		o.advance(r, AwaitingReceipt)

		err := o.reconcileRegistration(ctx, r)
		if !errors.Is(err, errDropped) {
			return err
		}
		r.logger.Warn("Registration absent from ledger, resubmitting", "tx", r.cp.RegistrationTx)
	} else if err := ctx.Err(); err != nil {
		return err
	}

	if r.cp.Metadata == nil {
		return fmt.Errorf("%w: no pinned metadata to register, submit the upload again", failures.ErrInvalidSubmission)
	}

	signer, err := o.signers.SignerFor(ctx, r.cp.Owner)
	if err != nil {
		return err
	}

	o.advance(r, Registering)

	for attempt := 0; ; attempt++ {
		hash, err := o.registry.Register(ctx, signer, r.cp.Owner, r.cp.Metadata.URI())
		if err != nil {
			return err
		}
		r.cp.RegistrationTx = hash
		r.cp.Registration = nil
		o.save(r)

		o.advance(r, AwaitingReceipt)

		err = o.awaitRegistration(ctx, r, hash)
		if !errors.Is(err, errDropped) {
			return err
		}
		if attempt >= o.opts.Resubmits {
			return fmt.Errorf("%w: registration %s was dropped by the node %d times", failures.ErrReceiptTimeout, hash.Hex(), attempt+1)
		}

		registrationResubmitsTotal.Inc()
		r.logger.Warn("Registration absent from ledger, resubmitting", "tx", hash, "attempt", attempt+1)
	}
}

func (o *Orchestrator) reconcileRegistration(ctx context.Context, r *run) error {
	hash := r.cp.RegistrationTx

	state, receipt, err := o.registry.Lookup(ctx, hash)
	if err != nil {
		return err
	}

	r.logger.Info("Registration reconciled", "tx", hash, "ledger", state)

	switch state {
	case ledger.TxConfirmed:
		return o.confirmRegistration(ctx, r, receipt)
	case ledger.TxAbsent:
		return errDropped
	}
	return o.awaitRegistration(ctx, r, hash)
}

func (o *Orchestrator) awaitRegistration(ctx context.Context, r *run, hash common.Hash) error {
	reg, err := o.registry.AwaitReceipt(ctx, hash, o.opts.ReceiptTimeout)

	if errors.Is(err, failures.ErrReceiptTimeout) {
		state, receipt, lerr := o.registry.Lookup(ctx, hash)
		if lerr != nil {
			return errors.Join(err, lerr)
		}

		r.logger.Warn("Registration receipt timed out", "tx", hash, "ledger", state)

		switch state {
		case ledger.TxConfirmed:
			return o.confirmRegistration(ctx, r, receipt)
		case ledger.TxAbsent:
			return errDropped
		case ledger.TxPending:
			return err
		}
		reg, err = o.registry.AwaitReceipt(ctx, hash, o.opts.ReceiptTimeout)
	}

	if err != nil {
		if reg.BlockNumber > 0 {
			r.cp.Registration = &reg
			o.save(r)
		}
		return err
	}

	return o.accept(r, reg)
}

func (o *Orchestrator) confirmRegistration(ctx context.Context, r *run, receipt *types.Receipt) error {
	reg, err := o.registry.Resolve(ctx, receipt)
	if err != nil {
		return err
	}
	return o.accept(r, reg)
}

// accept records a confirmed registration. It must have minted to the run's owner.
func (o *Orchestrator) accept(r *run, reg registry.FileRegistration) error {
	if reg.Owner != r.cp.Owner {
		return fmt.Errorf("%w: registration %s minted token %s to %s, not %s", failures.ErrInvalidSubmission, reg.TxHash.Hex(), reg.TokenID, reg.Owner.Hex(), r.cp.Owner.Hex())
	}

	r.cp.Registration = &reg
	o.save(r)

	r.logger.Info("Registration confirmed", "tx", reg.TxHash, "tokenId", reg.TokenID, "block", reg.BlockNumber)

	return nil
}

// reward pays the owner once per token id. A reward transaction already recorded for the
// token is looked up on the ledger and only replaced when it never landed or reverted.
func (o *Orchestrator) reward(ctx context.Context, r *run) error {
	o.advance(r, Rewarding)

	tokenID := r.cp.Registration.TokenID.String()

	if r.cp.RewardTx == (common.Hash{}) {
		if h, ok := o.journal.rewardFor(tokenID); ok {
			r.cp.RewardTx = h
			r.logger.Info("Reward already submitted for token", "tokenId", tokenID, "tx", h)
		}
	}

	if r.cp.RewardTx != (common.Hash{}) {
		state, receipt, err := o.treasury.Lookup(ctx, r.cp.RewardTx)
		if err != nil {
			return rewardFailed(err)
		}

		r.logger.Info("Reward reconciled", "tx", r.cp.RewardTx, "ledger", state)

		switch state {
		case ledger.TxConfirmed:
			rt, err := o.treasury.Resolve(receipt)
			if err != nil {
				return rewardFailed(err)
			}
			if rt.To != r.cp.Owner {
				return rewardFailed(fmt.Errorf("%w: %s paid %s, not %s", failures.ErrInvalidSubmission, rt.TxHash.Hex(), rt.To.Hex(), r.cp.Owner.Hex()))
			}
			r.cp.Reward = &rt
			o.save(r)
			return nil
		case ledger.TxPending:
			return o.awaitReward(ctx, r)
		}
	}

	hash, err := o.treasury.Transfer(ctx, r.cp.Owner, o.opts.RewardAmount)
	if err != nil {
		return rewardFailed(err)
	}
	r.cp.RewardTx = hash
	r.cp.Reward = nil
	o.save(r)

	return o.awaitReward(ctx, r)
}

func (o *Orchestrator) awaitReward(ctx context.Context, r *run) error {
	rt, err := o.treasury.AwaitReceipt(ctx, r.cp.RewardTx, o.opts.ReceiptTimeout)
	if err != nil {
		if rt.BlockNumber > 0 {
			r.cp.Reward = &rt
			o.save(r)
		}
		return rewardFailed(err)
	}

	r.cp.Reward = &rt
	o.save(r)

	r.logger.Info("Reward confirmed", "tx", rt.TxHash, "amount", ledger.FormatTokens(rt.Amount), "block", rt.BlockNumber)

	return nil
}

func rewardFailed(err error) error {
	return fmt.Errorf("%w: %w", failures.ErrRewardTransferFailed, err)
}

// advance moves the run forward. States are never revisited within one run.
func (o *Orchestrator) advance(r *run, s State) {
	if s.order() <= r.last {
		return
	}
	r.last = s.order()

	r.logger.Debug("Workflow transition", "from", r.cp.State, "state", s)

	r.cp.State = s
	transitionsTotal.WithLabelValues(string(s)).Inc()
	o.save(r)
}

func (o *Orchestrator) fail(r *run, err error) error {
	at := r.cp.State
	r.cp.State = at.failure()
	transitionsTotal.WithLabelValues(string(r.cp.State)).Inc()
	o.save(r)

	r.logger.Error("Workflow failed", "state", at, "registrationTx", r.cp.RegistrationTx, "rewardTx", r.cp.RewardTx, "err", err)

	return &Error{State: at, Err: err, Checkpoint: r.cp.clone()}
}

func (o *Orchestrator) save(r *run) {
	r.cp.UpdatedAt = time.Now()
	o.journal.save(r.cp)
	if o.opts.OnTransition != nil {
		o.opts.OnTransition(r.cp.clone())
	}
}

func deref[T any](v *T) T {
	if v == nil {
		var zero T
		return zero
	}
	return *v
}
