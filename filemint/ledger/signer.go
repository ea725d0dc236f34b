package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"slices"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/filemint/filemint/filemint/failures"
)

// Signer identifies the account a Call is submitted from.
type Signer interface {
	Address() common.Address
}

// KeySigner signs transactions locally with a private key.
type KeySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{
		key:  key,
		addr: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// LoadKeySigner decrypts a keystore file.
func LoadKeySigner(path, password string) (*KeySigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore file: %w", err)
	}

	key, err := keystore.DecryptKey(data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt private key: %w", err)
	}

	return NewKeySigner(key.PrivateKey), nil
}

func (s *KeySigner) Address() common.Address {
	return s.addr
}

// NodeSigner submits through eth_sendTransaction, leaving signing and nonce assignment to an
// account the node has unlocked.
type NodeSigner struct {
	rpc  RPCCaller
	addr common.Address
}

func NewNodeSigner(rpc RPCCaller, addr common.Address) *NodeSigner {
	return &NodeSigner{rpc: rpc, addr: addr}
}

func (s *NodeSigner) Address() common.Address {
	return s.addr
}

// SignerSource resolves the signer a registration for owner is submitted from.
type SignerSource interface {
	SignerFor(ctx context.Context, owner common.Address) (Signer, error)
}

// NodeAccounts signs with accounts the node manages, as listed by eth_accounts.
type NodeAccounts struct {
	rpc RPCCaller
}

func NewNodeAccounts(rpc RPCCaller) *NodeAccounts {
	return &NodeAccounts{rpc: rpc}
}

func (n *NodeAccounts) SignerFor(ctx context.Context, owner common.Address) (Signer, error) {
	accounts, err := n.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(accounts, owner) {
		return nil, fmt.Errorf("%w: account %s is not managed by the node", failures.ErrInvalidSubmission, owner.Hex())
	}
	return NewNodeSigner(n.rpc, owner), nil
}

func (n *NodeAccounts) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	err := n.rpc.CallContext(ctx, &accounts, "eth_accounts")
	if err != nil {
		return nil, fmt.Errorf("failed to list node accounts: %w", err)
	}
	return accounts, nil
}
