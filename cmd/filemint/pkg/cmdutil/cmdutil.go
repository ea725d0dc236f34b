package cmdutil

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/filemint/filemint/cmd/filemint/account/pkg/wallet"
	"github.com/filemint/filemint/filemint/app"
	"github.com/filemint/filemint/filemint/config"
	"github.com/filemint/filemint/filemint/workflow"
)

// Connect checks cfg and dials the node, plus the pinning service when withStorage is set.
// A treasury keystore is unlocked with WALLET_PASSWORD or an interactive prompt.
func Connect(ctx context.Context, cfg config.Config, withStorage bool, opts workflow.Options) (*app.Clients, error) {
	validate := cfg.ValidateLedger
	if withStorage {
		validate = cfg.Validate
	}
	if err := validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.TreasuryKeystore != "" && cfg.WalletPassword == "" {
		password, err := wallet.ReadPassword(false)
		if err != nil {
			return nil, fmt.Errorf("failed to read wallet password: %w", err)
		}
		cfg.WalletPassword = password
	}

	clients, err := app.Dial(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	if withStorage && clients.Workflow == nil {
		clients.Close()
		return nil, fmt.Errorf("storage is not configured")
	}
	return clients, nil
}

func PrintJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
