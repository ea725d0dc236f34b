package create

import (
	"fmt"
	"os"

	"github.com/filemint/filemint/cmd/filemint/account/pkg/wallet"
	"github.com/urfave/cli/v2"
)

func Create() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a new treasury signing key",
		Action: func(c *cli.Context) error {
			walletPath, err := wallet.Path()
			if err != nil {
				return err
			}

			info, err := os.Stat(walletPath)
			// Only a permission problem matters here. A missing or empty file is what we expect.
			if err == nil {
				if info.Size() != 0 {
					return fmt.Errorf("a wallet already exists at %s", walletPath)
				}
			} else if os.IsPermission(err) {
				return fmt.Errorf("failed to stat walletPath %s: %w", walletPath, err)
			}

			password, err := wallet.ReadPassword(true)
			if err != nil {
				return fmt.Errorf("failed to create password: %w", err)
			}

			account, err := wallet.KeyStore(walletPath).NewAccount(password)
			if err != nil {
				return fmt.Errorf("failed to create new account: %w", err)
			}
			if err := wallet.Store(account, walletPath); err != nil {
				return err
			}

			fmt.Println("New wallet created", walletPath)
			fmt.Println("Address:", account.Address.Hex())
			fmt.Printf("Use it for treasury transactions with TREASURY_KEYSTORE=%s\n", walletPath)

			return nil
		},
	}
}
