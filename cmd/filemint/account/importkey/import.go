package importkey

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/filemint/filemint/cmd/filemint/account/pkg/wallet"
	"github.com/urfave/cli/v2"
)

func ImportAccount() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import the treasury signing key from a hex private key",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "privatekey",
				Aliases:  []string{"key"},
				Usage:    "Private key in hex format",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Replace an existing wallet",
			},
		},
		Action: func(c *cli.Context) error {
			hexKey := strings.TrimPrefix(c.String("privatekey"), "0x")
			privateKey, err := crypto.HexToECDSA(hexKey)
			if err != nil {
				return fmt.Errorf("invalid private key: %w", err)
			}

			walletPath, err := wallet.Path()
			if err != nil {
				return err
			}
			if info, err := os.Stat(walletPath); err == nil && info.Size() != 0 && !c.Bool("force") {
				return fmt.Errorf("a wallet already exists at %s, pass --force to replace it", walletPath)
			}

			password, err := wallet.ReadPassword(true)
			if err != nil {
				return fmt.Errorf("failed to create password: %w", err)
			}

			account, err := wallet.KeyStore(walletPath).ImportECDSA(privateKey, password)
			if err != nil {
				return fmt.Errorf("failed to encrypt keystore: %w", err)
			}
			if err := wallet.Store(account, walletPath); err != nil {
				return err
			}

			fmt.Println("Successfully imported account")
			fmt.Println("Address:", account.Address.Hex())

			return nil
		},
	}
}
