package account

import (
	"fmt"

	"github.com/filemint/filemint/cmd/filemint/account/create"
	"github.com/filemint/filemint/cmd/filemint/account/importkey"
	"github.com/filemint/filemint/cmd/filemint/account/pkg/wallet"
	"github.com/urfave/cli/v2"
)

func Account() *cli.Command {
	return &cli.Command{
		Name:  "account",
		Usage: "Manage the local treasury signing key",
		Subcommands: []*cli.Command{
			create.Create(),
			importkey.ImportAccount(),
			{
				Name:  "show",
				Usage: "Print the wallet location and address",
				Action: func(c *cli.Context) error {
					walletPath, err := wallet.Path()
					if err != nil {
						return err
					}
					addr, err := wallet.Address(walletPath)
					if err != nil {
						return err
					}
					fmt.Println("Wallet:", walletPath)
					fmt.Println("Address:", addr.Hex())
					return nil
				},
			},
		},
	}
}
