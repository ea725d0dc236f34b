package balance

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/ethereum/go-ethereum/common"
	"github.com/filemint/filemint/cmd/filemint/pkg/cmdutil"
	"github.com/filemint/filemint/filemint/config"
	"github.com/filemint/filemint/filemint/ledger"
	"github.com/filemint/filemint/filemint/workflow"
	"github.com/urfave/cli/v2"
)

func Balance() *cli.Command {
	cfg := config.Default()
	args := struct {
		json bool
	}{}

	flags := append(config.LedgerFlags(&cfg), &cli.BoolFlag{
		Name:        "json",
		Usage:       "Print the balance as JSON",
		Destination: &args.json,
	})

	return &cli.Command{
		Name:      "balance",
		Usage:     "Get the reward token balance of an account, the store owner by default",
		ArgsUsage: "[address]",
		Flags:     flags,
		Action: func(c *cli.Context) error {
			addr := c.Args().First()
			if addr != "" && !common.IsHexAddress(addr) {
				return fmt.Errorf("%q is not an account address", addr)
			}

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
			defer cancel()

			clients, err := cmdutil.Connect(ctx, cfg, false, workflow.Options{})
			if err != nil {
				return err
			}
			defer clients.Close()

			account := clients.Treasury.Signer()
			if addr != "" {
				account = common.HexToAddress(addr)
			}

			balance, err := clients.Treasury.BalanceOf(ctx, account)
			if err != nil {
				return err
			}

			if args.json {
				return cmdutil.PrintJSON(balance)
			}
			cmdutil.PrintTable([][]string{
				{"Address", balance.Address.Hex()},
				{"Balance", ledger.FormatTokens(balance.Balance) + " tokens"},
				{"Block", fmt.Sprint(balance.Block)},
			})

			return nil
		},
	}
}
