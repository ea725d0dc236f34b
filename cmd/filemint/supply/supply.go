package supply

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/filemint/filemint/cmd/filemint/pkg/cmdutil"
	"github.com/filemint/filemint/filemint/config"
	"github.com/filemint/filemint/filemint/ledger"
	"github.com/filemint/filemint/filemint/workflow"
	"github.com/urfave/cli/v2"
)

func Supply() *cli.Command {
	return &cli.Command{
		Name:  "supply",
		Usage: "Manage the reward token supply",
		Subcommands: []*cli.Command{
			mint(),
			show(),
		},
	}
}

func mint() *cli.Command {
	cfg := config.Default()

	flags := append(config.LedgerFlags(&cfg), config.RewardFlags(&cfg)...)

	return &cli.Command{
		Name:  "mint",
		Usage: "Mint the initial supply to the store owner unless the treasury already holds tokens",
		Flags: flags,
		Action: func(c *cli.Context) error {
			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
			defer cancel()

			clients, err := cmdutil.Connect(ctx, cfg, false, workflow.Options{})
			if err != nil {
				return err
			}
			defer clients.Close()

			report, err := clients.IssueInitialSupply(ctx, cfg.InitialSupplyWei())
			if err != nil {
				return err
			}

			if report.Skipped {
				fmt.Println("Treasury already holds", ledger.FormatTokens(report.Supply), "tokens, nothing minted")
			} else {
				fmt.Println("Minted", ledger.FormatTokens(report.Mint.Amount), "tokens to", report.Mint.To.Hex())
				fmt.Println("Transaction:", report.Mint.TxHash.Hex(), "block", report.Mint.BlockNumber)
			}
			fmt.Println("Store owner balance:", ledger.FormatTokens(report.Balance.Balance), "tokens")

			return nil
		},
	}
}

func show() *cli.Command {
	cfg := config.Default()

	return &cli.Command{
		Name:  "show",
		Usage: "Print the total supply and the store owner balance",
		Flags: config.LedgerFlags(&cfg),
		Action: func(c *cli.Context) error {
			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
			defer cancel()

			clients, err := cmdutil.Connect(ctx, cfg, false, workflow.Options{})
			if err != nil {
				return err
			}
			defer clients.Close()

			supply, err := clients.Treasury.TotalSupply(ctx)
			if err != nil {
				return err
			}
			balance, err := clients.Treasury.BalanceOf(ctx, clients.Treasury.Signer())
			if err != nil {
				return err
			}

			cmdutil.PrintTable([][]string{
				{"Treasury", clients.Treasury.Address().Hex()},
				{"Total supply", ledger.FormatTokens(supply) + " tokens"},
				{"Store owner", balance.Address.Hex()},
				{"Balance", fmt.Sprintf("%s tokens at block %d", ledger.FormatTokens(balance.Balance), balance.Block)},
			})

			return nil
		},
	}
}
