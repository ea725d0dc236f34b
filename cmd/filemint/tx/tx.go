package tx

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/filemint/filemint/cmd/filemint/pkg/cmdutil"
	"github.com/urfave/cli/v2"
)

func Tx() *cli.Command {
	cfg := struct {
		nodeURL string
	}{}

	return &cli.Command{
		Name:      "tx",
		Usage:     "Print the receipt of a registration or reward transaction as JSON",
		ArgsUsage: "<tx hash>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "node-url",
				Usage:       "The URL of the node to connect to",
				Value:       "http://localhost:8545",
				EnvVars:     []string{"NODE_URL"},
				Destination: &cfg.nodeURL,
			},
		},
		Action: func(c *cli.Context) error {
			raw := c.Args().First()
			b, err := hexutil.Decode(raw)
			if err != nil || len(b) != common.HashLength {
				return fmt.Errorf("%q is not a transaction hash", raw)
			}
			hash := common.BytesToHash(b)

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
			defer cancel()

			client, err := ethclient.DialContext(ctx, cfg.nodeURL)
			if err != nil {
				return fmt.Errorf("failed to dial node: %w", err)
			}
			defer client.Close()

			receipt, err := client.TransactionReceipt(ctx, hash)
			if errors.Is(err, ethereum.NotFound) {
				_, pending, lookupErr := client.TransactionByHash(ctx, hash)
				if lookupErr == nil && pending {
					return fmt.Errorf("transaction %s is pending", hash.Hex())
				}
				return fmt.Errorf("transaction %s not found", hash.Hex())
			}
			if err != nil {
				return fmt.Errorf("failed to get receipt: %w", err)
			}

			return cmdutil.PrintJSON(receipt)
		},
	}
}
