package cmdutil

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/filemint/filemint/filemint/contentstore"
	"github.com/filemint/filemint/filemint/ledger"
	"github.com/filemint/filemint/filemint/workflow"
	"github.com/olekukonko/tablewriter"
)

// PrintResult reports a completed run.
func PrintResult(res *workflow.Result, gateway string) {
	color.New(color.FgGreen, color.Bold).Printf("Registered token %s\n", res.Registration.TokenID)

	PrintTable([][]string{
		{"Run", res.RunID},
		{"File", res.File.URI() + " (" + humanize.Bytes(uint64(res.File.Size)) + ")"},
		{"Metadata", res.Metadata.URI()},
		{"Gateway", contentstore.GatewayURL(gateway, res.Metadata.ContentID)},
		{"Owner", res.Registration.Owner.Hex()},
		{"Registration tx", fmt.Sprintf("%s (block %d)", res.Registration.TxHash.Hex(), res.Registration.BlockNumber)},
		{"Reward", ledger.FormatTokens(res.Reward.Amount) + " tokens"},
		{"Reward tx", fmt.Sprintf("%s (block %d)", res.Reward.TxHash.Hex(), res.Reward.BlockNumber)},
		{"Balance", fmt.Sprintf("%s tokens at block %d", ledger.FormatTokens(res.Balance.Balance), res.Balance.Block)},
	})
}

// PrintTable prints label/value rows.
func PrintTable(rows [][]string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.AppendBulk(rows)
	table.Render()
}

// Failed saves the checkpoint of a failed run to path, when one is given, and returns err
// with a resume hint.
func Failed(err error, path string) error {
	var wfErr *workflow.Error
	if !errors.As(err, &wfErr) || wfErr.Checkpoint.Key == "" || path == "" {
		return err
	}
	if werr := WriteCheckpoint(path, wfErr.Checkpoint); werr != nil {
		return errors.Join(err, werr)
	}
	color.New(color.FgYellow).Fprintf(os.Stderr, "Run %s stopped in %s, checkpoint saved to %s\n", wfErr.Checkpoint.RunID, wfErr.State, path)
	return fmt.Errorf("%w (continue with: filemint resume --checkpoint %s)", err, path)
}
