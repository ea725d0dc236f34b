// Package metadata builds the canonical record pinned alongside every registered file.
package metadata

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/filemint/filemint/filemint/failures"
)

// Record is the document pinned next to the file. The JSON field names are the ones
// existing token metadata already uses, so they must not change.
type Record struct {
	Name              string         `json:"name"`
	Creator           string         `json:"creator"`
	File              string         `json:"file"`
	AssociatedAccount common.Address `json:"associated_account"`
}

// Validate checks the parts of a submission that would make any later step pointless.
func Validate(displayName, ownerAccount string) error {
	if strings.TrimSpace(displayName) == "" {
		return fmt.Errorf("%w: display name is required", failures.ErrInvalidSubmission)
	}
	owner := strings.TrimSpace(ownerAccount)
	if owner == "" {
		return fmt.Errorf("%w: owner account is required", failures.ErrInvalidSubmission)
	}
	if !common.IsHexAddress(owner) {
		return fmt.Errorf("%w: owner account %q is not an address", failures.ErrInvalidSubmission, owner)
	}
	return nil
}

// Build assembles the record for an already pinned file. It performs no I/O.
func Build(contentID, displayName, creatorName, ownerAccount string) (Record, error) {
	if err := Validate(displayName, ownerAccount); err != nil {
		return Record{}, err
	}
	if strings.TrimSpace(contentID) == "" {
		return Record{}, fmt.Errorf("%w: content identifier is required", failures.ErrInvalidSubmission)
	}

	return Record{
		Name:              strings.TrimSpace(displayName),
		Creator:           strings.TrimSpace(creatorName),
		File:              contentID,
		AssociatedAccount: common.HexToAddress(strings.TrimSpace(ownerAccount)),
	}, nil
}

// PinName is the human readable name the storage network shows for the record.
func (r Record) PinName() string {
	return r.Name + ".json"
}
