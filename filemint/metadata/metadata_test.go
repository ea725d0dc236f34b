package metadata_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/filemint/filemint/filemint/failures"
	"github.com/filemint/filemint/filemint/metadata"
	"github.com/stretchr/testify/require"
)

const owner = "0x0000000000000000000000000000000000000ABC"

func TestBuild(t *testing.T) {
	t.Run("ValidSubmission", func(t *testing.T) {
		rec, err := metadata.Build("bafyfile", " art1 ", "alice", owner)
		require.NoError(t, err)
		require.Equal(t, "art1", rec.Name)
		require.Equal(t, "alice", rec.Creator)
		require.Equal(t, "bafyfile", rec.File)
		require.Equal(t, common.HexToAddress(owner), rec.AssociatedAccount)
		require.Equal(t, "art1.json", rec.PinName())
	})

	t.Run("CreatorIsOptional", func(t *testing.T) {
		rec, err := metadata.Build("bafyfile", "art1", "", owner)
		require.NoError(t, err)
		require.Empty(t, rec.Creator)
	})

	t.Run("EmptyDisplayName", func(t *testing.T) {
		_, err := metadata.Build("bafyfile", "   ", "alice", owner)
		require.ErrorIs(t, err, failures.ErrInvalidSubmission)
	})

	t.Run("EmptyOwner", func(t *testing.T) {
		_, err := metadata.Build("bafyfile", "art1", "alice", "")
		require.ErrorIs(t, err, failures.ErrInvalidSubmission)
	})

	t.Run("MalformedOwner", func(t *testing.T) {
		_, err := metadata.Build("bafyfile", "art1", "alice", "alice")
		require.ErrorIs(t, err, failures.ErrInvalidSubmission)
	})

	t.Run("MissingContentID", func(t *testing.T) {
		_, err := metadata.Build("", "art1", "alice", owner)
		require.ErrorIs(t, err, failures.ErrInvalidSubmission)
	})
}

func TestRecordJSONFieldNames(t *testing.T) {
	rec, err := metadata.Build("bafyfile", "art1", "alice", owner)
	require.NoError(t, err)

	encoded, err := json.Marshal(rec)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(encoded, &fields))
	require.Equal(t, "art1", fields["name"])
	require.Equal(t, "alice", fields["creator"])
	require.Equal(t, "bafyfile", fields["file"])
	require.Equal(t, strings.ToLower(owner), fields["associated_account"])
}
