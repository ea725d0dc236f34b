// Package contentstore pins payloads to a content addressed storage network.
package contentstore

import (
	"context"
	"strings"
)

type Kind string

const (
	KindFile     Kind = "file"
	KindMetadata Kind = "metadata"
)

// PinnedArtifact is a payload the storage network has agreed to retain.
type PinnedArtifact struct {
	ContentID string `json:"contentId"`
	Size      int64  `json:"size"`
	Kind      Kind   `json:"kind"`
}

// URI is the scheme-qualified identifier written on chain.
func (a PinnedArtifact) URI() string {
	return "ipfs://" + a.ContentID
}

// Store pins raw bytes and JSON documents.
//
// Identical payloads usually map to identical identifiers, but callers must treat a
// successful pin as authoritative even when the identifier differs from an earlier call.
type Store interface {
	Pin(ctx context.Context, name string, data []byte) (PinnedArtifact, error)
	PinJSON(ctx context.Context, name string, document any) (PinnedArtifact, error)
}

// GatewayURL returns a public HTTP link for a content identifier.
func GatewayURL(gateway, contentID string) string {
	if gateway == "" {
		gateway = DefaultGateway
	}
	return strings.TrimRight(gateway, "/") + "/ipfs/" + contentID
}

const DefaultGateway = "https://ipfs.io"
