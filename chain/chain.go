// Package chain declares this core's view of the blockchain/chainstate
// manager: a pure external collaborator that this module consumes but never
// implements.
package chain

import "context"

// BaseBlock is a handle to a specific blockchain block.
type BaseBlock struct {
	Hash   [32]byte
	Height uint32
}

// Source is the chain/registry boundary this core depends on. It is
// implemented by the embedding node, never by this module.
type Source interface {
	// Ancestor returns the ancestor of b at the given height.
	Ancestor(ctx context.Context, b BaseBlock, height uint32) (BaseBlock, error)

	// IsOnActiveChain reports whether b is still on the chain tip's
	// ancestry, used by the scheduler's reorg detector.
	IsOnActiveChain(ctx context.Context, b BaseBlock) (bool, error)

	// Tip returns the current best block known to the chain.
	Tip(ctx context.Context) (BaseBlock, error)
}
