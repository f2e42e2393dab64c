package index

import (
	"errors"
	"fmt"

	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// ErrUnrecoverableReorg is returned when no matching ancestor was found
// within MAX_RECOVERABLE depth: indexing stops. Nothing is written to
// the database to record the condition.
var ErrUnrecoverableReorg = errors.New("index: unrecoverable reorg, database needs a fresh sync")

// ReorgDecision reports the outcome of probing for a fork point: Depth
// is the first height back from the mismatch where the canonical chain
// and the node agree again.
type ReorgDecision struct {
	Height uint64
	Depth  uint64
}

// Restorer restores the database to its oldest persistent savepoint.
// Like Savepointer, this is injected rather than built into the driver:
// C9's probe-and-decide logic doesn't need to know how a savepoint is
// physically restored.
type Restorer interface {
	RestoreOldest() error
}

// maxRecoverableDepth is spec.md §4.9's bound: with MaxSavepoints kept
// SAVEPOINT_INTERVAL blocks apart, the oldest savepoint is never more
// than (MaxSavepoints-1)*SavepointInterval + (height mod
// SavepointInterval) blocks behind the mismatch.
func (p Params) maxRecoverableDepth(height uint64) uint64 {
	if p.MaxSavepoints == 0 || p.SavepointInterval == 0 {
		return 0
	}
	return (p.MaxSavepoints-1)*p.SavepointInterval + height%p.SavepointInterval
}

// DetectReorg probes depths 1, 2, … against the node's own block hash at
// each height, looking for the first one that still matches the
// canonical chain already recorded — the fork point. Grounded verbatim
// on original_source/src/index/reorg.rs's detect_reorg: the probe range
// is exclusive of max_recoverable_reorg_depth itself (matching the
// Rust `1..max_recoverable_reorg_depth` range), not inclusive as a
// literal reading of spec.md §4.9 might suggest.
func (d *Driver) DetectReorg(mismatch *ContinuityError) (ReorgDecision, error) {
	logger := klog.Reorg
	maxDepth := d.params.maxRecoverableDepth(mismatch.Height)

	for depth := uint64(1); depth < maxDepth; depth++ {
		if depth > mismatch.Height {
			break
		}
		probeHeight := mismatch.Height - depth

		indexHash, ok, err := d.meta.BlockHash(probeHeight)
		if err != nil {
			return ReorgDecision{}, err
		}
		if !ok {
			continue
		}

		nodeHashHex, err := d.client.GetBlockHash(probeHeight)
		if err != nil {
			return ReorgDecision{}, fmt.Errorf("index: probe node hash at height %d: %w", probeHeight, err)
		}
		if nodeHashHex == "" {
			continue
		}
		nodeHash, err := types.HexToHash(nodeHashHex)
		if err != nil {
			return ReorgDecision{}, fmt.Errorf("index: decode node hash at height %d: %w", probeHeight, err)
		}

		if indexHash == nodeHash {
			logger.Info().Uint64("height", mismatch.Height).Uint64("depth", depth).Msg("reorg fork point found")
			return ReorgDecision{Height: mismatch.Height, Depth: depth}, nil
		}
	}

	logger.Error().Uint64("height", mismatch.Height).Uint64("max_depth", maxDepth).Msg("reorg exceeds recoverable depth")
	return ReorgDecision{}, ErrUnrecoverableReorg
}

// Recover rolls the database back to its oldest savepoint and discards
// the canonical height->hash records above the restored tip, so the
// indexing loop can resume fetching from there. Per spec.md §4.9, the
// driver itself should then be treated as freshly constructed — callers
// that hold other in-memory state derived from it should rebuild it too.
func (d *Driver) Recover(decision ReorgDecision, restorer Restorer) (uint64, error) {
	logger := klog.Reorg
	logger.Info().Uint64("height", decision.Height).Uint64("depth", decision.Depth).Msg("rolling back to savepoint")

	if err := restorer.RestoreOldest(); err != nil {
		return 0, fmt.Errorf("index: restore savepoint: %w", err)
	}

	tip, ok, err := d.meta.TipHeight()
	if err != nil {
		return 0, err
	}
	if !ok {
		tip = 0
	}

	if err := d.meta.DeleteFrom(tip + 1); err != nil {
		return 0, fmt.Errorf("index: trim canonical chain above restored tip: %w", err)
	}

	d.state = StateIdle
	logger.Info().Uint64("new_tip", tip).Msg("rolled back successfully")
	return tip, nil
}
