// Package fetch pipelines block retrieval from the upstream node ahead
// of where the updater driver (C8) is currently applying, so RPC round
// trips overlap with block processing instead of serializing with it
// (spec.md §4.7/§4.8). Grounded on internal/p2p's bounded-channel,
// select/ctx.Done retry-loop shape (see node.go's connectSeedsLoop),
// generalized from a gossip mesh to a single trusted RPC peer.
package fetch

import (
	"context"
	"errors"
	"time"

	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/rpcclient"
)

// maxAttempts bounds how many times a single height is retried against
// transient RPC failures before the error is surfaced to the consumer.
const maxAttempts = 5

// baseBackoff is the initial wait between retries; it doubles each
// attempt, capped at maxBackoff.
const baseBackoff = 500 * time.Millisecond
const maxBackoff = 30 * time.Second

// tipPollInterval is how long to wait before re-checking for a new block
// once the fetcher has caught up to the node's current tip.
const tipPollInterval = 2 * time.Second

// Fetched is one pipelined block result.
type Fetched struct {
	Height uint64
	Block  *rpcclient.Block
}

// Fetcher runs a background goroutine that walks heights upward from a
// starting point, pushing decoded blocks into a bounded channel that C8
// drains one at a time.
type Fetcher struct {
	client     *rpcclient.Client
	out        chan Fetched
	errc       chan error
	cancel     context.CancelFunc
	lookaheadN int
}

// New returns a Fetcher that keeps up to lookahead blocks buffered ahead
// of the consumer.
func New(client *rpcclient.Client, lookahead int) *Fetcher {
	if lookahead < 1 {
		lookahead = 1
	}
	return &Fetcher{
		client:     client,
		out:        make(chan Fetched, lookahead),
		errc:       make(chan error, 1),
		lookaheadN: lookahead,
	}
}

// Start begins fetching blocks from fromHeight onward in the background.
// Calling Start a second time is a no-op, also after Stop: a Fetcher
// runs once.
func (f *Fetcher) Start(ctx context.Context, fromHeight uint64) {
	if f.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	go f.run(runCtx, fromHeight)
}

// Stop halts the background fetch loop. It does not wake a pending Next,
// which returns only on a block, a fetch error, or its own ctx ending.
func (f *Fetcher) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
}

// Next blocks until the next sequential block is ready, an error is
// hit, or ctx is done.
func (f *Fetcher) Next(ctx context.Context) (Fetched, error) {
	select {
	case v := <-f.out:
		return v, nil
	case err := <-f.errc:
		return Fetched{}, err
	case <-ctx.Done():
		return Fetched{}, ctx.Err()
	}
}

func (f *Fetcher) run(ctx context.Context, fromHeight uint64) {
	logger := klog.Fetcher
	height := fromHeight
	for {
		blk, err := f.fetchWithBackoff(ctx, height)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error().Uint64("height", height).Err(err).Msg("fetch failed, giving up")
			select {
			case f.errc <- err:
			case <-ctx.Done():
			}
			return
		}
		if blk == nil {
			// Not mined yet: wait for the node's tip to advance.
			select {
			case <-time.After(tipPollInterval):
				continue
			case <-ctx.Done():
				return
			}
		}
		select {
		case f.out <- Fetched{Height: height, Block: blk}:
			height++
		case <-ctx.Done():
			return
		}
	}
}

// fetchWithBackoff resolves one height to its block, retrying transient
// RPC errors with exponential backoff. A nil, nil result means the node
// has no block at that height yet (its tip hasn't reached it).
func (f *Fetcher) fetchWithBackoff(ctx context.Context, height uint64) (*rpcclient.Block, error) {
	backoff := baseBackoff
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		hash, err := f.client.GetBlockHash(height)
		if err != nil {
			lastErr = err
			continue
		}
		if hash == "" {
			return nil, nil
		}

		blk, err := f.client.GetBlock(hash)
		if err != nil {
			lastErr = err
			continue
		}
		return blk, nil
	}
	return nil, lastErr
}
