// Package export writes the tab-separated inscription dump described in
// spec.md §6, grounded on original_source/src/index.rs's export(): one
// line per inscription, in ascending sequence-number order, with an
// optional address column.
package export

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/Klingon-tech/klingnet-chain/internal/address"
	"github.com/Klingon-tech/klingnet-chain/internal/query"
	"github.com/Klingon-tech/klingnet-chain/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// nodeClient is the one RPC call the address column needs: the
// scriptPubKey of the output an inscription's satpoint currently sits
// on, fetched fresh from the node rather than kept in local storage
// (the indexer's tables hold sat ranges, not scripts).
type nodeClient interface {
	GetRawTransaction(txid string) (*rpcclient.RawTransaction, error)
}

// ShouldStop is polled between inscriptions so a caller can cancel a
// long export gracefully (§5), the way the driver's own ingestion loop
// already does for blocks.
type ShouldStop func() bool

// Writer streams the export format to w using store for local lookups
// and node for address resolution.
type Writer struct {
	store *query.Store
	node  nodeClient
	hrp   string
}

// New returns a Writer rendering addresses under hrp (e.g. "bc" for
// mainnet, "tb" for testnet/signet, "bcrt" for regtest).
func New(store *query.Store, node nodeClient, hrp string) *Writer {
	return &Writer{store: store, node: node, hrp: hrp}
}

// Export writes every currently-known inscription to w, oldest (lowest
// sequence number) first, checking stop between iterations.
// includeAddresses controls whether the fourth (address) column is
// emitted at all.
func (e *Writer) Export(w io.Writer, includeAddresses bool, stop ShouldStop) error {
	bw := bufio.NewWriter(w)

	height, err := e.store.BlockCount()
	if err != nil {
		return fmt.Errorf("export: block count: %w", err)
	}
	if _, err := fmt.Fprintf(bw, "# export at block height %d\n", height); err != nil {
		return err
	}

	for seq := uint64(0); ; seq++ {
		id, entry, ok, err := e.store.GetInscriptionBySequence(seq)
		if err != nil {
			return fmt.Errorf("export: sequence %d: %w", seq, err)
		}
		if !ok {
			break
		}

		satpoint, spOK, err := e.store.GetInscriptionSatPoint(id)
		if err != nil {
			return fmt.Errorf("export: satpoint for %s: %w", id, err)
		}
		if !spOK {
			return fmt.Errorf("export: satpoint missing for %s", id)
		}

		if _, err := fmt.Fprintf(bw, "%d\t%s\t%s", entry.Number, id, satpoint); err != nil {
			return err
		}

		if includeAddresses {
			if _, err := fmt.Fprintf(bw, "\t%s", e.addressFor(satpoint)); err != nil {
				return err
			}
		}
		if _, err := bw.WriteString("\n"); err != nil {
			return err
		}

		if stop != nil && stop() {
			break
		}
	}

	return bw.Flush()
}

// addressFor resolves satpoint's current output to an address string,
// "unbound" for the sentinel outpoint, or the error text if the script
// cannot be decoded, matching export()'s own fallback.
func (e *Writer) addressFor(satpoint types.SatPoint) string {
	if satpoint.Outpoint == types.UnboundOutpoint {
		return "unbound"
	}

	tx, err := e.node.GetRawTransaction(satpoint.Outpoint.TxID.String())
	if err != nil {
		return err.Error()
	}
	if tx == nil {
		return fmt.Errorf("export: transaction %s not found", satpoint.Outpoint.TxID).Error()
	}
	if int(satpoint.Outpoint.Index) >= len(tx.Vout) {
		return fmt.Errorf("export: output index %d out of range for %s", satpoint.Outpoint.Index, satpoint.Outpoint.TxID).Error()
	}

	scriptHex := tx.Vout[satpoint.Outpoint.Index].ScriptPubKey.Hex
	script, err := hex.DecodeString(scriptHex)
	if err != nil {
		return fmt.Errorf("export: decode scriptPubKey: %w", err).Error()
	}

	addr, err := address.AddressFromScript(script, e.hrp)
	if err != nil {
		return err.Error()
	}
	return addr
}
