package types

import "fmt"

// SatPoint names the location of a single sat: the output that currently
// holds it and its offset (in sats) from the start of that output.
type SatPoint struct {
	Outpoint Outpoint `json:"outpoint"`
	Offset   uint64   `json:"offset"`
}

// String renders as "<txid>:<vout>:<offset>", the export format of §6.
func (sp SatPoint) String() string {
	return fmt.Sprintf("%s:%d:%d", sp.Outpoint.TxID, sp.Outpoint.Index, sp.Offset)
}

// InscriptionId identifies an inscription by the transaction that
// revealed it and the index of its envelope within that transaction's
// witness data (0 for the first envelope found, in witness/input order).
type InscriptionId struct {
	TxID  Hash   `json:"txid"`
	Index uint32 `json:"index"`
}

// String renders as "<txid>i<index>".
func (id InscriptionId) String() string {
	return fmt.Sprintf("%si%d", id.TxID, id.Index)
}

// IsZero reports whether id is the zero value.
func (id InscriptionId) IsZero() bool {
	return id.TxID.IsZero() && id.Index == 0
}

// RuneId identifies a rune by the height and transaction index of its
// etching transaction.
type RuneId struct {
	Height  uint64 `json:"height"`
	TxIndex uint16 `json:"tx_index"`
}

// String renders as "<height>:<tx_index>".
func (id RuneId) String() string {
	return fmt.Sprintf("%d:%d", id.Height, id.TxIndex)
}

// IsZero reports whether id is the zero value (never a valid etched id,
// since genuine etchings start at height > 0 or tx_index > 0 in practice,
// but used as a sentinel for "no fresh etching in this transaction").
func (id RuneId) IsZero() bool {
	return id.Height == 0 && id.TxIndex == 0
}
