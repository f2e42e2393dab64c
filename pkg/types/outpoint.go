package types

import "fmt"

// Outpoint references a specific output in a transaction.
type Outpoint struct {
	TxID  Hash   `json:"txid"`
	Index uint32 `json:"index"`
}

// IsZero returns true if the outpoint has a zero TxID and zero index.
func (o Outpoint) IsZero() bool {
	return o.TxID.IsZero() && o.Index == 0
}

// String returns "txid:index" in hex.
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID.String(), o.Index)
}

// NullOutpoint is the reserved sentinel that accumulates "lost sats" —
// satoshis that end up unassignable to any real output (fees with no
// coinbase landing room). Its SatRanges grow by appending, never by
// splitting.
var NullOutpoint = Outpoint{TxID: Hash{}, Index: ^uint32(0)}

// UnboundOutpoint is the reserved sentinel holding inscriptions that
// could not be bound to any sat (e.g. a transaction with no value-bearing
// output). Each unbound inscription gets its own ever-incrementing
// "offset" at this outpoint rather than sharing index 0.
var UnboundOutpoint = Outpoint{TxID: Hash{0xff, 0xff, 0xff, 0xff}, Index: ^uint32(0)}
