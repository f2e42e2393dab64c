package rpcclient

import "fmt"

// BlockHeaderInfo is the subset of `getblockheader`'s verbose output C7/C8
// need: enough to verify continuity (§4.8 VERIFYING_CONTINUITY) and drive
// the reorg controller's depth probe (§4.9).
type BlockHeaderInfo struct {
	Hash          string `json:"hash"`
	Height        uint64 `json:"height"`
	PreviousHash  string `json:"previousblockhash"`
	Time          int64  `json:"time"`
	Confirmations int64  `json:"confirmations"`
}

// Vin is one transaction input as returned by `getrawtransaction`
// verbosity 2. Coinbase is non-empty only for a coinbase input, in which
// case Txid/Vout/Witness are meaningless.
type Vin struct {
	Txid     string   `json:"txid"`
	Vout     uint32   `json:"vout"`
	Witness  []string `json:"txinwitness"`
	Coinbase string   `json:"coinbase"`
}

// Vout is one transaction output.
type Vout struct {
	Value        float64 `json:"value"` // BTC, per Bitcoin Core's RPC convention
	N            uint32  `json:"n"`
	ScriptPubKey struct {
		Hex string `json:"hex"`
	} `json:"scriptPubKey"`
}

// RawTransaction is the subset of `getrawtransaction` verbosity 2's
// output the indexer needs to run C4/C5/C6's per-transaction algorithms.
type RawTransaction struct {
	Txid string `json:"txid"`
	Vin  []Vin  `json:"vin"`
	Vout []Vout `json:"vout"`
}

// RawTransactionInfo additionally reports which block (if any) a
// transaction was confirmed in, used to confirm chain membership per
// spec.md §6.
type RawTransactionInfo struct {
	RawTransaction
	BlockHash     string `json:"blockhash"`
	Confirmations int64  `json:"confirmations"`
}

// Block is `getblock` verbosity 2's output: a full header plus every
// transaction's decoded body, the shape the block fetcher pipelines.
type Block struct {
	Hash         string           `json:"hash"`
	Height       uint64           `json:"height"`
	PreviousHash string           `json:"previousblockhash"`
	Time         int64            `json:"time"`
	Tx           []RawTransaction `json:"tx"`
}

// BlockchainInfo is `getblockchaininfo`'s output, used to learn the
// node's current header tip.
type BlockchainInfo struct {
	Blocks        uint64 `json:"blocks"`
	Headers       uint64 `json:"headers"`
	BestBlockHash string `json:"bestblockhash"`
}

// GetBlockHash returns the block hash at height, or ("", nil) if the
// node has no block at that height yet.
func (c *Client) GetBlockHash(height uint64) (string, error) {
	var hash string
	err := c.Call("getblockhash", []interface{}{height}, &hash)
	if err != nil {
		if IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("getblockhash(%d): %w", height, err)
	}
	return hash, nil
}

// GetBlock returns the full decoded block for hash (verbosity 2), or
// (nil, nil) if hash is unknown to the node.
func (c *Client) GetBlock(hash string) (*Block, error) {
	var blk Block
	err := c.Call("getblock", []interface{}{hash, 2}, &blk)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getblock(%s): %w", hash, err)
	}
	return &blk, nil
}

// GetBlockHeader returns just the header hash chain link for hash
// (verbosity false would return a hex string instead; this always asks
// for the verbose JSON form C8/C9 need).
func (c *Client) GetBlockHeader(hash string) (*BlockHeaderInfo, error) {
	return c.GetBlockHeaderInfo(hash)
}

// GetBlockHeaderInfo returns the verbose header for hash, or (nil, nil)
// if unknown.
func (c *Client) GetBlockHeaderInfo(hash string) (*BlockHeaderInfo, error) {
	var hdr BlockHeaderInfo
	err := c.Call("getblockheader", []interface{}{hash, true}, &hdr)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getblockheader(%s): %w", hash, err)
	}
	return &hdr, nil
}

// GetRawTransaction returns the decoded transaction for txid, or
// (nil, nil) if unknown (e.g. pruned, or never broadcast to this node).
func (c *Client) GetRawTransaction(txid string) (*RawTransaction, error) {
	var tx RawTransaction
	err := c.Call("getrawtransaction", []interface{}{txid, 2}, &tx)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getrawtransaction(%s): %w", txid, err)
	}
	return &tx, nil
}

// GetRawTransactionInfo additionally reports the confirming block hash,
// used to check chain membership.
func (c *Client) GetRawTransactionInfo(txid string) (*RawTransactionInfo, error) {
	var tx RawTransactionInfo
	err := c.Call("getrawtransaction", []interface{}{txid, 2}, &tx)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getrawtransaction(%s): %w", txid, err)
	}
	return &tx, nil
}

// GetBlockchainInfo returns the node's current chain tip summary.
func (c *Client) GetBlockchainInfo() (*BlockchainInfo, error) {
	var info BlockchainInfo
	if err := c.Call("getblockchaininfo", nil, &info); err != nil {
		return nil, fmt.Errorf("getblockchaininfo: %w", err)
	}
	return &info, nil
}
