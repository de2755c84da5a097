package algorand

import (
	"context"
	"encoding/base32"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	sdk "github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/algorand/go-codec/codec"

	"github.com/ponderengine/core/internal/chainsync"
	"github.com/ponderengine/core/internal/event"
)

// Adapter polls an algod node round by round, feeds each round through a
// chainsync.Ring to detect reorgs and finality, and decodes matched
// transactions into event.RawItems, the same shape as evm.Adapter.
type Adapter struct {
	client   AlgodClient
	chainID  uint64
	ring     *chainsync.Ring
	matchers []*RuleMatcher
	next     uint64
}

// ChainID returns the chain ID this adapter was built for.
func (a *Adapter) ChainID() uint64 { return a.chainID }

// Ping checks RPC liveness by fetching node status.
func (a *Adapter) Ping(ctx context.Context) error {
	_, err := a.client.Status().Do(ctx)
	return err
}

// NewAdapter builds an adapter for one chain's account/app sources.
func NewAdapter(client AlgodClient, chainID uint64, finalityDepth uint64, sources []event.Source) (*Adapter, error) {
	var matchers []*RuleMatcher
	for _, s := range sources {
		if s.ChainID != chainID {
			continue
		}
		m, err := NewRuleMatcher(s)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}

	return &Adapter{
		client:   client,
		chainID:  chainID,
		ring:     chainsync.NewRing(finalityDepth, nil),
		matchers: matchers,
	}, nil
}

// Start sets the next round to fetch.
func (a *Adapter) Start(round uint64) { a.next = round }

// PollOnce fetches the next eligible round, reconciles it against the
// finality ring, and decodes any matched transactions.
func (a *Adapter) PollOnce(ctx context.Context) ([]chainsync.Update, []event.RawItem, error) {
	status, err := a.client.Status().Do(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("algorand: status: %w", err)
	}
	if a.next > status.LastRound {
		return nil, nil, nil
	}

	raw, err := a.client.BlockRaw(a.next).Do(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("algorand: block %d: %w", a.next, err)
	}
	var block sdk.Block
	if err := decodeBlock(raw, &block); err != nil {
		return nil, nil, fmt.Errorf("algorand: decode block %d: %w", a.next, err)
	}

	hashResp, err := a.client.GetBlockHash(a.next).Do(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("algorand: block hash %d: %w", a.next, err)
	}

	blk := chainsync.Block{
		Number:     a.next,
		Hash:       hashResp.Blockhash,
		ParentHash: digestToString(block.BlockHeader.Branch[:]),
		Timestamp:  uint64(block.BlockHeader.TimeStamp),
	}

	updates, err := a.ring.Reconcile(blk)
	if err != nil {
		return nil, nil, err
	}

	if len(updates) == 1 && updates[0].Kind == chainsync.UpdateReorg {
		a.next = updates[0].AncestorBlock.Number + 1
		return updates, nil, nil
	}

	items, err := a.decodeTransactions(block, blk)
	if err != nil {
		return nil, nil, err
	}
	a.next++
	return updates, items, nil
}

func (a *Adapter) decodeTransactions(block sdk.Block, blk chainsync.Block) ([]event.RawItem, error) {
	var items []event.RawItem
	for txIdx, stib := range block.Payset {
		tx := stib.SignedTxnWithAD.SignedTxn.Txn
		apply := stib.SignedTxnWithAD.ApplyData
		txid := crypto.TransactionIDString(tx)

		for _, m := range a.matchers {
			name, args, ok, err := m.MatchTxn(tx, apply)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			kind := event.KindTransaction
			contract := ""
			if m.kind == kindAssetTransfer {
				kind = event.KindTransfer
			} else {
				contract = fmt.Sprintf("%d", m.appID)
			}
			items = append(items, event.RawItem{
				Kind:             kind,
				ChainID:          a.chainID,
				BlockNumber:      blk.Number,
				BlockHash:        blk.Hash,
				BlockTimestamp:   blk.Timestamp,
				TransactionHash:  txid,
				TransactionIndex: uint64(txIdx),
				LogIndex:         0,
				Contract:         contract,
				Matches: func(s event.Source) bool {
					return s.ChainID == a.chainID && s.Name == name
				},
				Decode: func(s event.Source) (string, map[string]any, error) {
					return name, args, nil
				},
			})
		}
	}
	return items, nil
}

func digestToString(b []byte) string {
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)
}

func decodeBlock(raw []byte, dest *sdk.Block) error {
	h := &codec.MsgpackHandle{}
	dec := codec.NewDecoderBytes(raw, h)
	return dec.Decode(dest)
}
