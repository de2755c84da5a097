// Package event is C2: it turns RawBlockBundles into typed, checkpoint-
// ordered Events according to a chain's declared Sources.
package event

import (
	"github.com/shopspring/decimal"

	ckpt "github.com/ponderengine/core/internal/checkpoint"
)

// Kind is the Event tagged-union discriminant (SPEC_FULL.md §9: Go has no
// native sum types, so a single struct with a Kind enum and optional
// per-variant payload fields is the idiomatic approximation).
type Kind uint8

const (
	KindSetup Kind = iota
	KindLog
	KindTrace
	KindTransaction
	KindTransfer
	KindBlock
)

func (k Kind) eventType() ckpt.EventType {
	switch k {
	case KindSetup:
		return ckpt.EventTypeSetup
	case KindLog:
		return ckpt.EventTypeLog
	case KindTrace:
		return ckpt.EventTypeTrace
	case KindTransaction:
		return ckpt.EventTypeTransaction
	case KindTransfer:
		return ckpt.EventTypeTransfer
	case KindBlock:
		return ckpt.EventTypeBlock
	default:
		return ckpt.EventTypeBlock
	}
}

// Event is the tagged union consumed by the indexing executor.
type Event struct {
	Kind       Kind
	ChainID    uint64
	Name       string // user-facing handler key, e.g. "ERC20:Transfer"
	Checkpoint string

	BlockNumber    uint64
	BlockHash      string
	BlockTimestamp uint64

	TransactionHash  string
	TransactionIndex uint64

	LogIndex uint64
	Contract string

	// Args holds ABI/txn-decoded arguments as the chain adapter decoded them
	// (e.g. *big.Int for EVM uint256, uint64 for Algorand amounts); they are
	// not converted to decimal.Decimal.
	Args map[string]any
}

// NumericArg reads a decimal-typed argument, returning false if absent or of
// the wrong type.
func (e Event) NumericArg(key string) (decimal.Decimal, bool) {
	v, ok := e.Args[key]
	if !ok {
		return decimal.Decimal{}, false
	}
	d, ok := v.(decimal.Decimal)
	return d, ok
}

// NewSetupEvent builds the once-per-(chain,handler) synthetic event at
// ZERO_CHECKPOINT.
func NewSetupEvent(chainID uint64, handlerName string) Event {
	return Event{
		Kind:       KindSetup,
		ChainID:    chainID,
		Name:       handlerName,
		Checkpoint: ckpt.ZeroCheckpoint,
	}
}

// Builder computes an Event's checkpoint from its positional fields.
func (e Event) WithCheckpoint() Event {
	e.Checkpoint = ckpt.Encode(ckpt.Fields{
		BlockTimestamp:   e.BlockTimestamp,
		ChainID:          e.ChainID,
		BlockNumber:      e.BlockNumber,
		TransactionIndex: e.TransactionIndex,
		EventType:        e.Kind.eventType(),
		EventIndex:       e.LogIndex,
	})
	return e
}
