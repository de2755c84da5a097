// Package checkpoint implements the 75-character fixed-width ordered token
// used to give every event produced by the engine a single, string-comparable
// global position.
package checkpoint

import (
	"errors"
	"fmt"
)

// Field widths, in declaration order. Their sum is the checkpoint length.
const (
	widthTimestamp        = 10
	widthChainID          = 16
	widthBlockNumber      = 16
	widthTransactionIndex = 16
	widthEventType        = 1
	widthEventIndex       = 16

	Length = widthTimestamp + widthChainID + widthBlockNumber + widthTransactionIndex + widthEventType + widthEventIndex
)

// EventType is the stable per-variant tie-breaker used within a transaction.
type EventType uint8

const (
	EventTypeBlock EventType = iota
	EventTypeSetup
	EventTypeTransaction
	EventTypeTransfer
	EventTypeTrace
	EventTypeLog
)

// Fields is the decoded tuple a checkpoint string encodes.
type Fields struct {
	BlockTimestamp   uint64
	ChainID          uint64
	BlockNumber      uint64
	TransactionIndex uint64
	EventType        EventType
	EventIndex       uint64
}

// ErrInvalidCheckpoint is returned by Decode when the input is not a
// well-formed 75-character decimal string.
var ErrInvalidCheckpoint = errors.New("checkpoint: invalid checkpoint")

// ZeroCheckpoint is used by Setup events: the smallest possible checkpoint.
var ZeroCheckpoint = Encode(Fields{})

// MaxCheckpoint is used by shadow-table triggers for not-yet-committed rows:
// the largest possible checkpoint, guaranteed to sort after any real one.
var MaxCheckpoint = func() string {
	nines := make([]byte, Length)
	for i := range nines {
		nines[i] = '9'
	}
	return string(nines)
}()

// Encode renders fields into the fixed-width lexicographically ordered form.
func Encode(f Fields) string {
	return fmt.Sprintf("%0*d%0*d%0*d%0*d%0*d%0*d",
		widthTimestamp, f.BlockTimestamp,
		widthChainID, f.ChainID,
		widthBlockNumber, f.BlockNumber,
		widthTransactionIndex, f.TransactionIndex,
		widthEventType, f.EventType,
		widthEventIndex, f.EventIndex,
	)
}

// Decode parses a checkpoint string back into its tuple of fields.
func Decode(s string) (Fields, error) {
	if len(s) != Length {
		return Fields{}, fmt.Errorf("%w: length %d, want %d", ErrInvalidCheckpoint, len(s), Length)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return Fields{}, fmt.Errorf("%w: non-digit at offset %d", ErrInvalidCheckpoint, i)
		}
	}

	offsets := []int{widthTimestamp, widthChainID, widthBlockNumber, widthTransactionIndex, widthEventType, widthEventIndex}
	vals := make([]uint64, len(offsets))
	pos := 0
	for i, w := range offsets {
		v, err := parseDecimal(s[pos : pos+w])
		if err != nil {
			return Fields{}, fmt.Errorf("%w: %s", ErrInvalidCheckpoint, err)
		}
		vals[i] = v
		pos += w
	}

	return Fields{
		BlockTimestamp:   vals[0],
		ChainID:          vals[1],
		BlockNumber:      vals[2],
		TransactionIndex: vals[3],
		EventType:        EventType(vals[4]),
		EventIndex:       vals[5],
	}, nil
}

func parseDecimal(s string) (uint64, error) {
	var v uint64
	for i := 0; i < len(s); i++ {
		v = v*10 + uint64(s[i]-'0')
	}
	return v, nil
}

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater than b.
// It is defined purely in terms of Go string comparison: the encoding's
// invariant is precisely that this equals tuple comparison of Decode(a),
// Decode(b).
func Compare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Less is a convenience wrapper over Compare for use as a sort.Less.
func Less(a, b string) bool {
	return a < b
}
