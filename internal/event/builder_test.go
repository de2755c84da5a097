package event

import (
	"testing"

	ckpt "github.com/ponderengine/core/internal/checkpoint"
)

func TestBuildFiltersAndOrders(t *testing.T) {
	src := Source{Variant: SourceContract, ChainID: 1, Name: "ERC20:Transfer", ContractAddress: "0xabc"}

	items := []RawItem{
		{
			Kind: KindLog, ChainID: 1, BlockNumber: 2, TransactionIndex: 0, LogIndex: 0, Contract: "0xabc",
			Matches: func(s Source) bool { return s.ContractAddress == "0xabc" },
			Decode:  func(s Source) (string, map[string]any, error) { return s.Name, map[string]any{"v": 1}, nil },
		},
		{
			Kind: KindLog, ChainID: 1, BlockNumber: 1, TransactionIndex: 0, LogIndex: 0, Contract: "0xabc",
			Matches: func(s Source) bool { return s.ContractAddress == "0xabc" },
			Decode:  func(s Source) (string, map[string]any, error) { return s.Name, map[string]any{"v": 2}, nil },
		},
		{
			Kind: KindLog, ChainID: 1, BlockNumber: 1, TransactionIndex: 0, LogIndex: 0, Contract: "0xother",
			Matches: func(s Source) bool { return s.ContractAddress == "0xother" },
			Decode:  func(s Source) (string, map[string]any, error) { return s.Name, nil, nil },
		},
	}

	out := Build(items, []Source{src}, nil)
	if len(out) != 2 {
		t.Fatalf("expected 2 events (one filtered out by address), got %d", len(out))
	}
	if out[0].BlockNumber != 1 || out[1].BlockNumber != 2 {
		t.Fatalf("events not sorted by checkpoint: %+v", out)
	}
}

func TestBuildDropsUndecodableItemsNonFatally(t *testing.T) {
	src := Source{Variant: SourceContract, ChainID: 1, Name: "X", ContractAddress: "0xabc"}
	items := []RawItem{
		{
			Kind: KindLog, ChainID: 1, Contract: "0xabc",
			Matches: func(s Source) bool { return true },
			Decode:  func(s Source) (string, map[string]any, error) { return "", nil, errDecode },
		},
	}
	out := Build(items, []Source{src}, nil)
	if len(out) != 0 {
		t.Fatalf("expected decode failure to drop the item, got %d events", len(out))
	}
}

func TestBuildSetupEventsOncePerHandler(t *testing.T) {
	sources := []Source{
		{ChainID: 1, Name: "A"},
		{ChainID: 1, Name: "A"},
		{ChainID: 1, Name: "B"},
		{ChainID: 2, Name: "A"},
	}
	out := BuildSetupEvents(1, sources)
	if len(out) != 2 {
		t.Fatalf("expected 2 distinct handlers for chain 1, got %d", len(out))
	}
	for _, ev := range out {
		if ev.Checkpoint != ckpt.ZeroCheckpoint {
			t.Fatalf("setup event must use ZERO_CHECKPOINT, got %s", ev.Checkpoint)
		}
		if ev.Kind != KindSetup {
			t.Fatalf("expected KindSetup")
		}
	}
}

type stubErr string

func (e stubErr) Error() string { return string(e) }

var errDecode = stubErr("decode failed")
