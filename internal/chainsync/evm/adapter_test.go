package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ponderengine/core/internal/chainsync"
	"github.com/ponderengine/core/internal/event"
)

type fakeClient struct {
	headers map[uint64]*types.Header
	logs    map[uint64][]types.Log
	latest  uint64
}

func (f *fakeClient) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	n := f.latest
	if number != nil {
		n = number.Uint64()
	}
	if h, ok := f.headers[n]; ok {
		return h, nil
	}
	return nil, fmt.Errorf("header %d not found", n)
}

func (f *fakeClient) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return f.logs[q.FromBlock.Uint64()], nil
}

func erc20ABI(t *testing.T) map[string]*abi.Event {
	t.Helper()
	raw := `[
		{"type":"event","name":"Transfer","inputs":[
			{"name":"from","type":"address","indexed":true},
			{"name":"to","type":"address","indexed":true},
			{"name":"value","type":"uint256","indexed":false}
		]}
	]`
	a, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	ev := a.Events["Transfer"]
	return map[string]*abi.Event{"Transfer": &ev}
}

func TestAdapterPollOnceDecodesLogAndAdvances(t *testing.T) {
	src := event.Source{
		Variant:         event.SourceContract,
		ChainID:         1,
		Name:            "ERC20:Transfer",
		ContractAddress: "0xA0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		EventSignature:  "Transfer(address,address,uint256)",
	}

	parent := &types.Header{Number: big.NewInt(0)}
	h1 := &types.Header{Number: big.NewInt(1), ParentHash: parent.Hash()}

	fc := &fakeClient{
		latest:  1,
		headers: map[uint64]*types.Header{0: parent, 1: h1},
		logs: map[uint64][]types.Log{
			1: {
				{
					Address: common.HexToAddress(src.ContractAddress),
					Topics: []common.Hash{
						crypto.Keccak256Hash([]byte(src.EventSignature)),
						addrTopic(common.HexToAddress("0x01")),
						addrTopic(common.HexToAddress("0x02")),
					},
					Data:   common.LeftPadBytes(big.NewInt(1000).Bytes(), 32),
					TxHash: common.HexToHash("0xabc"),
					Index:  0,
				},
			},
		},
	}

	a, err := NewAdapter(fc, 1, 10, erc20ABI(t), []event.Source{src})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	a.Start(1)

	updates, items, err := a.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("poll once: %v", err)
	}
	if len(updates) != 1 || updates[0].Kind != chainsync.UpdateBlock {
		t.Fatalf("expected one block update, got %+v", updates)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 decoded raw item, got %d", len(items))
	}
	if a.next != 2 {
		t.Fatalf("expected cursor to advance to 2, got %d", a.next)
	}

	out := event.Build(items, []event.Source{src}, nil)
	if len(out) != 1 || out[0].Name != "ERC20:Transfer" {
		t.Fatalf("expected decoded item to build into an ERC20:Transfer event, got %+v", out)
	}
}

func TestAdapterPollOnceDetectsReorg(t *testing.T) {
	ancestorHash := common.HexToHash("0x01").Hex()

	fc := &fakeClient{
		latest: 2,
		headers: map[uint64]*types.Header{
			2: {Number: big.NewInt(2), ParentHash: common.HexToHash("0x01")},
		},
	}

	a, err := NewAdapter(fc, 1, 10, nil, nil)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	// Seed the ring: block 1 is the true ancestor, block 2a is the stale
	// head that must be rolled back once the real block 2 (whose parent is
	// block 1, not block 2a) arrives.
	if _, err := a.ring.Reconcile(chainsync.Block{Number: 1, Hash: ancestorHash, ParentHash: "0xgenesis"}); err != nil {
		t.Fatalf("seed ring: %v", err)
	}
	if _, err := a.ring.Reconcile(chainsync.Block{Number: 2, Hash: "0xstale", ParentHash: ancestorHash}); err != nil {
		t.Fatalf("seed ring: %v", err)
	}
	a.Start(2)

	updates, items, err := a.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("poll once: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no decoded items on reorg, got %d", len(items))
	}
	if len(updates) != 1 || updates[0].Kind != chainsync.UpdateReorg {
		t.Fatalf("expected a reorg update, got %+v", updates)
	}
	if updates[0].AncestorBlock.Hash != ancestorHash {
		t.Fatalf("expected ancestor %s, got %s", ancestorHash, updates[0].AncestorBlock.Hash)
	}
	if a.next != 2 {
		t.Fatalf("expected cursor rewound to 2 (ancestor+1), got %d", a.next)
	}
}
