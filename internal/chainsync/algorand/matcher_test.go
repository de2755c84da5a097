package algorand

import (
	"encoding/base64"
	"testing"

	sdk "github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/ponderengine/core/internal/event"
)

func TestMatcher_AppCall(t *testing.T) {
	src := event.Source{
		Variant:         event.SourceContract,
		ChainID:         4160,
		Name:            "Voting:AppCall",
		ContractAddress: "123",
		EventSignature:  "app_call",
	}
	m, err := NewRuleMatcher(src)
	if err != nil {
		t.Fatalf("new matcher: %v", err)
	}

	tx := sdk.Transaction{
		Type: sdk.ApplicationCallTx,
		Header: sdk.Header{
			Sender: addr("SENDER0000000000000000000000000000000000000000000000000000"),
		},
		ApplicationFields: sdk.ApplicationFields{
			ApplicationCallTxnFields: sdk.ApplicationCallTxnFields{
				ApplicationID:   123,
				OnCompletion:    sdk.NoOpOC,
				ApplicationArgs: [][]byte{[]byte("hello")},
				Accounts:        []sdk.Address{addr("ACCOUNT000000000000000000000000000000000000000000000000")},
			},
		},
	}

	name, args, ok, err := m.MatchTxn(tx, sdk.ApplyData{})
	if err != nil {
		t.Fatalf("match txn: %v", err)
	}
	if !ok {
		t.Fatalf("expected match")
	}
	if name != "Voting:AppCall" {
		t.Fatalf("unexpected handler name %s", name)
	}
	decoded, ok := args["application_args"].([]string)
	if !ok || len(decoded) != 1 || decoded[0] != base64.StdEncoding.EncodeToString([]byte("hello")) {
		t.Fatalf("args not encoded")
	}
}

func TestMatcher_AssetTransfer(t *testing.T) {
	src := event.Source{
		Variant: event.SourceAccount,
		ChainID: 4160,
		Name:    "ASA:Transfer",
	}
	m, err := NewRuleMatcher(src)
	if err != nil {
		t.Fatalf("new matcher: %v", err)
	}

	tx := sdk.Transaction{
		Type: sdk.AssetTransferTx,
		Header: sdk.Header{
			Sender: addr("SENDER0000000000000000000000000000000000000000000000000000"),
		},
		AssetTransferTxnFields: sdk.AssetTransferTxnFields{
			XferAsset:     999,
			AssetAmount:   42,
			AssetSender:   addr("SENDER0000000000000000000000000000000000000000000000000000"),
			AssetReceiver: addr("RECEIVER000000000000000000000000000000000000000000000000"),
		},
	}

	_, args, ok, err := m.MatchTxn(tx, sdk.ApplyData{})
	if err != nil {
		t.Fatalf("match txn: %v", err)
	}
	if !ok {
		t.Fatalf("expected match")
	}
	if args["asset_id"] != uint64(999) {
		t.Fatalf("asset_id mismatch")
	}
}

func TestMatcher_AssetTransferAccountFilter(t *testing.T) {
	src := event.Source{
		Variant:        event.SourceAccount,
		ChainID:        4160,
		Name:           "ASA:Transfer",
		AccountAddress: addr("OTHER0000000000000000000000000000000000000000000000000000").String(),
	}
	m, err := NewRuleMatcher(src)
	if err != nil {
		t.Fatalf("new matcher: %v", err)
	}

	tx := sdk.Transaction{
		Type: sdk.AssetTransferTx,
		Header: sdk.Header{
			Sender: addr("SENDER0000000000000000000000000000000000000000000000000000"),
		},
		AssetTransferTxnFields: sdk.AssetTransferTxnFields{
			AssetReceiver: addr("RECEIVER000000000000000000000000000000000000000000000000"),
		},
	}

	_, _, ok, err := m.MatchTxn(tx, sdk.ApplyData{})
	if err != nil {
		t.Fatalf("match txn: %v", err)
	}
	if ok {
		t.Fatalf("expected no match: neither sender nor receiver is the filtered account")
	}
}

func addr(bech string) sdk.Address {
	var a sdk.Address
	copy(a[:], []byte(bech)[:])
	return a
}
