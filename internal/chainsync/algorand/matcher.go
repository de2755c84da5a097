package algorand

import (
	"encoding/base64"
	"fmt"
	"strconv"

	sdk "github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/ponderengine/core/internal/event"
)

// matcherKind distinguishes the two transaction shapes a Source can select:
// asset transfers and application calls.
type matcherKind uint8

const (
	kindAppCall matcherKind = iota
	kindAssetTransfer
)

// RuleMatcher filters Algorand transactions for one declared Source.
type RuleMatcher struct {
	source  event.Source
	kind    matcherKind
	appID   uint64
	account string // optional account filter for asset transfers
}

// NewRuleMatcher builds a matcher from a Source. A SourceContract Source
// with EventSignature "app_call" and a numeric ContractAddress (the app ID)
// matches application-call transactions; a SourceAccount Source matches
// asset-transfer transactions, optionally filtered to one account.
func NewRuleMatcher(source event.Source) (*RuleMatcher, error) {
	switch source.Variant {
	case event.SourceContract:
		if source.EventSignature != "app_call" {
			return nil, fmt.Errorf("source %s: algorand contract sources only support app_call", source.Name)
		}
		appID, err := strconv.ParseUint(source.ContractAddress, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("source %s: app id must be numeric: %w", source.Name, err)
		}
		return &RuleMatcher{source: source, kind: kindAppCall, appID: appID}, nil
	case event.SourceAccount:
		return &RuleMatcher{source: source, kind: kindAssetTransfer, account: source.AccountAddress}, nil
	default:
		return nil, fmt.Errorf("source %s: unsupported variant for algorand matcher", source.Name)
	}
}

// MatchTxn inspects a transaction and returns a decoded (name, args) pair
// when matched.
func (m *RuleMatcher) MatchTxn(tx sdk.Transaction, apply sdk.ApplyData) (name string, args map[string]any, ok bool, err error) {
	switch m.kind {
	case kindAppCall:
		if tx.Type != sdk.ApplicationCallTx || uint64(tx.ApplicationID) != m.appID {
			return "", nil, false, nil
		}
		args = map[string]any{
			"sender":           tx.Sender.String(),
			"on_completion":    tx.OnCompletion,
			"app_id":           uint64(tx.ApplicationID),
			"foreign_apps":     toAppUint64s(tx.ForeignApps),
			"foreign_assets":   toAssetUint64s(tx.ForeignAssets),
			"accounts":         toStrings(tx.Accounts),
			"application_args": encodeArgs(tx.ApplicationArgs),
		}
		if apply.ApplicationID != 0 {
			args["inner_app_id"] = apply.ApplicationID
		}
		return m.source.Name, args, true, nil

	case kindAssetTransfer:
		if tx.Type != sdk.AssetTransferTx {
			return "", nil, false, nil
		}
		if m.account != "" && tx.Sender.String() != m.account && tx.AssetReceiver.String() != m.account {
			return "", nil, false, nil
		}
		args = map[string]any{
			"asset_id":       uint64(tx.XferAsset),
			"amount":         tx.AssetAmount,
			"sender":         tx.Sender.String(),
			"asset_sender":   tx.AssetSender.String(),
			"receiver":       tx.AssetReceiver.String(),
			"close_to":       tx.AssetCloseTo.String(),
			"close_amount":   apply.AssetClosingAmount,
			"closing_reward": apply.CloseRewards,
		}
		return m.source.Name, args, true, nil

	default:
		return "", nil, false, nil
	}
}

func toAssetUint64s(in []sdk.AssetIndex) []uint64 {
	out := make([]uint64, 0, len(in))
	for _, v := range in {
		out = append(out, uint64(v))
	}
	return out
}

func toAppUint64s(in []sdk.AppIndex) []uint64 {
	out := make([]uint64, 0, len(in))
	for _, v := range in {
		out = append(out, uint64(v))
	}
	return out
}

func toStrings(addrs []sdk.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}

func encodeArgs(args [][]byte) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		out = append(out, base64.StdEncoding.EncodeToString(a))
	}
	return out
}
