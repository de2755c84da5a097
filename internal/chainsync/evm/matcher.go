package evm

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ponderengine/core/internal/event"
)

// RuleMatcher filters and decodes logs for one contract Source.
type RuleMatcher struct {
	source  event.Source
	address common.Address
	topic0  common.Hash
	ev      *abi.Event
}

// NewRuleMatcher builds a matcher for a contract log Source using loaded
// ABIs, falling back to a synthetic ABI event parsed from EventSignature
// when no ABI file declares it (all fields treated as non-indexed).
func NewRuleMatcher(source event.Source, abis map[string]*abi.Event) (*RuleMatcher, error) {
	if source.Variant != event.SourceContract || source.EventSignature == "" {
		return nil, fmt.Errorf("source %s: evm matcher requires a contract source with an event signature", source.Name)
	}
	if source.ContractAddress == "" {
		return nil, fmt.Errorf("source %s: contract address is required", source.Name)
	}

	name := eventName(source.EventSignature)
	var ev *abi.Event
	if found, ok := FindEvent(abis, name); ok {
		ev = found
	} else if synthetic, err := syntheticEvent(source.EventSignature); err == nil {
		ev = synthetic
	}

	return &RuleMatcher{
		source:  source,
		address: common.HexToAddress(source.ContractAddress),
		topic0:  crypto.Keccak256Hash([]byte(source.EventSignature)),
		ev:      ev,
	}, nil
}

// Match checks the log against the matcher and decodes it on success.
func (m *RuleMatcher) Match(log types.Log) (name string, args map[string]any, ok bool, err error) {
	if log.Address != m.address {
		return "", nil, false, nil
	}
	if len(log.Topics) == 0 || log.Topics[0] != m.topic0 {
		return "", nil, false, nil
	}

	decoded := map[string]any{}
	if m.ev != nil {
		indexed, nonIndexed := splitIndexed(m.ev.Inputs)
		if err := abi.ParseTopicsIntoMap(decoded, indexed, log.Topics[1:]); err != nil {
			return "", nil, false, fmt.Errorf("parse topics: %w", err)
		}
		if err := nonIndexed.UnpackIntoMap(decoded, log.Data); err != nil {
			return "", nil, false, fmt.Errorf("unpack data: %w", err)
		}
	}

	return eventName(m.source.EventSignature), decoded, true, nil
}

func eventName(signature string) string {
	if i := strings.Index(signature, "("); i > 0 {
		return signature[:i]
	}
	return signature
}

// syntheticEvent builds a minimal ABI Event from a signature like Transfer(address,address,uint256).
func syntheticEvent(signature string) (*abi.Event, error) {
	l := strings.Index(signature, "(")
	r := strings.LastIndex(signature, ")")
	if l <= 0 || r <= l {
		return nil, fmt.Errorf("invalid event signature: %s", signature)
	}
	name := signature[:l]
	rawArgs := strings.Split(signature[l+1:r], ",")
	args := make(abi.Arguments, 0, len(rawArgs))
	for _, a := range rawArgs {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		t, err := abi.NewType(a, "", nil)
		if err != nil {
			return nil, fmt.Errorf("parse type %s: %w", a, err)
		}
		args = append(args, abi.Argument{Type: t})
	}
	return &abi.Event{Name: name, Inputs: args, Anonymous: false}, nil
}

func splitIndexed(args abi.Arguments) (indexed abi.Arguments, nonIndexed abi.Arguments) {
	for _, a := range args {
		if a.Indexed {
			indexed = append(indexed, a)
		} else {
			nonIndexed = append(nonIndexed, a)
		}
	}
	return indexed, nonIndexed
}
