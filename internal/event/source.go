package event

// SourceVariant is the declarative filter kind a Source can specify
// (SPEC_FULL.md §3): Contract (address + optional event signature), Account
// (address participation in transactions/transfers), or Block (interval).
type SourceVariant uint8

const (
	SourceContract SourceVariant = iota
	SourceAccount
	SourceBlock
)

// Source is a declarative filter: which raw items on a chain become events,
// and under which handler Name.
type Source struct {
	Variant SourceVariant
	ChainID uint64
	Name    string // handler key, e.g. "ERC20:Transfer"

	// Contract variant.
	ContractAddress string
	EventSignature  string // e.g. "Transfer(address,address,uint256)"
	Factory         bool   // true if this contract's address set is runtime-discovered

	// Account variant.
	AccountAddress string

	// Block variant.
	BlockInterval uint64 // emit every N blocks; 0 means every block
}
