package web3

import (
	"context"
	"math/big"
)

// Account identifies the signer of state-changing calls. ID is the public
// account identifier and PrivateKey its hex-encoded secp256k1 key.
type Account struct {
	ID         string
	PrivateKey string
}

// Present reports whether both halves of the credential pair are set.
func (a Account) Present() bool {
	return a.ID != "" && a.PrivateKey != ""
}

// ViewResult carries the decoded return values of a read-only call in
// declaration order.
type ViewResult struct {
	Values []any
}

// Integer decodes the i-th value as an integer.
func (r ViewResult) Integer(i int) (*big.Int, error) {
	if i < 0 || i >= len(r.Values) {
		return nil, ErrMissingValue
	}
	return ToBigInt(r.Values[i])
}

// TxReceipt summarises a submitted transaction.
type TxReceipt struct {
	Hash   string
	From   string
	Nonce  uint64
	Mined  bool
	Status uint64
	Block  uint64
}

// ContractClient is the narrow surface the agent needs from a chain: one
// read-only call and one signed state-changing call, both addressed by
// contract and method name with named arguments.
type ContractClient interface {
	CallView(ctx context.Context, contract, method string, args map[string]any) (ViewResult, error)
	CallMutate(ctx context.Context, account Account, contract, method string, args map[string]any, gasBudget uint64, value *big.Int) (TxReceipt, error)
	Close()
}
