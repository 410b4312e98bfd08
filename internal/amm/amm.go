// Package amm prices swaps against a constant-product pool.
package amm

import (
	"errors"
	"math/big"
)

// ErrIllegalAmount is returned when the input amount is not positive or the
// pool's input balance would not be positive after the trade.
var ErrIllegalAmount = errors.New("illegal amount")

// Reserves is the pool state read for a single quote.
type Reserves struct {
	BalanceIn  *big.Int
	BalanceOut *big.Int
}

// Quote holds every intermediate value of a constant-product calculation.
type Quote struct {
	K             *big.Int
	NewBalanceIn  *big.Int
	NewBalanceOut *big.Int
	AmountOut     *big.Int
}

// Compute prices amountIn against r keeping balanceIn*balanceOut constant:
//
//	k             = balanceIn * balanceOut
//	newBalanceIn  = balanceIn + amountIn
//	newBalanceOut = floor(k / newBalanceIn)
//	amountOut     = balanceOut - newBalanceOut
//
// None of the arguments are modified.
func Compute(r Reserves, amountIn *big.Int) (Quote, error) {
	if amountIn == nil || r.BalanceIn == nil || r.BalanceOut == nil {
		return Quote{}, ErrIllegalAmount
	}

	k := new(big.Int).Mul(r.BalanceIn, r.BalanceOut)
	newBalanceIn := new(big.Int).Add(r.BalanceIn, amountIn)
	if amountIn.Sign() <= 0 || newBalanceIn.Sign() <= 0 {
		return Quote{}, ErrIllegalAmount
	}

	// Div is Euclidean; with a positive divisor that is floor division.
	newBalanceOut := new(big.Int).Div(k, newBalanceIn)
	amountOut := new(big.Int).Sub(r.BalanceOut, newBalanceOut)

	return Quote{
		K:             k,
		NewBalanceIn:  newBalanceIn,
		NewBalanceOut: newBalanceOut,
		AmountOut:     amountOut,
	}, nil
}

// AmountOut is Compute without the intermediate values.
func AmountOut(r Reserves, amountIn *big.Int) (*big.Int, error) {
	q, err := Compute(r, amountIn)
	if err != nil {
		return nil, err
	}
	return q.AmountOut, nil
}
