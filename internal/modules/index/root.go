package index

import (
	"math"

	"github.com/shopspring/decimal"
)

// rootPrecision is the number of decimal digits carried through the Newton
// iterations. It comfortably exceeds the precision needed for percentage
// shares.
const rootPrecision = 24

// nthRoot computes the positive n-th root of x without leaving decimal
// arithmetic. A float64 estimate seeds Newton's method, which then converges
// in a handful of iterations at full decimal precision. x must be
// non-negative and n >= 1.
func nthRoot(x decimal.Decimal, n int64) decimal.Decimal {
	if x.Sign() == 0 {
		return decimal.Zero
	}
	if n == 1 {
		return x
	}

	seed, _ := x.Float64()
	guess := decimal.NewFromFloat(math.Pow(seed, 1/float64(n)))
	if guess.Sign() <= 0 {
		guess = decimal.New(1, 0)
	}

	nDec := decimal.NewFromInt(n)
	nMinusOne := decimal.NewFromInt(n - 1)

	// r' = ((n-1)*r + x / r^(n-1)) / n
	for i := 0; i < 8; i++ {
		power := guess.Pow(nMinusOne)
		if power.Sign() == 0 {
			break
		}
		next := nMinusOne.Mul(guess).Add(x.DivRound(power, rootPrecision)).DivRound(nDec, rootPrecision)
		if next.Equal(guess) {
			break
		}
		guess = next
	}

	return guess
}
