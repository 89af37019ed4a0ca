package decimal

import (
	"errors"
	"fmt"
	"math/big"
)

// Precision is the number of fractional digits carried by Decimal.
const Precision = 27

var (
	// divisor = 10^27
	divisor = new(big.Int).Exp(big.NewInt(10), big.NewInt(Precision), nil)
	// halfDivisor = divisor / 2, used for half-up rounding
	halfDivisor = new(big.Int).Rsh(divisor, 1)

	zeroInt = big.NewInt(0)
	oneInt  = big.NewInt(1)
)

// ErrUnderflow is returned when a subtraction would produce a negative value.
// Decimal is unsigned: negative intermediate results indicate a protocol bug
// or a malformed input, and the enclosing call must abort.
var ErrUnderflow = errors.New("decimal: subtraction underflow")

// Decimal is an unsigned fixed-point rational scaled by 10^27.
// All arithmetic rounds half-up and allocates fresh results; the internal
// big.Int is never mutated after construction.
type Decimal struct {
	v *big.Int
}

func Zero() Decimal { return Decimal{v: zeroInt} }

func One() Decimal { return Decimal{v: divisor} }

// FromInt converts a non-negative integer to a Decimal.
func FromInt(a uint64) Decimal {
	return Decimal{v: new(big.Int).Mul(new(big.Int).SetUint64(a), divisor)}
}

// FromBalance converts a balance to a Decimal with the same integer value.
func FromBalance(b *big.Int) Decimal {
	return Decimal{v: new(big.Int).Mul(b, divisor)}
}

// FromScaled wraps a raw 10^27-scaled integer. Used when decoding persisted
// accumulator values.
func FromScaled(raw *big.Int) Decimal {
	return Decimal{v: new(big.Int).Set(raw)}
}

// Parse reads a raw 10^27-scaled decimal string, the format used for
// per-millisecond compounding rates in asset configs
// (e.g. "1000000000003593629036885046" for 12% APR).
func Parse(s string) (Decimal, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return Decimal{}, fmt.Errorf("decimal: invalid scaled value %q", s)
	}
	return Decimal{v: v}, nil
}

// FromBalancePrice converts a token balance into quote-currency value using
// an oracle price of (multiplier, decimals): balance * multiplier / 10^decimals.
func FromBalancePrice(balance *big.Int, multiplier *big.Int, decimals uint8) Decimal {
	num := new(big.Int).Mul(balance, multiplier)
	num.Mul(num, divisor)
	den := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return Decimal{v: roundDiv(num, den)}
}

// Scaled returns the raw 10^27-scaled integer value.
func (d Decimal) Scaled() *big.Int {
	return new(big.Int).Set(d.value())
}

func (d Decimal) value() *big.Int {
	if d.v == nil {
		return zeroInt
	}
	return d.v
}

func (d Decimal) IsZero() bool { return d.value().Sign() == 0 }

func (d Decimal) Cmp(o Decimal) int { return d.value().Cmp(o.value()) }

func (d Decimal) String() string { return d.value().String() }

func (d Decimal) Add(o Decimal) Decimal {
	return Decimal{v: new(big.Int).Add(d.value(), o.value())}
}

func (d Decimal) Sub(o Decimal) (Decimal, error) {
	if d.value().Cmp(o.value()) < 0 {
		return Decimal{}, ErrUnderflow
	}
	return Decimal{v: new(big.Int).Sub(d.value(), o.value())}, nil
}

// Mul returns d*o rounded half-up. The double-width intermediate lives in a
// fresh big.Int, so the product never overflows.
func (d Decimal) Mul(o Decimal) Decimal {
	prod := new(big.Int).Mul(d.value(), o.value())
	return Decimal{v: roundDiv(prod, divisor)}
}

// Div returns d/o rounded half-up. Division by zero panics: it means the
// caller skipped a guard the protocol requires.
func (d Decimal) Div(o Decimal) Decimal {
	if o.IsZero() {
		panic("decimal: division by zero")
	}
	num := new(big.Int).Mul(d.value(), divisor)
	return Decimal{v: roundDiv(num, o.value())}
}

// Pow raises d to an integer exponent by binary exponentiation. Used to
// compound a per-millisecond rate over an elapsed duration.
func (d Decimal) Pow(exponent uint64) Decimal {
	res := One()
	x := d
	for exponent != 0 {
		if exponent&1 != 0 {
			res = res.Mul(x)
		}
		exponent >>= 1
		if exponent != 0 {
			x = x.Mul(x)
		}
	}
	return res
}

// MarshalJSON encodes the raw scaled integer as a decimal string, matching
// the upstream wire format for rates and accumulators.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.value().String() + `"`), nil
}

func (d *Decimal) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MulRatio scales d by a parts-per-10000 ratio.
func (d Decimal) MulRatio(bps uint32) Decimal {
	prod := new(big.Int).Mul(d.value(), new(big.Int).SetUint64(uint64(bps)))
	return Decimal{v: roundDiv(prod, big.NewInt(MaxRatio))}
}

// DivRatio scales d by the inverse of a parts-per-10000 ratio.
func (d Decimal) DivRatio(bps uint32) Decimal {
	prod := new(big.Int).Mul(d.value(), big.NewInt(MaxRatio))
	return Decimal{v: roundDiv(prod, new(big.Int).SetUint64(uint64(bps)))}
}

// RoundBalance converts to a balance, flooring or ceiling per the caller's
// rounding direction.
func (d Decimal) RoundBalance(roundUp bool) *big.Int {
	q, r := new(big.Int).QuoRem(d.value(), divisor, new(big.Int))
	if roundUp && r.Sign() != 0 {
		q.Add(q, oneInt)
	}
	return q
}

// RoundHalfUpBalance converts to a balance rounding half-up.
func (d Decimal) RoundHalfUpBalance() *big.Int {
	sum := new(big.Int).Add(d.value(), halfDivisor)
	return sum.Quo(sum, divisor)
}

// RoundMulBalance returns d*b as a balance, rounded half-up.
func (d Decimal) RoundMulBalance(b *big.Int) *big.Int {
	prod := new(big.Int).Mul(d.value(), b)
	prod.Add(prod, halfDivisor)
	return prod.Quo(prod, divisor)
}

// roundDiv divides num by den rounding half-up. Both are non-negative.
func roundDiv(num, den *big.Int) *big.Int {
	half := new(big.Int).Rsh(den, 1)
	num = new(big.Int).Add(num, half)
	return num.Quo(num, den)
}

// MaxRatio is the denominator for parts-per-10000 ratios.
const MaxRatio = 10000

// MulDiv computes a*b/d over balances with an explicit rounding direction.
// The share⇄balance conversions in pools are built on this.
func MulDiv(a, b, d *big.Int, roundUp bool) *big.Int {
	num := new(big.Int).Mul(a, b)
	if roundUp {
		// ceil(num/d) == floor((num + d - 1) / d)
		num.Add(num, new(big.Int).Sub(d, oneInt))
	}
	return num.Quo(num, d)
}

// Ratio returns balance * bps / 10000, floored. Mirrors the reserve-cut
// split during interest accrual.
func Ratio(balance *big.Int, bps uint32) *big.Int {
	if bps > MaxRatio {
		panic(fmt.Sprintf("decimal: ratio %d out of range", bps))
	}
	num := new(big.Int).Mul(balance, new(big.Int).SetUint64(uint64(bps)))
	return num.Quo(num, big.NewInt(MaxRatio))
}

// CheckedSub returns a-b, or false if the result would be negative.
func CheckedSub(a, b *big.Int) (*big.Int, bool) {
	if a.Cmp(b) < 0 {
		return nil, false
	}
	return new(big.Int).Sub(a, b), true
}
