package decimal

import (
	"encoding/json"
	"math/big"
	"math/rand"
	"testing"
)

func mustParse(t *testing.T, s string) Decimal {
	t.Helper()
	d, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return d
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "abc", "-5", "1.5"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error", s)
		}
	}
}

func TestAddSub(t *testing.T) {
	a := FromInt(7)
	b := FromInt(3)

	if got := a.Add(b); got.Cmp(FromInt(10)) != 0 {
		t.Errorf("7+3 = %s, want 10", got)
	}

	diff, err := a.Sub(b)
	if err != nil {
		t.Fatalf("7-3: %v", err)
	}
	if diff.Cmp(FromInt(4)) != 0 {
		t.Errorf("7-3 = %s, want 4", diff)
	}

	if _, err := b.Sub(a); err != ErrUnderflow {
		t.Errorf("3-7: err = %v, want ErrUnderflow", err)
	}
}

func TestMulDivInverse(t *testing.T) {
	half := FromInt(1).Div(FromInt(2))
	if got := FromInt(6).Mul(half); got.Cmp(FromInt(3)) != 0 {
		t.Errorf("6*0.5 = %s, want 3", got)
	}
	if got := FromInt(3).Div(half); got.Cmp(FromInt(6)) != 0 {
		t.Errorf("3/0.5 = %s, want 6", got)
	}
}

func TestPowInteger(t *testing.T) {
	if got := FromInt(2).Pow(10); got.Cmp(FromInt(1024)) != 0 {
		t.Errorf("2^10 = %s, want 1024", got)
	}
	if got := FromInt(5).Pow(0); got.Cmp(One()) != 0 {
		t.Errorf("5^0 = %s, want 1", got)
	}
	if got := Zero().Pow(3); !got.IsZero() {
		t.Errorf("0^3 = %s, want 0", got)
	}
}

// A per-millisecond rate chosen so the balance doubles over one year.
// Compounding it for a year's worth of milliseconds must land within a
// hair of exactly 2, despite ~35 rounded multiplications along the way.
func TestPowCompoundsDoublingRate(t *testing.T) {
	const millisPerYear = 365 * 24 * 60 * 60 * 1000

	rate := mustParse(t, "1000000000021979553000000000")
	year := rate.Pow(millisPerYear)

	lo := mustParse(t, "1999000000000000000000000000")
	hi := mustParse(t, "2001000000000000000000000000")
	if year.Cmp(lo) < 0 || year.Cmp(hi) > 0 {
		t.Errorf("yearly factor = %s, want ~2e27", year)
	}
}

// Splitting a compounding window must agree with compounding it whole, up to
// accumulated half-up rounding in the last few digits.
func TestPowSplitWindow(t *testing.T) {
	rate := mustParse(t, "1000000000021979553000000000")

	whole := rate.Pow(100_000)
	split := rate.Pow(60_000).Mul(rate.Pow(40_000))

	diff := new(big.Int).Sub(whole.Scaled(), split.Scaled())
	diff.Abs(diff)
	if diff.Cmp(big.NewInt(1_000_000)) > 0 {
		t.Errorf("split window drifted by %s scaled units", diff)
	}
}

// Compounding a balance over a year in one step or in k random-length
// steps summing to the year must agree to within 1e-12 relative error.
func TestPowRandomSplitConsistency(t *testing.T) {
	const millisPerYear = uint64(365 * 24 * 60 * 60 * 1000)

	rate := mustParse(t, "1000000000021979553000000000")
	balance, _ := new(big.Int).SetString("12345000000000000000000000000", 10)
	oneShot := rate.Pow(millisPerYear).RoundMulBalance(balance)

	// The doubling rate doubles the balance: 12345e24 -> about 24690e24.
	want, _ := new(big.Int).SetString("24690000000000000000000000000", 10)
	diff := new(big.Int).Sub(oneShot, want)
	diff.Abs(diff)
	if diff.Mul(diff, big.NewInt(1000)).Cmp(want) > 0 {
		t.Fatalf("year of doubling rate = %s, want about %s", oneShot, want)
	}

	rng := rand.New(rand.NewSource(42))
	for k := 2; k <= 9; k++ {
		remaining := millisPerYear
		acc := One()
		for i := 0; i < k-1; i++ {
			step := uint64(rng.Int63n(int64(remaining)))
			acc = acc.Mul(rate.Pow(step))
			remaining -= step
		}
		acc = acc.Mul(rate.Pow(remaining))
		split := acc.RoundMulBalance(balance)

		// |oneShot - split| must stay below oneShot / 1e12.
		drift := new(big.Int).Sub(oneShot, split)
		drift.Abs(drift)
		if drift.Mul(drift, big.NewInt(1_000_000_000_000)).Cmp(oneShot) > 0 {
			t.Errorf("k=%d: one-shot %s vs split %s", k, oneShot, split)
		}
	}
}

func TestMulRatio(t *testing.T) {
	if got := FromInt(100).MulRatio(6000); got.Cmp(FromInt(60)) != 0 {
		t.Errorf("100 * 60%% = %s, want 60", got)
	}
	if got := FromInt(100).MulRatio(MaxRatio); got.Cmp(FromInt(100)) != 0 {
		t.Errorf("100 * 100%% = %s, want 100", got)
	}
}

func TestDivRatio(t *testing.T) {
	got := FromInt(100).DivRatio(9500)
	if want := big.NewInt(105); got.RoundBalance(false).Cmp(want) != 0 {
		t.Errorf("100 / 95%% floors to %s, want %s", got.RoundBalance(false), want)
	}
	if got := FromInt(60).DivRatio(6000); got.Cmp(FromInt(100)) != 0 {
		t.Errorf("60 / 60%% = %s, want 100", got)
	}
}

func TestRoundBalanceDirections(t *testing.T) {
	d := mustParse(t, "1500000000000000000000000000") // 1.5

	if got := d.RoundBalance(false); got.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("floor(1.5) = %s, want 1", got)
	}
	if got := d.RoundBalance(true); got.Cmp(big.NewInt(2)) != 0 {
		t.Errorf("ceil(1.5) = %s, want 2", got)
	}
	if got := d.RoundHalfUpBalance(); got.Cmp(big.NewInt(2)) != 0 {
		t.Errorf("halfup(1.5) = %s, want 2", got)
	}

	exact := FromInt(3)
	if got := exact.RoundBalance(true); got.Cmp(big.NewInt(3)) != 0 {
		t.Errorf("ceil(3) = %s, want 3", got)
	}
}

func TestRoundMulBalance(t *testing.T) {
	half := mustParse(t, "500000000000000000000000000") // 0.5
	if got := half.RoundMulBalance(big.NewInt(3)); got.Cmp(big.NewInt(2)) != 0 {
		t.Errorf("0.5*3 half-up = %s, want 2", got)
	}
	if got := half.RoundMulBalance(big.NewInt(100)); got.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("0.5*100 = %s, want 50", got)
	}
}

func TestFromBalancePrice(t *testing.T) {
	// 100 tokens at multiplier 8, decimals 0: worth exactly 800.
	got := FromBalancePrice(big.NewInt(100), big.NewInt(8), 0)
	if got.Cmp(FromInt(800)) != 0 {
		t.Errorf("100 @ 8 = %s, want 800", got)
	}

	// 5 tokens at multiplier 25, decimals 1: 12.5.
	got = FromBalancePrice(big.NewInt(5), big.NewInt(25), 1)
	if got.Cmp(mustParse(t, "12500000000000000000000000000")) != 0 {
		t.Errorf("5 @ 2.5 = %s, want 12.5", got)
	}
}

func TestMulDivRounding(t *testing.T) {
	if got := MulDiv(big.NewInt(10), big.NewInt(10), big.NewInt(3), false); got.Cmp(big.NewInt(33)) != 0 {
		t.Errorf("floor(100/3) = %s, want 33", got)
	}
	if got := MulDiv(big.NewInt(10), big.NewInt(10), big.NewInt(3), true); got.Cmp(big.NewInt(34)) != 0 {
		t.Errorf("ceil(100/3) = %s, want 34", got)
	}
}

func TestRatio(t *testing.T) {
	if got := Ratio(big.NewInt(1000), 2500); got.Cmp(big.NewInt(250)) != 0 {
		t.Errorf("1000 * 25%% = %s, want 250", got)
	}
	// Flooring: 999 * 1bp = 0.0999.
	if got := Ratio(big.NewInt(999), 1); got.Sign() != 0 {
		t.Errorf("999 * 1bp = %s, want 0", got)
	}
}

func TestCheckedSub(t *testing.T) {
	got, ok := CheckedSub(big.NewInt(10), big.NewInt(4))
	if !ok || got.Cmp(big.NewInt(6)) != 0 {
		t.Errorf("10-4 = %s ok=%v, want 6 true", got, ok)
	}
	if _, ok := CheckedSub(big.NewInt(4), big.NewInt(10)); ok {
		t.Error("4-10: expected underflow")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	orig := mustParse(t, "1000000000003593629036885046")

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if want := `"1000000000003593629036885046"`; string(data) != want {
		t.Errorf("marshal = %s, want %s", data, want)
	}

	var back Decimal
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Cmp(orig) != 0 {
		t.Errorf("round trip = %s, want %s", back, orig)
	}
}
