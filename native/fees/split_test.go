package fees

import (
	"errors"
	"math/big"
	"testing"
)

func TestSplitCommission(t *testing.T) {
	breakdown, err := Split(big.NewInt(1000), 250)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	want := []int64{975, 17, 5, 3}
	got := []*big.Int{breakdown.Principal, breakdown.Fees[0], breakdown.Fees[1], breakdown.Fees[2]}
	for i := range want {
		if got[i].Cmp(big.NewInt(want[i])) != 0 {
			t.Fatalf("leg %d: expected %d, got %s", i, want[i], got[i])
		}
	}
	if breakdown.TotalFee().Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("expected total fee 25, got %s", breakdown.TotalFee())
	}
}

func TestSplitConservesAmount(t *testing.T) {
	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	amounts := []*big.Int{big.NewInt(1), big.NewInt(3), big.NewInt(999), big.NewInt(10_001), huge}
	rates := []uint32{0, 1, 33, 250, 4_999, 9_999, 10_000}
	for _, amount := range amounts {
		for _, bps := range rates {
			breakdown, err := Split(amount, bps)
			if err != nil {
				t.Fatalf("split %s@%d: %v", amount, bps, err)
			}
			if breakdown.Total().Cmp(amount) != 0 {
				t.Fatalf("split %s@%d: legs sum to %s", amount, bps, breakdown.Total())
			}
			for i, fee := range breakdown.Fees {
				if fee.Sign() < 0 {
					t.Fatalf("split %s@%d: negative fee %d", amount, bps, i)
				}
			}
			if breakdown.Principal.Sign() < 0 {
				t.Fatalf("split %s@%d: negative principal", amount, bps)
			}
		}
	}
}

func TestSplitFullCommission(t *testing.T) {
	breakdown, err := Split(big.NewInt(100), 10_000)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if breakdown.Principal.Sign() != 0 {
		t.Fatalf("expected zero principal, got %s", breakdown.Principal)
	}
	if breakdown.Fees[0].Int64() != 70 || breakdown.Fees[1].Int64() != 22 || breakdown.Fees[2].Int64() != 8 {
		t.Fatalf("unexpected fee shares %v", breakdown.Fees)
	}
}

func TestSplitRejectsInvalidInput(t *testing.T) {
	if _, err := Split(big.NewInt(0), 100); !errors.Is(err, ErrNonPositiveAmount) {
		t.Fatalf("expected non-positive amount error, got %v", err)
	}
	if _, err := Split(nil, 100); !errors.Is(err, ErrNonPositiveAmount) {
		t.Fatalf("expected non-positive amount error for nil, got %v", err)
	}
	if _, err := Split(big.NewInt(10), 10_001); !errors.Is(err, ErrCommissionTooHigh) {
		t.Fatalf("expected commission error, got %v", err)
	}
}

func TestRefundSplit(t *testing.T) {
	breakdown, err := RefundSplit(big.NewInt(1000))
	if err != nil {
		t.Fatalf("refund split: %v", err)
	}
	if breakdown.Principal.Int64() != 1000 {
		t.Fatalf("expected full principal, got %s", breakdown.Principal)
	}
	if breakdown.TotalFee().Sign() != 0 {
		t.Fatalf("expected no fees on refund, got %s", breakdown.TotalFee())
	}
}

func TestBreakdownCloneIsolated(t *testing.T) {
	breakdown, err := Split(big.NewInt(1000), 250)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	clone := breakdown.Clone()
	clone.Principal.SetInt64(1)
	clone.Fees[0].SetInt64(1)
	if breakdown.Principal.Int64() != 975 || breakdown.Fees[0].Int64() != 17 {
		t.Fatalf("clone aliases original")
	}
}
