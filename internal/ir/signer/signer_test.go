package signer

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalECDSASigner_SignAndRecover(t *testing.T) {
	s := NewLocal()
	path := Path("strategy-1")
	_, err := s.AddKey(path, nil)
	require.NoError(t, err)

	pub, err := s.PublicKey(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, pub, 33)

	addr, err := s.Address(context.Background(), path)
	require.NoError(t, err)
	require.NotEqual(t, addr.Hex(), "0x0000000000000000000000000000000000000000")

	var digest [32]byte
	copy(digest[:], []byte("0123456789abcdef0123456789abcdef"))
	sig, err := s.Sign(context.Background(), path, digest)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	require.NoError(t, Verify(digest, sig, pub))
}

func TestLocalECDSASigner_UnknownPath(t *testing.T) {
	s := NewLocal()
	_, err := s.PublicKey(context.Background(), Path("missing"))
	require.Error(t, err)
}

type fakeFeeHistory struct {
	baseFeePerGas []*big.Int
	rewards       [][]*big.Int
}

func (f *fakeFeeHistory) FeeHistory(ctx context.Context, blockCount uint64, percentiles []float64) ([]*big.Int, [][]*big.Int, error) {
	return f.baseFeePerGas, f.rewards, nil
}

func TestEstimateFees_UsesNinetiethPercentileTip(t *testing.T) {
	src := &fakeFeeHistory{
		baseFeePerGas: []*big.Int{big.NewInt(10_000_000_000)},
		rewards: [][]*big.Int{
			{big.NewInt(1_000_000_000), big.NewInt(2_000_000_000)},
			{big.NewInt(1_000_000_000), big.NewInt(3_000_000_000)},
		},
	}

	est, err := EstimateFees(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(3_000_000_000), est.MaxPriorityFeePerGas)

	wantMaxFee := new(big.Int).Add(new(big.Int).Mul(big.NewInt(10_000_000_000), big.NewInt(2)), big.NewInt(3_000_000_000))
	require.Equal(t, wantMaxFee, est.MaxFeePerGas)
}

func TestEstimateFees_FloorsAtMinimum(t *testing.T) {
	src := &fakeFeeHistory{
		baseFeePerGas: []*big.Int{big.NewInt(1)},
		rewards: [][]*big.Int{
			{big.NewInt(1), big.NewInt(1)},
		},
	}

	est, err := EstimateFees(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_500_000_000), est.MaxPriorityFeePerGas)
}

func TestPercentile_NineSamplesSelectsMax(t *testing.T) {
	// feeHistoryBlocks=9: ceil(0.9*9)-1 = 8, the last (max) of 9 sorted samples.
	values := make([]*big.Int, 9)
	for i := range values {
		values[i] = big.NewInt(int64(i + 1)) // 1..9, already sorted
	}
	require.Equal(t, big.NewInt(9), percentile(values, 90))
}

func TestBump_IncreasesBothCapsByAtLeast12Point5Pct(t *testing.T) {
	f := &FeeEstimate{MaxFeePerGas: big.NewInt(1000), MaxPriorityFeePerGas: big.NewInt(1000)}
	bumped := f.Bump()
	require.GreaterOrEqual(t, bumped.MaxFeePerGas.Int64(), int64(1125))
	require.GreaterOrEqual(t, bumped.MaxPriorityFeePerGas.Int64(), int64(1125))
}
