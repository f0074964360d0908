package consensus

import (
	"math/big"
	"testing"

	"github.com/rawblock/denaro-node/internal/cryptoprim"
	"github.com/rawblock/denaro-node/internal/wire"
)

func TestNextDifficultyGenesisAndWarmup(t *testing.T) {
	if d := NextDifficulty(nil); d != StartDifficulty {
		t.Fatalf("expected genesis difficulty %v, got %v", StartDifficulty, d)
	}
	warm := &LastBlockInfo{ID: 42, Difficulty: StartDifficulty}
	if d := NextDifficulty(warm); d != StartDifficulty {
		t.Fatalf("expected start difficulty below BlocksCount, got %v", d)
	}
}

func TestNextDifficultyHoldsBetweenRetargets(t *testing.T) {
	last := &LastBlockInfo{ID: 777, Difficulty: 6.3}
	if d := NextDifficulty(last); d != 6.3 {
		t.Fatalf("expected unchanged difficulty off-boundary, got %v", d)
	}
}

func TestNextDifficultyRetargetsFaster(t *testing.T) {
	// blocks arrived twice as fast as BlockTime, difficulty should rise.
	last := &LastBlockInfo{
		ID:                      BlocksCount * 2,
		Difficulty:              6.0,
		Timestamp:               1000 + int64(BlockTime*BlocksCount/2),
		RetargetWindowTimestamp: 1000,
	}
	got := NextDifficulty(last)
	if got <= 6.0 {
		t.Fatalf("expected difficulty to increase for faster blocks, got %v", got)
	}
}

func TestCheckProofOfWorkIntegerDifficulty(t *testing.T) {
	prev := "aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899"
	suffix := prev[len(prev)-6:]
	hash := suffix + "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
	if !CheckProofOfWork(6.0, prev, hash) {
		t.Fatalf("expected hash with matching 6-char prefix to pass at difficulty 6.0")
	}
	if CheckProofOfWork(6.0, prev, "0000"+hash[4:]) {
		t.Fatalf("expected mismatched prefix to fail")
	}
}

func TestCheckProofOfWorkFractionalDifficulty(t *testing.T) {
	prev := "aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899"
	suffix := prev[len(prev)-6:]
	// difficulty 6.5 -> ceil(16*0.5)=8 allowed leading chars "01234567"
	passing := suffix + "3" + "0000000000000000000000000000000000000000000000000000000000"
	if !CheckProofOfWork(6.5, prev, passing) {
		t.Fatalf("expected char within allowed charset to pass")
	}
	failing := suffix + "9" + "0000000000000000000000000000000000000000000000000000000000"
	if CheckProofOfWork(6.5, prev, failing) {
		t.Fatalf("expected char outside allowed charset to fail")
	}
}

func TestCheckProofOfWorkGenesisAlwaysPasses(t *testing.T) {
	if !CheckProofOfWork(6.0, "", "anything") {
		t.Fatalf("expected genesis (no previous hash) to always pass")
	}
}

func TestBlockRewardHalvingSchedule(t *testing.T) {
	cases := []struct {
		id   int64
		want float64
	}{
		{0, 100},
		{149_999, 100},
		{150_000, 50},
		{300_000, 25},
	}
	for _, c := range cases {
		if got := BlockReward(c.id); got != c.want {
			t.Fatalf("BlockReward(%d) = %v, want %v", c.id, got, c.want)
		}
	}
}

func TestBlockRewardTerminalBlocks(t *testing.T) {
	if got := BlockReward(9 * 150_000); got != 0.390625 {
		t.Fatalf("expected first terminal reward 0.390625, got %v", got)
	}
}

func mustPoint(t *testing.T, k int64) cryptoprim.Point {
	t.Helper()
	return cryptoprim.PublicKeyFromPrivate(big.NewInt(k))
}

func TestMerkleRootSortedVsOrderedDiffer(t *testing.T) {
	a := &wire.Transaction{Version: wire.VersionFullHex, Outputs: []wire.TransactionOutput{{Address: mustPoint(t, 1), Amount: 1}}}
	b := &wire.Transaction{Version: wire.VersionFullHex, Outputs: []wire.TransactionOutput{{Address: mustPoint(t, 2), Amount: 2}}}

	ordered, err := MerkleRootOrdered([]*wire.Transaction{a, b})
	if err != nil {
		t.Fatalf("MerkleRootOrdered: %v", err)
	}
	reversedOrdered, err := MerkleRootOrdered([]*wire.Transaction{b, a})
	if err != nil {
		t.Fatalf("MerkleRootOrdered: %v", err)
	}
	if ordered == reversedOrdered {
		t.Fatalf("expected ordered mode to be order-sensitive")
	}

	sorted1, err := MerkleRootSorted([]*wire.Transaction{a, b})
	if err != nil {
		t.Fatalf("MerkleRootSorted: %v", err)
	}
	sorted2, err := MerkleRootSorted([]*wire.Transaction{b, a})
	if err != nil {
		t.Fatalf("MerkleRootSorted: %v", err)
	}
	if sorted1 != sorted2 {
		t.Fatalf("expected sorted mode to be order-independent")
	}
}

func TestMerkleRootForBlockPicksLegacyMode(t *testing.T) {
	tx := &wire.Transaction{Version: wire.VersionFullHex, Outputs: []wire.TransactionOutput{{Address: mustPoint(t, 1), Amount: 1}}}
	legacy, err := MerkleRootForBlock(LegacyMerkleBoundary-1, []*wire.Transaction{tx})
	if err != nil {
		t.Fatalf("MerkleRootForBlock: %v", err)
	}
	ordered, err := MerkleRootOrdered([]*wire.Transaction{tx})
	if err != nil {
		t.Fatalf("MerkleRootOrdered: %v", err)
	}
	if legacy != ordered {
		t.Fatalf("expected id below boundary to use ordered mode")
	}
}
