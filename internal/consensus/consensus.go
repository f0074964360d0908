// Package consensus implements the difficulty retarget, proof-of-work
// test, reward schedule, and merkle-root computation that the block
// pipeline checks every candidate block against. The legacy branches
// (id < 17500, id < 22500, the id == 17972 exception) are preserved
// bit-exact per spec — they are consensus history, not bugs to clean up.
package consensus

import (
	"math"
)

// BlockTime is the target seconds-per-block the retarget aims for.
const BlockTime = 180

// BlocksCount is the retarget interval.
const BlocksCount = 500

// StartDifficulty is the difficulty assigned to the first BlocksCount
// blocks, before any retarget has occurred.
const StartDifficulty = 6.0

// LegacyHashrateBoundary is the block id below which the original
// (buggy) hashrate/difficulty formulas apply.
const LegacyHashrateBoundary = 17500

// LegacyMerkleBoundary is the block id below which the miner-chosen
// transaction order is hashed as-is rather than sorted.
const LegacyMerkleBoundary = 22500

// DifficultyToHashrateOld is the original difficulty→hashrate formula,
// used for blocks below LegacyHashrateBoundary.
func DifficultyToHashrateOld(difficulty float64) float64 {
	decimal := math.Mod(difficulty, 1)
	if decimal == 0 {
		decimal = 1.0 / 16
	}
	return math.Pow(16, math.Floor(difficulty)) * (16 * decimal)
}

// DifficultyToHashrate is the corrected difficulty→hashrate formula, used
// from LegacyHashrateBoundary onward.
func DifficultyToHashrate(difficulty float64) float64 {
	decimal := math.Mod(difficulty, 1)
	return math.Pow(16, math.Floor(difficulty)) * (16 / math.Ceil(16*(1-decimal)))
}

// HashrateToDifficultyOld is the inverse of DifficultyToHashrateOld.
func HashrateToDifficultyOld(hashrate float64) float64 {
	difficulty := math.Floor(math.Log(hashrate) / math.Log(16))
	if hashrate == math.Pow(16, difficulty) {
		return difficulty
	}
	return difficulty + (hashrate/math.Pow(16, difficulty))/16
}

// HashrateToDifficulty is the inverse of DifficultyToHashrate.
func HashrateToDifficulty(hashrate float64) float64 {
	difficulty := math.Floor(math.Log(hashrate) / math.Log(16))
	if hashrate == math.Pow(16, difficulty) {
		return difficulty
	}
	ratio := hashrate / math.Pow(16, difficulty)
	decimal := 16 / ratio / 16
	decimal = 1 - math.Floor(decimal*10)/10
	return difficulty + decimal
}

// truncate1 floors x to one decimal digit, matching
// `floor(new_difficulty * 10) / 10` in the source formula.
func truncate1(x float64) float64 {
	return math.Floor(x*10) / 10
}

// LastBlockInfo is the subset of the chain tip the retarget needs: its
// id, difficulty and timestamp, plus the timestamp of the block exactly
// BlocksCount-1 positions before it.
type LastBlockInfo struct {
	ID               int64
	Difficulty       float64
	Timestamp        int64
	RetargetWindowTimestamp int64 // timestamp of block (id - BlocksCount + 1)
}

// NextDifficulty computes the difficulty the next block must satisfy.
// last == nil means an empty chain (genesis), returning StartDifficulty.
func NextDifficulty(last *LastBlockInfo) float64 {
	if last == nil {
		return StartDifficulty
	}
	if last.ID < BlocksCount {
		return StartDifficulty
	}
	if last.ID%BlocksCount != 0 {
		return last.Difficulty
	}

	elapsed := float64(last.Timestamp - last.RetargetWindowTimestamp)
	averagePerBlock := elapsed / BlocksCount

	var hashrate float64
	if last.ID < LegacyHashrateBoundary {
		hashrate = DifficultyToHashrateOld(last.Difficulty)
	} else {
		hashrate = DifficultyToHashrate(last.Difficulty)
	}

	ratio := BlockTime / averagePerBlock
	hashrate *= ratio

	var newDifficulty float64
	if last.ID < LegacyHashrateBoundary {
		newDifficulty = HashrateToDifficultyOld(hashrate)
	} else {
		newDifficulty = HashrateToDifficulty(hashrate)
	}
	return truncate1(newDifficulty)
}
