// Package ordinal implements the pure sat-numbering arithmetic (C1):
// subsidy schedule, sat ranges per block, and the rarity/degree ladder.
// Every function here is total for sats in [0, SupplyLimit).
package ordinal

import "fmt"

// Sat is a satoshi identified by its canonical number.
type Sat uint64

// SupplyLimit is the exclusive upper bound on sat numbers — the total
// number of satoshis that will ever be mined.
const SupplyLimit = 2_099_999_997_690_000

// SubsidyHalvingInterval is the number of blocks between subsidy halvings.
const SubsidyHalvingInterval = 210_000

// DifficultyAdjustmentInterval is the number of blocks in one difficulty period.
const DifficultyAdjustmentInterval = 2016

// initialSubsidy is the block 0 coinbase subsidy, in sats.
const initialSubsidy = 50 * 100_000_000

// blocksPerCycle is the number of blocks in one cycle (6 halving epochs).
const blocksPerCycle = SubsidyHalvingInterval * 6

// Epoch returns the halving epoch containing height.
func Epoch(height uint64) uint64 {
	return height / SubsidyHalvingInterval
}

// Period returns the difficulty-adjustment period containing height.
func Period(height uint64) uint64 {
	return height / DifficultyAdjustmentInterval
}

// Cycle returns the cycle (every 6 epochs) containing height.
func Cycle(height uint64) uint64 {
	return height / blocksPerCycle
}

// Subsidy returns the coinbase subsidy, in sats, for a block at height.
// It halves every SubsidyHalvingInterval blocks and is zero once the
// subsidy has halved past the point of representability.
func Subsidy(height uint64) uint64 {
	halvings := Epoch(height)
	if halvings >= 64 {
		return 0
	}
	return initialSubsidy >> halvings
}

// FirstSat returns the sat number of the first satoshi of the coinbase
// subsidy at height, i.e. the sum of all subsidies of blocks [0, height).
func FirstSat(height uint64) Sat {
	var total uint64
	epoch := Epoch(height)
	for e := uint64(0); e < epoch; e++ {
		epochStart := e * SubsidyHalvingInterval
		epochEnd := epochStart + SubsidyHalvingInterval
		total += Subsidy(epochStart) * (epochEnd - epochStart)
	}
	epochStart := epoch * SubsidyHalvingInterval
	total += Subsidy(height) * (height - epochStart)
	return Sat(total)
}

// SubsidyRange returns the half-open sat range [first, first+subsidy)
// belonging to the coinbase of the block at height.
func SubsidyRange(height uint64) (Sat, Sat) {
	start := FirstSat(height)
	return start, start + Sat(Subsidy(height))
}

// Rarity enumerates the rarity classes of a sat, from rarest to commonest.
type Rarity uint8

const (
	Common Rarity = iota
	Uncommon
	Rare
	Epic
	Legendary
	Mythic
)

// String returns the lower-case name of the rarity class.
func (r Rarity) String() string {
	switch r {
	case Mythic:
		return "mythic"
	case Legendary:
		return "legendary"
	case Epic:
		return "epic"
	case Rare:
		return "rare"
	case Uncommon:
		return "uncommon"
	default:
		return "common"
	}
}

// Degree is the (hour, minute, second, third) rarity coordinate of a sat,
// mirroring the clock-face mnemonic: hour = cycle number, minute = block
// position within the halving epoch, second = block position within the
// difficulty period, third = offset of the sat within its block.
type Degree struct {
	Hour   uint64
	Minute uint64
	Second uint64
	Third  uint64
}

// DegreeOf computes the degree coordinate for sat.
func DegreeOf(sat Sat) (Degree, error) {
	height, offset, err := heightOf(sat)
	if err != nil {
		return Degree{}, err
	}
	return Degree{
		Hour:   Cycle(height),
		Minute: height % SubsidyHalvingInterval,
		Second: height % DifficultyAdjustmentInterval,
		Third:  offset,
	}, nil
}

// RarityOf computes the rarity class for sat.
func RarityOf(sat Sat) (Rarity, error) {
	deg, err := DegreeOf(sat)
	if err != nil {
		return Common, err
	}
	switch {
	case sat == 0:
		return Mythic, nil
	case deg.Minute == 0 && deg.Second == 0 && deg.Third == 0:
		return Legendary, nil
	case deg.Minute == 0 && deg.Third == 0:
		return Epic, nil
	case deg.Second == 0 && deg.Third == 0:
		return Rare, nil
	case deg.Third == 0:
		return Uncommon, nil
	default:
		return Common, nil
	}
}

// heightOf returns the block height that mined sat and its offset within
// that block's subsidy range.
func heightOf(sat Sat) (height uint64, offset uint64, err error) {
	if uint64(sat) >= SupplyLimit {
		return 0, 0, fmt.Errorf("sat %d exceeds supply limit %d", sat, uint64(SupplyLimit))
	}

	// Binary search over epochs for the containing epoch, then scan blocks
	// within it — subsidy is constant within an epoch so this is exact.
	remaining := uint64(sat)
	epoch := uint64(0)
	for {
		epochStart := epoch * SubsidyHalvingInterval
		subsidy := Subsidy(epochStart)
		if subsidy == 0 {
			return 0, 0, fmt.Errorf("sat %d beyond final halving", sat)
		}
		epochSats := subsidy * SubsidyHalvingInterval
		if remaining < epochSats {
			blocksIn := remaining / subsidy
			off := remaining % subsidy
			return epochStart + blocksIn, off, nil
		}
		remaining -= epochSats
		epoch++
	}
}

// LastSatOfHeight returns the exclusive upper bound of the coinbase sat
// range at height — equivalently FirstSat(height+1).
func LastSatOfHeight(height uint64) Sat {
	return FirstSat(height + 1)
}
