package core

import (
	"fmt"
	"math/bits"
)

// MaxGlobalSlots bounds the number of global slots an auction may be configured with.
// Winner determination enumerates every disjoint combination of local bids, which is
// exponential in the number of local choices (at most one choice per slot), so the
// candidate arena never exceeds 2^MaxGlobalSlots entries.
const MaxGlobalSlots = 12

// SlotMask is a bit field of auction slots: bit i set means the bid covers slot i.
type SlotMask uint64

// SlotConfig describes the slot layout of an auction.
type SlotConfig struct {
	// GlobalSlots is the total number of slots (N).
	GlobalSlots int `yaml:"num_global_slots" json:"num_global_slots"`

	// LocalSlots is the width of a local bid (L).
	LocalSlots int `yaml:"num_local_slots" json:"num_local_slots"`
}

// Validate checks N > L >= 1 and N <= MaxGlobalSlots.
func (c SlotConfig) Validate() error {
	if c.LocalSlots < 1 {
		return fmt.Errorf("num_local_slots must be at least 1, got %d", c.LocalSlots)
	}
	if c.GlobalSlots <= c.LocalSlots {
		return fmt.Errorf("num_global_slots (%d) must be larger than num_local_slots (%d)", c.GlobalSlots, c.LocalSlots)
	}
	if c.GlobalSlots > MaxGlobalSlots {
		return fmt.Errorf("num_global_slots (%d) exceeds maximum of %d", c.GlobalSlots, MaxGlobalSlots)
	}
	return nil
}

// Static reports whether the reduced single-slot result view applies (L == 1).
func (c SlotConfig) Static() bool {
	return c.LocalSlots <= 1
}

// GlobalValue returns the mask covering all n slots.
func GlobalValue(n int) SlotMask {
	return SlotMask(1)<<uint(n) - 1
}

// LocalValues returns the masks of all local choices for n slots of width l.
//
// There is one row per offset in [0, l); each row tiles the slots starting at its offset
// without overlap. Rows may overlap each other.
func LocalValues(n, l int) []SlotMask {
	values := make([]SlotMask, 0, n)
	for offset := 0; offset < l; offset++ {
		for s := offset; s+l <= n; s += l {
			values = append(values, rangeMask(s, l))
		}
	}
	return values
}

// LocalRows returns the number of local choices in each offset row.
func LocalRows(n, l int) []int {
	rows := make([]int, l)
	for offset := range rows {
		rows[offset] = (n - offset) / l
	}
	return rows
}

// ValidValues returns every mask a bid may target: the global mask followed by all local masks.
func ValidValues(n, l int) []SlotMask {
	return append([]SlotMask{GlobalValue(n)}, LocalValues(n, l)...)
}

// IsValidValue reports whether slots is one of ValidValues(n, l).
func IsValidValue(slots SlotMask, n, l int) bool {
	for _, v := range ValidValues(n, l) {
		if v == slots {
			return true
		}
	}
	return false
}

func rangeMask(start, width int) SlotMask {
	return (SlotMask(1)<<uint(width) - 1) << uint(start)
}

// FirstSlot returns the index of the lowest covered slot, or -1 for an empty mask.
func (m SlotMask) FirstSlot() int {
	if m == 0 {
		return -1
	}
	return bits.TrailingZeros64(uint64(m))
}

// LastSlot returns the index of the highest covered slot, or -1 for an empty mask.
func (m SlotMask) LastSlot() int {
	return bits.Len64(uint64(m)) - 1
}

// SlotCount returns the number of covered slots.
func (m SlotMask) SlotCount() int {
	return bits.OnesCount64(uint64(m))
}

// Overlaps reports whether both masks share a slot.
func (m SlotMask) Overlaps(o SlotMask) bool {
	return m&o != 0
}

// Label returns the 1-based slot range shown to bidders, e.g. "2" or "1 - 3".
func (m SlotMask) Label() string {
	if m.SlotCount() <= 1 {
		return fmt.Sprintf("%d", m.FirstSlot()+1)
	}
	return fmt.Sprintf("%d - %d", m.FirstSlot()+1, m.LastSlot()+1)
}
