package core

// Valuations maps the slot combinations a bidder values to the amount it is worth to them.
// Masks not present are valued at zero.
type Valuations map[SlotMask]Currency

// Valuation returns the bidder's value for slots.
func (v Valuations) Valuation(slots SlotMask) Currency {
	return v[slots]
}

// Total sums all valued combinations.
func (v Valuations) Total() Currency {
	var total Currency
	for _, value := range v {
		total += value
	}
	return total
}

// GlobalValuations values only the all-slots combination.
func GlobalValuations(n int, value Currency) Valuations {
	return Valuations{GlobalValue(n): value}
}

// LocalValuations assigns values to the local choices of an n/l layout in LocalValues order.
// Missing trailing values are zero.
func LocalValuations(n, l int, values []Currency) Valuations {
	result := make(Valuations)
	for i, mask := range LocalValues(n, l) {
		if i < len(values) {
			result[mask] = values[i]
		} else {
			result[mask] = 0
		}
	}
	return result
}

// Ordered returns the valuations in ValidValues order, skipping masks not valued.
// Used for stable presentation and export.
func (v Valuations) Ordered(n, l int) []Currency {
	result := make([]Currency, 0, len(v))
	for _, mask := range ValidValues(n, l) {
		if value, ok := v[mask]; ok {
			result = append(result, value)
		}
	}
	return result
}
