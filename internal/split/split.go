// Package split contains the pure share arithmetic. No I/O, no floats:
// amounts are indivisible sats and division always floors, so an allocation
// can fall short of the total but never exceed it.
package split

import (
	"errors"
	"fmt"
)

// ErrInvalidSplit is returned when an allocation exceeds the total or sums
// to zero. Callers must reject such splits before any signing attempt.
var ErrInvalidSplit = errors.New("invalid split")

// Equal distributes totalSats across n participants. Every share is
// floor(total/n) or floor(total/n)+1, the remainder going to the lowest
// indices, so the shares always sum to exactly totalSats.
func Equal(totalSats int64, n int) ([]int64, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: need at least one participant", ErrInvalidSplit)
	}
	if totalSats < 0 {
		return nil, fmt.Errorf("%w: negative total", ErrInvalidSplit)
	}

	base := totalSats / int64(n)
	remainder := totalSats % int64(n)

	shares := make([]int64, n)
	for i := range shares {
		shares[i] = base
		if int64(i) < remainder {
			shares[i]++
		}
	}
	return shares, nil
}

// Weighted distributes totalSats proportionally to the given weights:
// share[i] = floor(total * weight[i] / sum(weights)). The shares sum to at
// most totalSats; any shortfall from flooring is left unallocated and
// surfaced to the caller via Validate, never silently redistributed.
func Weighted(totalSats int64, weights []int64) ([]int64, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: need at least one weight", ErrInvalidSplit)
	}
	if totalSats < 0 {
		return nil, fmt.Errorf("%w: negative total", ErrInvalidSplit)
	}

	var totalWeight int64
	for i, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("%w: negative weight at index %d", ErrInvalidSplit, i)
		}
		totalWeight += w
	}
	if totalWeight == 0 {
		return nil, fmt.Errorf("%w: weights sum to zero", ErrInvalidSplit)
	}

	shares := make([]int64, len(weights))
	for i, w := range weights {
		shares[i] = totalSats * w / totalWeight
	}
	return shares, nil
}

// Validate reports whether shares are an acceptable allocation of
// totalSats: the sum must be positive and must not exceed the total.
func Validate(totalSats int64, shares []int64) error {
	var sum int64
	for _, s := range shares {
		if s < 0 {
			return fmt.Errorf("%w: negative share", ErrInvalidSplit)
		}
		sum += s
	}
	if sum <= 0 {
		return fmt.Errorf("%w: shares sum to zero", ErrInvalidSplit)
	}
	if sum > totalSats {
		return fmt.Errorf("%w: allocated %d sats of %d available", ErrInvalidSplit, sum, totalSats)
	}
	return nil
}
