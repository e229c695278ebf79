package allocation

import "sort"

// Demand is one pending request's claim on a drug's stock at the fulfiller.
type Demand struct {
	RequestID string
	Quantity  int
}

// FairShare divides total units of stock across competing demands using
// max-min fairness (water-filling). The common level is raised as far as the
// stock allows, fully satisfying every demand below it; the floor-rounding
// remainder is then poured into the smallest unmet demands first, so no
// claimant is under-served while a larger one is over-served relative to its
// demand. The result is advisory: an approver may still override per line.
//
// Guarantees:
//   - allocated[i] <= demand[i] and the total never exceeds total stock
//   - if total stock covers all demands, every demand is met exactly
//   - every claimant demanding at least floor(total/len) receives at least
//     floor(total/len)
func FairShare(total int, demands []Demand) map[string]int {
	alloc := make(map[string]int, len(demands))
	if total <= 0 || len(demands) == 0 {
		for _, d := range demands {
			alloc[d.RequestID] = 0
		}
		return alloc
	}

	level := waterLevel(total, demands)

	remaining := total
	for _, d := range demands {
		a := d.Quantity
		if a > level {
			a = level
		}
		if a < 0 {
			a = 0
		}
		alloc[d.RequestID] = a
		remaining -= a
	}

	if remaining <= 0 {
		return alloc
	}

	// Pour the remainder into unmet demands, smallest first; ties keep
	// their submission order.
	unmet := make([]Demand, 0, len(demands))
	for _, d := range demands {
		if alloc[d.RequestID] < d.Quantity {
			unmet = append(unmet, d)
		}
	}
	sort.SliceStable(unmet, func(i, j int) bool {
		return unmet[i].Quantity < unmet[j].Quantity
	})

	for _, d := range unmet {
		if remaining == 0 {
			break
		}
		top := d.Quantity - alloc[d.RequestID]
		if top > remaining {
			top = remaining
		}
		alloc[d.RequestID] += top
		remaining -= top
	}

	return alloc
}

// waterLevel finds the highest common level L such that capping every demand
// at L stays within the total.
func waterLevel(total int, demands []Demand) int {
	hi := 0
	for _, d := range demands {
		if d.Quantity > hi {
			hi = d.Quantity
		}
	}

	lo := 0
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if cappedSum(demands, mid) <= total {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

func cappedSum(demands []Demand, level int) int {
	sum := 0
	for _, d := range demands {
		q := d.Quantity
		if q > level {
			q = level
		}
		if q > 0 {
			sum += q
		}
	}
	return sum
}
