// Package cost estimates the monthly storage cost of resources.
package cost

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fruitsalade/nimbus/internal/models"
)

// Places is the number of decimal places a computed cost is rounded to.
const Places = 18

var bytesPerGB = decimal.NewFromInt(1 << 30)

// Model computes the cost of a single file.
type Model interface {
	ResourceCost(r *models.Resource) decimal.Decimal
}

// Tier is a storage class selected once a resource has gone unused for
// DaysSinceLastAccess days.
type Tier struct {
	Name                string
	DaysSinceLastAccess int
	CostPerGBMonth      decimal.Decimal
}

// Analyzer picks a Tier by access recency and prices the resource by size.
type Analyzer struct {
	tiers []Tier
	now   func() time.Time
}

// NewAnalyzer validates tiers and sorts them by threshold.
func NewAnalyzer(tiers []Tier) (*Analyzer, error) {
	if len(tiers) == 0 {
		return nil, errors.New("cost: at least one tier is required")
	}
	sorted := append([]Tier(nil), tiers...)
	for _, t := range sorted {
		if t.DaysSinceLastAccess < 0 {
			return nil, fmt.Errorf("cost: tier %q: days since last access must be >= 0", t.Name)
		}
		if t.CostPerGBMonth.IsNegative() {
			return nil, fmt.Errorf("cost: tier %q: negative price", t.Name)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DaysSinceLastAccess < sorted[j].DaysSinceLastAccess
	})
	return &Analyzer{tiers: sorted, now: time.Now}, nil
}

// WithClock returns a copy of a that reads time from now.
func (a *Analyzer) WithClock(now func() time.Time) *Analyzer {
	c := *a
	c.now = now
	return &c
}

// TierFor returns the tier for a resource last used at lastUsed.
func (a *Analyzer) TierFor(lastUsed time.Time) Tier {
	days := int(a.now().Sub(lastUsed).Hours() / 24)
	for i := len(a.tiers) - 1; i >= 0; i-- {
		if days >= a.tiers[i].DaysSinceLastAccess {
			return a.tiers[i]
		}
	}
	return a.tiers[0]
}

// Cost prices size bytes last used at lastUsed.
func (a *Analyzer) Cost(size int64, lastUsed time.Time) decimal.Decimal {
	if size <= 0 {
		return decimal.Zero
	}
	tier := a.TierFor(lastUsed)
	return decimal.NewFromInt(size).
		Mul(tier.CostPerGBMonth).
		DivRound(bytesPerGB, Places)
}

func (a *Analyzer) ResourceCost(r *models.Resource) decimal.Decimal {
	return a.Cost(r.Size, r.LastUsed())
}

// Human formats a cost for logs.
func Human(c decimal.Decimal) string {
	return "$" + c.StringFixed(4)
}
