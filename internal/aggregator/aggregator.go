package aggregator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
)

// MinShareBreakers is the number of distinct breakers needed before a
// proportional share is meaningful
const MinShareBreakers = 2

// InsufficientShareWarning is returned with an EnergyShare that has too few breakers
const InsufficientShareWarning = "energy share needs at least 2 distinct breakers"

type dayKey struct {
	breakerID string
	date      string
}

// AggregateByDay groups measurements by breaker and the calendar date of
// their own timestamp, sums energy and prices it at unitPrice. A breaker or
// day with no measurements produces no record. Output is sorted by breaker
// then date.
func AggregateByDay(ms []models.Measurement, unitPrice float64) []models.DailyBillingRecord {
	sums := make(map[dayKey]decimal.Decimal)
	for _, m := range ms {
		k := dayKey{breakerID: m.BreakerID, date: m.Date()}
		sums[k] = sums[k].Add(decimal.NewFromFloat(m.Metrics.Energy))
	}

	price := decimal.NewFromFloat(unitPrice)
	records := make([]models.DailyBillingRecord, 0, len(sums))
	for k, energy := range sums {
		records = append(records, models.DailyBillingRecord{
			BreakerID:      k.breakerID,
			Date:           k.date,
			TotalEnergyKWh: energy.InexactFloat64(),
			TotalCost:      energy.Mul(price).InexactFloat64(),
		})
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].BreakerID != records[j].BreakerID {
			return records[i].BreakerID < records[j].BreakerID
		}
		return records[i].Date < records[j].Date
	})
	return records
}

// TotalsByBreaker rolls daily records up to one total per breaker, rounded
// to 2 decimal places.
func TotalsByBreaker(ms []models.Measurement, unitPrice float64) []models.BreakerTotal {
	type acc struct {
		energy decimal.Decimal
		cost   decimal.Decimal
	}
	price := decimal.NewFromFloat(unitPrice)
	byBreaker := make(map[string]*acc)

	for _, m := range ms {
		a, ok := byBreaker[m.BreakerID]
		if !ok {
			a = &acc{}
			byBreaker[m.BreakerID] = a
		}
		e := decimal.NewFromFloat(m.Metrics.Energy)
		a.energy = a.energy.Add(e)
		a.cost = a.cost.Add(e.Mul(price))
	}

	totals := make([]models.BreakerTotal, 0, len(byBreaker))
	for id, a := range byBreaker {
		totals = append(totals, models.BreakerTotal{
			BreakerID:      id,
			TotalEnergyKWh: a.energy.Round(2).InexactFloat64(),
			TotalCost:      a.cost.Round(2).InexactFloat64(),
		})
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].BreakerID < totals[j].BreakerID })
	return totals
}

// EnergyShare totals energy per breaker. With fewer than MinShareBreakers
// distinct breakers it returns the totals without percentages and
// Sufficient=false; that is a signal for the caller, not an error.
func EnergyShare(ms []models.Measurement) models.EnergyShare {
	sums := make(map[string]decimal.Decimal)
	for _, m := range ms {
		sums[m.BreakerID] = sums[m.BreakerID].Add(decimal.NewFromFloat(m.Metrics.Energy))
	}
	return shareFromTotals(sums)
}

// EnergyShareFromTotals computes the share from precomputed per-breaker totals
func EnergyShareFromTotals(totals map[string]float64) models.EnergyShare {
	sums := make(map[string]decimal.Decimal, len(totals))
	for id, v := range totals {
		sums[id] = decimal.NewFromFloat(v)
	}
	return shareFromTotals(sums)
}

func shareFromTotals(sums map[string]decimal.Decimal) models.EnergyShare {
	share := models.EnergyShare{TotalsKWh: make(map[string]float64, len(sums))}
	grand := decimal.Zero
	for id, v := range sums {
		share.TotalsKWh[id] = v.InexactFloat64()
		grand = grand.Add(v)
	}

	if len(sums) < MinShareBreakers {
		share.Warning = InsufficientShareWarning
		return share
	}
	if grand.IsZero() {
		share.Warning = "total energy is zero"
		return share
	}

	share.Sufficient = true
	share.Percentages = make(map[string]float64, len(sums))
	hundred := decimal.NewFromInt(100)
	for id, v := range sums {
		share.Percentages[id] = v.Mul(hundred).DivRound(grand, 2).InexactFloat64()
	}
	return share
}
