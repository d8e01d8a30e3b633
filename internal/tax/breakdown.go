package tax

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-settlement/internal/pricing"
)

// Line is a priced line together with its tax treatment.
type Line struct {
	Treatment Treatment
	Result    pricing.Result
}

// Row is one entry of the tax breakdown.
type Row struct {
	Kind        Kind            `json:"kind"`
	Rate        decimal.Decimal `json:"rate"`
	TaxableBase decimal.Decimal `json:"taxableBase"`
	Tax         decimal.Decimal `json:"tax"`
	Total       decimal.Decimal `json:"total"`
}

// Aggregate groups lines by kind and, inside the taxed kind, by rate. Rows whose taxable base is
// not positive are dropped. Rows are ordered by kind (taxed, exempt, unaffected) then by rate.
func Aggregate(lines []Line) []Row {
	index := make(map[string]int)
	rows := make([]Row, 0, len(lines))
	for _, line := range lines {
		treatment := line.Treatment.Normalized()
		key := string(treatment.Kind) + "|" + treatment.Rate.String()
		i, ok := index[key]
		if !ok {
			i = len(rows)
			index[key] = i
			rows = append(rows, Row{
				Kind:        treatment.Kind,
				Rate:        treatment.Rate,
				TaxableBase: decimal.Zero,
				Tax:         decimal.Zero,
				Total:       decimal.Zero,
			})
		}
		rows[i].TaxableBase = rows[i].TaxableBase.Add(line.Result.Subtotal)
		rows[i].Tax = rows[i].Tax.Add(line.Result.Tax)
		rows[i].Total = rows[i].Total.Add(line.Result.Total)
	}

	out := rows[:0]
	for _, row := range rows {
		if row.TaxableBase.IsPositive() {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind.Order() != out[j].Kind.Order() {
			return out[i].Kind.Order() < out[j].Kind.Order()
		}
		return out[i].Rate.LessThan(out[j].Rate)
	})
	return out
}

// SumRows adds rows into a single total row without a kind.
func SumRows(rows []Row) Row {
	sum := Row{Rate: decimal.Zero, TaxableBase: decimal.Zero, Tax: decimal.Zero, Total: decimal.Zero}
	for _, row := range rows {
		sum.TaxableBase = sum.TaxableBase.Add(row.TaxableBase)
		sum.Tax = sum.Tax.Add(row.Tax)
		sum.Total = sum.Total.Add(row.Total)
	}
	return sum
}
