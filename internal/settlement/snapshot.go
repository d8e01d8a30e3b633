package settlement

import (
	"time"

	"github.com/noah-isme/pos-settlement/internal/pricebook"
	"github.com/noah-isme/pos-settlement/internal/tax"
)

// Snapshot is the immutable catalog, price-book and tax configuration a session prices against.
// Revision changes whenever the collaborators publish new data.
type Snapshot struct {
	Revision uint64
	Book     pricebook.Book
	Catalog  pricebook.Catalog
	Units    pricebook.UnitDictionary
	TaxRules []tax.Rule
}

// Resolver returns a price resolver over the snapshot.
func (s Snapshot) Resolver(now func() time.Time) pricebook.Resolver {
	return pricebook.Resolver{Book: s.Book, Catalog: s.Catalog, Units: s.Units, Now: now}
}

// PricesIncludeTax reports whether unit prices carry tax under the selected rule.
func (s Snapshot) PricesIncludeTax() bool {
	return tax.PricesIncludeTax(s.TaxRules)
}

// DefaultTreatment is applied to lines without their own tax treatment.
func (s Snapshot) DefaultTreatment() tax.Treatment {
	return tax.DefaultTreatment(s.TaxRules)
}

// HasColumn reports whether id names a price column of the book.
func (s Snapshot) HasColumn(id string) bool {
	_, ok := s.Book.Column(id)
	return ok
}
