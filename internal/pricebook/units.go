package pricebook

import "strings"

// Unit is a unit of measure known to the dictionary.
type Unit struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// UnitDictionary maps unit codes, names and symbols onto canonical codes.
type UnitDictionary struct {
	aliases map[string]string
	units   []Unit
}

// NewUnitDictionary indexes units. Later entries never override an alias already claimed by a code.
func NewUnitDictionary(units []Unit) UnitDictionary {
	d := UnitDictionary{aliases: make(map[string]string, len(units)*3), units: units}
	for _, u := range units {
		code := strings.ToUpper(strings.TrimSpace(u.Code))
		if code == "" {
			continue
		}
		d.aliases[aliasKey(code)] = code
	}
	for _, u := range units {
		code := strings.ToUpper(strings.TrimSpace(u.Code))
		if code == "" {
			continue
		}
		for _, alias := range []string{u.Name, u.Symbol} {
			key := aliasKey(alias)
			if key == "" {
				continue
			}
			if _, taken := d.aliases[key]; !taken {
				d.aliases[key] = code
			}
		}
	}
	return d
}

// Units returns the configured units.
func (d UnitDictionary) Units() []Unit {
	return d.units
}

// Normalize returns the canonical code for a code, name or symbol. Unknown values are returned
// trimmed and upper-cased so they can still match price-book keys.
func (d UnitDictionary) Normalize(value string) string {
	key := aliasKey(value)
	if key == "" {
		return ""
	}
	if code, ok := d.aliases[key]; ok {
		return code
	}
	return strings.ToUpper(strings.TrimSpace(value))
}

func aliasKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
