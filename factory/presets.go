package factory

import "github.com/warp/royalty-engine/royalty"

// =============================================================================
// PRESETS - Common contract shapes
// =============================================================================

func money(s string) *royalty.Money {
	m := royalty.MustMoney(s)
	return &m
}

func upTo(n int64) *int64 { return &n }

// FlatRateJSON pays one rate on every unit of a single format.
func FlatRateJSON(id, authorID, titleID string, format royalty.Format, rate, advance string) ContractJSON {
	return ContractJSON{
		ID:                  id,
		AuthorID:            authorID,
		TitleID:             titleID,
		TierCalculationMode: string(royalty.ModePeriod),
		AdvanceAmount:       money(advance),
		Tiers: []TierJSON{
			{Format: string(format), MinQuantity: 0, Rate: royalty.MustMoney(rate)},
		},
	}
}

// TwoTierJSON is the common trade hardcover schedule: 10% on the first
// `breakpoint` physical copies, 15% after, reset every period.
func TwoTierJSON(id, authorID, titleID string, breakpoint int64) ContractJSON {
	return ContractJSON{
		ID:                  id,
		AuthorID:            authorID,
		TitleID:             titleID,
		TierCalculationMode: string(royalty.ModePeriod),
		AdvanceAmount:       money("0"),
		Tiers: []TierJSON{
			{Format: string(royalty.FormatPhysical), MinQuantity: 0, MaxQuantity: upTo(breakpoint), Rate: royalty.MustMoney("0.10")},
			{Format: string(royalty.FormatPhysical), MinQuantity: breakpoint, Rate: royalty.MustMoney("0.15")},
		},
	}
}

// LifetimeEscalatorJSON escalates the physical rate once lifetime sales pass
// the breakpoint, and pays a flat ebook rate.
func LifetimeEscalatorJSON(id, authorID, titleID string, breakpoint int64, advance string) ContractJSON {
	cj := TwoTierJSON(id, authorID, titleID, breakpoint)
	cj.TierCalculationMode = string(royalty.ModeLifetime)
	cj.AdvanceAmount = money(advance)
	cj.Tiers = append(cj.Tiers, TierJSON{Format: string(royalty.FormatEbook), MinQuantity: 0, Rate: royalty.MustMoney("0.25")})
	return cj
}

// CoAuthoredJSON adds ownership shares to a contract. Shares are
// (authorID, percentage) pairs and must sum to 100.
func CoAuthoredJSON(cj ContractJSON, shares ...OwnershipJSON) ContractJSON {
	cj.Ownership = append([]OwnershipJSON(nil), shares...)
	if len(shares) > 0 {
		cj.AuthorID = shares[0].AuthorID
	}
	return cj
}

// Share builds one ownership entry.
func Share(authorID, percentage string) OwnershipJSON {
	return OwnershipJSON{AuthorID: authorID, Percentage: royalty.MustMoney(percentage)}
}
