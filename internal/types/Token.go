/*

This is a custom type for the assets on either side of a pool or position.

*/

package types

type Token struct {
	Symbol   string  `json:"symbol"`    // e.g., "ATOM"
	Denom    string  `json:"denom"`     // e.g., "uatom" or "ibc/273...A8", the on-chain address of the asset
	Decimals int     `json:"decimals"`  // e.g., 6
	PriceUSD float64 `json:"price_usd"` // e.g., 8.42
}

// IsValid reports whether the descriptor carries enough data to price and move the asset.
func (t Token) IsValid() bool {
	return t.Denom != "" && t.Decimals >= 0 && t.Decimals <= 18 && t.PriceUSD >= 0
}
