package model

// Asset describes a tradable asset surfaced by the auxiliary lookups.
type Asset struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Symbol            string `json:"symbol"`
	TotalSupply       string `json:"totalSupply,omitempty"`
	CirculatingSupply string `json:"circulatingSupply,omitempty"`
}

// Pair describes a liquidity pair between two assets.
type Pair struct {
	ID                      string `json:"id"`
	Asset0ID                string `json:"asset0Id"`
	Asset1ID                string `json:"asset1Id"`
	CreatedAtBlockNumber    uint64 `json:"createdAtBlockNumber,omitempty"`
	CreatedAtBlockTimestamp int64  `json:"createdAtBlockTimestamp,omitempty"`
	CreatedAtTxnID          string `json:"createdAtTxnId,omitempty"`
	FeeBps                  int    `json:"feeBps,omitempty"`
}
