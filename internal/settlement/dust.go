package settlement

// HouseShare is what the house keeps once a pool is fully settled.
type HouseShare struct {
	Commission int64 `json:"commission"`
	// Dust is the floor-rounding residue of the winners' shares.
	Dust int64 `json:"dust"`
	// Unclaimed is the distributable pool when no stake backed a winning option.
	Unclaimed int64 `json:"unclaimed"`
}

// HouseShareFor assigns floor-rounding dust and unbacked pools to the house.
// A void pool is refunded in full and leaves the house nothing.
func HouseShareFor(agg Aggregates, ws WinningSet, payoutTotal int64) HouseShare {
	if ws.Void() {
		return HouseShare{}
	}
	share := HouseShare{Commission: agg.Commission}
	if agg.WinningStaked == 0 {
		share.Unclaimed = agg.DistributablePool
		return share
	}
	if dust := agg.DistributablePool - payoutTotal; dust > 0 {
		share.Dust = dust
	}
	return share
}

// DustBound is the most floor rounding can leave behind across n winners.
func DustBound(winners int64) int64 {
	if winners <= 1 {
		return 0
	}
	return winners - 1
}
