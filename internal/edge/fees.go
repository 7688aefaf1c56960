package edge

// Most markets charge no taker fee; the fee-bearing sports categories use a
// rate curve peaking at the half-dollar. Spread cost applies everywhere and
// is widest near 0.50 where books quote loosest.
const (
	takerFeeRate = 0.0175
	spreadRate   = 0.003
)

// Fee estimates the entry cost in probability points for buying one share at
// price. feeBearing selects the taker fee curve on top of the spread cost.
func Fee(price float64, feeBearing bool) float64 {
	var fee float64
	if feeBearing {
		fee = takerFeeRate * price * (1 - price)
	}
	return fee + spreadRate*2*price*(1-price)
}
