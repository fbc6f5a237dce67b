package connectors

// defaultPricePrecisions seeds the tick precision table for the symbols the
// channel actually trades. Symbols missing here get a nil precision and
// their prices pass through rounding unchanged.
// TODO: replace with a periodic exchange-info refresh once more pairs are live.
func defaultPricePrecisions() map[string]int {
	return map[string]int{
		"BTCUSDT":  1,
		"ETHUSDT":  2,
		"BNBUSDT":  2,
		"SOLUSDT":  3,
		"XRPUSDT":  4,
		"DOGEUSDT": 5,
	}
}
