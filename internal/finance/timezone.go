package finance

import "time"

// getEasternTime returns America/New_York location, falling back to fixed EST if tzdata is missing.
func getEasternTime() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}

// exchangeLocation resolves the exchange timezone reported by the provider.
// Unknown names fall back to a fixed offset, then to New York.
func exchangeLocation(name string, gmtOffset int) *time.Location {
	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	if gmtOffset != 0 {
		return time.FixedZone("exchange", gmtOffset)
	}
	return getEasternTime()
}

// tradingDate converts a unix timestamp to the exchange-local calendar date.
func tradingDate(ts int64, loc *time.Location) time.Time {
	return NormalizeDate(time.Unix(ts, 0).In(loc))
}
