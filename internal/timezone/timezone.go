package timezone

import (
	"time"
	_ "time/tzdata"
)

const DefaultTimezone = "Asia/Kolkata"

// ist is used when the zone database cannot resolve DefaultTimezone
var ist = time.FixedZone("IST", 5*3600+30*60)

func IsValid(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// Location resolves tz, falling back to the clinic default
func Location(tz string) *time.Location {
	if IsValid(tz) {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}

	if loc, err := time.LoadLocation(DefaultTimezone); err == nil {
		return loc
	}
	return ist
}

func NowIn(tz string) time.Time {
	return time.Now().In(Location(tz))
}

// Dates returns today and tomorrow in loc as YYYY-MM-DD
func Dates(now time.Time, loc *time.Location) (today, tomorrow string) {
	local := now.In(loc)
	return local.Format("2006-01-02"), local.AddDate(0, 0, 1).Format("2006-01-02")
}
