package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Europe/Paris")
	if err != nil {
		panic(err)
	}
}

// force timezone to be portal-local (the vendor renders bill dates and
// schedule deadlines in French local time), so date arithmetic based on
// <time.Time>.Year()/Month()/Day() stays stable no matter where the
// harvester runs
func Now() time.Time {
	return time.Now().In(Location)
}
