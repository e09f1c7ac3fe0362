package credentials

import "time"

func unixToTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func secondsToDuration(sec int64) time.Duration {
	return time.Duration(sec) * time.Second
}
