package core

import (
	"fmt"
	"strings"
	"time"
)

func formatRecordTime(t time.Time) string {
	return t.Format("2006-01-02_15-04-05") + fmt.Sprintf("-%06d", t.Nanosecond()/1000)
}

// recordPath fills a recording path template.
// %t is replaced with the start time, %id with the recorder ID.
func recordPath(format string, t time.Time, id string) string {
	return strings.NewReplacer(
		"%t", formatRecordTime(t),
		"%id", id,
	).Replace(format)
}
