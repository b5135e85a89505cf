package directory

import "time"

// Windows FILETIME counts 100-nanosecond intervals since 1601-01-01 UTC.
// filetimeEpochOffset is the FILETIME value of the Unix epoch.
const filetimeEpochOffset = 116444736000000000

func filetimeFromTime(t time.Time) int64 {
	return t.Unix()*10_000_000 + filetimeEpochOffset
}
