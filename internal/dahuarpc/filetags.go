package dahuarpc

import (
	"strconv"
	"strings"
	"time"
)

// ParseFilePathTags returns the bracketed tags in the last segment of a
// device file path. An unterminated tag is dropped.
func ParseFilePathTags(filePath string) []string {
	if i := strings.LastIndex(filePath, "/"); i >= 0 {
		filePath = filePath[i:]
	}

	pieces := strings.Split(filePath, "[")
	tags := make([]string, 0, len(pieces))
	for _, piece := range pieces[1:] {
		end := strings.Index(piece, "]")
		if end < 0 {
			continue
		}
		tags = append(tags, piece[:end])
	}
	return tags
}

// UniqueNanos derives the sub-second offset used to keep start times unique
// per camera. Files that collide modulo 500 share a key and the later one is
// dropped on upsert.
func UniqueNanos(filePath string) int {
	tags := ParseFilePathTags(filePath)
	var sum uint64
	for _, i := range []int{2, 3} {
		if i >= len(tags) {
			continue
		}
		n, err := strconv.ParseUint(tags[i], 10, 64)
		if err != nil {
			continue
		}
		sum += n
	}
	return int(sum%500) * int(time.Millisecond)
}

// UniqueTime returns the file's start and end times with the nanosecond field
// replaced by UniqueNanos.
func (f FindNextFileInfo) UniqueTime() (start, end time.Time) {
	nanos := UniqueNanos(f.FilePath)
	return withNanos(f.StartTime.Time, nanos), withNanos(f.EndTime.Time, nanos)
}

func withNanos(t time.Time, nanos int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), nanos, t.Location())
}
