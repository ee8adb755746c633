package scan

import (
	"fmt"
	"time"
)

type Kind string

const (
	KindFull   Kind = "full"
	KindCursor Kind = "cursor"
	KindManual Kind = "manual"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindFull, KindCursor, KindManual:
		return k, nil
	default:
		return "", fmt.Errorf("unknown scan kind %q", s)
	}
}

// AdvancesCursor reports whether a successful run moves the camera scan
// cursor.
func (k Kind) AdvancesCursor() bool {
	return k == KindFull || k == KindCursor
}

// Retryable reports whether a failed run may be retried from history.
func (k Kind) Retryable() bool {
	return k == KindFull || k == KindManual
}

// FullScanStart is where a full scan begins, in the process local zone.
func FullScanStart() time.Time {
	return time.Date(2010, time.January, 1, 0, 0, 0, 0, time.Local)
}
