package sqlcgen

import "time"

type Camera struct {
	ID          int64
	IP          string
	Username    string
	Password    string
	ScanCursor  time.Time
	RefreshedAt time.Time
	CreatedAt   time.Time
}

type CameraDetail struct {
	CameraID        int64
	SN              string
	DeviceClass     string
	DeviceType      string
	HardwareVersion string
	MarketArea      string
	ProcessInfo     string
	Vendor          string
}

type CameraSoftware struct {
	CameraID                int64
	Build                   string
	BuildDate               string
	SecurityBaseLineVersion string
	Version                 string
	WebVersion              string
}

type CameraFile struct {
	ID        int64
	CameraID  int64
	FilePath  string
	Kind      string
	Size      int64
	StartTime time.Time
	EndTime   time.Time
	UpdatedAt time.Time
	Events    []string
}

type PendingScan struct {
	ID         int64
	CameraID   int64
	Kind       string
	RangeStart *time.Time
	RangeEnd   *time.Time
}

// ClaimCandidate is a pending scan joined with its camera's scan cursor.
type ClaimCandidate struct {
	PendingScan
	ScanCursor time.Time
}

type ActiveScan struct {
	CameraID    int64
	Kind        string
	RangeStart  time.Time
	RangeEnd    time.Time
	StartedAt   time.Time
	RangeCursor time.Time
	Percent     float64
	Upserted    int64
	Deleted     int64
}

type CompletedScan struct {
	ID           int64
	CameraID     int64
	Kind         string
	RangeStart   time.Time
	RangeEnd     time.Time
	StartedAt    time.Time
	RangeCursor  time.Time
	Percent      float64
	Upserted     int64
	Deleted      int64
	DurationMs   int64
	Success      bool
	Error        *string
	CanRetry     bool
	RetryPending bool
}
