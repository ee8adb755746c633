package dahuarpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the device wall-clock format. Devices report local time
// without a zone.
const TimestampLayout = "2006-01-02 15:04:05"

// Timestamp is a device time value serialized in TimestampLayout using the
// process local zone.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.In(time.Local).Format(TimestampLayout))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: expected string: %w", err)
	}
	parsed, err := time.ParseInLocation(TimestampLayout, s, time.Local)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	t.Time = parsed.UTC()
	return nil
}

// Condition is the filter passed to mediaFileFind.findFile.
type Condition struct {
	Channel   int       `json:"Channel"`
	Dirs      []string  `json:"Dirs"`
	Types     []string  `json:"Types"`
	Order     string    `json:"Order"`
	Redundant string    `json:"Redundant"`
	Events    []string  `json:"Events"`
	StartTime Timestamp `json:"StartTime"`
	EndTime   Timestamp `json:"EndTime"`
	Flags     []string  `json:"Flags"`
}

func NewCondition(start, end time.Time) Condition {
	return Condition{
		Channel:   0,
		Dirs:      []string{},
		Types:     []string{"dav", "jpg"},
		Order:     "Ascent",
		Redundant: "Exclusion",
		Events:    nil,
		StartTime: Timestamp{start},
		EndTime:   Timestamp{end},
		Flags:     []string{"Timing", "Event", "Event", "Manual"},
	}
}

// Video narrows the condition to recordings.
func (c Condition) Video() Condition {
	c.Types = []string{"dav"}
	return c
}

// Picture narrows the condition to snapshots.
func (c Condition) Picture() Condition {
	c.Types = []string{"jpg"}
	c.Flags = []string{"Timing", "Event", "Event"}
	return c
}

// FindNextFileInfo is one file reported by mediaFileFind.findNextFile.
type FindNextFileInfo struct {
	Channel     int       `json:"Channel"`
	StartTime   Timestamp `json:"StartTime"`
	EndTime     Timestamp `json:"EndTime"`
	Length      int64     `json:"Length"`
	Type        string    `json:"Type"`
	FilePath    string    `json:"FilePath"`
	Duration    *int      `json:"Duration"`
	Disk        int       `json:"Disk"`
	VideoStream string    `json:"VideoStream"`
	Flags       []string  `json:"Flags"`
	Events      []string  `json:"Events"`
	Cluster     *int      `json:"Cluster"`
	Partition   *int      `json:"Partition"`
	PicIndex    *int      `json:"PicIndex"`
	Repeat      *int      `json:"Repeat"`
	WorkDir     *string   `json:"WorkDir"`
	WorkDirSN   *int      `json:"WorkDirSN"`
}

// FindNextFile is one page of results.
type FindNextFile struct {
	Found int                `json:"found"`
	Infos []FindNextFileInfo `json:"infos"`
}

// CreateFileFinder allocates a finder handle on the device.
func CreateFileFinder(ctx context.Context, rpc RequestBuilder) (int64, error) {
	res, err := rpc.Method("mediaFileFind.factory.create").Send(ctx)
	if err != nil {
		return 0, err
	}
	return res.Result, nil
}

// FindFile starts a search on the handle. false means the device found
// nothing to return.
func FindFile(ctx context.Context, rpc RequestBuilder, object int64, cond Condition) (bool, error) {
	res, err := rpc.
		Method("mediaFileFind.findFile").
		Params(map[string]any{"condition": cond}).
		Object(object).
		Send(ctx)
	if err != nil {
		return false, err
	}
	return res.OK(), nil
}

func FindNextFiles(ctx context.Context, rpc RequestBuilder, object int64, count int) (FindNextFile, error) {
	res, err := rpc.
		Method("mediaFileFind.findNextFile").
		Params(map[string]any{"count": count}).
		Object(object).
		Send(ctx)
	if err != nil {
		return FindNextFile{}, err
	}
	var out FindNextFile
	if err := res.Decode(&out); err != nil {
		return FindNextFile{}, err
	}
	for i := range out.Infos {
		if out.Infos[i].Events == nil {
			out.Infos[i].Events = []string{}
		}
	}
	return out, nil
}

func GetFileCount(ctx context.Context, rpc RequestBuilder, object int64) (int, error) {
	res, err := rpc.Method("mediaFileFind.getCount").Object(object).Send(ctx)
	if err != nil {
		return 0, err
	}
	var p struct {
		Count int `json:"count"`
	}
	err = res.Decode(&p)
	return p.Count, err
}

func CloseFileFinder(ctx context.Context, rpc RequestBuilder, object int64) (bool, error) {
	res, err := rpc.Method("mediaFileFind.close").Object(object).Send(ctx)
	if err != nil {
		return false, err
	}
	return res.OK(), nil
}

func DestroyFileFinder(ctx context.Context, rpc RequestBuilder, object int64) (bool, error) {
	res, err := rpc.Method("mediaFileFind.destroy").Object(object).Send(ctx)
	if err != nil {
		return false, err
	}
	return res.OK(), nil
}
