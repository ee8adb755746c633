package dahuarpc

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestParseFilePathTags(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"/mnt/sd/2023-04-09/001/jpg/07/12/04[M][0@0][0][].jpg", []string{"M", "0@0", "0", ""}},
		{"04[M][0@0][0][].jpg", []string{"M", "0@0", "0", ""}},
		{"04M]0@0][0][].jpg", []string{"0", ""}},
		{"/mnt/dvr/mmc0p2_0/2023-04-09/0/jpg/09/44/34[M][0@0][7136][0].jpg", []string{"M", "0@0", "7136", "0"}},
		{"/mnt/dvr/mmc0p2_0/2023-04-09/0/jpg/09/44/34[M][0@0][7136][0.jpg", []string{"M", "0@0", "7136"}},
		{"/mnt/dvr/mmc0p2_0/2023-04-09/0/jpg/09/44/34M][0@0][7136].jpg", []string{"0@0", "7136"}},
		{"/mnt/[x]/file.dav", []string{}},
	}
	for _, tc := range cases {
		got := ParseFilePathTags(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.in, tc.want, got)
		}
	}
}

func TestUniqueNanos(t *testing.T) {
	a := UniqueNanos("/mnt/sd/2023-04-09/001/jpg/07/12/04[M][0@0][0][].jpg")
	b := UniqueNanos("/mnt/sd/2023-04-09/001/jpg/07/12/04[M][0@0][0][1].jpg")
	if a == b {
		t.Fatalf("expected different offsets, both %d", a)
	}
	if a != 0 || b != int(time.Millisecond) {
		t.Fatalf("unexpected offsets: %d %d", a, b)
	}

	if got := UniqueNanos("/x/34[M][0@0][7136][0].jpg"); got != (7136%500)*int(time.Millisecond) {
		t.Fatalf("unexpected offset: %d", got)
	}
	if got := UniqueNanos("/x/no-tags.dav"); got != 0 {
		t.Fatalf("expected 0 without tags, got %d", got)
	}
	if got := UniqueNanos("/x/a[M][0@0][abc][12].dav"); got != 12*int(time.Millisecond) {
		t.Fatalf("expected unparsable tag to count as 0, got %d", got)
	}
}

func TestFindNextFileInfo_UniqueTime(t *testing.T) {
	start := time.Date(2023, 4, 9, 7, 12, 4, 0, time.UTC)
	end := start.Add(time.Second)
	info := FindNextFileInfo{
		StartTime: Timestamp{start},
		EndTime:   Timestamp{end},
		Type:      "jpg",
		FilePath:  "/mnt/sd/2023-04-09/001/jpg/07/12/04[M][0@0][7][3].jpg",
	}

	s1, e1 := info.UniqueTime()
	s2, e2 := info.UniqueTime()
	if !s1.Equal(s2) || !e1.Equal(e2) {
		t.Fatalf("expected stable derivation")
	}
	if s1.Nanosecond() != 10*int(time.Millisecond) || e1.Nanosecond() != s1.Nanosecond() {
		t.Fatalf("unexpected nanos: %d %d", s1.Nanosecond(), e1.Nanosecond())
	}
	if s1.Truncate(time.Second) != start {
		t.Fatalf("seconds changed: %v", s1)
	}
}

func TestTimestamp_RoundTripLocal(t *testing.T) {
	var ts Timestamp
	if err := json.Unmarshal([]byte(`"2023-02-06 03:09:09"`), &ts); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	b, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"2023-02-06 03:09:09"` {
		t.Fatalf("unexpected encoding: %s", b)
	}

	if err := json.Unmarshal([]byte(`"2023/02/06"`), &ts); err == nil {
		t.Fatalf("expected error for bad layout")
	}
}

func TestCondition_Presets(t *testing.T) {
	cond := NewCondition(time.Now().Add(-time.Hour), time.Now())

	video := cond.Video()
	if !reflect.DeepEqual(video.Types, []string{"dav"}) || len(video.Flags) != 4 {
		t.Fatalf("unexpected video condition: %+v", video)
	}
	picture := cond.Picture()
	if !reflect.DeepEqual(picture.Types, []string{"jpg"}) || !reflect.DeepEqual(picture.Flags, []string{"Timing", "Event", "Event"}) {
		t.Fatalf("unexpected picture condition: %+v", picture)
	}

	b, err := json.Marshal(video)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["Redundant"] != "Exclusion" || m["Order"] != "Ascent" {
		t.Fatalf("unexpected encoding: %s", b)
	}
}
