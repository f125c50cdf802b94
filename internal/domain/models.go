package domain

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SourceRef identifies one file inside the source dataset.
type SourceRef struct {
	Path string `json:"path"`
	Size int64  `json:"size,omitempty"`
}

func (r SourceRef) String() string { return r.Path }

// Name returns the file name of the ref.
func (r SourceRef) Name() string { return path.Base(r.Path) }

// Date extracts the snapshot date from a data/YYYY/M/D/ folder in the path.
func (r SourceRef) Date() (time.Time, bool) {
	m := dateFolder.FindStringSubmatch(r.Path)
	if m == nil {
		return time.Time{}, false
	}
	return parseDate(m[1], m[2], m[3])
}

var (
	dateFolder  = regexp.MustCompile(`(?:^|/)(\d{4})/(\d{1,2})/(\d{1,2})/`)
	leadingDate = regexp.MustCompile(`^(\d{4})/(\d{1,2})/(\d{1,2})(/.*)?$`)
)

func parseDate(year, month, day string) (time.Time, bool) {
	y, _ := strconv.Atoi(year)
	mo, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	if mo < 1 || mo > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	// Reject dates that normalised into another month (e.g. 2/31).
	if t.Month() != time.Month(mo) {
		return time.Time{}, false
	}
	return t, true
}

// DestinationKey is where a converted artifact lives in the destination store.
type DestinationKey string

func (k DestinationKey) String() string { return string(k) }

// LocalPayload is a fully downloaded source file on local disk.
type LocalPayload struct {
	Ref  SourceRef
	Path string
	Size int64
}

// ExportedArtifact is the converter output waiting to be uploaded.
type ExportedArtifact struct {
	Path string
	Size int64
}

// KeyDeriver turns source refs into destination keys.
//
// Derive depends on nothing but the ref path, so reruns and restarts always
// compute the same key for the same file. Every folder below SourcePrefix is
// kept, so distinct source paths never share a key.
type KeyDeriver struct {
	Prefix       string
	SourcePrefix string
	SourceSuffix string
	TargetSuffix string
}

// Derive returns the destination key for ref. A leading YYYY/M/D folder is
// zero padded: data/2025/7/1/12/a.zarr.zip becomes prefix/2025/07/01/12/a.nc.
func (d KeyDeriver) Derive(ref SourceRef) DestinationKey {
	rel := strings.Trim(ref.Path, "/")
	if src := strings.Trim(d.SourcePrefix, "/"); src != "" && strings.HasPrefix(rel, src+"/") {
		rel = strings.TrimPrefix(rel, src+"/")
	}

	dir := path.Dir(rel)
	if dir == "." {
		dir = ""
	}
	if m := leadingDate.FindStringSubmatch(dir); m != nil {
		if date, ok := parseDate(m[1], m[2], m[3]); ok {
			dir = fmt.Sprintf("%04d/%02d/%02d", date.Year(), int(date.Month()), date.Day()) + m[4]
		}
	}

	parts := make([]string, 0, 3)
	if p := strings.Trim(d.Prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	if dir != "" {
		parts = append(parts, dir)
	}
	parts = append(parts, d.TargetName(path.Base(rel)))

	return DestinationKey(strings.Join(parts, "/"))
}

// TargetName maps a source file name onto the converted file name.
func (d KeyDeriver) TargetName(name string) string {
	if d.SourceSuffix != "" && strings.HasSuffix(name, d.SourceSuffix) {
		return strings.TrimSuffix(name, d.SourceSuffix) + d.TargetSuffix
	}
	if ext := path.Ext(name); ext != "" {
		return strings.TrimSuffix(name, ext) + d.TargetSuffix
	}
	return name + d.TargetSuffix
}
