package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyDeriver_Derive(t *testing.T) {
	tests := []struct {
		name    string
		deriver KeyDeriver
		ref     SourceRef
		want    DestinationKey
	}{
		{
			name:    "flat file without prefix",
			deriver: KeyDeriver{SourceSuffix: ".grib", TargetSuffix: ".export"},
			ref:     SourceRef{Path: "a.grib"},
			want:    "a.export",
		},
		{
			name:    "dated folder is zero padded",
			deriver: KeyDeriver{Prefix: "openclimatefix--dwd-icon-eu", SourcePrefix: "data", SourceSuffix: ".zarr.zip", TargetSuffix: ".nc"},
			ref:     SourceRef{Path: "data/2025/7/1/20250701_00.zarr.zip"},
			want:    "openclimatefix--dwd-icon-eu/2025/07/01/20250701_00.nc",
		},
		{
			name:    "prefix slashes are trimmed",
			deriver: KeyDeriver{Prefix: "/exports/", SourcePrefix: "/data/", SourceSuffix: ".zarr.zip", TargetSuffix: ".nc"},
			ref:     SourceRef{Path: "data/2024/12/31/x.zarr.zip"},
			want:    "exports/2024/12/31/x.nc",
		},
		{
			name:    "unknown suffix replaces last extension",
			deriver: KeyDeriver{SourceSuffix: ".zarr.zip", TargetSuffix: ".nc"},
			ref:     SourceRef{Path: "misc/file.bin"},
			want:    "misc/file.nc",
		},
		{
			name:    "invalid date folder is ignored",
			deriver: KeyDeriver{Prefix: "p", SourcePrefix: "data", SourceSuffix: ".grib", TargetSuffix: ".export"},
			ref:     SourceRef{Path: "data/2025/2/31/b.grib"},
			want:    "p/2025/2/31/b.export",
		},
		{
			name:    "folders below the date are kept",
			deriver: KeyDeriver{Prefix: "p", SourcePrefix: "data", SourceSuffix: ".zarr.zip", TargetSuffix: ".nc"},
			ref:     SourceRef{Path: "data/2025/7/1/12/icon.zarr.zip"},
			want:    "p/2025/07/01/12/icon.nc",
		},
		{
			name:    "undated folders are kept",
			deriver: KeyDeriver{Prefix: "p", SourcePrefix: "data", SourceSuffix: ".grib", TargetSuffix: ".nc"},
			ref:     SourceRef{Path: "x/b.grib"},
			want:    "p/x/b.nc",
		},
		{
			name:    "path outside the source prefix is kept whole",
			deriver: KeyDeriver{Prefix: "p", SourcePrefix: "data", SourceSuffix: ".zarr.zip", TargetSuffix: ".nc"},
			ref:     SourceRef{Path: "archive/2025/7/1/a.zarr.zip"},
			want:    "p/archive/2025/7/1/a.nc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.deriver.Derive(tt.ref))
		})
	}
}

func TestKeyDeriver_DeriveIsDeterministic(t *testing.T) {
	d := KeyDeriver{Prefix: "p", SourceSuffix: ".zarr.zip", TargetSuffix: ".nc"}
	ref := SourceRef{Path: "data/2025/7/1/a.zarr.zip", Size: 10}

	first := d.Derive(ref)
	for i := 0; i < 50; i++ {
		// Size is metadata only and must not influence the key.
		assert.Equal(t, first, d.Derive(SourceRef{Path: ref.Path, Size: int64(i)}))
	}
	assert.Equal(t, first, KeyDeriver{Prefix: "p", SourceSuffix: ".zarr.zip", TargetSuffix: ".nc"}.Derive(ref))
}

func TestKeyDeriver_DistinctPathsGetDistinctKeys(t *testing.T) {
	d := KeyDeriver{Prefix: "p", SourcePrefix: "data", SourceSuffix: ".zarr.zip", TargetSuffix: ".nc"}
	paths := []string{
		"data/2025/7/1/00/icon.zarr.zip",
		"data/2025/7/1/12/icon.zarr.zip",
		"data/2025/7/1/icon.zarr.zip",
		"data/2025/7/2/icon.zarr.zip",
		"data/x/b.zarr.zip",
		"data/y/b.zarr.zip",
		"data/b.zarr.zip",
		"x/b.zarr.zip",
	}

	seen := make(map[DestinationKey]string, len(paths))
	for _, p := range paths {
		key := d.Derive(SourceRef{Path: p})
		if prev, dup := seen[key]; dup {
			t.Fatalf("%s and %s both map to %s", prev, p, key)
		}
		seen[key] = p
	}
}

func TestSourceRef_Date(t *testing.T) {
	date, ok := SourceRef{Path: "data/2025/7/1/a.zarr.zip"}.Date()
	assert.True(t, ok)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), date)

	_, ok = SourceRef{Path: "a.grib"}.Date()
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{fmt.Errorf("list: %w", ErrSourceUnavailable), KindSourceUnavailable},
		{fmt.Errorf("head: %w", ErrStoreUnavailable), KindStoreUnavailable},
		{fmt.Errorf("get: %w", ErrDownload), KindDownload},
		{fmt.Errorf("exec: %w", ErrConversion), KindConversion},
		{fmt.Errorf("put: %w", ErrUpload), KindUpload},
		{fmt.Errorf("env: %w", ErrConfig), KindConfig},
		{context.Canceled, KindCanceled},
		{errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}
