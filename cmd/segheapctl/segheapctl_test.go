package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func withJSON(t *testing.T, enabled bool) {
	t.Helper()

	previous := jsonOut
	jsonOut = enabled
	t.Cleanup(func() { jsonOut = previous })
}

func TestLayoutText(t *testing.T) {
	withJSON(t, false)

	var out bytes.Buffer
	err := runLayout(&out, &schemaFlags{preset: "small", size: "10MiB", base: 0x100000})
	require.NoError(t, err)

	require.Contains(t, out.String(), "Region: 10 MiB (10,485,760 bytes), header 248 bytes, carved 10,485,512 bytes")
	require.Contains(t, out.String(), "31,774")
	require.Contains(t, out.String(), "524,280")
}

func TestLayoutJSON(t *testing.T) {
	withJSON(t, true)

	var out bytes.Buffer
	err := runLayout(&out, &schemaFlags{preset: "big", size: "1MiB", base: 0x100000})
	require.NoError(t, err)

	var layout struct {
		TotalBytes int
		Pools      []struct {
			SegmentSize int
			Segments    int
		}
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &layout))
	require.Equal(t, 1024*1024, layout.TotalBytes)
	require.Len(t, layout.Pools, 4)
	require.Equal(t, 4096, layout.Pools[0].SegmentSize)
	require.Equal(t, 131072, layout.Pools[1].SegmentSize)
}

func TestLayoutErrors(t *testing.T) {
	withJSON(t, false)

	var out bytes.Buffer
	require.Error(t, runLayout(&out, &schemaFlags{preset: "huge", size: "1MiB", base: 0x100000}))
	require.Error(t, runLayout(&out, &schemaFlags{preset: "small", size: "lots", base: 0x100000}))
	require.Error(t, runLayout(&out, &schemaFlags{preset: "small", size: "100", base: 0x100000}))
	require.Error(t, runLayout(&out, &schemaFlags{preset: "small", size: "1MiB", base: 0}))
}

func TestSchemaCommands(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runSchema(&out, nil))
	require.Equal(t, "big\ndefault\nsmall\n", out.String())

	out.Reset()
	require.NoError(t, runSchema(&out, []string{"small"}))
	require.JSONEq(t, `[
		{"segmentSize": 256, "percentage": 80},
		{"segmentSize": 1024, "percentage": 10},
		{"segmentSize": "max-1", "percentage": 5},
		{"segmentSize": "max", "percentage": 5}
	]`, out.String())

	path := filepath.Join(t.TempDir(), "pools.json")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o600))

	out.Reset()
	require.NoError(t, runSchemaValidate(&out, []string{path}))
	require.Equal(t, path+": 4 pools, OK\n", out.String())

	require.NoError(t, os.WriteFile(path, []byte(`[{"segmentSize": 256, "percentage": 50}]`), 0o600))
	require.Error(t, runSchemaValidate(&out, []string{path}))

	var layoutOut bytes.Buffer
	withJSON(t, false)
	require.Error(t, runLayout(&layoutOut, &schemaFlags{file: path, size: "1MiB", base: 0x100000}))
}

func TestSimulate(t *testing.T) {
	withJSON(t, true)

	flags := &simulateOptions{
		schemaFlags: schemaFlags{preset: "small", size: "256KiB", base: 0x100000},
		operations:  5000,
		maxSize:     2048,
		freeRatio:   0.3,
		seed:        7,
		track:       true,
		poison:      true,
	}

	var out bytes.Buffer
	require.NoError(t, runSimulate(&out, flags))

	var result struct {
		Allocations       int
		Frees             int
		FailedAllocations int
		Allocator         struct {
			LiveAllocations int
			Heap            struct {
				UsedSegments int
			}
		}
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	require.Positive(t, result.Allocations)
	require.Positive(t, result.Frees)
	require.Equal(t, result.Allocator.LiveAllocations, result.Allocator.Heap.UsedSegments)

	withJSON(t, false)
	out.Reset()
	require.NoError(t, runSimulate(&out, flags))
	require.Contains(t, out.String(), "Operations: ")
	require.Contains(t, out.String(), "Requested bytes: ")
}
