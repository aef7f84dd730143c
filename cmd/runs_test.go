//go:build !integration

package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/atlas-cli/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:            "abc12345-6789-0000-0000-000000000000",
			Geography:     model.GeographyTract,
			Status:        model.RunStatusComplete,
			Counties:      2,
			Units:         1431,
			Neighborhoods: 108,
			StartedAt:     now,
			FinishedAt:    now.Add(2 * time.Minute),
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Geography: model.GeographyBlockGroup,
			Status:    model.RunStatusRunning,
			StartedAt: now.Add(10 * time.Minute),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "GEOGRAPHY")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "tract")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "108")
	assert.Contains(t, output, "1431")
	assert.Contains(t, output, "2026-03-10 09:15")
	assert.Contains(t, output, "2m0s")
	assert.Contains(t, output, "block_group")
	assert.Contains(t, output, "running")
}

func TestFormatRunsList_UnfinishedRunShowsDashDuration(t *testing.T) {
	runs := []model.Run{
		{
			ID:        "ghi12345-0000-0000-0000-000000000000",
			Geography: model.GeographyTract,
			Status:    model.RunStatusRunning,
			StartedAt: time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3)
	assert.True(t, strings.HasSuffix(lines[2], "-"))
}

func TestFormatFetchFailures(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC)
	failures := []model.FetchFailure{
		{
			County:    "53061",
			Geography: model.GeographyTract,
			Attempts:  4,
			LastError: "tigerweb: status 503 from query",
			FailedAt:  now,
		},
	}

	var buf bytes.Buffer
	formatFetchFailures(&buf, failures)

	output := buf.String()
	assert.Contains(t, output, "COUNTY")
	assert.Contains(t, output, "53061")
	assert.Contains(t, output, "tract")
	assert.Contains(t, output, "4")
	assert.Contains(t, output, "2026-03-10 09:15")
	assert.Contains(t, output, "tigerweb: status 503 from query")
}

func TestFormatFetchFailures_TruncatesLongError(t *testing.T) {
	msg := "shapefile: download tl_2024_53061_tract.zip: connection reset by peer while reading body"
	failures := []model.FetchFailure{
		{
			County:    "53061",
			Geography: model.GeographyTract,
			Attempts:  1,
			LastError: msg,
			FailedAt:  time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	formatFetchFailures(&buf, failures)

	output := buf.String()
	assert.Contains(t, output, msg[:57]+"...")
	assert.NotContains(t, output, msg)
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000-0000-000000000000"))
	assert.Equal(t, "short", truncateID("short"))
}
