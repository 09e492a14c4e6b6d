package transfer_test

import (
	"errors"
	"testing"
	"time"

	"github.com/italolelis/surface_downloader/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntent_FinalURLAndKey(t *testing.T) {
	tests := []struct {
		name      string
		intent    transfer.Intent
		wantFinal string
		wantKey   string
	}{
		{
			name:      "no chain uses originating url",
			intent:    transfer.Intent{URL: "https://Example.com/A.mp3"},
			wantFinal: "https://Example.com/A.mp3",
			wantKey:   "https://example.com/a.mp3",
		},
		{
			name: "chain uses last hop",
			intent: transfer.Intent{
				URL:   "https://example.com/a",
				Chain: []string{"https://example.com/a", "https://CDN.example.net/File.MP3"},
			},
			wantFinal: "https://CDN.example.net/File.MP3",
			wantKey:   "https://cdn.example.net/file.mp3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantFinal, tt.intent.FinalURL())
			assert.Equal(t, tt.wantKey, tt.intent.LogicalKey())
		})
	}
}

func TestIntent_Hostnames_SkipsMalformed(t *testing.T) {
	intent := transfer.Intent{
		URL:   "https://Music.Example.com/song",
		Chain: []string{"http://[::1", "not a url", "https://cdn.example.net/song.mp3"},
	}

	assert.Equal(t, []string{"music.example.com", "cdn.example.net"}, intent.Hostnames())
	assert.Equal(t, []string{
		"https://Music.Example.com/song",
		"http://[::1",
		"not a url",
		"https://cdn.example.net/song.mp3",
	}, intent.URLs())
}

func TestHostname_Malformed(t *testing.T) {
	_, err := transfer.Hostname("relative/path")

	var malformed *transfer.MalformedURLError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, "relative/path", malformed.URL)
}

func TestDownload_Record(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	end := start.Add(time.Minute)

	d := transfer.Download{
		ID:        "1767323045000",
		FileName:  "a.mp3",
		FilePath:  "/music/a.mp3",
		URL:       "https://cdn.example.com/a.mp3",
		StartTime: start,
		EndTime:   &end,
		Size:      1024,
		Status:    transfer.StatusCompleted,
	}

	rec := d.Record()
	assert.Equal(t, "2026-01-02T03:04:05Z", rec.StartTime)
	assert.Equal(t, "2026-01-02T03:05:05Z", rec.EndTime)
	assert.Equal(t, transfer.StatusCompleted, rec.Status)
	assert.True(t, d.IsTerminal())
}
