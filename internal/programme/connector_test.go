package programme

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/europython/discord-bot/internal/models"
)

const testScheduleJSON = `{
  "days": {
    "2025-07-16": {
      "rooms": ["Forum Hall"],
      "events": [
        {
          "event_type": "session",
          "code": "ABCDEF",
          "title": "Welcome Talk",
          "rooms": ["Forum Hall"],
          "start": "2025-07-16T09:00:00Z",
          "duration": 30
        },
        {
          "event_type": "break",
          "title": "Coffee Break",
          "rooms": ["Forum Hall"],
          "start": "2025-07-16T10:00:00Z",
          "duration": 30
        }
      ]
    }
  }
}`

func TestFetchScheduleParsesAndCaches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testScheduleJSON))
	}))
	defer srv.Close()

	cacheFile := filepath.Join(t.TempDir(), "schedule.json")
	c := NewConnector(srv.URL, cacheFile, time.UTC, nil)
	require.NoError(t, c.FetchSchedule(context.Background()))
	assert.True(t, c.Loaded())

	cached, err := os.ReadFile(cacheFile)
	require.NoError(t, err)
	assert.JSONEq(t, testScheduleJSON, string(cached))
}

func TestFetchScheduleFallsBackToCacheFile(t *testing.T) {
	cacheFile := filepath.Join(t.TempDir(), "schedule.json")
	require.NoError(t, os.WriteFile(cacheFile, []byte(testScheduleJSON), 0o644))

	c := NewConnector("http://unreachable.invalid", cacheFile, time.UTC, nil)
	require.NoError(t, c.FetchSchedule(context.Background()))
	assert.True(t, c.Loaded())

	upcoming := c.UpcomingSessions(time.Date(2025, 7, 16, 8, 55, 0, 0, time.UTC), 5*time.Minute)
	require.Len(t, upcoming, 1)
	assert.Equal(t, "Welcome Talk", upcoming[0].Title)
}

func TestFetchScheduleKeepsMemoryOnFetchError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls > 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(testScheduleJSON))
	}))
	defer srv.Close()

	c := NewConnector(srv.URL, "", time.UTC, nil)
	require.NoError(t, c.FetchSchedule(context.Background()))

	// the API going down must not drop the loaded schedule
	require.NoError(t, c.FetchSchedule(context.Background()))
	assert.True(t, c.Loaded())
}

func TestFetchScheduleFailsWithoutAnyFallback(t *testing.T) {
	c := NewConnector("http://unreachable.invalid", "", time.UTC, nil)
	assert.Error(t, c.FetchSchedule(context.Background()))
	assert.False(t, c.Loaded())
}

func TestUpcomingSessionsWindow(t *testing.T) {
	start := time.Date(2025, 7, 16, 9, 0, 0, 0, time.UTC)
	c := NewConnector("", "", time.UTC, nil)
	c.sessionsByDay = map[string][]models.Session{
		"2025-07-16": {{Code: "ABCDEF", Title: "Welcome Talk", Start: start}},
	}
	lead := 5 * time.Minute

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"before window", start.Add(-6 * time.Minute), 0},
		{"window opens", start.Add(-5 * time.Minute), 1},
		{"inside window", start.Add(-time.Minute), 1},
		{"at start", start, 0},
		{"after start", start.Add(time.Minute), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, c.UpcomingSessions(tt.now, lead), tt.want)
		})
	}
}

func TestUpcomingSessionsUsesConferenceDay(t *testing.T) {
	prague, err := time.LoadLocation("Europe/Prague")
	require.NoError(t, err)

	// 23:30 UTC on the 15th is already the 16th in Prague
	start := time.Date(2025, 7, 15, 23, 35, 0, 0, time.UTC)
	c := NewConnector("", "", prague, nil)
	c.sessionsByDay = map[string][]models.Session{
		"2025-07-16": {{Code: "ABCDEF", Start: start}},
	}

	now := time.Date(2025, 7, 15, 23, 30, 0, 0, time.UTC)
	assert.Len(t, c.UpcomingSessions(now, 10*time.Minute), 1)
}
