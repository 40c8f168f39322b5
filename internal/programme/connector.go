// Package programme fetches the conference schedule and posts session
// notifications to Discord shortly before each session starts.
package programme

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/europython/discord-bot/internal/models"
)

const (
	requestTimeout = 10 * time.Second

	// dayFormat keys sessions by conference day.
	dayFormat = "2006-01-02"
)

// Connector fetches the schedule from the programme API and keeps it in
// memory, with a JSON file fallback for API outages.
type Connector struct {
	apiURL    string
	cacheFile string
	http      *http.Client
	location  *time.Location
	logger    *zap.Logger

	fetchMu sync.Mutex

	mu            sync.RWMutex
	sessionsByDay map[string][]models.Session
}

// NewConnector creates a schedule connector. The location determines which
// conference day a given instant belongs to.
func NewConnector(apiURL, cacheFile string, location *time.Location, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if location == nil {
		location = time.UTC
	}
	return &Connector{
		apiURL:    apiURL,
		cacheFile: cacheFile,
		http:      &http.Client{Timeout: requestTimeout},
		location:  location,
		logger:    logger,
	}
}

// FetchSchedule fetches the schedule and replaces the in-memory state
// wholesale. On a fetch error the loaded schedule is kept; if none is loaded
// yet the cache file is the fallback.
func (c *Connector) FetchSchedule(ctx context.Context) error {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	body, err := c.download(ctx)
	if err != nil {
		c.logger.Warn("fetch schedule", zap.Error(err))
		if c.Loaded() {
			c.logger.Info("schedule not updated, keeping the one in memory")
			return nil
		}
		if cacheErr := c.loadCacheFile(); cacheErr != nil {
			return fmt.Errorf("fetch schedule: %w (cache fallback: %v)", err, cacheErr)
		}
		c.logger.Info("schedule loaded from cache file", zap.String("file", c.cacheFile))
		return nil
	}

	sessionsByDay, err := parseSchedule(body)
	if err != nil {
		return fmt.Errorf("parse schedule: %w", err)
	}

	// keep a copy on disk in case the API goes down
	if c.cacheFile != "" {
		if err := atomic.WriteFile(c.cacheFile, bytes.NewReader(body)); err != nil {
			c.logger.Warn("write schedule cache file",
				zap.String("file", c.cacheFile), zap.Error(err))
		}
	}

	c.mu.Lock()
	c.sessionsByDay = sessionsByDay
	c.mu.Unlock()
	c.logger.Info("schedule fetched", zap.Int("days", len(sessionsByDay)))
	return nil
}

func (c *Connector) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", c.apiURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: unexpected status %d", c.apiURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Connector) loadCacheFile() error {
	if c.cacheFile == "" {
		return fmt.Errorf("no schedule cache file configured")
	}
	data, err := os.ReadFile(c.cacheFile)
	if err != nil {
		return err
	}
	sessionsByDay, err := parseSchedule(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.sessionsByDay = sessionsByDay
	c.mu.Unlock()
	return nil
}

func parseSchedule(data []byte) (map[string][]models.Session, error) {
	var schedule models.Schedule
	if err := json.Unmarshal(data, &schedule); err != nil {
		return nil, err
	}
	sessionsByDay := make(map[string][]models.Session, len(schedule.Days))
	for day, daySchedule := range schedule.Days {
		sessionsByDay[day] = daySchedule.Sessions
	}
	return sessionsByDay, nil
}

// Loaded reports whether a schedule is available in memory.
func (c *Connector) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionsByDay != nil
}

// UpcomingSessions returns the sessions of now's conference day that start
// within the lead window: now < start <= now+lead.
func (c *Connector) UpcomingSessions(now time.Time, lead time.Duration) []models.Session {
	day := now.In(c.location).Format(dayFormat)

	c.mu.RLock()
	sessions := c.sessionsByDay[day]
	c.mu.RUnlock()

	var upcoming []models.Session
	for _, session := range sessions {
		if now.Before(session.Start) && !session.Start.After(now.Add(lead)) {
			upcoming = append(upcoming, session)
		}
	}
	return upcoming
}
