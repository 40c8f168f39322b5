// Package pretix talks to the Pretix ticketing API and keeps an in-memory
// ticket cache with a JSON file fallback, so registration keeps working
// through short Pretix outages and bot restarts.
package pretix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/europython/discord-bot/internal/models"
)

const (
	// fetchThrottle is the minimum interval between two live fetches. A miss
	// during registration triggers a refresh; this keeps a burst of failed
	// lookups from hammering the Pretix API.
	fetchThrottle = 2 * time.Minute

	requestTimeout = 10 * time.Second

	// maxNameParts bounds the number of name permutations tried during
	// lookup, so a malicious 50-word "name" cannot burn CPU.
	maxNameParts = 5

	localeEnglish = "en"
)

// Config holds the Pretix connection settings.
type Config struct {
	// BaseURL is the event API root, e.g.
	// https://pretix.eu/api/v1/organizers/europython/events/ep2025
	BaseURL   string
	Token     string
	CacheFile string
}

// Client fetches tickets from Pretix and answers lookups from memory.
type Client struct {
	baseURL   string
	token     string
	cacheFile string
	http      *http.Client
	logger    *zap.Logger

	fetchMu   sync.Mutex
	lastFetch time.Time

	mu           sync.RWMutex
	itemNames    map[int64]string
	ticketsByKey map[string][]models.Ticket
}

// cacheState is the JSON shape of the fallback cache file.
type cacheState struct {
	ItemNamesByID map[int64]string           `json:"item_names_by_id"`
	TicketsByKey  map[string][]models.Ticket `json:"tickets_by_key"`
}

// NewClient creates a Pretix client. If the cache file exists and is
// non-empty, its content seeds the in-memory cache.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		token:        cfg.Token,
		cacheFile:    cfg.CacheFile,
		http:         &http.Client{Timeout: requestTimeout},
		logger:       logger,
		itemNames:    make(map[int64]string),
		ticketsByKey: make(map[string][]models.Ticket),
	}
	c.loadCacheFile()
	return c
}

func (c *Client) loadCacheFile() {
	if c.cacheFile == "" {
		return
	}
	data, err := os.ReadFile(c.cacheFile)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("read pretix cache file", zap.Error(err))
		}
		return
	}
	if len(data) == 0 {
		return // file exists but was never written, e.g. touched by deployment
	}
	var state cacheState
	if err := json.Unmarshal(data, &state); err != nil {
		c.logger.Warn("parse pretix cache file", zap.String("file", c.cacheFile), zap.Error(err))
		return
	}
	c.itemNames = state.ItemNamesByID
	c.ticketsByKey = state.TicketsByKey
	c.logger.Info("loaded pretix cache file",
		zap.String("file", c.cacheFile),
		zap.Int("keys", len(c.ticketsByKey)))
}

// Refresh fetches item and order data from Pretix and updates the cache.
// Calls within the throttle window of the previous successful fetch are
// no-ops. The first fetch loads all orders; later fetches only load orders
// modified since the previous one.
func (c *Client) Refresh(ctx context.Context) error {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	if !c.lastFetch.IsZero() && time.Since(c.lastFetch) < fetchThrottle {
		c.logger.Debug("skipping pretix fetch", zap.Time("last_fetch", c.lastFetch))
		return nil
	}

	// the fetch timestamp is taken before the requests go out: an order
	// modified while the fetch is in flight must still be covered by the
	// next modified_since window
	now := time.Now()
	if err := c.fetchItems(ctx); err != nil {
		return fmt.Errorf("fetch pretix items: %w", err)
	}
	if err := c.fetchOrders(ctx, c.lastFetch); err != nil {
		return fmt.Errorf("fetch pretix orders: %w", err)
	}
	c.lastFetch = now

	c.persist()
	return nil
}

// Tickets returns the tickets matching an order ID and attendee name, or nil.
// The order is normalized ("#abc01-1" -> "ABC01") and name word orders are
// permuted so "Doe Jane" still matches a ticket issued to "Jane Doe". The
// lookup is purely in-memory.
func (c *Client) Tickets(order, name string) []models.Ticket {
	order = strings.TrimSpace(order)
	order = strings.TrimPrefix(order, "#")
	if i := strings.IndexByte(order, '-'); i >= 0 {
		order = order[:i]
	}
	order = strings.ToUpper(order)

	c.mu.RLock()
	defer c.mu.RUnlock()

	parts := strings.Fields(name)
	if len(parts) > maxNameParts {
		parts = append(parts[:maxNameParts-1], strings.Join(parts[maxNameParts-1:], " "))
	}
	for _, candidate := range permutations(parts) {
		key := models.TicketKey(order, strings.Join(candidate, " "))
		if tickets, ok := c.ticketsByKey[key]; ok {
			out := make([]models.Ticket, len(tickets))
			copy(out, tickets)
			return out
		}
	}
	return nil
}

func (c *Client) fetchItems(ctx context.Context) error {
	pages, err := c.fetchAllPages(ctx, c.baseURL+"/items/", nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, raw := range pages {
		var item apiItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return fmt.Errorf("decode item: %w", err)
		}
		c.itemNames[item.ID] = item.Names[localeEnglish]
		for _, variation := range item.Variations {
			c.itemNames[variation.ID] = variation.Names[localeEnglish]
		}
	}
	c.logger.Info("fetched pretix items", zap.Int("names", len(c.itemNames)))
	return nil
}

func (c *Client) fetchOrders(ctx context.Context, since time.Time) error {
	params := url.Values{"testmode": {"false"}}
	// a cache seeded only from the file has no fetch time yet and refetches
	// everything
	initial := since.IsZero()
	if !initial {
		params.Set("modified_since", since.UTC().Format(time.RFC3339))
	}

	pages, err := c.fetchAllPages(ctx, c.baseURL+"/orders/", params)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, raw := range pages {
		var order apiOrder
		if err := json.Unmarshal(raw, &order); err != nil {
			return fmt.Errorf("decode order: %w", err)
		}
		for _, position := range order.Positions {
			// positions without a name are add-ons (childcare, t-shirts)
			if position.AttendeeName == "" {
				continue
			}
			ticket := models.Ticket{
				Order: order.Code,
				Name:  position.AttendeeName,
				Item:  c.itemNames[position.ItemID],
			}
			if position.VariationID != nil {
				ticket.Variation = c.itemNames[*position.VariationID]
			}
			key := ticket.Key()
			if order.paid() {
				c.ticketsByKey[key] = appendTicket(c.ticketsByKey[key], ticket)
			} else {
				// pending, expired or canceled orders lose their key
				delete(c.ticketsByKey, key)
			}
		}
	}
	c.logger.Info("fetched pretix orders",
		zap.Bool("initial", initial),
		zap.Int("keys", len(c.ticketsByKey)))
	return nil
}

// appendTicket adds a ticket unless an identical one is already present.
// Modified orders are re-fetched in full on incremental updates.
func appendTicket(tickets []models.Ticket, ticket models.Ticket) []models.Ticket {
	for _, existing := range tickets {
		if existing == ticket {
			return tickets
		}
	}
	return append(tickets, ticket)
}

// fetchAllPages follows a paginated Pretix endpoint to the end.
// https://docs.pretix.eu/en/latest/api/fundamentals.html#pagination
func (c *Client) fetchAllPages(ctx context.Context, rawURL string, params url.Values) ([]json.RawMessage, error) {
	next := rawURL
	if len(params) > 0 {
		next += "?" + params.Encode()
	}

	var results []json.RawMessage
	for next != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Token "+c.token)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", next, err)
		}
		var page struct {
			Next    string            `json:"next"`
			Results []json.RawMessage `json:"results"`
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("get %s: unexpected status %d", next, resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("decode %s: %w", next, err)
		}
		resp.Body.Close()

		results = append(results, page.Results...)
		next = page.Next
	}
	return results, nil
}

// persist writes the cache to the fallback file. Failures are logged and
// otherwise ignored; the in-memory cache stays authoritative.
func (c *Client) persist() {
	if c.cacheFile == "" {
		return
	}
	c.mu.RLock()
	state := cacheState{ItemNamesByID: c.itemNames, TicketsByKey: c.ticketsByKey}
	data, err := json.Marshal(state)
	c.mu.RUnlock()
	if err != nil {
		c.logger.Warn("marshal pretix cache", zap.Error(err))
		return
	}
	if err := atomic.WriteFile(c.cacheFile, bytes.NewReader(data)); err != nil {
		c.logger.Warn("write pretix cache file", zap.String("file", c.cacheFile), zap.Error(err))
	}
}

// permutations returns all orderings of parts (Heap's algorithm).
func permutations(parts []string) [][]string {
	if len(parts) == 0 {
		return nil
	}
	work := make([]string, len(parts))
	copy(work, parts)

	var out [][]string
	var generate func(k int)
	generate = func(k int) {
		if k == 1 {
			perm := make([]string, len(work))
			copy(perm, work)
			out = append(out, perm)
			return
		}
		for i := 0; i < k; i++ {
			generate(k - 1)
			if k%2 == 0 {
				work[i], work[k-1] = work[k-1], work[i]
			} else {
				work[0], work[k-1] = work[k-1], work[0]
			}
		}
	}
	generate(len(work))
	return out
}
