package registration

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrAlreadyRegistered is returned when a user or one of their tickets was
// registered before.
var ErrAlreadyRegistered = errors.New("already registered")

// Log is the append-only record of completed registrations. Each line holds
// a timestamp, the Discord user ID and the claimed ticket keys; the file is
// loaded into memory at startup for O(1) membership checks.
//
// The file append is the durability point: a crash after role assignment but
// before the append makes a duplicate registration possible on retry. That
// gap is accepted; the log channel keeps enough context to fix it by hand.
type Log struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	users   map[string]struct{}
	tickets map[string]struct{}
}

// NewLog opens the registration log, loading previously recorded entries.
// A missing file means a fresh log.
func NewLog(path string, logger *zap.Logger) (*Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Log{
		path:    path,
		logger:  logger,
		users:   make(map[string]struct{}),
		tickets: make(map[string]struct{}),
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("starting with a fresh registration log", zap.String("file", path))
			return l, nil
		}
		return nil, fmt.Errorf("open registration log: %w", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			logger.Warn("skipping malformed registration log line", zap.String("line", line))
			continue
		}
		l.users[fields[1]] = struct{}{}
		if len(fields) >= 3 {
			for _, key := range strings.Split(fields[2], ",") {
				if key != "" {
					l.tickets[key] = struct{}{}
				}
			}
		}
		lines++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read registration log: %w", err)
	}

	logger.Info("loaded registration log", zap.String("file", path), zap.Int("entries", lines))
	return l, nil
}

// IsUserRegistered reports whether the Discord user already registered.
func (l *Log) IsUserRegistered(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.users[userID]
	return ok
}

// IsTicketRegistered reports whether the ticket key was already claimed.
func (l *Log) IsTicketRegistered(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.tickets[key]
	return ok
}

// Record appends a registration. The check and the append happen under one
// lock, so two concurrent attempts for the same user or ticket cannot both
// succeed. The file is written before the in-memory sets are updated; if the
// write fails the registration is not considered recorded.
func (l *Log) Record(userID string, ticketKeys []string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.users[userID]; ok {
		return fmt.Errorf("user %s: %w", userID, ErrAlreadyRegistered)
	}
	for _, key := range ticketKeys {
		if _, ok := l.tickets[key]; ok {
			return fmt.Errorf("ticket %s: %w", key, ErrAlreadyRegistered)
		}
	}

	line := fmt.Sprintf("%s\t%s\t%s\n",
		now.UTC().Format(time.RFC3339), userID, strings.Join(ticketKeys, ","))
	if err := l.append(line); err != nil {
		return fmt.Errorf("append registration log: %w", err)
	}

	l.users[userID] = struct{}{}
	for _, key := range ticketKeys {
		l.tickets[key] = struct{}{}
	}
	l.logger.Info("recorded registration",
		zap.String("user_id", userID), zap.Strings("ticket_keys", ticketKeys))
	return nil
}

func (l *Log) append(line string) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
