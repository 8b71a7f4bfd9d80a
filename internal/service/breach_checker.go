package service

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/deskrelay/auth-session-service/internal/security"
)

// BreachChecker queries a have-i-been-pwned style range API. Only the first
// five hex characters of the password's SHA-1 digest are sent; the matching
// suffix is searched locally, so neither the password nor its full hash
// crosses the wire.
type BreachChecker struct {
	baseURL string
	client  *http.Client
}

func NewBreachChecker(baseURL string, timeout time.Duration) *BreachChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &BreachChecker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *BreachChecker) Lookup(ctx context.Context, password string) (bool, error) {
	prefix, suffix := security.SHA1Split(password)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+prefix, nil)
	if err != nil {
		return false, fmt.Errorf("build breach request: %w", err)
	}
	req.Header.Set("Add-Padding", "true")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("breach lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("breach lookup status %d", resp.StatusCode)
	}

	// response lines look like "SUFFIX:COUNT"
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		candidate, count, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(candidate), suffix) && strings.TrimSpace(count) != "0" {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("read breach response: %w", err)
	}
	return false, nil
}
