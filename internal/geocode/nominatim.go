package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	defaultNominatimURL = "https://nominatim.openstreetmap.org"
	defaultUserAgent    = "pawsos-backend"
	defaultCacheTTL     = 24 * time.Hour
)

// NominatimGeocoder resolves coordinates through the Nominatim reverse API. Requests
// are spaced by MinInterval to respect the public usage policy. Labels are cached
// for CacheTTL (default 24h) per rounded coordinate.
type NominatimGeocoder struct {
	BaseURL     string
	UserAgent   string
	MinInterval time.Duration
	CacheTTL    time.Duration
	Client      *http.Client

	mu        sync.Mutex
	lastReqAt time.Time
	cache     *gocache.Cache
}

type nominatimReverse struct {
	DisplayName string  `json:"display_name"`
	Address     Address `json:"address"`
	Error       string  `json:"error"`
}

func (g *NominatimGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	key := CacheKey(lat, lng)

	g.mu.Lock()
	if g.cache == nil {
		ttl := g.CacheTTL
		if ttl <= 0 {
			ttl = defaultCacheTTL
		}
		g.cache = gocache.New(ttl, ttl)
	}
	if cached, ok := g.cache.Get(key); ok {
		g.mu.Unlock()
		return cached.(string), nil
	}
	interval := g.MinInterval
	if interval <= 0 {
		interval = time.Second
	}
	sleepFor := time.Until(g.lastReqAt.Add(interval))
	g.lastReqAt = time.Now().Add(max(sleepFor, 0))
	g.mu.Unlock()

	if sleepFor > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(sleepFor):
		}
	}

	label, err := g.fetch(ctx, lat, lng)
	if err != nil {
		return "", err
	}

	g.cache.SetDefault(key, label)
	return label, nil
}

func (g *NominatimGeocoder) fetch(ctx context.Context, lat, lng float64) (string, error) {
	base := g.BaseURL
	if base == "" {
		base = defaultNominatimURL
	}
	agent := g.UserAgent
	if agent == "" {
		agent = defaultUserAgent
	}
	client := g.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', 6, 64))
	q.Set("format", "jsonv2")
	q.Set("zoom", "16")
	q.Set("addressdetails", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", agent)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("nominatim http error: %s", resp.Status)
	}

	var item nominatimReverse
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return "", err
	}
	return parseReverse(item)
}

func parseReverse(item nominatimReverse) (string, error) {
	if item.Error != "" {
		return "", ErrNotFound
	}
	label := BuildLabel(item.Address, item.DisplayName)
	if label == "" {
		return "", ErrNotFound
	}
	return label, nil
}
