package commune

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dossiers/internal"
	"dossiers/internal/config"
	"dossiers/internal/util"
)

// AddressUnavailable is used when the registry publishes no town-hall address.
const AddressUnavailable = "Adresse non disponible"

var ErrCommuneNotFound = errors.New("commune not found")

// Client queries the place-lookup and town-hall registry services.
// Each call is made once, with the configured timeout.
type Client struct {
	geoBaseURL    string
	mairieBaseURL string
	httpClient    *http.Client
	limiter       *RateLimiter
}

type mairiePayload struct {
	Features []struct {
		Properties struct {
			Nom      string `json:"nom"`
			Adresses []struct {
				Type   string   `json:"type"`
				Lignes []string `json:"lignes"`
			} `json:"adresses"`
		} `json:"properties"`
	} `json:"features"`
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		geoBaseURL:    strings.TrimRight(cfg.GeoAPIBaseURL, "/"),
		mairieBaseURL: strings.TrimRight(cfg.MairieAPIBaseURL, "/"),
		httpClient:    &http.Client{Timeout: time.Duration(cfg.HTTPTimeoutMs) * time.Millisecond},
		limiter:       NewRateLimiter(cfg.GeoRateLimitRPS),
	}
}

// FindCommunes searches communes by name and postal code.
func (c *Client) FindCommunes(ctx context.Context, city, postalCode string) ([]internal.Commune, error) {
	params := url.Values{}
	params.Set("nom", city)
	params.Set("codePostal", postalCode)
	params.Set("fields", "nom,code,codesPostaux,population")
	params.Set("format", "json")

	body, err := c.get(ctx, c.geoBaseURL+"/communes?"+params.Encode())
	if err != nil {
		return nil, err
	}
	var communes []internal.Commune
	if err := json.Unmarshal(body, &communes); err != nil {
		return nil, fmt.Errorf("decode communes: %w", err)
	}
	return communes, nil
}

// MairieAddress returns the town-hall address lines joined with ", ".
// It returns AddressUnavailable when nothing is published.
func (c *Client) MairieAddress(ctx context.Context, insee string) (string, error) {
	body, err := c.get(ctx, c.mairieBaseURL+"/communes/"+url.PathEscape(insee)+"/mairie")
	if err != nil {
		return "", err
	}
	var payload mairiePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode mairie: %w", err)
	}
	if len(payload.Features) == 0 {
		return AddressUnavailable, nil
	}
	addresses := payload.Features[0].Properties.Adresses
	if len(addresses) == 0 {
		return AddressUnavailable, nil
	}
	main := addresses[0]
	for _, a := range addresses {
		if a.Type == "Adresse" {
			main = a
			break
		}
	}
	if len(main.Lignes) == 0 {
		return AddressUnavailable, nil
	}
	return strings.Join(main.Lignes, ", "), nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.limiter.WaitTurn(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: status=%d body=%s", rawURL, resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

// PickCommune keeps exact-name matches (accent and case insensitive) when there are any,
// then returns the most populated candidate. Ties keep the earliest candidate.
func PickCommune(city string, candidates []internal.Commune) (internal.Commune, error) {
	if len(candidates) == 0 {
		return internal.Commune{}, ErrCommuneNotFound
	}
	want := util.StripAccents(city)
	pool := make([]internal.Commune, 0, len(candidates))
	for _, c := range candidates {
		if util.StripAccents(c.Name) == want {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 {
		pool = candidates
	}
	best := pool[0]
	for _, c := range pool[1:] {
		if c.Population > best.Population {
			best = c
		}
	}
	return best, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
