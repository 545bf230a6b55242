// Package catalog searches the AutoLogic storefront for replacement
// parts that fit the diagnosed vehicle. Searches go to the Shopify
// storefront REST API on the primary shop domain, falling back to the
// myshopify domain and an older API version when the primary is down.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/autologic-mx/obi2/engine/domain"
)

const (
	DefaultPrimaryDomain  = "autologic.mx"
	DefaultFallbackDomain = "autologicshop.myshopify.com"

	apiVersion         = "2023-10"
	apiVersionFallback = "2023-07"

	searchLimit    = 10
	requestTimeout = 10 * time.Second
)

// Config configures the storefront client.
type Config struct {
	PrimaryDomain  string
	FallbackDomain string
	AccessToken    string
	// RequestsPerSecond bounds outbound search traffic. Zero means 4 rps.
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Client talks to the storefront product search API.
type Client struct {
	primary  string
	fallback string
	token    string
	http     *http.Client
	limiter  *rate.Limiter
	log      *slog.Logger
}

// New creates a storefront client.
func New(cfg Config) *Client {
	if cfg.PrimaryDomain == "" {
		cfg.PrimaryDomain = DefaultPrimaryDomain
	}
	if cfg.FallbackDomain == "" {
		cfg.FallbackDomain = DefaultFallbackDomain
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 4
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: requestTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		primary:  cfg.PrimaryDomain,
		fallback: cfg.FallbackDomain,
		token:    cfg.AccessToken,
		http:     cfg.HTTPClient,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1),
		log:      cfg.Logger,
	}
}

// restProduct mirrors the products.json payload.
type restProduct struct {
	ID     json.Number `json:"id"`
	Title  string      `json:"title"`
	Handle string      `json:"handle"`
	Body   string      `json:"body_html"`
	Image  *struct {
		Src string `json:"src"`
		Alt string `json:"alt"`
	} `json:"image"`
	Variants []struct {
		ID    json.Number `json:"id"`
		Price string      `json:"price"`
	} `json:"variants"`
}

type restResponse struct {
	Products []restProduct `json:"products"`
}

// Search runs one product search. It tries the primary domain first and
// walks the fallbacks before giving up.
func (c *Client) Search(ctx context.Context, query string) ([]domain.Product, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	attempts := []struct{ domain, version string }{
		{c.primary, apiVersion},
		{c.fallback, apiVersion},
		{c.fallback, apiVersionFallback},
	}

	var lastErr error
	for _, a := range attempts {
		products, err := c.search(ctx, a.domain, a.version, query)
		if err == nil {
			return products, nil
		}
		lastErr = err
		c.log.Warn("storefront search failed, trying fallback",
			"domain", a.domain, "version", a.version, "error", err)
	}
	return nil, fmt.Errorf("storefront search %q: %w", query, lastErr)
}

func (c *Client) search(ctx context.Context, shopDomain, version, query string) ([]domain.Product, error) {
	u := fmt.Sprintf("https://%s/api/%s/products.json?limit=%d", shopDomain, version, searchLimit)
	if query != "" {
		u += "&title=" + url.QueryEscape(query)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Shopify-Storefront-Access-Token", c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("storefront returned %d", resp.StatusCode)
	}

	var body restResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode storefront response: %w", err)
	}

	products := make([]domain.Product, 0, len(body.Products))
	for _, p := range body.Products {
		products = append(products, toProduct(p))
	}
	return products, nil
}

func toProduct(p restProduct) domain.Product {
	out := domain.Product{
		ID:       p.ID.String(),
		Title:    p.Title,
		Handle:   p.Handle,
		ImageAlt: p.Title,
	}
	out.Description = p.Body
	if p.Image != nil {
		out.Image = p.Image.Src
		if p.Image.Alt != "" {
			out.ImageAlt = p.Image.Alt
		}
	}
	if len(p.Variants) > 0 {
		out.Price = p.Variants[0].Price
		out.VariantID = p.Variants[0].ID.String()
	} else {
		out.Price = "0"
	}
	return out
}
