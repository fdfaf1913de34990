// Package npi checks National Provider Identifiers, locally by check digit
// and remotely against the NPPES NPI Registry.
package npi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/gyeh/claimcheck/internal/logging"
)

// DefaultRegistryURL is the public NPPES registry API.
const DefaultRegistryURL = "https://npiregistry.cms.hhs.gov/api/?version=2.1"

// ProviderInfo holds the key details returned by the NPPES NPI Registry.
type ProviderInfo struct {
	NPI             string `json:"npi"`
	Name            string `json:"name"`       // "LAST, FIRST MIDDLE" for individuals, org name for organizations
	Credential      string `json:"credential"` // e.g. "MD", "DO", "MA, OTR"
	Type            string `json:"type"`       // "Individual" or "Organization"
	PrimaryTaxonomy string `json:"primary_taxonomy"`
	TaxonomyCode    string `json:"taxonomy_code"`
	PracticeAddress string `json:"practice_address"` // city, state
	PracticePhone   string `json:"practice_phone"`
	EnumerationDate string `json:"enumeration_date"`
	Status          string `json:"status"` // "A" = active
}

type apiResponse struct {
	ResultCount int         `json:"result_count"`
	Results     []apiResult `json:"results"`
	Errors      []apiError  `json:"Errors"`
}

type apiError struct {
	Description string `json:"description"`
	Field       string `json:"field"`
}

type apiResult struct {
	Number          string        `json:"number"`
	EnumerationType string        `json:"enumeration_type"`
	Basic           apiBasic      `json:"basic"`
	Addresses       []apiAddress  `json:"addresses"`
	Taxonomies      []apiTaxonomy `json:"taxonomies"`
}

type apiBasic struct {
	// Individual fields
	FirstName  string `json:"first_name"`
	MiddleName string `json:"middle_name"`
	LastName   string `json:"last_name"`
	Credential string `json:"credential"`

	// Organization fields
	OrganizationName string `json:"organization_name"`

	EnumerationDate string `json:"enumeration_date"`
	Status          string `json:"status"`
}

type apiAddress struct {
	Address1       string `json:"address_1"`
	Address2       string `json:"address_2"`
	City           string `json:"city"`
	State          string `json:"state"`
	PostalCode     string `json:"postal_code"`
	AddressPurpose string `json:"address_purpose"` // "LOCATION" or "MAILING"
	Phone          string `json:"telephone_number"`
}

type apiTaxonomy struct {
	Code    string `json:"code"`
	Desc    string `json:"desc"`
	Primary bool   `json:"primary"`
	State   string `json:"state"`
	License string `json:"license"`
}

// Options configures a Client. Zero values pick the defaults.
type Options struct {
	BaseURL     string
	HTTPClient  *http.Client
	RequestsPer time.Duration // minimum spacing between registry calls
	Burst       int
	Logger      *slog.Logger
}

// Client queries the registry. Results, including not-found answers, are
// cached for the lifetime of the client and concurrent lookups of the same
// number share one request.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]*ProviderInfo
}

// NewClient creates a registry client.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultRegistryURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.RequestsPer <= 0 {
		opts.RequestsPer = 50 * time.Millisecond
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	logger := logging.Default(opts.Logger)
	return &Client{
		baseURL: opts.BaseURL,
		http:    opts.HTTPClient,
		limiter: rate.NewLimiter(rate.Every(opts.RequestsPer), opts.Burst),
		logger:  logger.With("component", "npi"),
		cache:   make(map[string]*ProviderInfo),
	}
}

// Validate reports whether number is a well-formed NPI known to the
// registry. Malformed numbers return false without a request.
func (c *Client) Validate(ctx context.Context, number string) (bool, error) {
	number = strings.TrimSpace(number)
	if !ValidCheckDigit(number) {
		return false, nil
	}
	info, err := c.Lookup(ctx, number)
	if err != nil {
		return false, err
	}
	return info != nil, nil
}

// Lookup queries the registry for a single NPI number.
// Returns nil if the NPI is not found.
func (c *Client) Lookup(ctx context.Context, number string) (*ProviderInfo, error) {
	number = strings.TrimSpace(number)

	c.mu.RLock()
	info, ok := c.cache[number]
	c.mu.RUnlock()
	if ok {
		return info, nil
	}

	v, err, _ := c.group.Do(number, func() (any, error) {
		infos, err := c.query(ctx, url.Values{"number": {number}})
		if err != nil {
			return nil, err
		}
		var info *ProviderInfo
		if len(infos) > 0 {
			info = infos[0]
		}
		c.mu.Lock()
		c.cache[number] = info
		c.mu.Unlock()
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ProviderInfo), nil
}

// LookupAll queries the registry for multiple NPIs concurrently.
// Returns results in the same order as input. Missing NPIs have nil entries.
func (c *Client) LookupAll(ctx context.Context, numbers []string) ([]*ProviderInfo, []error) {
	results := make([]*ProviderInfo, len(numbers))
	errs := make([]error, len(numbers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, n := range numbers {
		g.Go(func() error {
			results[i], errs[i] = c.Lookup(gctx, n)
			return nil
		})
	}
	g.Wait()

	return results, errs
}

// SearchByName queries the registry for individual providers matching
// the given first/last name. An optional state (2-letter code) narrows results.
// Returns up to 20 matching providers.
func (c *Client) SearchByName(ctx context.Context, firstName, lastName, state string) ([]*ProviderInfo, error) {
	params := url.Values{
		"enumeration_type": {"NPI-1"},
		"limit":            {"20"},
		"first_name":       {firstName},
		"last_name":        {lastName},
	}
	if state != "" {
		params.Set("state", state)
	}
	return c.query(ctx, params)
}

func (c *Client) query(ctx context.Context, params url.Values) ([]*ProviderInfo, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing registry URL: %w", err)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying NPI registry: %w", err)
	}
	defer resp.Body.Close()
	c.logger.Debug("registry query", "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("NPI registry returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("parsing NPI registry response: %w", err)
	}
	if len(apiResp.Errors) > 0 {
		return nil, fmt.Errorf("NPI registry rejected query: %s", apiResp.Errors[0].Description)
	}

	if apiResp.ResultCount == 0 || len(apiResp.Results) == 0 {
		return nil, nil
	}

	results := make([]*ProviderInfo, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		results = append(results, resultToProviderInfo(r))
	}
	return results, nil
}

func resultToProviderInfo(r apiResult) *ProviderInfo {
	info := &ProviderInfo{
		NPI:             r.Number,
		EnumerationDate: r.Basic.EnumerationDate,
		Status:          r.Basic.Status,
	}

	// Name and type
	if r.EnumerationType == "NPI-1" {
		info.Type = "Individual"
		info.Name = formatIndividualName(r.Basic)
		info.Credential = cleanField(r.Basic.Credential)
	} else {
		info.Type = "Organization"
		info.Name = r.Basic.OrganizationName
	}

	// Primary taxonomy (specialty)
	for _, t := range r.Taxonomies {
		if t.Primary {
			info.PrimaryTaxonomy = t.Desc
			info.TaxonomyCode = t.Code
			break
		}
	}
	if info.PrimaryTaxonomy == "" && len(r.Taxonomies) > 0 {
		info.PrimaryTaxonomy = r.Taxonomies[0].Desc
		info.TaxonomyCode = r.Taxonomies[0].Code
	}

	// Practice location address
	for _, addr := range r.Addresses {
		if addr.AddressPurpose == "LOCATION" {
			info.PracticeAddress = formatAddress(addr)
			info.PracticePhone = formatPhone(addr.Phone)
			break
		}
	}
	if info.PracticeAddress == "" && len(r.Addresses) > 0 {
		info.PracticeAddress = formatAddress(r.Addresses[0])
		info.PracticePhone = formatPhone(r.Addresses[0].Phone)
	}

	return info
}

func formatIndividualName(b apiBasic) string {
	parts := []string{cleanField(b.LastName)}
	if first := cleanField(b.FirstName); first != "" {
		parts = append(parts, first)
	}
	name := strings.Join(parts, ", ")
	if middle := cleanField(b.MiddleName); middle != "" {
		name += " " + middle
	}
	return name
}

func formatAddress(a apiAddress) string {
	parts := []string{}
	if a.City != "" {
		parts = append(parts, a.City)
	}
	if a.State != "" {
		parts = append(parts, a.State)
	}
	loc := strings.Join(parts, ", ")
	if a.PostalCode != "" {
		zip := a.PostalCode
		if len(zip) > 5 {
			zip = zip[:5]
		}
		loc += " " + zip
	}
	return loc
}

func formatPhone(phone string) string {
	p := strings.ReplaceAll(phone, "-", "")
	p = strings.TrimSpace(p)
	if len(p) == 10 {
		return fmt.Sprintf("(%s) %s-%s", p[:3], p[3:6], p[6:])
	}
	return phone
}

func cleanField(s string) string {
	s = strings.TrimSpace(s)
	if s == "--" || s == "" {
		return ""
	}
	return s
}
