package analyze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cuemby/faux-recon/pkg/types"
)

const (
	geoPositiveTTL = 24 * time.Hour
	geoNegativeTTL = 1 * time.Hour
)

// ErrPrivateIP is returned by Locate when ip is RFC1918/loopback/link-local/
// ULA; no provider is ever called for such addresses. Callers should treat
// this as a completed no-op, not a failure.
var ErrPrivateIP = errors.New("geolocation: private or reserved address")

// geoProvider resolves an IP to location data or returns (nil, err) if that
// provider has nothing.
type geoProvider func(ctx context.Context, client *http.Client, ip string) (*types.Host, error)

// GeolocationClient resolves IP geolocation across a provider fallback
// chain with Redis-backed positive/negative caching.
type GeolocationClient struct {
	httpClient *http.Client
	redis      *redis.Client
	providers  []geoProvider
}

// NewGeolocationClient builds a GeolocationClient. rdb may be nil, in which
// case lookups bypass the cache entirely.
func NewGeolocationClient(rdb *redis.Client, ipinfoToken, ipGeolocationKey string, timeout time.Duration) *GeolocationClient {
	c := &GeolocationClient{
		httpClient: &http.Client{Timeout: timeout},
		redis:      rdb,
	}
	c.providers = []geoProvider{
		ipAPIProvider,
		ipinfoProvider(ipinfoToken),
		freeIPAPIProvider,
		ipGeolocationProvider(ipGeolocationKey),
	}
	return c
}

// Locate resolves ip's geolocation, trying the cache first, then each
// provider in order until one succeeds.
func (c *GeolocationClient) Locate(ctx context.Context, ip string) (*types.Host, error) {
	if parsed := net.ParseIP(ip); parsed != nil && (parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsLinkLocalUnicast()) {
		return nil, ErrPrivateIP
	}

	cacheKey := "geolocation:" + ip
	if c.redis != nil {
		if cached, err := c.redis.Get(ctx, cacheKey).Result(); err == nil {
			if cached == "" {
				return nil, fmt.Errorf("geolocation: cached miss for %s", ip)
			}
			var host types.Host
			if err := json.Unmarshal([]byte(cached), &host); err == nil {
				return &host, nil
			}
		}
	}

	for _, provider := range c.providers {
		host, err := provider(ctx, c.httpClient, ip)
		if err != nil || host == nil {
			continue
		}
		if c.redis != nil {
			if data, err := json.Marshal(host); err == nil {
				c.redis.Set(ctx, cacheKey, data, geoPositiveTTL)
			}
		}
		return host, nil
	}

	if c.redis != nil {
		c.redis.Set(ctx, cacheKey, "", geoNegativeTTL)
	}
	return nil, fmt.Errorf("geolocation: all providers failed for %s", ip)
}

func getJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ipAPIProvider queries ip-api.com's free JSON endpoint.
func ipAPIProvider(ctx context.Context, client *http.Client, ip string) (*types.Host, error) {
	var data struct {
		Status      string  `json:"status"`
		Country     string  `json:"country"`
		CountryCode string  `json:"countryCode"`
		RegionName  string  `json:"regionName"`
		City        string  `json:"city"`
		Lat         float64 `json:"lat"`
		Lon         float64 `json:"lon"`
		Timezone    string  `json:"timezone"`
		ISP         string  `json:"isp"`
		Org         string  `json:"org"`
		As          string  `json:"as"`
	}
	url := fmt.Sprintf("http://ip-api.com/json/%s?fields=status,message,country,countryCode,region,regionName,city,lat,lon,timezone,isp,org,as,query", ip)
	if err := getJSON(ctx, client, url, nil, &data); err != nil {
		return nil, err
	}
	if data.Status != "success" {
		return nil, fmt.Errorf("ip-api.com: status %q", data.Status)
	}
	now := time.Now()
	return &types.Host{
		IP: ip, Country: data.Country, CountryCode: data.CountryCode, Region: data.RegionName,
		City: data.City, Latitude: data.Lat, Longitude: data.Lon, Timezone: data.Timezone,
		ISP: data.ISP, Organization: data.Org, ASN: data.As, GeolocationUpdated: &now,
	}, nil
}

// ipinfoProvider queries ipinfo.io, authenticating when a token is set.
func ipinfoProvider(token string) geoProvider {
	return func(ctx context.Context, client *http.Client, ip string) (*types.Host, error) {
		var data struct {
			Error    string `json:"error"`
			Country  string `json:"country"`
			Region   string `json:"region"`
			City     string `json:"city"`
			Loc      string `json:"loc"`
			Org      string `json:"org"`
			Timezone string `json:"timezone"`
		}
		headers := map[string]string{}
		if token != "" {
			headers["Authorization"] = "Bearer " + token
		}
		url := fmt.Sprintf("https://ipinfo.io/%s/json", ip)
		if err := getJSON(ctx, client, url, headers, &data); err != nil {
			return nil, err
		}
		if data.Error != "" {
			return nil, fmt.Errorf("ipinfo.io: %s", data.Error)
		}
		var lat, lon float64
		if parts := strings.Split(data.Loc, ","); len(parts) == 2 {
			fmt.Sscanf(parts[0], "%f", &lat)
			fmt.Sscanf(parts[1], "%f", &lon)
		}
		now := time.Now()
		return &types.Host{
			IP: ip, Country: data.Country, Region: data.Region, City: data.City,
			Latitude: lat, Longitude: lon, Timezone: data.Timezone, ISP: data.Org,
			GeolocationUpdated: &now,
		}, nil
	}
}

// freeIPAPIProvider queries freeipapi.com; no credentials required.
func freeIPAPIProvider(ctx context.Context, client *http.Client, ip string) (*types.Host, error) {
	var data struct {
		CountryName string  `json:"countryName"`
		CountryCode string  `json:"countryCode"`
		RegionName  string  `json:"regionName"`
		CityName    string  `json:"cityName"`
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
		TimeZone    string  `json:"timeZone"`
	}
	url := fmt.Sprintf("https://freeipapi.com/api/json/%s", ip)
	if err := getJSON(ctx, client, url, nil, &data); err != nil {
		return nil, err
	}
	now := time.Now()
	return &types.Host{
		IP: ip, Country: data.CountryName, CountryCode: data.CountryCode, Region: data.RegionName,
		City: data.CityName, Latitude: data.Latitude, Longitude: data.Longitude, Timezone: data.TimeZone,
		GeolocationUpdated: &now,
	}, nil
}

// ipGeolocationProvider queries api.ipgeolocation.io, the last resort in
// the chain.
func ipGeolocationProvider(apiKey string) geoProvider {
	return func(ctx context.Context, client *http.Client, ip string) (*types.Host, error) {
		var data struct {
			Message     string `json:"message"`
			CountryName string `json:"country_name"`
			CountryCode string `json:"country_code2"`
			StateProv   string `json:"state_prov"`
			City        string `json:"city"`
			Latitude    string `json:"latitude"`
			Longitude   string `json:"longitude"`
			ISP         string `json:"isp"`
			TimeZone    struct {
				Name string `json:"name"`
			} `json:"time_zone"`
		}
		url := fmt.Sprintf("https://api.ipgeolocation.io/ipgeo?ip=%s", ip)
		if apiKey != "" {
			url += "&apiKey=" + apiKey
		}
		if err := getJSON(ctx, client, url, nil, &data); err != nil {
			return nil, err
		}
		if data.Message != "" {
			return nil, fmt.Errorf("ipgeolocation.io: %s", data.Message)
		}
		var lat, lon float64
		fmt.Sscanf(data.Latitude, "%f", &lat)
		fmt.Sscanf(data.Longitude, "%f", &lon)
		now := time.Now()
		return &types.Host{
			IP: ip, Country: data.CountryName, CountryCode: data.CountryCode, Region: data.StateProv,
			City: data.City, Latitude: lat, Longitude: lon, Timezone: data.TimeZone.Name, ISP: data.ISP,
			GeolocationUpdated: &now,
		}, nil
	}
}
