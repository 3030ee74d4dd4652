package iplocation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	errMissingCoordinates = errors.New("response has no coordinates")
	errProviderFailure    = errors.New("provider reported failure")
)

// ParseFunc extracts a coordinate pair from one provider's JSON response.
type ParseFunc func(body []byte) (lat, lon float64, err error)

// Endpoint is one IP geolocation service. URL looks up the caller's own
// address; IPURL, when set, looks up an explicit address through its {ip}
// placeholder.
type Endpoint struct {
	Name  string
	URL   string
	IPURL string
	Parse ParseFunc
}

func (e Endpoint) urlFor(ip string) string {
	if ip != "" && e.IPURL != "" {
		return strings.ReplaceAll(e.IPURL, "{ip}", ip)
	}
	return e.URL
}

var builtin = map[string]Endpoint{
	"ipapi": {
		Name:  "ipapi",
		URL:   "https://ipapi.co/json/",
		IPURL: "https://ipapi.co/{ip}/json/",
		Parse: ParseIPAPI,
	},
	"ipwhois": {
		Name:  "ipwhois",
		URL:   "https://ipwho.is/",
		IPURL: "https://ipwho.is/{ip}",
		Parse: ParseIPWhois,
	},
	"ipapicom": {
		Name:  "ipapicom",
		URL:   "http://ip-api.com/json/",
		IPURL: "http://ip-api.com/json/{ip}",
		Parse: ParseIPAPICom,
	},
	"freeipapi": {
		Name:  "freeipapi",
		URL:   "https://freeipapi.com/api/json",
		IPURL: "https://freeipapi.com/api/json/{ip}",
		Parse: ParseFreeIPAPI,
	},
}

// BuiltinEndpoints returns the named endpoints in the given order.
func BuiltinEndpoints(names []string) ([]Endpoint, error) {
	out := make([]Endpoint, 0, len(names))
	for _, n := range names {
		ep, ok := builtin[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown ip location provider %q", n)
		}
		out = append(out, ep)
	}
	return out, nil
}

// ipapi.co: {"latitude": 45.5, "longitude": -73.5} or {"error": true, "reason": "..."}
func ParseIPAPI(body []byte) (float64, float64, error) {
	var r struct {
		Error     bool     `json:"error"`
		Reason    string   `json:"reason"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return 0, 0, err
	}
	if r.Error {
		return 0, 0, fmt.Errorf("%w: %s", errProviderFailure, r.Reason)
	}
	return pair(r.Latitude, r.Longitude)
}

// ipwho.is: {"success": true, "latitude": 45.5, "longitude": -73.5}
func ParseIPWhois(body []byte) (float64, float64, error) {
	var r struct {
		Success   bool     `json:"success"`
		Message   string   `json:"message"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return 0, 0, err
	}
	if !r.Success {
		return 0, 0, fmt.Errorf("%w: %s", errProviderFailure, r.Message)
	}
	return pair(r.Latitude, r.Longitude)
}

// ip-api.com: {"status": "success", "lat": 45.5, "lon": -73.5}
func ParseIPAPICom(body []byte) (float64, float64, error) {
	var r struct {
		Status  string   `json:"status"`
		Message string   `json:"message"`
		Lat     *float64 `json:"lat"`
		Lon     *float64 `json:"lon"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return 0, 0, err
	}
	if r.Status != "success" {
		return 0, 0, fmt.Errorf("%w: %s", errProviderFailure, r.Message)
	}
	return pair(r.Lat, r.Lon)
}

// freeipapi.com: {"latitude": 45.5, "longitude": -73.5}
func ParseFreeIPAPI(body []byte) (float64, float64, error) {
	var r struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return 0, 0, err
	}
	return pair(r.Latitude, r.Longitude)
}

func pair(lat, lon *float64) (float64, float64, error) {
	if lat == nil || lon == nil {
		return 0, 0, errMissingCoordinates
	}
	return *lat, *lon, nil
}
