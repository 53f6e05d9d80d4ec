// Package geo reads the visitor location Cloudflare attaches to proxied
// requests.
package geo

import (
	"net/http"
	"strconv"
	"strings"
)

// Header pairs map an incoming Cloudflare request header to the response
// header it is republished under.
var HeaderPairs = []struct {
	From string
	To   string
}{
	{"Cf-Ipcity", "X-Cf-Ipcity"},
	{"Cf-Ipcountry", "X-Cf-Ipcountry"},
	{"Cf-Ipcontinent", "X-Cf-Ipcontinent"},
	{"Cf-Iplongitude", "X-Cf-Iplongitude"},
	{"Cf-Iplatitude", "X-Cf-Iplatitude"},
	{"Cf-Region", "X-Cf-Region"},
	{"Cf-Region-Code", "X-Cf-Region-Code"},
	{"Cf-Metro-Code", "X-Cf-Metro-Code"},
	{"Cf-Postal-Code", "X-Cf-Postal-Code"},
	{"Cf-Timezone", "X-Cf-Timezone"},
	{"Cf-Connecting-Ip", "X-Client-Ip"},
	{"X-Forwarded-For", "X-Client-Ips"},
}

// Geo is the visitor location. Every field is optional.
type Geo struct {
	City       string   `json:"city,omitempty"`
	Country    string   `json:"country,omitempty"`
	Continent  string   `json:"continent,omitempty"`
	Region     string   `json:"region,omitempty"`
	RegionCode string   `json:"regionCode,omitempty"`
	MetroCode  string   `json:"metroCode,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Timezone   string   `json:"timezone,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	ClientIP   string   `json:"clientIp,omitempty"`
	ClientIPs  []string `json:"clientIps,omitempty"`
}

// FromHeaders builds a Geo from Cloudflare request headers. Unparseable
// coordinates are left unset.
func FromHeaders(h http.Header) Geo {
	g := Geo{
		City:       h.Get("Cf-Ipcity"),
		Country:    h.Get("Cf-Ipcountry"),
		Continent:  h.Get("Cf-Ipcontinent"),
		Region:     h.Get("Cf-Region"),
		RegionCode: h.Get("Cf-Region-Code"),
		MetroCode:  h.Get("Cf-Metro-Code"),
		PostalCode: h.Get("Cf-Postal-Code"),
		Timezone:   h.Get("Cf-Timezone"),
		Latitude:   parseCoord(h.Get("Cf-Iplatitude")),
		Longitude:  parseCoord(h.Get("Cf-Iplongitude")),
		ClientIP:   h.Get("Cf-Connecting-Ip"),
	}
	if fwd := h.Get("X-Forwarded-For"); fwd != "" {
		for _, ip := range strings.Split(fwd, ",") {
			if ip = strings.TrimSpace(ip); ip != "" {
				g.ClientIPs = append(g.ClientIPs, ip)
			}
		}
	}
	if g.ClientIP == "" && len(g.ClientIPs) > 0 {
		g.ClientIP = g.ClientIPs[0]
	}
	return g
}

// Empty reports whether no location data was present.
func (g Geo) Empty() bool {
	return g.City == "" && g.Country == "" && g.Continent == "" && g.Region == "" &&
		g.Latitude == nil && g.Longitude == nil && g.ClientIP == ""
}

func parseCoord(v string) *float64 {
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}
