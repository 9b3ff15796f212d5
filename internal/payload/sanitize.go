package payload

import (
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

var ErrNotAList = errors.New("routes payload is not a list")

// SanitizeLocation validates a raw location payload. Lat and lng must
// coerce to finite numbers; the timestamp falls back to the server clock
// when missing or non-numeric.
func SanitizeLocation(raw gjson.Result, now time.Time) (*LocationFix, bool) {
	lat, ok := FiniteNumber(raw.Get("lat"))
	if !ok {
		return nil, false
	}
	lng, ok := FiniteNumber(raw.Get("lng"))
	if !ok {
		return nil, false
	}

	fix := &LocationFix{Lat: lat, Lng: lng, Timestamp: now.UnixMilli()}
	if acc, ok := FiniteNumber(raw.Get("accuracy")); ok {
		fix.Accuracy = &acc
	}
	if ts, ok := FiniteNumber(raw.Get("timestamp")); ok {
		fix.Timestamp = int64(ts)
	}
	return fix, true
}

// SanitizeRoutes bounds a raw route list. Routes beyond maxRoutes and
// items beyond maxPoints are truncated; invalid items and routes with no
// valid items are silently dropped.
func SanitizeRoutes(raw gjson.Result, maxRoutes, maxPoints int) ([]Route, error) {
	if !raw.IsArray() {
		return nil, ErrNotAList
	}

	out := make([]Route, 0, maxRoutes)
	for _, rawRoute := range raw.Array() {
		if len(out) >= maxRoutes {
			break
		}
		route, ok := sanitizeRoute(rawRoute, maxPoints)
		if !ok {
			continue
		}
		out = append(out, route)
	}
	return out, nil
}

func sanitizeRoute(raw gjson.Result, maxPoints int) (Route, bool) {
	if !raw.IsObject() {
		return Route{}, false
	}
	route := Route{
		ID:    capString(raw.Get("id").String(), maxRouteIDLen),
		Name:  capString(raw.Get("name").String(), maxRouteNameLen),
		Color: capString(raw.Get("color").String(), maxRouteColorLen),
	}
	if route.ID == "" {
		return Route{}, false
	}

	items := raw.Get("items")
	if !items.IsArray() {
		return Route{}, false
	}
	for _, rawItem := range items.Array() {
		if len(route.Items) >= maxPoints {
			break
		}
		item, ok := sanitizeItem(rawItem)
		if !ok {
			continue
		}
		route.Items = append(route.Items, item)
	}
	if len(route.Items) == 0 {
		return Route{}, false
	}
	return route, true
}

func sanitizeItem(raw gjson.Result) (RouteItem, bool) {
	id := capString(raw.Get("id").String(), maxItemIDLen)
	if id == "" {
		return RouteItem{}, false
	}
	lat, ok := FiniteNumber(raw.Get("position.lat"))
	if !ok {
		return RouteItem{}, false
	}
	lng, ok := FiniteNumber(raw.Get("position.lng"))
	if !ok {
		return RouteItem{}, false
	}
	return RouteItem{
		ID:       id,
		Name:     capString(raw.Get("name").String(), maxItemNameLen),
		Position: LatLng{Lat: lat, Lng: lng},
	}, true
}

// FiniteNumber coerces a JSON number or numeric string to a finite
// float64.
func FiniteNumber(v gjson.Result) (float64, bool) {
	var f float64
	switch v.Type {
	case gjson.Number:
		f = v.Float()
	case gjson.String:
		parsed, err := strconv.ParseFloat(v.String(), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func capString(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
