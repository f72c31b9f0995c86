// Package osrm queries an OSRM server for driving routes.
package osrm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/twpayne/go-polyline"

	"bus-tracker/internal/geo"
)

var ErrNoRoute = errors.New("no route found")

type Route struct {
	DurationSec float64
	DistanceM   float64
	Path        []geo.Point
}

type routeResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Duration float64 `json:"duration"`
		Distance float64 `json:"distance"`
		Geometry string  `json:"geometry"`
	} `json:"routes"`
}

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Route returns the driving route visiting points in order, with its road
// geometry for map display. Any transport failure or empty answer is
// reported as ErrNoRoute.
func (c *Client) Route(ctx context.Context, points []geo.Point) (Route, error) {
	if len(points) < 2 {
		return Route{}, fmt.Errorf("%w: need at least two points", ErrNoRoute)
	}
	coords := make([]string, len(points))
	for i, p := range points {
		coords[i] = strconv.FormatFloat(p.Lon, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lat, 'f', -1, 64)
	}
	url := c.baseURL + "/route/v1/driving/" + strings.Join(coords, ";") + "?overview=full&geometries=polyline"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrNoRoute, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrNoRoute, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Route{}, fmt.Errorf("%w: osrm returned %s", ErrNoRoute, resp.Status)
	}

	var data routeResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return Route{}, fmt.Errorf("%w: decode: %v", ErrNoRoute, err)
	}
	if data.Code != "Ok" || len(data.Routes) == 0 {
		return Route{}, fmt.Errorf("%w: code %q", ErrNoRoute, data.Code)
	}

	r := data.Routes[0]
	out := Route{DurationSec: r.Duration, DistanceM: r.Distance}
	if r.Geometry != "" {
		// A bad geometry only costs the drawn path, not the estimate.
		decoded, _, err := polyline.DecodeCoords([]byte(r.Geometry))
		if err != nil {
			log.Printf("osrm: undecodable route geometry: %v", err)
			return out, nil
		}
		out.Path = make([]geo.Point, len(decoded))
		for i, c := range decoded {
			out.Path[i] = geo.Point{Lat: c[0], Lon: c[1]}
		}
	}
	return out, nil
}
