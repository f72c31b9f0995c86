package feed

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/protobuf/proto"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"

	"bus-tracker/internal/geo"
	"bus-tracker/internal/transit"
)

// GTFSRTClient reads a GTFS-Realtime VehiclePositions feed. Lines map to
// route_id and variants to "route_id:direction_id".
type GTFSRTClient struct {
	url    string
	client *http.Client
}

func NewGTFSRTClient(url string, timeout time.Duration) *GTFSRTClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GTFSRTClient{url: url, client: &http.Client{Timeout: timeout}}
}

func (c *GTFSRTClient) Ready() error {
	if c.url == "" {
		return ErrNotConfigured
	}
	return nil
}

func (c *GTFSRTClient) FetchPositions(ctx context.Context, lines, variantIDs []string) ([]transit.Observation, error) {
	msg, err := c.fetchFeed(ctx)
	if err != nil {
		return nil, err
	}
	return observationsFromFeed(msg, lines, variantIDs), nil
}

func (c *GTFSRTClient) fetchFeed(ctx context.Context) (*gtfs.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	msg := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, msg); err != nil {
		return nil, fmt.Errorf("parse protobuf: %w", err)
	}
	return msg, nil
}

func observationsFromFeed(msg *gtfs.FeedMessage, lines, variantIDs []string) []transit.Observation {
	wantLine := toSet(lines)
	wantVariant := toSet(variantIDs)

	var headerTS time.Time
	if h := msg.GetHeader(); h != nil && h.Timestamp != nil {
		headerTS = time.Unix(int64(*h.Timestamp), 0).UTC()
	}

	var out []transit.Observation
	skipped := 0
	for _, entity := range msg.GetEntity() {
		vehicle := entity.GetVehicle()
		if vehicle == nil {
			continue
		}
		routeID := vehicle.GetTrip().GetRouteId()
		if len(wantLine) > 0 && !wantLine[routeID] {
			continue
		}
		variantID := ""
		if routeID != "" && vehicle.GetTrip() != nil && vehicle.GetTrip().DirectionId != nil {
			variantID = routeID + ":" + strconv.FormatUint(uint64(*vehicle.GetTrip().DirectionId), 10)
		}
		if len(wantVariant) > 0 && !wantVariant[variantID] {
			continue
		}

		o := transit.Observation{
			BusID:     vehicleKey(entity),
			Line:      routeID,
			VariantID: variantID,
			Timestamp: headerTS,
		}
		if pos := vehicle.GetPosition(); pos != nil && pos.Latitude != nil && pos.Longitude != nil {
			o.Location = geo.Point{Lat: float64(*pos.Latitude), Lon: float64(*pos.Longitude)}
			if pos.Speed != nil {
				kmh := float64(*pos.Speed) * 3.6
				o.Speed = &kmh
			}
		}
		if vehicle.Timestamp != nil {
			o.Timestamp = time.Unix(int64(*vehicle.Timestamp), 0).UTC()
		}
		if !o.Valid() {
			skipped++
			continue
		}
		out = append(out, o)
	}
	if skipped > 0 {
		log.Printf("gtfs-rt: skipped %d incomplete vehicle entities", skipped)
	}
	return out
}

func vehicleKey(entity *gtfs.FeedEntity) string {
	vd := entity.GetVehicle().GetVehicle()
	if id := vd.GetId(); id != "" {
		return id
	}
	if label := vd.GetLabel(); label != "" {
		return label
	}
	return entity.GetId()
}

func toSet(vals []string) map[string]bool {
	if len(vals) == 0 {
		return nil
	}
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	return m
}
