package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
)

func vehicleEntity(id, vehicleID, route string, dir uint32, lat, lon float32, ts uint64) *gtfs.FeedEntity {
	vp := &gtfs.VehiclePosition{
		Trip: &gtfs.TripDescriptor{
			RouteId:     proto.String(route),
			DirectionId: proto.Uint32(dir),
		},
		Position: &gtfs.Position{
			Latitude:  proto.Float32(lat),
			Longitude: proto.Float32(lon),
		},
	}
	if vehicleID != "" {
		vp.Vehicle = &gtfs.VehicleDescriptor{Id: proto.String(vehicleID)}
	}
	if ts > 0 {
		vp.Timestamp = proto.Uint64(ts)
	}
	return &gtfs.FeedEntity{Id: proto.String(id), Vehicle: vp}
}

func testFeed() *gtfs.FeedMessage {
	withSpeed := vehicleEntity("e1", "bus-1", "181", 0, -34.9011, -56.1645, 1715353200)
	withSpeed.Vehicle.Position.Speed = proto.Float32(10)
	return &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(1715353300),
		},
		Entity: []*gtfs.FeedEntity{
			withSpeed,
			vehicleEntity("e2", "", "181", 1, -34.90, -56.17, 0),
			vehicleEntity("e3", "bus-3", "D10", 0, -34.90, -56.17, 1715353200),
			{Id: proto.String("alert-only")},
		},
	}
}

func TestObservationsFromFeed(t *testing.T) {
	obs := observationsFromFeed(testFeed(), []string{"181"}, nil)
	require.Len(t, obs, 2)

	assert.Equal(t, "bus-1", obs[0].BusID)
	assert.Equal(t, "181:0", obs[0].VariantID)
	require.NotNil(t, obs[0].Speed)
	assert.InDelta(t, 36.0, *obs[0].Speed, 1e-6)
	assert.Equal(t, time.Unix(1715353200, 0).UTC(), obs[0].Timestamp)

	assert.Equal(t, "e2", obs[1].BusID, "falls back to the entity id")
	assert.Equal(t, "181:1", obs[1].VariantID)
	assert.Nil(t, obs[1].Speed)
	assert.Equal(t, time.Unix(1715353300, 0).UTC(), obs[1].Timestamp, "falls back to the header timestamp")
}

func TestObservationsFromFeedVariantFilter(t *testing.T) {
	obs := observationsFromFeed(testFeed(), []string{"181", "D10"}, []string{"181:1"})
	require.Len(t, obs, 1)
	assert.Equal(t, "e2", obs[0].BusID)
}

func TestGTFSRTFetchPositions(t *testing.T) {
	body, err := proto.Marshal(testFeed())
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-protobuf")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c := NewGTFSRTClient(srv.URL, time.Second)
	require.NoError(t, c.Ready())
	obs, err := c.FetchPositions(context.Background(), []string{"D10"}, nil)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "bus-3", obs[0].BusID)
}

func TestGTFSRTErrors(t *testing.T) {
	assert.ErrorIs(t, NewGTFSRTClient("", 0).Ready(), ErrNotConfigured)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	_, err := NewGTFSRTClient(srv.URL, time.Second).FetchPositions(context.Background(), nil, nil)
	assert.Error(t, err)
}
