package tigerweb

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/atlas-cli/internal/geospatial"
	"github.com/sells-group/atlas-cli/internal/model"
)

func newTestClient(baseURL string, maxRetries int) *Client {
	return NewClient(Config{
		BaseURL:    baseURL,
		Timeout:    5 * time.Second,
		MaxRetries: maxRetries,
		RatePerSec: 1000,
	})
}

// unitCell returns a small square polygon at the given origin.
func unitCell(minLng, minLat float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{minLng, minLat},
		{minLng + 0.01, minLat},
		{minLng + 0.01, minLat + 0.01},
		{minLng, minLat + 0.01},
		{minLng, minLat},
	}}
}

// unitFC builds a feature collection with one cell per GEOID.
func unitFC(geoids ...string) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, geoid := range geoids {
		f := geojson.NewFeature(unitCell(-122.30+float64(i)*0.02, 47.60))
		f.Properties["GEOID"] = geoid
		fc.Append(f)
	}
	return fc
}

func writeFC(t *testing.T, w http.ResponseWriter, fc *geojson.FeatureCollection) {
	t.Helper()
	data, err := json.Marshal(fc)
	require.NoError(t, err)
	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write(data)
}

func TestCountyUnits_SinglePage(t *testing.T) {
	var gotPath string
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		writeFC(t, w, unitFC("53033000100", "53033000200"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 1)
	layer, err := c.CountyUnits(context.Background(), model.County("53033"), model.GeographyTract)

	require.NoError(t, err)
	assert.Equal(t, "/0/query", gotPath)
	assert.Equal(t, "COUNTY='033' and STATE='53'", gotQuery.Get("where"))
	assert.Equal(t, "*", gotQuery.Get("outFields"))
	assert.Equal(t, "geojson", gotQuery.Get("f"))
	assert.Empty(t, gotQuery.Get("resultOffset"))

	assert.Equal(t, geospatial.SRIDWGS84, layer.SRID)
	require.Len(t, layer.Units, 2)
	assert.Equal(t, "53033000100", layer.Units[0].GEOID)
	assert.Equal(t, "53033000200", layer.Units[1].GEOID)
	assert.IsType(t, orb.Polygon{}, layer.Units[0].Geometry)
}

func TestCountyUnits_Paged(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch r.URL.Query().Get("resultOffset") {
		case "":
			fc := unitFC("53033000100", "53033000200")
			fc.ExtraMembers = geojson.Properties{"exceededTransferLimit": true}
			writeFC(t, w, fc)
		case "2":
			writeFC(t, w, unitFC("53033000300"))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 1)
	layer, err := c.CountyUnits(context.Background(), model.County("53033"), model.GeographyTract)

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, layer.Units, 3)
	assert.Equal(t, "53033000300", layer.Units[2].GEOID)
}

func TestCountyUnits_BlockLayerUsesGEOID20(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fc := geojson.NewFeatureCollection()
		f := geojson.NewFeature(unitCell(-122.30, 47.60))
		f.Properties["GEOID20"] = "530330001001000"
		fc.Append(f)
		writeFC(t, w, fc)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 1)
	layer, err := c.CountyUnits(context.Background(), model.County("53033"), model.GeographyBlock)

	require.NoError(t, err)
	assert.Equal(t, "/2/query", gotPath)
	require.Len(t, layer.Units, 1)
	assert.Equal(t, "530330001001000", layer.Units[0].GEOID)
}

func TestCountyUnits_SkipsFeaturesWithoutGEOIDOrGeometry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{
			"type": "FeatureCollection",
			"features": [
				{"type": "Feature", "geometry": null, "properties": {"GEOID": "53033000100"}},
				{"type": "Feature",
				 "geometry": {"type": "Polygon", "coordinates": [[[-122.3,47.6],[-122.29,47.6],[-122.29,47.61],[-122.3,47.61],[-122.3,47.6]]]},
				 "properties": {"NAME": "no geoid here"}},
				{"type": "Feature",
				 "geometry": {"type": "Polygon", "coordinates": [[[-122.3,47.6],[-122.29,47.6],[-122.29,47.61],[-122.3,47.61],[-122.3,47.6]]]},
				 "properties": {"GEOID": "53033000200"}}
			]
		}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 1)
	layer, err := c.CountyUnits(context.Background(), model.County("53033"), model.GeographyTract)

	require.NoError(t, err)
	require.Len(t, layer.Units, 1)
	assert.Equal(t, "53033000200", layer.Units[0].GEOID)
}

func TestCountyUnits_ServiceErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// ArcGIS reports query errors inside a 200 response.
		_, _ = io.WriteString(w, `{"error": {"code": 400, "message": "Invalid or missing input parameters."}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 1)
	_, err := c.CountyUnits(context.Background(), model.County("53033"), model.GeographyTract)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "service error 400")
}

func TestCountyUnits_RetriesTransientStatus(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeFC(t, w, unitFC("53033000100"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 3)
	layer, err := c.CountyUnits(context.Background(), model.County("53033"), model.GeographyTract)

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, layer.Units, 1)
}

func TestCountyUnits_NoRetryOnClientError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 3)
	_, err := c.CountyUnits(context.Background(), model.County("53033"), model.GeographyTract)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "status 404")
}

func TestCountyUnits_InvalidCounty(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		calls++
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 1)
	_, err := c.CountyUnits(context.Background(), model.County("123"), model.GeographyTract)

	require.Error(t, err)
	assert.Equal(t, 0, calls)
}

func TestCountyUnits_UnknownGeography(t *testing.T) {
	c := newTestClient("http://localhost:0", 1)
	_, err := c.CountyUnits(context.Background(), model.County("53033"), model.Geography("zip_code"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no layer for geography")
}

func TestCountyUnits_TruncatedEmptyPageStops(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		fc := geojson.NewFeatureCollection()
		fc.ExtraMembers = geojson.Properties{"exceededTransferLimit": true}
		writeFC(t, w, fc)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 1)
	layer, err := c.CountyUnits(context.Background(), model.County("53033"), model.GeographyTract)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, layer.Units)
}

func TestExceededLimit(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	assert.False(t, exceededLimit(fc))

	fc.ExtraMembers = geojson.Properties{"exceededTransferLimit": true}
	assert.True(t, exceededLimit(fc))

	// Some server versions put the flag under a root "properties" member.
	fc.ExtraMembers = geojson.Properties{"properties": map[string]any{"exceededTransferLimit": true}}
	assert.True(t, exceededLimit(fc))

	fc.ExtraMembers = geojson.Properties{"properties": map[string]any{"exceededTransferLimit": false}}
	assert.False(t, exceededLimit(fc))
}
