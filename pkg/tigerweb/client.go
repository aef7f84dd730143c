// Package tigerweb queries the Census TIGERweb ArcGIS REST service for
// tract, block group, and block polygons by county.
package tigerweb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/atlas-cli/internal/geospatial"
	"github.com/sells-group/atlas-cli/internal/model"
	"github.com/sells-group/atlas-cli/internal/resilience"
)

// DefaultBaseURL is the Tracts_Blocks MapServer root.
const DefaultBaseURL = "https://tigerweb.geo.census.gov/arcgis/rest/services/TIGERweb/Tracts_Blocks/MapServer"

// layers maps each geography to its MapServer sub-layer index.
var layers = map[model.Geography]int{
	model.GeographyTract:      0,
	model.GeographyBlockGroup: 1,
	model.GeographyBlock:      2,
}

// Config configures the TIGERweb client. Zero fields take defaults.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RatePerSec float64
}

// Client queries one TIGERweb MapServer.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
}

// NewClient creates a TIGERweb client with the given config.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 4
	}
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 5
	}
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.MaxRetries
	retry.OnRetry = resilience.RetryLogger("tigerweb", "query")

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		retry:      retry,
	}
}

// CountyUnits fetches every unit polygon for a county at the given
// geography. Responses larger than the server transfer limit are paged with
// resultOffset until the exceededTransferLimit flag clears.
func (c *Client) CountyUnits(ctx context.Context, county model.County, geography model.Geography) (geospatial.UnitLayer, error) {
	if err := county.Validate(); err != nil {
		return geospatial.UnitLayer{}, err
	}
	layerIdx, ok := layers[geography]
	if !ok {
		return geospatial.UnitLayer{}, eris.Errorf("tigerweb: no layer for geography %q", geography)
	}

	log := zap.L().With(
		zap.String("component", "tigerweb"),
		zap.String("county", string(county)),
		zap.String("geography", string(geography)),
	)

	layer := geospatial.UnitLayer{SRID: geospatial.SRIDWGS84}
	offset := 0
	for {
		fc, err := c.queryPage(ctx, layerIdx, county, offset)
		if err != nil {
			return geospatial.UnitLayer{}, err
		}

		layer.Units = append(layer.Units, featureUnits(fc)...)

		if !exceededLimit(fc) || len(fc.Features) == 0 {
			break
		}
		offset += len(fc.Features)
		log.Debug("paging county units", zap.Int("offset", offset))
	}

	log.Info("county units fetched", zap.Int("units", len(layer.Units)))
	return layer, nil
}

// queryPage performs one paged query and decodes the feature collection.
func (c *Client) queryPage(ctx context.Context, layerIdx int, county model.County, offset int) (*geojson.FeatureCollection, error) {
	params := url.Values{
		"where":     {fmt.Sprintf("COUNTY='%s' and STATE='%s'", county.CountyCode(), county.StateFIPS())},
		"outFields": {"*"},
		"f":         {"geojson"},
	}
	if offset > 0 {
		params.Set("resultOffset", strconv.Itoa(offset))
	}
	reqURL := fmt.Sprintf("%s/%d/query?%s", c.baseURL, layerIdx, params.Encode())

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*geojson.FeatureCollection, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "tigerweb: rate limit")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "tigerweb: build request")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "tigerweb: request"), 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			statusErr := eris.Errorf("tigerweb: status %d from layer %d", resp.StatusCode, layerIdx)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
			}
			return nil, statusErr
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "tigerweb: read body"), 0)
		}

		// ArcGIS reports query errors inside a 200 response.
		var svcErr struct {
			Error *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(body, &svcErr); err == nil && svcErr.Error != nil {
			return nil, eris.Errorf("tigerweb: service error %d: %s", svcErr.Error.Code, svcErr.Error.Message)
		}

		fc, err := geojson.UnmarshalFeatureCollection(body)
		if err != nil {
			return nil, eris.Wrap(err, "tigerweb: decode geojson")
		}
		return fc, nil
	})
}

// featureUnits converts GeoJSON features to geographic units. The unit ID is
// the GEOID property, falling back to GEOID20 on 2020-vintage block layers.
// Features with no usable ID or geometry are dropped.
func featureUnits(fc *geojson.FeatureCollection) []geospatial.GeographicUnit {
	units := make([]geospatial.GeographicUnit, 0, len(fc.Features))
	var skipped int
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			skipped++
			continue
		}
		geoid := f.Properties.MustString("GEOID", "")
		if geoid == "" {
			geoid = f.Properties.MustString("GEOID20", "")
		}
		if geoid == "" {
			skipped++
			continue
		}
		units = append(units, geospatial.GeographicUnit{GEOID: geoid, Geometry: f.Geometry})
	}
	if skipped > 0 {
		zap.L().Debug("tigerweb: skipped features without GEOID or geometry",
			zap.Int("skipped", skipped),
		)
	}
	return units
}

// exceededLimit reports whether the server truncated the page. ArcGIS emits
// the flag either at the collection root or under a root "properties"
// member, depending on server version.
func exceededLimit(fc *geojson.FeatureCollection) bool {
	if fc.ExtraMembers.MustBool("exceededTransferLimit", false) {
		return true
	}
	props, ok := fc.ExtraMembers["properties"].(map[string]any)
	if !ok {
		return false
	}
	b, ok := props["exceededTransferLimit"].(bool)
	return ok && b
}
