// Package tiger fetches Census TIGER/Line shapefile archives and reads them
// into geographic unit layers. It is the offline counterpart to the TIGERweb
// client: the same units, sourced from state-wide ZIP files instead of a
// REST service, so fusion runs can work without the live API.
package tiger

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/atlas-cli/internal/model"
)

// DefaultYear is the TIGER/Line vintage used when none is configured.
const DefaultYear = 2024

// Transports for retrieving archives. Both hosts expose the same
// /geo/tiger tree.
const (
	TransportHTTPS = "https"
	TransportFTP   = "ftp"
)

const (
	httpsHost = "www2.census.gov"
	ftpHost   = "ftp2.census.gov"
)

// Product describes one TIGER/Line shapefile product.
type Product struct {
	Name        string // directory under TIGER{year}/, e.g. "TRACT"
	FileSuffix  string // archive suffix, e.g. "tract" in tl_2024_53_tract.zip
	CountyField string // DBF attribute carrying the 3-digit county code
	GEOIDField  string // DBF attribute carrying the unit GEOID
}

// products maps each geography to its TIGER/Line product. Block files are
// the 2020 tabulation vintage, which keeps a "20" suffix on its attributes.
var products = map[model.Geography]Product{
	model.GeographyTract:      {Name: "TRACT", FileSuffix: "tract", CountyField: "COUNTYFP", GEOIDField: "GEOID"},
	model.GeographyBlockGroup: {Name: "BG", FileSuffix: "bg", CountyField: "COUNTYFP", GEOIDField: "GEOID"},
	model.GeographyBlock:      {Name: "TABBLOCK20", FileSuffix: "tabblock20", CountyField: "COUNTYFP20", GEOIDField: "GEOID20"},
}

// ProductFor returns the shapefile product serving a geography.
func ProductFor(g model.Geography) (Product, error) {
	p, ok := products[g]
	if !ok {
		return Product{}, eris.Errorf("tiger: no product for geography %q", g)
	}
	return p, nil
}

// DownloadURL builds the archive URL for a product, year, and state. Unit
// products are per-state files named tl_{year}_{statefp}_{suffix}.zip.
func DownloadURL(p Product, year int, stateFIPS, transport string) string {
	scheme, host := "https", httpsHost
	if transport == TransportFTP {
		scheme, host = "ftp", ftpHost
	}
	return fmt.Sprintf("%s://%s/geo/tiger/TIGER%d/%s/tl_%d_%s_%s.zip",
		scheme, host, year, p.Name, year, stateFIPS, p.FileSuffix)
}
