package tiger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/atlas-cli/internal/model"
)

func TestProductFor_Tract(t *testing.T) {
	p, err := ProductFor(model.GeographyTract)
	require.NoError(t, err)
	assert.Equal(t, "TRACT", p.Name)
	assert.Equal(t, "COUNTYFP", p.CountyField)
	assert.Equal(t, "GEOID", p.GEOIDField)
}

func TestProductFor_BlockGroup(t *testing.T) {
	p, err := ProductFor(model.GeographyBlockGroup)
	require.NoError(t, err)
	assert.Equal(t, "BG", p.Name)
	assert.Equal(t, "bg", p.FileSuffix)
}

func TestProductFor_Block(t *testing.T) {
	p, err := ProductFor(model.GeographyBlock)
	require.NoError(t, err)
	assert.Equal(t, "TABBLOCK20", p.Name)
	// The 2020 block vintage suffixes its attribute names.
	assert.Equal(t, "COUNTYFP20", p.CountyField)
	assert.Equal(t, "GEOID20", p.GEOIDField)
}

func TestProductFor_Unknown(t *testing.T) {
	_, err := ProductFor(model.Geography("zip_code"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no product for geography")
}

func TestDownloadURL_HTTPS(t *testing.T) {
	p, err := ProductFor(model.GeographyTract)
	require.NoError(t, err)

	url := DownloadURL(p, 2024, "53", TransportHTTPS)
	assert.Equal(t, "https://www2.census.gov/geo/tiger/TIGER2024/TRACT/tl_2024_53_tract.zip", url)
}

func TestDownloadURL_FTP(t *testing.T) {
	p, err := ProductFor(model.GeographyBlock)
	require.NoError(t, err)

	url := DownloadURL(p, 2023, "06", TransportFTP)
	assert.Equal(t, "ftp://ftp2.census.gov/geo/tiger/TIGER2023/TABBLOCK20/tl_2023_06_tabblock20.zip", url)
}
