//go:build !integration

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/atlas-cli/internal/config"
)

func TestParseCityList(t *testing.T) {
	cities, err := parseCityList("Seattle:WA, Portland:OR")
	require.NoError(t, err)
	assert.Equal(t, []cityRef{
		{name: "Seattle", state: "WA"},
		{name: "Portland", state: "OR"},
	}, cities)
}

func TestParseCityList_Malformed(t *testing.T) {
	for _, bad := range []string{"Seattle", "Seattle:", ":WA", "Seattle:WA,Portland"} {
		_, err := parseCityList(bad)
		require.Error(t, err, "input %q", bad)
		assert.Contains(t, err.Error(), "bad city")
	}
}

func TestParseCityList_Empty(t *testing.T) {
	_, err := parseCityList(" , ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty city list")
}

func TestCityList_Explicit(t *testing.T) {
	cities, err := cityList("Tacoma:WA")
	require.NoError(t, err)
	assert.Equal(t, []cityRef{{name: "Tacoma", state: "WA"}}, cities)
}

func TestCityList_FromPointsFile(t *testing.T) {
	dir := t.TempDir()
	csv := "neighborhood,city_name,state_id\n" +
		"Ballard,Seattle,WA\n" +
		"Fremont,Seattle,WA\n" +
		",,\n" +
		"Pearl District,Portland,OR\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "neighborhoods_2026.csv"), []byte(csv), 0644))

	cfg = &config.Config{Data: config.DataConfig{SpatialDir: dir}}

	cities, err := cityList("")
	require.NoError(t, err)
	assert.Equal(t, []cityRef{
		{name: "Seattle", state: "WA"},
		{name: "Portland", state: "OR"},
	}, cities)
}

func TestCityList_PointsMissingColumns(t *testing.T) {
	dir := t.TempDir()
	csv := "neighborhood,city_name\nBallard,Seattle\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "neighborhoods_2026.csv"), []byte(csv), 0644))

	cfg = &config.Config{Data: config.DataConfig{SpatialDir: dir}}

	_, err := cityList("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing column "state_id"`)
}

func TestCityList_NoPointsFile(t *testing.T) {
	cfg = &config.Config{Data: config.DataConfig{SpatialDir: t.TempDir()}}

	_, err := cityList("")
	require.Error(t, err)
}
