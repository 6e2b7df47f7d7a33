/*
Copyright © 2016 the esdl-core authors.
This file is part of esdl-core.

esdl-core is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

esdl-core is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with esdl-core.  If not, see <http://www.gnu.org/licenses/>.
*/

package esdl

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ctessum/geom"
)

// FormatNetCDF3Classic is the only file format the persistence backend
// supports.
const FormatNetCDF3Classic = "NETCDF3_CLASSIC"

// Config is a data cube's static layout: the spatial grid, the temporal
// resolution, and the conventions used when encoding data on disk. A Config
// is shared read-only between the writing and reading sides of a cube and
// must never change once a cube directory has been created from it.
//
// The cube grid is a window into a global equirectangular grid with
// cell size SpatialRes degrees. (GridX0, GridY0) is the offset of the
// window's upper-left cell within the global grid, counted from
// (-180°E, 90°N).
type Config struct {
	// SpatialRes is the grid cell size in degrees. Must be > 0.
	SpatialRes float64 `toml:"spatial_res"`

	// GridX0 and GridY0 are the non-negative offsets of the cube window
	// within the global grid, in cells.
	GridX0 int `toml:"grid_x0"`
	GridY0 int `toml:"grid_y0"`

	// GridWidth and GridHeight are the cube window extent in cells.
	GridWidth  int `toml:"grid_width"`
	GridHeight int `toml:"grid_height"`

	// TemporalRes is the length of one aggregation period in days. Must be > 0.
	TemporalRes int `toml:"temporal_res"`

	// Calendar names the calendar used for time encoding. Only "gregorian"
	// (alias "standard") is supported.
	Calendar string `toml:"calendar"`

	// RefTime is the epoch of the cube's time axis: stored time values are
	// fractional days since RefTime.
	RefTime time.Time `toml:"ref_time"`

	// StartTime and EndTime bound the time range ingested into the cube.
	// A zero value means unbounded on that side.
	StartTime time.Time `toml:"start_time"`
	EndTime   time.Time `toml:"end_time"`

	// Variables optionally restricts the cube to the named variables.
	// It is advisory: source providers are expected to honor it when
	// deciding which variables to produce. Empty means no restriction.
	Variables []string `toml:"variables,omitempty"`

	// FileFormat names the persistence file format. Only
	// FormatNetCDF3Classic is supported.
	FileFormat string `toml:"file_format"`

	// Compression requests compressed storage. The NetCDF3 backend cannot
	// compress, so true is rejected by Validate.
	Compression bool `toml:"compression"`
}

// DefaultConfig returns the conventional global cube layout: a 0.25°
// 1440×720 grid covering the whole globe at 8-day resolution, with time
// encoded relative to 2001-01-01.
func DefaultConfig() *Config {
	return &Config{
		SpatialRes:  0.25,
		GridWidth:   1440,
		GridHeight:  720,
		TemporalRes: 8,
		Calendar:    "gregorian",
		RefTime:     time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC),
		StartTime:   time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC),
		EndTime:     time.Date(2011, 1, 1, 0, 0, 0, 0, time.UTC),
		FileFormat:  FormatNetCDF3Classic,
	}
}

// Validate checks the configuration for internal consistency. The derived
// latitude and longitude intervals must be non-degenerate and lie within
// [-90,90] and [-180,180]; the exact boundaries are allowed.
func (c *Config) Validate() error {
	if c.SpatialRes <= 0 {
		return fmt.Errorf("esdl: illegal spatial_res value %g", c.SpatialRes)
	}
	if c.TemporalRes <= 0 {
		return fmt.Errorf("esdl: illegal temporal_res value %d", c.TemporalRes)
	}
	if c.GridX0 < 0 {
		return fmt.Errorf("esdl: illegal grid_x0 value %d", c.GridX0)
	}
	if c.GridY0 < 0 {
		return fmt.Errorf("esdl: illegal grid_y0 value %d", c.GridY0)
	}
	lat1 := 90 - float64(c.GridY0+c.GridHeight)*c.SpatialRes
	lat2 := 90 - float64(c.GridY0)*c.SpatialRes
	if lat1 >= lat2 || lat1 < -90 || lat1 > 90 || lat2 < -90 || lat2 > 90 {
		return fmt.Errorf("esdl: illegal combination of grid_y0, grid_height, spatial_res values")
	}
	lon1 := -180 + float64(c.GridX0)*c.SpatialRes
	lon2 := -180 + float64(c.GridX0+c.GridWidth)*c.SpatialRes
	if lon1 >= lon2 || lon1 < -180 || lon1 > 180 || lon2 < -180 || lon2 > 180 {
		return fmt.Errorf("esdl: illegal combination of grid_x0, grid_width, spatial_res values")
	}
	switch c.Calendar {
	case "gregorian", "standard":
	default:
		return fmt.Errorf("esdl: unsupported calendar %q", c.Calendar)
	}
	if c.FileFormat != FormatNetCDF3Classic {
		return fmt.Errorf("esdl: unsupported file format %q", c.FileFormat)
	}
	if c.Compression {
		return fmt.Errorf("esdl: compression is not supported by the %s backend", c.FileFormat)
	}
	return nil
}

// Northing is the latitude of the upper edge of the cube window's
// upper-left grid cell.
func (c *Config) Northing() float64 {
	return 90 - float64(c.GridY0)*c.SpatialRes
}

// Easting is the longitude of the left edge of the cube window's
// upper-left grid cell.
func (c *Config) Easting() float64 {
	return -180 + float64(c.GridX0)*c.SpatialRes
}

// GeoBounds returns the geographic extent of the cube window, with Min at
// the lower-left and Max at the upper-right corner, in degrees.
func (c *Config) GeoBounds() *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{
			X: c.Easting(),
			Y: c.Northing() - float64(c.GridHeight)*c.SpatialRes,
		},
		Max: geom.Point{
			X: c.Easting() + float64(c.GridWidth)*c.SpatialRes,
			Y: c.Northing(),
		},
	}
}

// TimeUnits returns the CF-style units string of the cube's time axis.
func (c *Config) TimeUnits() string {
	return fmt.Sprintf("days since %04d-%02d-%02d %02d:%02d",
		c.RefTime.Year(), c.RefTime.Month(), c.RefTime.Day(),
		c.RefTime.Hour(), c.RefTime.Minute())
}

// timeValue encodes t on the cube's time axis as fractional days since
// RefTime.
func (c *Config) timeValue(t time.Time) float64 {
	return t.Sub(c.RefTime).Hours() / 24
}

// LoadConfig reads a cube configuration from the flat key = value text file
// at path. Missing keys keep their DefaultConfig values.
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, fmt.Errorf("esdl: reading cube configuration %s: %v", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Store writes the configuration to path as flat key = value text, one field
// per line, restorable by LoadConfig.
func (c *Config) Store(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("esdl: writing cube configuration %s: %v", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("esdl: writing cube configuration %s: %v", path, err)
	}
	return nil
}
