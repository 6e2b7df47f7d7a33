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
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"default", func(c *Config) {}, true},
		{"zero spatial res", func(c *Config) { c.SpatialRes = 0 }, false},
		{"negative spatial res", func(c *Config) { c.SpatialRes = -0.25 }, false},
		{"zero temporal res", func(c *Config) { c.TemporalRes = 0 }, false},
		{"negative grid_x0", func(c *Config) { c.GridX0 = -1 }, false},
		{"negative grid_y0", func(c *Config) { c.GridY0 = -1 }, false},
		{"grid reaching exactly the poles", func(c *Config) {
			c.GridY0, c.GridHeight = 0, 720
		}, true},
		{"grid beyond the south pole", func(c *Config) { c.GridHeight = 721 }, false},
		{"grid beyond the dateline", func(c *Config) { c.GridWidth = 1441 }, false},
		{"offset window", func(c *Config) {
			c.GridX0, c.GridY0, c.GridWidth, c.GridHeight = 40, 200, 80, 40
		}, true},
		{"offset window pushed out of range", func(c *Config) {
			c.GridX0, c.GridWidth = 1400, 80
		}, false},
		{"degenerate grid", func(c *Config) { c.GridWidth = 0 }, false},
		{"standard calendar alias", func(c *Config) { c.Calendar = "standard" }, true},
		{"unsupported calendar", func(c *Config) { c.Calendar = "julian" }, false},
		{"unsupported file format", func(c *Config) { c.FileFormat = "NETCDF4" }, false},
		{"compression", func(c *Config) { c.Compression = true }, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := DefaultConfig()
			test.modify(c)
			err := c.Validate()
			if test.ok && err != nil {
				t.Errorf("got %v, want nil", err)
			}
			if !test.ok && err == nil {
				t.Error("got nil, want error")
			}
		})
	}
}

func TestConfigDerivedValues(t *testing.T) {
	c := DefaultConfig()
	if c.Northing() != 90 || c.Easting() != -180 {
		t.Errorf("default corner = (%g,%g), want (-180,90)", c.Easting(), c.Northing())
	}
	b := c.GeoBounds()
	if b.Min.X != -180 || b.Min.Y != -90 || b.Max.X != 180 || b.Max.Y != 90 {
		t.Errorf("default bounds = %+v, want the full globe", b)
	}
	if got, want := c.TimeUnits(), "days since 2001-01-01 00:00"; got != want {
		t.Errorf("time units = %q, want %q", got, want)
	}
	if got := c.timeValue(date(2001, 1, 9)); got != 8 {
		t.Errorf("timeValue(2001-01-09) = %g, want 8", got)
	}

	c.GridX0, c.GridY0 = 40, 200
	c.GridWidth, c.GridHeight = 80, 40
	if c.Easting() != -170 || c.Northing() != 40 {
		t.Errorf("offset corner = (%g,%g), want (-170,40)", c.Easting(), c.Northing())
	}
	b = c.GeoBounds()
	if b.Min.X != -170 || b.Max.X != -150 || b.Max.Y != 40 || b.Min.Y != 30 {
		t.Errorf("offset bounds = %+v, want (-170,30) to (-150,40)", b)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cube.config")
	c := DefaultConfig()
	c.SpatialRes = 0.5
	c.GridWidth, c.GridHeight = 720, 360
	c.Variables = []string{"LAI", "FAPAR"}
	if err := c.Store(path); err != nil {
		t.Fatal(err)
	}

	c2, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if c2.SpatialRes != c.SpatialRes || c2.GridWidth != c.GridWidth ||
		c2.GridHeight != c.GridHeight || c2.TemporalRes != c.TemporalRes ||
		c2.Calendar != c.Calendar || c2.FileFormat != c.FileFormat ||
		c2.Compression != c.Compression {
		t.Errorf("reloaded config %+v differs from %+v", c2, c)
	}
	if !c2.RefTime.Equal(c.RefTime) || !c2.StartTime.Equal(c.StartTime) || !c2.EndTime.Equal(c.EndTime) {
		t.Errorf("reloaded times %v %v %v differ from %v %v %v",
			c2.RefTime, c2.StartTime, c2.EndTime, c.RefTime, c.StartTime, c.EndTime)
	}
	if !reflect.DeepEqual(c2.Variables, c.Variables) {
		t.Errorf("reloaded variables %v, want %v", c2.Variables, c.Variables)
	}
}

// Missing keys in a stored configuration fall back to their defaults.
func TestLoadConfigDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cube.config")
	content := "spatial_res = 0.5\ngrid_width = 720\ngrid_height = 360\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.SpatialRes != 0.5 || c.GridWidth != 720 || c.GridHeight != 360 {
		t.Errorf("explicit keys not applied: %+v", c)
	}
	want := DefaultConfig()
	if c.TemporalRes != want.TemporalRes || c.Calendar != want.Calendar ||
		c.FileFormat != want.FileFormat || !c.RefTime.Equal(want.RefTime) {
		t.Errorf("missing keys did not default: %+v", c)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cube.config")
	if err := os.WriteFile(path, []byte("spatial_res = -1.0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("got nil, want validation error")
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("got nil, want read error")
	}
}
