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
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// buildTestCube creates a cube and ingests two sessions from the mock
// provider: January 2001 (4 periods) and mid-December 2006 through
// mid-January 2007 (5 periods).
func buildTestCube(t *testing.T) *Cube {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "testcube")
	config := DefaultConfig()
	cube, err := Create(dir, config)
	if err != nil {
		t.Fatal(err)
	}
	if err := cube.Update(newMockProvider(config, date(2001, 1, 1), date(2001, 2, 1))); err != nil {
		t.Fatal(err)
	}
	if err := cube.Update(newMockProvider(config, date(2006, 12, 15), date(2007, 1, 15))); err != nil {
		t.Fatal(err)
	}
	return cube
}

func TestCubeDataGet(t *testing.T) {
	cube := buildTestCube(t)
	defer cube.Close()
	data, err := cube.Data()
	if err != nil {
		t.Fatal(err)
	}

	if names := data.VariableNames(); !reflect.DeepEqual(names, []string{"FAPAR", "LAI"}) {
		t.Fatalf("variable names = %v, want [FAPAR LAI]", names)
	}
	if shape := data.Shape(); !reflect.DeepEqual(shape, []int{2, 0, 720, 1440}) {
		t.Errorf("cube shape = %v, want [2 0 720 1440]", shape)
	}

	january := []time.Time{date(2001, 1, 1), date(2001, 2, 1)}

	t.Run("full extent", func(t *testing.T) {
		results, err := data.Get("FAPAR", january, []float64{-90, 90}, []float64{-180, 180})
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 1 {
			t.Fatalf("got %d results, want 1", len(results))
		}
		if !reflect.DeepEqual(results[0].Shape, []int{4, 720, 1440}) {
			t.Errorf("result shape = %v, want [4 720 1440]", results[0].Shape)
		}
	})

	t.Run("multiple variables", func(t *testing.T) {
		results, err := data.Get([]string{"FAPAR", "LAI"}, january,
			[]float64{50, 60}, []float64{10, 30})
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 2 {
			t.Fatalf("got %d results, want 2", len(results))
		}
		for i, r := range results {
			if !reflect.DeepEqual(r.Shape, []int{4, 40, 80}) {
				t.Errorf("result %d shape = %v, want [4 40 80]", i, r.Shape)
			}
		}
	})

	t.Run("scalar", func(t *testing.T) {
		results, err := data.Get(1, date(2001, 1, 20), 0.0, 0.0)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 1 {
			t.Fatalf("got %d results, want 1", len(results))
		}
		if len(results[0].Shape) != 0 {
			t.Fatalf("result shape = %v, want scalar", results[0].Shape)
		}
		// Third period of the first session.
		if got, want := results[0].Elements[0], float64(float32(0.13)); got != want {
			t.Errorf("LAI value = %v, want %v", got, want)
		}
	})

	t.Run("mixed variable references", func(t *testing.T) {
		results, err := data.Get([]interface{}{0, "LAI"}, date(2001, 1, 20), -12.6, 5.9)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 2 {
			t.Fatalf("got %d results, want 2", len(results))
		}
		if got, want := results[0].Elements[0], float64(float32(0.615)); got != want {
			t.Errorf("FAPAR value = %v, want %v", got, want)
		}
		if got, want := results[1].Elements[0], float64(float32(0.13)); got != want {
			t.Errorf("LAI value = %v, want %v", got, want)
		}
	})

	t.Run("range bound on grid line", func(t *testing.T) {
		// The upper bounds land exactly on grid lines, so the cells
		// starting at lat 60 and lon 180 are excluded.
		results, err := data.Get("FAPAR", january, []float64{50, 60}, []float64{0, 180})
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(results[0].Shape, []int{4, 40, 720}) {
			t.Errorf("result shape = %v, want [4 40 720]", results[0].Shape)
		}
	})

	t.Run("dateline crossing", func(t *testing.T) {
		_, err := data.Get("FAPAR", date(2001, 1, 20), 0.0, []float64{170, -170})
		var dce DatelineCrossingError
		if !errors.As(err, &dce) {
			t.Fatalf("got %v, want DatelineCrossingError", err)
		}
		if dce.Lon1 != 170 || dce.Lon2 != 190 {
			t.Errorf("error range = [%g,%g], want [170,190]", dce.Lon1, dce.Lon2)
		}
	})

	t.Run("invalid arguments", func(t *testing.T) {
		cases := []struct {
			name                 string
			variable, tm, la, lo interface{}
		}{
			{"unknown variable", "Ozone", date(2001, 1, 20), 0.0, 0.0},
			{"variable index out of range", 5, date(2001, 1, 20), 0.0, 0.0},
			{"fractional variable index", 1.9, date(2001, 1, 20), 0.0, 0.0},
			{"inverted latitude range", "LAI", date(2001, 1, 20), []float64{60, 50}, 0.0},
			{"latitude out of bounds", "LAI", date(2001, 1, 20), 95.0, 0.0},
			{"inverted time range", "LAI", []time.Time{date(2001, 2, 1), date(2001, 1, 1)}, 0.0, 0.0},
			{"time before cube start", "LAI", date(2000, 6, 1), 0.0, 0.0},
		}
		for _, c := range cases {
			t.Run(c.name, func(t *testing.T) {
				if _, err := data.Get(c.variable, c.tm, c.la, c.lo); err == nil {
					t.Error("got nil error")
				}
			})
		}
	})

	t.Run("get after close", func(t *testing.T) {
		if err := data.Close(); err != nil {
			t.Fatal(err)
		}
		_, err := data.Get("LAI", date(2001, 1, 20), 0.0, 0.0)
		if !errors.Is(err, ErrCubeClosed) {
			t.Errorf("got %v, want ErrCubeClosed", err)
		}
	})
}

// TestCubeReopenRoundTrip reads written images back through a freshly
// opened cube over an existing directory: every record of a range query
// must hold the constant value its period was written with.
func TestCubeReopenRoundTrip(t *testing.T) {
	cube := buildTestCube(t)
	dir := cube.BaseDir()
	if err := cube.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	data, err := reopened.Data()
	if err != nil {
		t.Fatal(err)
	}

	results, err := data.Get("LAI", []time.Time{date(2001, 1, 1), date(2001, 2, 1)},
		[]float64{50, 60}, []float64{10, 30})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(results[0].Shape, []int{4, 40, 80}) {
		t.Fatalf("result shape = %v, want [4 40 80]", results[0].Shape)
	}
	recSize := 40 * 80
	for rec := 0; rec < 4; rec++ {
		want := float64(float32(0.11 + 0.01*float64(rec)))
		for i, v := range results[0].Elements[rec*recSize : (rec+1)*recSize] {
			if v != want {
				t.Fatalf("record %d element %d = %v, want %v", rec, i, v, want)
			}
		}
	}

	scalars, err := data.Get("FAPAR", date(2001, 1, 20), 0.0, 0.0)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := scalars[0].Elements[0], float64(float32(0.615)); got != want {
		t.Errorf("FAPAR value = %v, want %v", got, want)
	}
}
