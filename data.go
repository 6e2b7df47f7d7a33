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
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ctessum/sparse"
	"github.com/spf13/cast"
)

// DatelineCrossingError is returned by CubeData.Get when the requested
// longitude range crosses the anti-meridian. Cross-dateline reads are a
// known limitation of the cube and fail loudly rather than truncating.
type DatelineCrossingError struct {
	Lon1, Lon2 float64
}

func (e DatelineCrossingError) Error() string {
	return fmt.Sprintf("esdl: illegal longitude range [%g,%g]: dateline intersection not implemented",
		e.Lon1, e.Lon2)
}

// CubeData is the read side of a cube. It scans the partition layout once
// at open time and serves spatiotemporal range queries against lazily
// opened virtual views, one per variable. It is owned by its Cube and
// released by Cube.Close (or its own Close).
type CubeData struct {
	cube     *Cube
	varNames []string
	varIndex map[string]int
	files    [][]string // per variable, partition paths sorted by file name
	datasets []*mfDataset
	closed   bool
}

// newCubeData discovers the persisted partitions under <base>/data. Every
// subdirectory is a variable; its .nc files, sorted by name and therefore
// by year, form the variable's partition sequence. Variable indices follow
// discovery order.
func newCubeData(cube *Cube) (*CubeData, error) {
	dataDir := filepath.Join(cube.baseDir, "data")
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("esdl: scanning cube data directory: %v", err)
	}
	d := &CubeData{
		cube:     cube,
		varIndex: make(map[string]int),
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		varName := entry.Name()
		varDir := filepath.Join(dataDir, varName)
		varEntries, err := os.ReadDir(varDir)
		if err != nil {
			return nil, fmt.Errorf("esdl: scanning variable directory %s: %v", varDir, err)
		}
		var paths []string
		for _, ve := range varEntries {
			if strings.HasSuffix(ve.Name(), ".nc") {
				paths = append(paths, filepath.Join(varDir, ve.Name()))
			}
		}
		if len(paths) == 0 {
			continue
		}
		d.varIndex[varName] = len(d.varNames)
		d.varNames = append(d.varNames, varName)
		d.files = append(d.files, paths)
	}
	d.datasets = make([]*mfDataset, len(d.varNames))
	return d, nil
}

// VariableNames returns the cube's variable names in index order.
func (d *CubeData) VariableNames() []string {
	out := make([]string, len(d.varNames))
	copy(out, d.varNames)
	return out
}

// Shape returns the cube extents as (variables, time, latitude, longitude).
// The time extent is reported as 0: partition lengths are not known until
// the per-variable views are opened.
func (d *CubeData) Shape() []int {
	return []int{len(d.varNames), 0, d.cube.config.GridHeight, d.cube.config.GridWidth}
}

// Get answers a spatiotemporal range query and returns one array per
// requested variable, in request order.
//
// variable may be a variable name (string), a variable index (int), or a
// slice mixing both ([]string, []int or []interface{}). t may be a single
// time.Time or a two-element [start, end]; latitude and longitude may be a
// single value or a two-element [low, high] range, given as any numeric
// type. Longitude endpoints outside [-180,180] are wrapped into range; an
// inverted longitude range denotes a span crossing the anti-meridian and
// fails with DatelineCrossingError.
//
// Each result array has dimensions (time, latitude, longitude) with
// single-index dimensions collapsed; a fully scalar request yields a
// zero-dimensional array whose value is Elements[0].
func (d *CubeData) Get(variable, t, latitude, longitude interface{}) ([]*sparse.DenseArray, error) {
	if d.closed {
		return nil, ErrCubeClosed
	}
	varIndices, err := d.varIndices(variable)
	if err != nil {
		return nil, err
	}
	t1, t2, err := timeRange(t)
	if err != nil {
		return nil, err
	}
	lat1, lat2, err := latRange(latitude)
	if err != nil {
		return nil, err
	}
	lon1, lon2, err := lonRange(longitude)
	if err != nil {
		return nil, err
	}

	config := d.cube.config
	res := config.SpatialRes
	periodDays := float64(config.TemporalRes)
	timeIndex1 := int(math.Floor(config.timeValue(t1) / periodDays))
	timeIndex2 := int(math.Floor(config.timeValue(t2) / periodDays))
	gridY1 := int(math.Round((90-lat2)/res)) - config.GridY0
	gridY2 := int(math.Round((90-lat1)/res)) - config.GridY0
	gridX1 := int(math.Round((180+lon1)/res)) - config.GridX0
	gridX2 := int(math.Round((180+lon2)/res)) - config.GridX0

	// A range bound landing exactly on a grid line must not pull in the
	// neighboring cell whose edge it touches.
	if gridY2 > gridY1 && 90-float64(gridY2+config.GridY0)*res == lat1 {
		gridY2--
	}
	if gridX2 > gridX1 && -180+float64(gridX2+config.GridX0)*res == lon2 {
		gridX2--
	}

	globalGridWidth := int(math.Round(360 / res))
	if gridX2 >= globalGridWidth {
		return nil, DatelineCrossingError{Lon1: lon1, Lon2: lon2}
	}

	results := make([]*sparse.DenseArray, 0, len(varIndices))
	for _, vi := range varIndices {
		ds, err := d.dataset(vi)
		if err != nil {
			return nil, err
		}
		arr, err := ds.slice(timeIndex1, timeIndex2, gridY1, gridY2, gridX1, gridX2)
		if err != nil {
			return nil, err
		}
		results = append(results, arr)
	}
	return results, nil
}

// Close releases every opened virtual view and its underlying partition
// files. Reads after Close fail with ErrCubeClosed.
func (d *CubeData) Close() error {
	var firstErr error
	for i, ds := range d.datasets {
		if ds == nil {
			continue
		}
		if err := ds.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.datasets[i] = nil
	}
	d.closed = true
	return firstErr
}

// dataset returns the virtual view of the variable at index vi, opening it
// on first access and caching it until Close.
func (d *CubeData) dataset(vi int) (*mfDataset, error) {
	if d.datasets[vi] != nil {
		return d.datasets[vi], nil
	}
	ds, err := openMFDataset(d.files[vi], d.varNames[vi])
	if err != nil {
		return nil, err
	}
	d.datasets[vi] = ds
	return ds, nil
}

// resolveVar resolves a single variable reference: a name, or anything
// coercible to an index.
func (d *CubeData) resolveVar(v interface{}) (int, error) {
	if name, ok := v.(string); ok {
		if i, ok := d.varIndex[name]; ok {
			return i, nil
		}
		return 0, fmt.Errorf("esdl: unknown variable %q", name)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("esdl: illegal variable argument %v", v)
	}
	i := int(f)
	// A fractional index is an error, not a truncation.
	if float64(i) != f {
		return 0, fmt.Errorf("esdl: illegal variable argument %v", v)
	}
	if i < 0 || i >= len(d.varNames) {
		return 0, fmt.Errorf("esdl: variable index %d out of range [0,%d]", i, len(d.varNames)-1)
	}
	return i, nil
}

func (d *CubeData) varIndices(variable interface{}) ([]int, error) {
	var refs []interface{}
	switch v := variable.(type) {
	case []interface{}:
		refs = v
	case []string:
		for _, s := range v {
			refs = append(refs, s)
		}
	case []int:
		for _, i := range v {
			refs = append(refs, i)
		}
	default:
		refs = []interface{}{v}
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("esdl: illegal variable argument %v", variable)
	}
	indices := make([]int, 0, len(refs))
	for _, ref := range refs {
		i, err := d.resolveVar(ref)
		if err != nil {
			return nil, err
		}
		indices = append(indices, i)
	}
	return indices, nil
}

// timeRange normalizes a time argument to an inclusive [t1, t2] range.
func timeRange(v interface{}) (time.Time, time.Time, error) {
	var t1, t2 time.Time
	switch t := v.(type) {
	case time.Time:
		t1, t2 = t, t
	case [2]time.Time:
		t1, t2 = t[0], t[1]
	case []time.Time:
		if len(t) != 2 {
			return t1, t2, fmt.Errorf("esdl: invalid time argument %v", v)
		}
		t1, t2 = t[0], t[1]
	default:
		return t1, t2, fmt.Errorf("esdl: invalid time argument %v", v)
	}
	if t1.After(t2) {
		return t1, t2, fmt.Errorf("esdl: invalid time argument %v: start after end", v)
	}
	return t1, t2, nil
}

// scalarRange normalizes a numeric argument to a two-value range: a scalar
// becomes [v, v].
func scalarRange(v interface{}) (float64, float64, error) {
	switch t := v.(type) {
	case [2]float64:
		return t[0], t[1], nil
	case []float64:
		if len(t) != 2 {
			return 0, 0, fmt.Errorf("esdl: invalid range argument %v", v)
		}
		return t[0], t[1], nil
	case []interface{}:
		if len(t) != 2 {
			return 0, 0, fmt.Errorf("esdl: invalid range argument %v", v)
		}
		lo, err := cast.ToFloat64E(t[0])
		if err != nil {
			return 0, 0, fmt.Errorf("esdl: invalid range argument %v", v)
		}
		hi, err := cast.ToFloat64E(t[1])
		if err != nil {
			return 0, 0, fmt.Errorf("esdl: invalid range argument %v", v)
		}
		return lo, hi, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, 0, fmt.Errorf("esdl: invalid range argument %v", v)
	}
	return f, f, nil
}

func latRange(v interface{}) (float64, float64, error) {
	lat1, lat2, err := scalarRange(v)
	if err != nil {
		return 0, 0, err
	}
	if lat1 < -90 || lat1 > 90 || lat2 < -90 || lat2 > 90 || lat1 > lat2 {
		return 0, 0, fmt.Errorf("esdl: invalid latitude argument %v", v)
	}
	return lat1, lat2, nil
}

// lonRange normalizes both endpoints into [-180,180). An inverted range
// after normalization denotes a span crossing the anti-meridian and is
// represented by raising the upper endpoint by 360.
func lonRange(v interface{}) (float64, float64, error) {
	lon1, lon2, err := scalarRange(v)
	if err != nil {
		return 0, 0, err
	}
	lon1 = normalizeLon(lon1)
	lon2 = normalizeLon(lon2)
	if lon1 > lon2 {
		lon2 += 360
	}
	return lon1, lon2, nil
}

// normalizeLon wraps out-of-range longitudes into [-180,180]. +180 is kept
// as a valid upper bound so that a full-extent [-180,180] range stays a
// full span; the grid-line correction in Get excludes the phantom cell
// starting at +180.
func normalizeLon(lon float64) float64 {
	for lon < -180 {
		lon += 360
	}
	for lon > 180 {
		lon -= 360
	}
	return lon
}
