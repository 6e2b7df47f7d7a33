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
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
)

// A partition is one open persistence unit: the NetCDF file holding one
// variable's records for one calendar year. next is the record index the
// next append goes to.
type partition struct {
	path string
	ff   *os.File
	f    *cdf.File
	next int
}

// A writeSession owns every partition opened during one Cube.Update run,
// keyed by partition file name. All partitions are released by closeAll on
// every exit path of Update; partitions not touched by the session are
// never opened.
type writeSession struct {
	config     *Config
	baseDir    string
	logger     *logrus.Logger
	partitions map[string]*partition
}

func newWriteSession(config *Config, baseDir string, logger *logrus.Logger) *writeSession {
	return &writeSession{
		config:     config,
		baseDir:    baseDir,
		logger:     logger,
		partitions: make(map[string]*partition),
	}
}

// writeImage appends one period record for varName: the encoded period
// bounds plus the 2D image, at the partition's next record index. The
// partition for (period year, variable) is created or opened for append on
// first use in this session.
func (s *writeSession) writeImage(provider SourceProvider, periodStart, periodEnd time.Time, varName string, image *sparse.DenseArray) error {
	_, _, width, height := provider.SpatialCoverage()
	if len(image.Shape) != 2 || image.Shape[0] != height || image.Shape[1] != width {
		return fmt.Errorf("esdl: image for variable %s has shape %v, want [%d %d]",
			varName, image.Shape, height, width)
	}
	vd, ok := provider.VariableDescriptors()[varName]
	if !ok {
		return fmt.Errorf("esdl: provider %s returned image for undeclared variable %s", provider.Name(), varName)
	}
	p, err := s.partition(provider, periodStart.Year(), varName)
	if err != nil {
		return err
	}

	i := p.next
	w := p.f.Writer("start_time", []int{i}, []int{i + 1})
	if _, err := w.Write([]float64{s.config.timeValue(periodStart)}); err != nil {
		return fmt.Errorf("esdl: writing start_time to %s: %v", p.path, err)
	}
	w = p.f.Writer("end_time", []int{i}, []int{i + 1})
	if _, err := w.Write([]float64{s.config.timeValue(periodEnd)}); err != nil {
		return fmt.Errorf("esdl: writing end_time to %s: %v", p.path, err)
	}
	data, err := imageData(image, vd.DataType)
	if err != nil {
		return fmt.Errorf("esdl: encoding image for variable %s: %v", varName, err)
	}
	w = p.f.Writer(varName, []int{i, 0, 0}, []int{i + 1, 0, 0})
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("esdl: writing record %d of %s: %v", i, p.path, err)
	}
	p.next++
	return nil
}

// partition returns the open partition for (year, varName), creating the
// file with its fixed schema if it does not exist on disk, or opening the
// existing file for append.
func (s *writeSession) partition(provider SourceProvider, year int, varName string) (*partition, error) {
	fname := fmt.Sprintf("%04d_%s.nc", year, varName)
	if p, ok := s.partitions[fname]; ok {
		return p, nil
	}
	dir := filepath.Join(s.baseDir, "data", varName)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("esdl: creating partition directory %s: %v", dir, err)
	}
	path := filepath.Join(dir, fname)

	var p *partition
	if _, err := os.Stat(path); err == nil {
		ff, err := os.OpenFile(path, os.O_RDWR, os.ModePerm)
		if err != nil {
			return nil, fmt.Errorf("esdl: opening partition %s: %v", path, err)
		}
		f, err := cdf.Open(ff)
		if err != nil {
			ff.Close()
			return nil, fmt.Errorf("esdl: opening partition %s: %v", path, err)
		}
		// The record count must come from the file size: the header reports
		// the unlimited time dimension as 0.
		fi, err := ff.Stat()
		if err != nil {
			ff.Close()
			return nil, fmt.Errorf("esdl: opening partition %s: %v", path, err)
		}
		p = &partition{path: path, ff: ff, f: f, next: int(f.Header.NumRecs(fi.Size()))}
	} else {
		ff, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("esdl: creating partition %s: %v", path, err)
		}
		f, err := s.initPartition(ff, provider, varName)
		if err != nil {
			ff.Close()
			os.Remove(path)
			return nil, err
		}
		p = &partition{path: path, ff: ff, f: f}
	}
	s.partitions[fname] = p
	return p, nil
}

// initPartition defines the partition schema and writes the static lat/lon
// coordinate axes. The schema is fixed here once and never altered by later
// appends: an unlimited time dimension carrying start_time and end_time,
// lat/lon axes derived from the grid layout and the provider's spatial
// origin, and the variable's data array with its declared attributes.
func (s *writeSession) initPartition(ff *os.File, provider SourceProvider, varName string) (*cdf.File, error) {
	x0, y0, width, height := provider.SpatialCoverage()
	vd, ok := provider.VariableDescriptors()[varName]
	if !ok {
		return nil, fmt.Errorf("esdl: provider %s has no descriptor for variable %s", provider.Name(), varName)
	}

	h := cdf.NewHeader([]string{"time", "lat", "lon"}, []int{0, height, width})

	h.AddVariable("start_time", []string{"time"}, []float64{0})
	h.AddAttribute("start_time", "units", s.config.TimeUnits())
	h.AddAttribute("start_time", "calendar", s.config.Calendar)

	h.AddVariable("end_time", []string{"time"}, []float64{0})
	h.AddAttribute("end_time", "units", s.config.TimeUnits())
	h.AddAttribute("end_time", "calendar", s.config.Calendar)

	h.AddVariable("lon", []string{"lon"}, []float32{0})
	h.AddAttribute("lon", "units", "degrees_east")

	h.AddVariable("lat", []string{"lat"}, []float32{0})
	h.AddAttribute("lat", "units", "degrees_north")

	proto, err := prototype(vd.DataType)
	if err != nil {
		return nil, fmt.Errorf("esdl: variable %s: %v", varName, err)
	}
	h.AddVariable(varName, []string{"time", "lat", "lon"}, proto)
	fill, err := typedScalar(vd.FillValue, vd.DataType)
	if err != nil {
		return nil, fmt.Errorf("esdl: variable %s: %v", varName, err)
	}
	h.AddAttribute(varName, "_FillValue", fill)
	h.AddAttribute(varName, "scale_factor", []float64{vd.scale()})
	h.AddAttribute(varName, "add_offset", []float64{vd.AddOffset})
	for name, value := range vd.Attributes {
		switch name {
		case "_FillValue", "scale_factor", "add_offset":
			continue
		}
		av, ok := attrValue(value)
		if !ok {
			// The one locally-recovered error class: an attribute the
			// backend cannot represent is skipped, never fatal.
			s.logger.WithFields(logrus.Fields{
				"variable":  varName,
				"attribute": name,
				"value":     fmt.Sprintf("%v", value),
			}).Warn("skipping unsupported variable attribute")
			continue
		}
		h.AddAttribute(varName, name, av)
	}

	h.Define()
	for _, err := range h.Check() {
		if err != nil {
			return nil, fmt.Errorf("esdl: defining schema for variable %s: %v", varName, err)
		}
	}
	f, err := cdf.Create(ff, h)
	if err != nil {
		return nil, fmt.Errorf("esdl: creating partition for variable %s: %v", varName, err)
	}

	res := s.config.SpatialRes
	lons := make([]float32, width)
	lon0 := s.config.Easting() + float64(x0)*res
	for i := range lons {
		lons[i] = float32(lon0 + float64(i)*res)
	}
	w := f.Writer("lon", []int{0}, []int{width})
	if _, err := w.Write(lons); err != nil {
		return nil, fmt.Errorf("esdl: writing lon axis: %v", err)
	}
	lats := make([]float32, height)
	lat0 := s.config.Northing() + float64(y0)*res
	for i := range lats {
		lats[i] = float32(lat0 - float64(i)*res)
	}
	w = f.Writer("lat", []int{0}, []int{height})
	if _, err := w.Write(lats); err != nil {
		return nil, fmt.Errorf("esdl: writing lat axis: %v", err)
	}
	return f, nil
}

// closeAll finalizes the record count of and closes every partition opened
// during the session. All partitions are closed even if some fail; the
// first error is returned.
func (s *writeSession) closeAll() error {
	var firstErr error
	for _, p := range s.partitions {
		if err := cdf.UpdateNumRecs(p.ff); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("esdl: finalizing partition %s: %v", p.path, err)
		}
		if err := p.ff.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("esdl: closing partition %s: %v", p.path, err)
		}
	}
	s.partitions = make(map[string]*partition)
	return firstErr
}

// prototype returns a zero-value slice of the element type named by
// dataType, used to declare the variable's type in the file header.
func prototype(dataType string) (interface{}, error) {
	switch dataType {
	case TypeFloat32:
		return []float32{0}, nil
	case TypeFloat64:
		return []float64{0}, nil
	case TypeInt8:
		return []int8{0}, nil
	case TypeInt16:
		return []int16{0}, nil
	case TypeInt32:
		return []int32{0}, nil
	}
	return nil, fmt.Errorf("unsupported data type %q", dataType)
}

// typedScalar converts v to a one-element slice of the variable's element
// type, as attribute values must match the variable type.
func typedScalar(v float64, dataType string) (interface{}, error) {
	switch dataType {
	case TypeFloat32:
		return []float32{float32(v)}, nil
	case TypeFloat64:
		return []float64{v}, nil
	case TypeInt8:
		return []int8{int8(v)}, nil
	case TypeInt16:
		return []int16{int16(v)}, nil
	case TypeInt32:
		return []int32{int32(v)}, nil
	}
	return nil, fmt.Errorf("unsupported data type %q", dataType)
}

// attrValue normalizes a descriptor attribute value to a representation the
// backend supports: strings and numeric slices. The second return value
// reports whether the value is representable.
func attrValue(v interface{}) (interface{}, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return []float64{t}, true
	case float32:
		return []float32{t}, true
	case int:
		if t < math.MinInt32 || t > math.MaxInt32 {
			return nil, false
		}
		return []int32{int32(t)}, true
	case int32:
		return []int32{t}, true
	case int64:
		if t < math.MinInt32 || t > math.MaxInt32 {
			return nil, false
		}
		return []int32{int32(t)}, true
	case []float64:
		return t, true
	case []float32:
		return t, true
	case []int32:
		return t, true
	case []int16:
		return t, true
	case []int8:
		return t, true
	}
	return nil, false
}

// imageData converts the image to a flat slice of the variable's element
// type in row-major order.
func imageData(image *sparse.DenseArray, dataType string) (interface{}, error) {
	switch dataType {
	case TypeFloat32:
		out := make([]float32, len(image.Elements))
		for i, v := range image.Elements {
			out[i] = float32(v)
		}
		return out, nil
	case TypeFloat64:
		out := make([]float64, len(image.Elements))
		copy(out, image.Elements)
		return out, nil
	case TypeInt8:
		out := make([]int8, len(image.Elements))
		for i, v := range image.Elements {
			out[i] = int8(v)
		}
		return out, nil
	case TypeInt16:
		out := make([]int16, len(image.Elements))
		for i, v := range image.Elements {
			out[i] = int16(v)
		}
		return out, nil
	case TypeInt32:
		out := make([]int32, len(image.Elements))
		for i, v := range image.Elements {
			out[i] = int32(v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported data type %q", dataType)
}
