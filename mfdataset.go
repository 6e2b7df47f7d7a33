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

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// mfDataset presents one variable's year partitions, ordered by file name,
// as a single virtual array with a continuous record axis. All partition
// files are held open for the dataset's lifetime.
type mfDataset struct {
	varName string
	files   []*os.File
	cdfs    []*cdf.File
	offsets []int // record index of each partition's first record
	numRecs int
	height  int
	width   int
}

// openMFDataset opens the given partition files and validates that they
// agree on the variable's spatial shape. On error, every file opened so far
// is closed.
func openMFDataset(paths []string, varName string) (*mfDataset, error) {
	m := &mfDataset{varName: varName}
	for _, path := range paths {
		ff, err := os.Open(path)
		if err != nil {
			m.close()
			return nil, fmt.Errorf("esdl: opening partition %s: %v", path, err)
		}
		f, err := cdf.Open(ff)
		if err != nil {
			ff.Close()
			m.close()
			return nil, fmt.Errorf("esdl: opening partition %s: %v", path, err)
		}
		dims := f.Header.Lengths(varName)
		if len(dims) != 3 {
			ff.Close()
			m.close()
			return nil, fmt.Errorf("esdl: partition %s: variable %s has %d dimensions, want 3",
				path, varName, len(dims))
		}
		if m.cdfs == nil {
			m.height, m.width = dims[1], dims[2]
		} else if dims[1] != m.height || dims[2] != m.width {
			ff.Close()
			m.close()
			return nil, fmt.Errorf("esdl: partition %s: variable %s has shape [%d %d], want [%d %d]",
				path, varName, dims[1], dims[2], m.height, m.width)
		}
		// The header reports the unlimited time dimension as 0; the record
		// count is derived from the file size.
		fi, err := ff.Stat()
		if err != nil {
			ff.Close()
			m.close()
			return nil, fmt.Errorf("esdl: opening partition %s: %v", path, err)
		}
		m.files = append(m.files, ff)
		m.cdfs = append(m.cdfs, f)
		m.offsets = append(m.offsets, m.numRecs)
		m.numRecs += int(f.Header.NumRecs(fi.Size()))
	}
	return m, nil
}

// slice reads the inclusive index ranges [t1,t2] × [y1,y2] × [x1,x2] from
// the virtual array. Dimensions whose range holds a single index are
// collapsed, so a fully scalar request yields a zero-dimensional array
// whose value is Elements[0].
func (m *mfDataset) slice(t1, t2, y1, y2, x1, x2 int) (*sparse.DenseArray, error) {
	if t1 < 0 || t1 > t2 || t2 >= m.numRecs {
		return nil, fmt.Errorf("esdl: variable %s: time index range [%d,%d] outside [0,%d]",
			m.varName, t1, t2, m.numRecs-1)
	}
	if y1 < 0 || y1 > y2 || y2 >= m.height {
		return nil, fmt.Errorf("esdl: variable %s: latitude index range [%d,%d] outside [0,%d]",
			m.varName, y1, y2, m.height-1)
	}
	if x1 < 0 || x1 > x2 || x2 >= m.width {
		return nil, fmt.Errorf("esdl: variable %s: longitude index range [%d,%d] outside [0,%d]",
			m.varName, x1, x2, m.width-1)
	}

	var shape []int
	for _, d := range []int{t2 - t1 + 1, y2 - y1 + 1, x2 - x1 + 1} {
		if d > 1 {
			shape = append(shape, d)
		}
	}
	out := sparse.ZerosDense(shape...)

	nx := x2 - x1 + 1
	pos := 0
	for t := t1; t <= t2; t++ {
		k, lt := m.locate(t)
		for y := y1; y <= y2; y++ {
			r := m.cdfs[k].Reader(m.varName, []int{lt, y, x1}, []int{lt + 1, y + 1, x2 + 1})
			buf := r.Zero(nx)
			if _, err := r.Read(buf); err != nil {
				return nil, fmt.Errorf("esdl: reading variable %s record %d: %v", m.varName, t, err)
			}
			if err := fillFloat64(out.Elements[pos:pos+nx], buf); err != nil {
				return nil, fmt.Errorf("esdl: reading variable %s record %d: %v", m.varName, t, err)
			}
			pos += nx
		}
	}
	return out, nil
}

// locate maps a virtual record index to (partition index, local record
// index).
func (m *mfDataset) locate(t int) (int, int) {
	k := len(m.offsets) - 1
	for k > 0 && m.offsets[k] > t {
		k--
	}
	return k, t - m.offsets[k]
}

func (m *mfDataset) close() error {
	var firstErr error
	for _, ff := range m.files {
		if err := ff.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.files = nil
	m.cdfs = nil
	return firstErr
}

// fillFloat64 copies a typed buffer read from the backend into a float64
// destination of the same length.
func fillFloat64(dst []float64, buf interface{}) error {
	switch t := buf.(type) {
	case []float64:
		copy(dst, t)
	case []float32:
		for i, v := range t {
			dst[i] = float64(v)
		}
	case []int32:
		for i, v := range t {
			dst[i] = float64(v)
		}
	case []int16:
		for i, v := range t {
			dst[i] = float64(v)
		}
	case []int8:
		for i, v := range t {
			dst[i] = float64(v)
		}
	default:
		return fmt.Errorf("unsupported array element type %T", buf)
	}
	return nil
}
