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
	"time"

	"github.com/ctessum/sparse"
	"github.com/gonum/floats"
	"github.com/sirupsen/logrus"
)

// Supported variable data types. The value names the element type of the
// persisted array.
const (
	TypeFloat32 = "float32"
	TypeFloat64 = "float64"
	TypeInt8    = "int8"
	TypeInt16   = "int16"
	TypeInt32   = "int32"
)

// VariableDescriptor describes one variable a source provider produces.
// DataType and FillValue are mandatory; ScaleFactor and AddOffset default to
// 1 and 0 respectively and, together with any additional Attributes, are
// recorded as metadata on the persisted variable.
type VariableDescriptor struct {
	DataType    string
	FillValue   float64
	ScaleFactor float64
	AddOffset   float64
	Attributes  map[string]interface{}
}

// scale returns the effective scale factor; the zero value means the
// default of 1.
func (d VariableDescriptor) scale() float64 {
	if d.ScaleFactor == 0 {
		return 1
	}
	return d.ScaleFactor
}

// SourceProvider is the contract between the cube and an external data
// source. Cube.Update drives a provider through exactly one
// Prepare … ComputeVariableImages … Close cycle.
type SourceProvider interface {
	// Name identifies the provider in log output.
	Name() string

	// Prepare performs one-time setup such as enumerating source files.
	// It is called exactly once, before any other method.
	Prepare() error

	// TemporalCoverage returns the inclusive start and exclusive end of the
	// available source time.
	TemporalCoverage() (start, end time.Time)

	// SpatialCoverage returns the provider's output rectangle (x, y, width,
	// height) in the cube's grid coordinates. It may be a sub-window of the
	// full cube grid.
	SpatialCoverage() (x, y, width, height int)

	// VariableDescriptors maps each provided variable name to its
	// descriptor.
	VariableDescriptors() map[string]VariableDescriptor

	// ComputeVariableImages produces one image of shape (height, width) per
	// variable for the half-open target period. It returns a nil map if no
	// data exists for the period, and must be deterministic with respect to
	// the period bounds.
	ComputeVariableImages(periodStart, periodEnd time.Time) (map[string]*sparse.DenseArray, error)

	// Close releases the provider's resources. It is called exactly once,
	// after the last image request.
	Close() error
}

// TimeRange is the temporal extent [Start, End) of one source granule.
type TimeRange struct {
	Start, End time.Time
}

// TemporalWeights computes, for every source range overlapping the target
// period [periodStart, periodEnd), the fraction of that range's duration
// falling inside the period. Non-overlapping sources are omitted; an empty
// map means no source contributes to the period.
func TemporalWeights(sources []TimeRange, periodStart, periodEnd time.Time) map[int]float64 {
	weights := make(map[int]float64)
	for i, r := range sources {
		if w := TemporalWeight(r.Start, r.End, periodStart, periodEnd); w > 0 {
			weights[i] = w
		}
	}
	return weights
}

// WeightedSource is the capability a provider supplies to reuse the
// overlap-weighted resampling of WeightedAverager. SourceTimeRanges must
// return a sorted list, precomputed in the provider's Prepare method.
type WeightedSource interface {
	// SourceTimeRanges returns the time range of every source granule,
	// sorted by start time.
	SourceTimeRanges() []TimeRange

	// ComputeVariableImagesFromSources combines the source arrays at the
	// given indices into one image per variable using the given weights.
	// The indices are guaranteed to point into SourceTimeRanges.
	ComputeVariableImagesFromSources(indexToWeight map[int]float64) (map[string]*sparse.DenseArray, error)
}

// WeightedAverager implements the TemporalCoverage and
// ComputeVariableImages parts of SourceProvider by overlap-weighted
// temporal resampling over the granules of a WeightedSource. Providers
// embed it and implement the remaining SourceProvider methods plus the
// WeightedSource capability themselves.
type WeightedAverager struct {
	Source WeightedSource

	// Logger receives progress output; nil means the standard logger.
	Logger *logrus.Logger
}

func (w *WeightedAverager) logger() *logrus.Logger {
	if w.Logger == nil {
		return logrus.StandardLogger()
	}
	return w.Logger
}

// TemporalCoverage derives the provider's coverage from its source time
// ranges: the start of the first and the end of the last granule.
func (w *WeightedAverager) TemporalCoverage() (time.Time, time.Time) {
	ranges := w.Source.SourceTimeRanges()
	if len(ranges) == 0 {
		return time.Time{}, time.Time{}
	}
	return ranges[0].Start, ranges[len(ranges)-1].End
}

// ComputeVariableImages weights every overlapping source granule against
// the target period and delegates the array combination to the
// WeightedSource. It returns a nil map when no granule overlaps the period.
func (w *WeightedAverager) ComputeVariableImages(periodStart, periodEnd time.Time) (map[string]*sparse.DenseArray, error) {
	ranges := w.Source.SourceTimeRanges()
	if len(ranges) == 0 {
		return nil, nil
	}
	weights := TemporalWeights(ranges, periodStart, periodEnd)
	if len(weights) == 0 {
		return nil, nil
	}
	w.logger().WithFields(logrus.Fields{
		"period_start": periodStart,
		"period_end":   periodEnd,
		"sources":      len(weights),
	}).Debug("computing images")
	t0 := time.Now()
	images, err := w.Source.ComputeVariableImagesFromSources(weights)
	if err != nil {
		return nil, fmt.Errorf("esdl: computing images for period %v to %v: %v", periodStart, periodEnd, err)
	}
	w.logger().WithFields(logrus.Fields{
		"period_start": periodStart,
		"variables":    len(images),
		"elapsed":      time.Since(t0),
	}).Debug("images computed")
	return images, nil
}

// WeightedMean combines the given equally-shaped arrays into their weighted
// mean. Cells that are NaN in a source array are excluded from that cell's
// mean; a cell that is NaN in every source stays NaN.
func WeightedMean(arrays []*sparse.DenseArray, weights []float64) *sparse.DenseArray {
	if len(arrays) != len(weights) {
		panic(fmt.Errorf("esdl: weighted mean: %d arrays but %d weights", len(arrays), len(weights)))
	}
	out := sparse.ZerosDense(arrays[0].Shape...)
	hasNaN := false
	for _, a := range arrays {
		if floats.HasNaN(a.Elements) {
			hasNaN = true
			break
		}
	}
	if !hasNaN {
		var wtot float64
		for i, a := range arrays {
			floats.AddScaled(out.Elements, weights[i], a.Elements)
			wtot += weights[i]
		}
		floats.Scale(1/wtot, out.Elements)
		return out
	}
	wtot := make([]float64, len(out.Elements))
	for i, a := range arrays {
		for j, v := range a.Elements {
			if v == v { // not NaN
				out.Elements[j] += weights[i] * v
				wtot[j] += weights[i]
			}
		}
	}
	for j := range out.Elements {
		if wtot[j] > 0 {
			out.Elements[j] /= wtot[j]
		} else {
			out.Elements[j] = math.NaN()
		}
	}
	return out
}
