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
	"math"
	"time"
)

// Period is one half-open aggregation interval [Start, End) on the cube's
// time axis.
type Period struct {
	Start, End time.Time
}

// yearPeriods generates the aggregation periods of one calendar year:
// ceil(365/temporalRes) periods of temporalRes days starting at Jan 1,
// the last one clipped so it never crosses into the following year.
// Periods never overlap and together cover the full year.
func yearPeriods(year, temporalRes int) []Period {
	yearStart := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	yearEnd := time.Date(year+1, 1, 1, 0, 0, 0, 0, time.UTC)
	n := int(math.Ceil(365 / float64(temporalRes)))
	step := time.Duration(temporalRes) * 24 * time.Hour
	periods := make([]Period, 0, n)
	t1 := yearStart
	for i := 0; i < n; i++ {
		t2 := t1.Add(step)
		if t2.After(yearEnd) {
			t2 = yearEnd
		}
		periods = append(periods, Period{Start: t1, End: t2})
		t1 = t2
	}
	return periods
}

// TemporalWeight returns the fraction of the source interval
// [sourceStart, sourceEnd) that falls inside the target interval
// [targetStart, targetEnd). It is 0 if the intervals are disjoint and 1 if
// the source lies entirely within the target.
func TemporalWeight(sourceStart, sourceEnd, targetStart, targetEnd time.Time) float64 {
	o := overlapSeconds(sourceStart, sourceEnd, targetStart, targetEnd)
	if o <= 0 {
		return 0
	}
	return o / sourceEnd.Sub(sourceStart).Seconds()
}

// overlapSeconds returns the length in seconds of the intersection of the
// half-open intervals [a,b) and [c,d), or 0 if they are disjoint.
func overlapSeconds(a, b, c, d time.Time) float64 {
	lo := a
	if c.After(lo) {
		lo = c
	}
	hi := b
	if d.Before(hi) {
		hi = d
	}
	s := hi.Sub(lo).Seconds()
	if s < 0 {
		return 0
	}
	return s
}
