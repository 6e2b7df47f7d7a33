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

// Package esdl implements a gridded, time-indexed array store assembled
// from heterogeneous scientific source datasets. A cube is a directory of
// year-partitioned NetCDF files, one per (year, variable), sharing a fixed
// spatial grid and temporal resolution described by a Config. Data enters
// the cube through Cube.Update, which pulls period-aligned images from a
// SourceProvider; it is read back through CubeData, which concatenates the
// partitions of each variable into one virtual time axis.
package esdl

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrCubeClosed is returned when an operation is attempted on a cube that
// has been closed.
var ErrCubeClosed = errors.New("esdl: cube has been closed")

const (
	configFileName    = "cube.config"
	changelogFileName = "CHANGELOG"
)

// Cube is a data cube rooted at a base directory. Obtain instances through
// Create or Open.
type Cube struct {
	baseDir string
	config  *Config
	closed  bool
	data    *CubeData

	// Logger receives progress and warning output from update sessions;
	// nil means the standard logger.
	Logger *logrus.Logger
}

// Create makes a new data cube at baseDir, which must not exist yet, and
// stores the configuration in it. Use Update to add data.
func Create(baseDir string, config *Config) (*Cube, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(baseDir); err == nil {
		return nil, fmt.Errorf("esdl: data cube base directory exists: %s", baseDir)
	}
	if err := os.Mkdir(baseDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("esdl: creating data cube base directory: %v", err)
	}
	if err := config.Store(filepath.Join(baseDir, configFileName)); err != nil {
		return nil, err
	}
	changelog := fmt.Sprintf("created %s\n", time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(filepath.Join(baseDir, changelogFileName), []byte(changelog), 0644); err != nil {
		return nil, fmt.Errorf("esdl: writing cube changelog: %v", err)
	}
	return &Cube{baseDir: baseDir, config: config}, nil
}

// Open opens the existing data cube at baseDir.
func Open(baseDir string) (*Cube, error) {
	if _, err := os.Stat(baseDir); err != nil {
		return nil, fmt.Errorf("esdl: data cube base directory does not exist: %s", baseDir)
	}
	config, err := LoadConfig(filepath.Join(baseDir, configFileName))
	if err != nil {
		return nil, err
	}
	return &Cube{baseDir: baseDir, config: config}, nil
}

// BaseDir returns the cube's base directory.
func (c *Cube) BaseDir() string { return c.baseDir }

// Config returns the cube's layout configuration. Callers must treat it as
// read-only.
func (c *Cube) Config() *Config { return c.config }

// Closed reports whether the cube has been closed.
func (c *Cube) Closed() bool { return c.closed }

// Data returns the cube's read side, opening it on first call. The returned
// CubeData is owned by the cube and released by Close.
func (c *Cube) Data() (*CubeData, error) {
	if c.closed {
		return nil, ErrCubeClosed
	}
	if c.data == nil {
		d, err := newCubeData(c)
		if err != nil {
			return nil, err
		}
		c.data = d
	}
	return c.data, nil
}

// Close releases the cube's read views, if any. A closed cube cannot be
// updated or read again.
func (c *Cube) Close() error {
	var err error
	if c.data != nil {
		err = c.data.Close()
		c.data = nil
	}
	c.closed = true
	return err
}

func (c *Cube) logger() *logrus.Logger {
	if c.Logger == nil {
		return logrus.StandardLogger()
	}
	return c.Logger
}

// Update ingests source data from provider into the cube. It iterates the
// aggregation periods of every calendar year inside the intersection of the
// provider's temporal coverage and the configured start/end bounds,
// requests one image per variable and period, and appends each image to the
// (year, variable) partition. Periods already present in the cube are
// appended again, not replaced: providers are expected to be deterministic,
// and no dedup key exists on the time axis.
//
// The provider's Prepare and Close methods are called exactly once, and
// every partition opened by the session is closed before Update returns,
// also on error paths.
func (c *Cube) Update(provider SourceProvider) error {
	if c.closed {
		return ErrCubeClosed
	}
	if err := provider.Prepare(); err != nil {
		return fmt.Errorf("esdl: preparing provider %s: %v", provider.Name(), err)
	}

	targetStart, targetEnd := provider.TemporalCoverage()
	if !c.config.StartTime.IsZero() && c.config.StartTime.After(targetStart) {
		targetStart = c.config.StartTime
	}
	if !c.config.EndTime.IsZero() && c.config.EndTime.Before(targetEnd) {
		targetEnd = c.config.EndTime
	}

	session := newWriteSession(c.config, c.baseDir, c.logger())
	updateErr := c.updatePeriods(session, provider, targetStart, targetEnd)

	closeErr := session.closeAll()
	providerErr := provider.Close()
	if providerErr != nil {
		providerErr = fmt.Errorf("esdl: closing provider %s: %v", provider.Name(), providerErr)
	}
	for _, err := range []error{updateErr, closeErr, providerErr} {
		if err != nil {
			return err
		}
	}
	return nil
}

// updatePeriods walks the period grid of every year overlapping the target
// window and persists the images the provider computes for each overlapping
// period.
func (c *Cube) updatePeriods(session *writeSession, provider SourceProvider, targetStart, targetEnd time.Time) error {
	for year := targetStart.Year(); year <= targetEnd.Year(); year++ {
		for _, period := range yearPeriods(year, c.config.TemporalRes) {
			weight := TemporalWeight(period.Start, period.End, targetStart, targetEnd)
			if weight <= 0 {
				continue
			}
			images, err := provider.ComputeVariableImages(period.Start, period.End)
			if err != nil {
				return fmt.Errorf("esdl: provider %s: period %v to %v: %v",
					provider.Name(), period.Start, period.End, err)
			}
			if len(images) == 0 {
				continue
			}
			c.logger().WithFields(logrus.Fields{
				"provider":     provider.Name(),
				"period_start": period.Start,
				"period_end":   period.End,
				"variables":    len(images),
			}).Info("writing images")
			names := make([]string, 0, len(images))
			for name := range images {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				image := images[name]
				if image == nil {
					continue
				}
				if err := session.writeImage(provider, period.Start, period.End, name, image); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
