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

// Command cubegen creates and inspects data cube directories. It is an
// external caller of the cube engine: ingestion requires a source provider
// and is driven programmatically via Cube.Update.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ctessum/cdf"
	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	esdl "github.com/csprh/esdl-core"
)

var (
	cfg    *viper.Viper
	logger = logrus.StandardLogger()
)

var root = &cobra.Command{
	Use:   "cubegen",
	Short: "cubegen creates and inspects data cube directories",
}

var newCmd = &cobra.Command{
	Use:   "new [directory]",
	Short: "create a new, empty data cube",
	Long: `new creates a data cube directory with the layout given by the
flags, ready for ingestion via the cube API.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := configFromFlags()
		if err != nil {
			return err
		}
		cube, err := esdl.Create(args[0], config)
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"dir":  cube.BaseDir(),
			"grid": fmt.Sprintf("%dx%d @ %g°", config.GridWidth, config.GridHeight, config.SpatialRes),
		}).Info("cube created")
		return cube.Close()
	},
}

var infoCmd = &cobra.Command{
	Use:   "info [directory]",
	Short: "print a data cube's layout and contents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cube, err := esdl.Open(args[0])
		if err != nil {
			return err
		}
		defer cube.Close()
		config := cube.Config()
		b := config.GeoBounds()
		fmt.Printf("cube %s\n", cube.BaseDir())
		fmt.Printf("  grid: %dx%d cells @ %g°, offset (%d,%d)\n",
			config.GridWidth, config.GridHeight, config.SpatialRes, config.GridX0, config.GridY0)
		fmt.Printf("  bounds: (%g,%g) to (%g,%g)\n", b.Min.X, b.Min.Y, b.Max.X, b.Max.Y)
		fmt.Printf("  temporal: %d days, %s, calendar %s\n",
			config.TemporalRes, config.TimeUnits(), config.Calendar)

		data, err := cube.Data()
		if err != nil {
			return err
		}
		for _, name := range data.VariableNames() {
			paths, err := filepath.Glob(filepath.Join(cube.BaseDir(), "data", name, "*.nc"))
			if err != nil {
				return err
			}
			var records int
			for _, path := range paths {
				n, err := partitionRecords(path)
				if err != nil {
					return err
				}
				records += n
			}
			fmt.Printf("  variable %s: %d partitions, %d records\n", name, len(paths), records)
		}
		return nil
	},
}

// partitionRecords returns the number of period records in one partition
// file.
func partitionRecords(path string) (int, error) {
	ff, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer ff.Close()
	f, err := cdf.Open(ff)
	if err != nil {
		return 0, fmt.Errorf("cubegen: reading partition %s: %v", path, err)
	}
	// The header reports the unlimited time dimension as 0; derive the
	// record count from the file size.
	fi, err := ff.Stat()
	if err != nil {
		return 0, err
	}
	return int(f.Header.NumRecs(fi.Size())), nil
}

// options binds the layout flags of the new command to viper, following a
// flag-per-config-field scheme.
var options = []struct {
	name       string
	usage      string
	defaultVal interface{}
}{
	{name: "spatial_res", usage: "grid cell size in degrees", defaultVal: 0.25},
	{name: "grid_x0", usage: "grid X offset in cells", defaultVal: 0},
	{name: "grid_y0", usage: "grid Y offset in cells", defaultVal: 0},
	{name: "grid_width", usage: "grid width in cells", defaultVal: 1440},
	{name: "grid_height", usage: "grid height in cells", defaultVal: 720},
	{name: "temporal_res", usage: "period length in days", defaultVal: 8},
	{name: "calendar", usage: "time axis calendar", defaultVal: "gregorian"},
	{name: "ref_time", usage: "time axis epoch (YYYY-MM-DD)", defaultVal: "2001-01-01"},
	{name: "start_time", usage: "ingestion start bound (YYYY-MM-DD, empty = unbounded)", defaultVal: ""},
	{name: "end_time", usage: "ingestion end bound (YYYY-MM-DD, empty = unbounded)", defaultVal: ""},
	{name: "variables", usage: "comma-separated variable allow-list", defaultVal: ""},
}

func configFromFlags() (*esdl.Config, error) {
	config := esdl.DefaultConfig()
	config.SpatialRes = cfg.GetFloat64("spatial_res")
	config.GridX0 = cfg.GetInt("grid_x0")
	config.GridY0 = cfg.GetInt("grid_y0")
	config.GridWidth = cfg.GetInt("grid_width")
	config.GridHeight = cfg.GetInt("grid_height")
	config.TemporalRes = cfg.GetInt("temporal_res")
	config.Calendar = cfg.GetString("calendar")

	ref, err := cast.ToTimeE(cfg.GetString("ref_time"))
	if err != nil {
		return nil, fmt.Errorf("cubegen: invalid ref_time: %v", err)
	}
	config.RefTime = ref
	config.StartTime, err = optionalTime(cfg.GetString("start_time"))
	if err != nil {
		return nil, fmt.Errorf("cubegen: invalid start_time: %v", err)
	}
	config.EndTime, err = optionalTime(cfg.GetString("end_time"))
	if err != nil {
		return nil, fmt.Errorf("cubegen: invalid end_time: %v", err)
	}
	if v := cfg.GetString("variables"); v != "" {
		config.Variables = strings.Split(v, ",")
	}
	return config, nil
}

// optionalTime parses s, with the empty string meaning unbounded (the zero
// time).
func optionalTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return cast.ToTimeE(s)
}

func init() {
	cfg = viper.New()
	for _, o := range options {
		switch v := o.defaultVal.(type) {
		case float64:
			newCmd.Flags().Float64(o.name, v, o.usage)
		case int:
			newCmd.Flags().Int(o.name, v, o.usage)
		case string:
			newCmd.Flags().String(o.name, v, o.usage)
		}
		cfg.BindPFlag(o.name, newCmd.Flags().Lookup(o.name))
	}
	root.AddCommand(newCmd, infoCmd)
}

func main() {
	if err := root.Execute(); err != nil {
		logger.Fatal(err)
	}
}
