package planning

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/signalsfoundry/engagement-simulator/core"
)

// ErrNoLaunchData is returned when a launch table has no usable rows.
var ErrNoLaunchData = errors.New("no launch angle data points")

// LaunchAngleInput locates a target relative to the launcher, ignoring
// azimuth.
type LaunchAngleInput struct {
	// Distance is the horizontal distance in metres.
	Distance float64
	// Altitude is the height above the launcher in metres.
	Altitude float64
}

// LaunchAngleOutput is a table answer.
type LaunchAngleOutput struct {
	// LaunchAngle is measured from the horizon in degrees.
	LaunchAngle float64
	// TimeToPosition is the interceptor's flight time in seconds.
	TimeToPosition float64
}

// DataPoint is one row of a launch table.
type DataPoint struct {
	Input  LaunchAngleInput
	Output LaunchAngleOutput
}

// TableSource produces launch table rows.
type TableSource func() ([]DataPoint, error)

// LoadLaunchTable parses CSV rows of distance, altitude, launch angle and
// time to position. Blank lines, '#' comments and rows that do not parse as
// four numbers (such as a header) are skipped.
func LoadLaunchTable(r io.Reader) ([]DataPoint, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var points []DataPoint
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("LoadLaunchTable: read failed: %w", err)
		}
		values, ok := parseRow(rec)
		if !ok {
			continue
		}
		points = append(points, DataPoint{
			Input:  LaunchAngleInput{Distance: values[0], Altitude: values[1]},
			Output: LaunchAngleOutput{LaunchAngle: values[2], TimeToPosition: values[3]},
		})
	}
	if len(points) == 0 {
		return nil, ErrNoLaunchData
	}
	return points, nil
}

func parseRow(rec []string) ([4]float64, bool) {
	var out [4]float64
	if len(rec) < len(out) {
		return out, false
	}
	for i := range out {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil {
			return out, false
		}
		out[i] = v
	}
	return out, true
}

// CSVFile reads a launch table from path.
func CSVFile(path string) TableSource {
	return func() ([]DataPoint, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open launch table %q: %w", path, err)
		}
		defer f.Close()
		points, err := LoadLaunchTable(f)
		if err != nil {
			return nil, fmt.Errorf("launch table %q: %w", path, err)
		}
		return points, nil
	}
}

// Points serves a fixed set of rows.
func Points(points []DataPoint) TableSource {
	return func() ([]DataPoint, error) {
		if len(points) == 0 {
			return nil, ErrNoLaunchData
		}
		return points, nil
	}
}

// LazyTable loads its source on first use and shares the indexed result, or
// the load error, with every later caller.
type LazyTable struct {
	load func() (*NearestNeighborInterpolator2D, error)
}

// NewLazyTable wraps src. Nothing is read until the first planner is built.
func NewLazyTable(src TableSource) *LazyTable {
	return &LazyTable{load: sync.OnceValues(func() (*NearestNeighborInterpolator2D, error) {
		if src == nil {
			return nil, ErrNoLaunchData
		}
		points, err := src()
		if err != nil {
			return nil, err
		}
		if len(points) == 0 {
			return nil, ErrNoLaunchData
		}
		samples := make([]Sample, len(points))
		for i, p := range points {
			samples[i] = Sample{
				At:     Point2{p.Input.Distance, p.Input.Altitude},
				Values: []float64{p.Output.LaunchAngle, p.Output.TimeToPosition},
			}
		}
		return NewNearestNeighborInterpolator2D(samples), nil
	})}
}

// Interpolator returns the shared index.
func (t *LazyTable) Interpolator() (*NearestNeighborInterpolator2D, error) {
	return t.load()
}

// StraightLineTable generates a grid of rows for an interceptor that flies
// straight at the target at a constant average speed. It stands in for a
// measured table when none is configured.
func StraightLineTable(speed, maxDistance, maxAltitude, step float64) TableSource {
	return func() ([]DataPoint, error) {
		if speed <= 0 || step <= 0 || maxDistance < 0 || maxAltitude < 0 {
			return nil, ErrNoLaunchData
		}
		var points []DataPoint
		for d := 0.0; d <= maxDistance; d += step {
			for h := 0.0; h <= maxAltitude; h += step {
				points = append(points, DataPoint{
					Input: LaunchAngleInput{Distance: d, Altitude: h},
					Output: LaunchAngleOutput{
						LaunchAngle:    core.Rad2Deg(math.Atan2(h, d)),
						TimeToPosition: math.Hypot(d, h) / speed,
					},
				})
			}
		}
		return points, nil
	}
}
