package tpchbench

import (
	"math"
	"time"
)

const secondsPerHour = 3600

// throughputWindowFromRefreshStream pins the Throughput@Size elapsed window
// to the wall-clock bounds reported by the refresh stream. Throughput streams
// report no bounds, so pooling every non-power sample collapses to the same
// interval; this constant makes the rule explicit instead of emergent. TPC-H
// defines the measurement interval by the refresh stream, which spans the
// throughput phase, so both readings agree.
const throughputWindowFromRefreshStream = true

// Results holds the three composite metrics together with the scale factor
// they were computed under. None of them is valid before both phases have
// completed and every sample has been drained.
type Results struct {
	ScaleFactor int
	Power       float64
	Throughput  float64
	QphH        float64
}

// PowerAtSize computes Power@Size (clause 5.4.1): 3600*SF over the geometric
// mean of the 22 power query times and 2 refresh times, in seconds. The
// product is folded in log space so 24 durations cannot overflow a float64.
func PowerAtSize(queryTimes []time.Duration, refreshTimes []time.Duration, scaleFactor int) float64 {
	logSum := 0.0
	count := 0
	for _, d := range queryTimes {
		logSum += math.Log(d.Seconds())
		count++
	}
	for _, d := range refreshTimes {
		logSum += math.Log(d.Seconds())
		count++
	}
	geomean := math.Exp(logSum / float64(count))
	return secondsPerHour * float64(scaleFactor) / geomean
}

// ThroughputAtSize computes Throughput@Size (clause 5.4.2):
// (streams * 22 * 3600 * SF) / elapsed, with elapsed in seconds.
func ThroughputAtSize(numStreams int, elapsed time.Duration, scaleFactor int) float64 {
	return float64(numStreams*NumQueries*secondsPerHour) * float64(scaleFactor) / elapsed.Seconds()
}

// QphHAtSize is the composite metric: the geometric mean of the power and
// throughput metrics.
func QphHAtSize(power, throughput float64) float64 {
	return math.Sqrt(power * throughput)
}

// ThroughputWindow reduces the throughput-phase samples to the measurement
// interval, max(end) - min(start). Under the refresh-stream rule only the
// refresh sample contributes bounds; otherwise every sample with bounds is
// pooled. Samples without bounds (throughput streams) never contribute.
func ThroughputWindow(samples []TimingSample) time.Duration {
	var start, end time.Time
	for i := range samples {
		s := &samples[i]
		if throughputWindowFromRefreshStream && s.Mode != ModeRefresh {
			continue
		}
		if s.Start.IsZero() && s.End.IsZero() {
			continue
		}
		if start.IsZero() || s.Start.Before(start) {
			start = s.Start
		}
		if s.End.After(end) {
			end = s.End
		}
	}
	return end.Sub(start)
}
