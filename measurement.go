package tpchbench

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/codahale/hdrhistogram"
	"github.com/hhkbp2/go-strftime"
)

// QueryMeasurement maintains an HdrHistogram of individual query latencies
// across every stream, for the summary line printed next to the composite
// metrics. Latencies are recorded in microseconds.
type QueryMeasurement struct {
	histogram   *hdrhistogram.Histogram
	percentiles []int64
	lock        *sync.Mutex
}

func parsePercentileValues(prop, defaultValue string) []int64 {
	parts := strings.Split(prop, ",")
	ret := make([]int64, 0, len(parts))
	for _, p := range parts {
		i, err := strconv.ParseInt(p, 0, 64)
		if err != nil {
			return parsePercentileValues(defaultValue, defaultValue)
		}
		ret = append(ret, i)
	}
	return ret
}

func NewQueryMeasurement(props Properties) *QueryMeasurement {
	if props == nil {
		props = NewProperties()
	}
	percentiles := parsePercentileValues(
		props.GetDefault(PropertyPercentiles, PropertyPercentilesDefault),
		PropertyPercentilesDefault)
	max, err := strconv.ParseInt(
		props.GetDefault(PropertyHdrHistogramMax, PropertyHdrHistogramMaxDefault), 0, 64)
	if err != nil {
		max, _ = strconv.ParseInt(PropertyHdrHistogramMaxDefault, 0, 64)
	}
	sig, err := strconv.ParseInt(
		props.GetDefault(PropertyHdrHistogramSig, PropertyHdrHistogramSigDefault), 0, 64)
	if err != nil {
		sig, _ = strconv.ParseInt(PropertyHdrHistogramSigDefault, 0, 64)
	}
	return &QueryMeasurement{
		histogram:   hdrhistogram.New(1, max, int(sig)),
		percentiles: percentiles,
		lock:        &sync.Mutex{},
	}
}

func (self *QueryMeasurement) Measure(latency int64) {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.histogram.RecordValue(latency)
}

// MeasureSample records every populated query time of a finalized sample.
func (self *QueryMeasurement) MeasureSample(sample *TimingSample) {
	for _, d := range sample.QueryTimes {
		if d > 0 {
			self.Measure(NanosecondToMicrosecond(int64(d)))
		}
	}
}

func (self *QueryMeasurement) GetSummary() string {
	self.lock.Lock()
	defer self.lock.Unlock()
	var buf strings.Builder
	fmt.Fprintf(&buf, "[QUERY: Count=%d, Max=%d, Min=%d, Avg=%g",
		self.histogram.TotalCount(),
		self.histogram.Max(),
		self.histogram.Min(),
		self.histogram.Mean())
	for _, p := range self.percentiles {
		fmt.Fprintf(&buf, ", %d=%d", p, self.histogram.ValueAtQuantile(float64(p)))
	}
	buf.WriteString("] (us)")
	return buf.String()
}

// FormatTimestamp renders a report timestamp for the results banner.
func FormatTimestamp(t time.Time) string {
	return strftime.Format("%Y-%m-%d %H:%M:%S", t)
}
