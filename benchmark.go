package tpchbench

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// BenchmarkConfig carries everything the orchestrator needs. There is no
// process-wide mutable state: the configuration object is passed in once and
// the benchmark owns it from then on.
type BenchmarkConfig struct {
	// Queries holds the 22 fully substituted query texts in canonical order.
	Queries []string
	// RF1Data and RF2Data hold one refresh partition per stream index:
	// partition 0 feeds the power stream, partitions 1..NumStreams feed the
	// refresh stream's repetitions.
	RF1Data  [][]RF1Order
	RF2Data  [][]string
	Replicas []*Replica
	// Routes maps canonical query number (position+1) to a replica id.
	Routes []int
	// Indexes lists the indexes to create on each replica before the phases.
	Indexes [][]IndexSpec
	// NumStreams is the number of throughput query streams.
	NumStreams  int
	ScaleFactor int
	// StatementTimeout bounds every database call when non-zero. Zero keeps
	// the reference behavior: a hung call blocks its stream indefinitely.
	StatementTimeout time.Duration
	// Properties tunes the latency measurement; may be nil.
	Properties Properties
}

// Benchmark orchestrates the two phases: the power stream runs alone, then
// the throughput streams and the refresh stream run as concurrent units
// behind a full join barrier. Metrics exist only after both phases completed
// and all samples were drained from the result channel.
type Benchmark struct {
	config  *BenchmarkConfig
	results chan TimingSample

	powerStream       *QueryStream
	throughputStreams []*QueryStream
	refreshStream     *QueryStream

	measurement       *QueryMeasurement
	powerSample       *TimingSample
	throughputSamples []TimingSample
}

func NewBenchmark(config *BenchmarkConfig) (*Benchmark, error) {
	if len(config.Queries) != NumQueries {
		return nil, errors.Errorf("expected %d queries, got %d", NumQueries, len(config.Queries))
	}
	if err := ValidateRoutes(config.Routes, len(config.Replicas)); err != nil {
		return nil, err
	}
	if config.NumStreams < 1 {
		return nil, errors.Errorf("at least one throughput stream is required, got %d", config.NumStreams)
	}
	if len(config.RF1Data) < config.NumStreams+1 || len(config.RF2Data) < config.NumStreams+1 {
		return nil, errors.Errorf("need %d refresh partitions (power + one per throughput stream), got %d/%d",
			config.NumStreams+1, len(config.RF1Data), len(config.RF2Data))
	}

	// Buffered for every producer of both phases, so a stream's single send
	// can never block on the orchestrator draining late.
	results := make(chan TimingSample, config.NumStreams+2)

	power := NewQueryStream(0, ModePower, config.Replicas, config.Queries, config.Routes,
		StreamOrder(0), config.RF1Data[0:1], config.RF2Data[0:1], config.StatementTimeout, results)

	throughput := make([]*QueryStream, 0, config.NumStreams)
	for i := 1; i <= config.NumStreams; i++ {
		throughput = append(throughput, NewQueryStream(i, ModeThroughput, config.Replicas,
			config.Queries, config.Routes, StreamOrder(i), nil, nil, config.StatementTimeout, results))
	}

	refresh := NewQueryStream(config.NumStreams+1, ModeRefresh, config.Replicas, config.Queries,
		config.Routes, nil, config.RF1Data[1:config.NumStreams+1], config.RF2Data[1:config.NumStreams+1],
		config.StatementTimeout, results)

	return &Benchmark{
		config:            config,
		results:           results,
		powerStream:       power,
		throughputStreams: throughput,
		refreshStream:     refresh,
		measurement:       NewQueryMeasurement(config.Properties),
	}, nil
}

// CreateIndexes applies the configured index assignments to every replica
// over short-lived connections, before any timed phase.
func (self *Benchmark) CreateIndexes() error {
	Infof("creating indexes")
	created := 0
	for i, replica := range self.config.Replicas {
		if i >= len(self.config.Indexes) || len(self.config.Indexes[i]) == 0 {
			continue
		}
		conn, err := Connect(replica, self.config.StatementTimeout)
		if err != nil {
			return err
		}
		for _, index := range self.config.Indexes[i] {
			created++
			statement := fmt.Sprintf("CREATE INDEX idx_%d ON %s (%s)",
				created, index.Table, strings.Join(index.Columns, ", "))
			if err := conn.Exec(statement); err != nil {
				conn.Close()
				return errors.Wrapf(err, "create index on replica %d", replica.Id)
			}
		}
		if err := conn.Close(); err != nil {
			return err
		}
	}
	Infof("created %d indexes", created)
	return nil
}

// RunPowerTest runs the single power stream synchronously; no other stream
// runs concurrently, so its measurement reflects unshared capacity.
func (self *Benchmark) RunPowerTest() error {
	Infof("starting power test...")
	self.powerStream.Run()
	sample := <-self.results
	if sample.Err != nil {
		return errors.Wrap(sample.Err, "power stream")
	}
	self.powerSample = &sample
	self.measurement.MeasureSample(&sample)
	return nil
}

// RunThroughputTest starts all throughput streams and the refresh stream
// simultaneously, blocks until every unit has terminated, then drains exactly
// one sample per unit. A failed unit is surfaced by name; no metrics are
// produced from partial data.
func (self *Benchmark) RunThroughputTest() error {
	Infof("starting throughput test...")
	streams := make([]*QueryStream, 0, self.config.NumStreams+1)
	streams = append(streams, self.throughputStreams...)
	streams = append(streams, self.refreshStream)

	var wg sync.WaitGroup
	for _, stream := range streams {
		wg.Add(1)
		go func(s *QueryStream) {
			defer wg.Done()
			s.Run()
		}(stream)
	}
	wg.Wait()

	var failure error
	self.throughputSamples = make([]TimingSample, 0, len(streams))
	for i := 0; i < len(streams); i++ {
		sample := <-self.results
		if sample.Err != nil && failure == nil {
			failure = errors.Wrapf(sample.Err, "stream %d (%s)", sample.Num, sample.Mode)
		}
		self.throughputSamples = append(self.throughputSamples, sample)
	}
	if failure != nil {
		self.throughputSamples = nil
		return failure
	}
	for i := range self.throughputSamples {
		self.measurement.MeasureSample(&self.throughputSamples[i])
	}
	return nil
}

// Results reduces the collected samples to the three composite metrics.
func (self *Benchmark) Results() (*Results, error) {
	if self.powerSample == nil {
		return nil, errors.New("results requested before the power test completed")
	}
	if len(self.throughputSamples) != self.config.NumStreams+1 {
		return nil, errors.New("results requested before the throughput test completed")
	}
	power := PowerAtSize(self.powerSample.QueryTimes[:], self.powerSample.RefreshTimes[:], self.config.ScaleFactor)
	elapsed := ThroughputWindow(self.throughputSamples)
	throughput := ThroughputAtSize(self.config.NumStreams, elapsed, self.config.ScaleFactor)
	return &Results{
		ScaleFactor: self.config.ScaleFactor,
		Power:       power,
		Throughput:  throughput,
		QphH:        QphHAtSize(power, throughput),
	}, nil
}

// QuerySummary is the latency summary line over every measured query time.
func (self *Benchmark) QuerySummary() string {
	return self.measurement.GetSummary()
}
