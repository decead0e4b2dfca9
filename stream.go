package tpchbench

import (
	"time"

	"github.com/pkg/errors"
)

type StreamMode uint8

const (
	ModePower StreamMode = 1 + iota
	ModeThroughput
	ModeRefresh
)

func (self StreamMode) String() string {
	switch self {
	case ModePower:
		return "power"
	case ModeThroughput:
		return "throughput"
	case ModeRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

// TimingSample is the one result a query stream emits when it finalizes.
// QueryTimes is indexed by canonical query number (position i holds Qi+1),
// not by execution order. Start/End are set only where the role applies:
// power and refresh streams set them from refresh-pair bounds, throughput
// streams leave them zero. A stream that dies carries its error here so the
// orchestrator's join barrier still completes and can name the failed unit.
type TimingSample struct {
	Mode         StreamMode
	Num          int
	Start        time.Time
	End          time.Time
	QueryTimes   [NumQueries]time.Duration
	RefreshTimes [2]time.Duration
	Err          error
}

type refreshResult struct {
	span TimeSpan
	err  error
}

// QueryStream runs one benchmark stream to completion and reports exactly one
// TimingSample on the shared result channel. Within a stream, operations run
// strictly in the order given by its permutation and refresh schedule; the
// only concurrency a stream creates itself is the per-replica fan-out of a
// refresh function.
type QueryStream struct {
	num      int
	mode     StreamMode
	replicas []*Replica
	queries  []string
	routes   []int
	order    []int
	// refreshPairs[i] holds one pair per replica for repetition i:
	// one entry for power, zero for throughput, one per throughput stream
	// for the refresh stream.
	refreshPairs [][]*RefreshPair
	timeout      time.Duration
	results      chan<- TimingSample

	connections []*Connection
	sample      TimingSample
}

// NewQueryStream builds a stream for one role. rf1Data and rf2Data hold this
// stream's slices of the refresh data, one per refresh-pair repetition; both
// may be empty for throughput streams. order is unused for refresh streams.
func NewQueryStream(num int, mode StreamMode, replicas []*Replica, queries []string,
	routes []int, order []int, rf1Data [][]RF1Order, rf2Data [][]string,
	timeout time.Duration, results chan<- TimingSample) *QueryStream {

	refreshPairs := make([][]*RefreshPair, len(rf1Data))
	for i := range rf1Data {
		pairs := make([]*RefreshPair, 0, len(replicas))
		for _, replica := range replicas {
			pairs = append(pairs, NewRefreshPair(num, replica, rf1Data[i], rf2Data[i], timeout))
		}
		refreshPairs[i] = pairs
	}
	return &QueryStream{
		num:          num,
		mode:         mode,
		replicas:     replicas,
		queries:      queries,
		routes:       routes,
		order:        order,
		refreshPairs: refreshPairs,
		timeout:      timeout,
		results:      results,
	}
}

// Run drives the stream through its role's schedule and always finalizes:
// connections are released and the timing sample is emitted exactly once,
// carrying the error if the stream died.
func (self *QueryStream) Run() {
	self.sample.Mode = self.mode
	self.sample.Num = self.num
	if err := self.execute(); err != nil {
		Errorf("query stream %d (%s) failed: %s", self.num, self.mode, err)
		self.sample.Err = err
	}
	self.finalize()
}

func (self *QueryStream) execute() error {
	switch self.mode {
	case ModePower:
		if err := self.openConnections(); err != nil {
			return err
		}
		if err := self.runRefreshFunction1(0); err != nil {
			return err
		}
		if err := self.runQuerySet(); err != nil {
			return err
		}
		return self.runRefreshFunction2(0)
	case ModeThroughput:
		if err := self.openConnections(); err != nil {
			return err
		}
		return self.runQuerySet()
	case ModeRefresh:
		for i := range self.refreshPairs {
			if err := self.runRefreshFunction1(i); err != nil {
				return err
			}
			if err := self.runRefreshFunction2(i); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.Errorf("unknown stream mode %d", self.mode)
	}
}

// openConnections opens this stream's own handle to every replica. Refresh
// streams never call it: refresh pairs open per-invocation connections.
func (self *QueryStream) openConnections() error {
	self.connections = make([]*Connection, len(self.replicas))
	for i, replica := range self.replicas {
		conn, err := Connect(replica, self.timeout)
		if err != nil {
			return err
		}
		self.connections[i] = conn
	}
	return nil
}

func (self *QueryStream) runQuerySet() error {
	for i := 0; i < NumQueries; i++ {
		canonical := self.order[i] - 1
		replica := self.routes[canonical]
		tic := time.Now()
		err := self.connections[replica].Query(self.queries[canonical])
		toc := time.Now()
		if err != nil {
			return errors.Wrapf(err, "QS%d:Q%d", self.num, canonical+1)
		}
		Debugf("QS%d:Q%d : %.2fs", self.num, canonical+1, toc.Sub(tic).Seconds())
		self.sample.QueryTimes[canonical] = toc.Sub(tic)
	}
	return nil
}

func (self *QueryStream) runRefreshFunction1(i int) error {
	Debugf("starting refresh function #1 in query stream %d:I%d", self.num, i)
	span, err := self.runRefreshPairs(self.refreshPairs[i], (*RefreshPair).RunInserts)
	if err != nil {
		return err
	}
	Debugf("QS%d:I%d:RF1 : %.2fs", self.num, i, span.End.Sub(span.Start).Seconds())
	if self.sample.Start.IsZero() {
		self.sample.Start = span.Start
	}
	self.sample.RefreshTimes[0] = span.End.Sub(span.Start)
	return nil
}

func (self *QueryStream) runRefreshFunction2(i int) error {
	Debugf("starting refresh function #2 in query stream %d:I%d", self.num, i)
	span, err := self.runRefreshPairs(self.refreshPairs[i], (*RefreshPair).RunDeletes)
	if err != nil {
		return err
	}
	Debugf("QS%d:I%d:RF2 : %.2fs", self.num, i, span.End.Sub(span.Start).Seconds())
	self.sample.End = span.End
	self.sample.RefreshTimes[1] = span.End.Sub(span.Start)
	return nil
}

// runRefreshPairs fans one repetition out to every replica concurrently and
// joins them all before returning the pooled bounds: earliest start, latest
// end. All results are drained even on failure so no goroutine is left
// blocked on the channel.
func (self *QueryStream) runRefreshPairs(pairs []*RefreshPair, run func(*RefreshPair) (TimeSpan, error)) (TimeSpan, error) {
	results := make(chan refreshResult, len(pairs))
	for _, pair := range pairs {
		go func(p *RefreshPair) {
			span, err := run(p)
			results <- refreshResult{span: span, err: err}
		}(pair)
	}
	var span TimeSpan
	var failure error
	for i := 0; i < len(pairs); i++ {
		r := <-results
		if r.err != nil {
			if failure == nil {
				failure = r.err
			}
			continue
		}
		if span.Start.IsZero() || r.span.Start.Before(span.Start) {
			span.Start = r.span.Start
		}
		if r.span.End.After(span.End) {
			span.End = r.span.End
		}
	}
	if failure != nil {
		return TimeSpan{}, failure
	}
	return span, nil
}

func (self *QueryStream) finalize() {
	for _, conn := range self.connections {
		if conn != nil {
			conn.Close()
		}
	}
	self.results <- self.sample
}
