package tpchbench

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func ExitOnError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	fmt.Fprintln(os.Stderr)
	os.Exit(1)
}

// Main is the benchmark entry point: parse flags, generate and load the data,
// run both phases, print the results banner.
func Main() {
	scaleFactor := flag.Int("s", 10, "the TPC-H scale factor")
	dbgenDir := flag.String("g", PropertyDbgenDirDefault, "the path to the TPC-H tools dbgen directory")
	dataDir := flag.String("d", PropertyDataDirDefault, "the path where the generated data should be stored")
	replicasFile := flag.String("r", "replicas.csv", "the CSV file with replica connection details")
	indexFile := flag.String("i", "config.csv", "the path to the index configuration")
	routesFile := flag.String("t", "routes.csv", "the path to the routing table")
	queryStreams := flag.Int("q", 0, "number of query streams to run (0 = minimum for the scale factor)")
	driver := flag.String("driver", PropertyDriverDefault, "database driver: pgx, mysql or sqlite3")
	propertyFile := flag.String("P", "", "optional property file with extra settings")
	verbose := flag.Bool("v", false, "enable verbose log output")
	flag.Parse()

	SetupLogging(*verbose)

	props := NewProperties()
	if *propertyFile != "" {
		fromFile, err := LoadProperties(*propertyFile)
		if err != nil {
			ExitOnError("%s", err)
		}
		props.Merge(fromFile)
	}
	timeoutSecs, err := strconv.ParseInt(
		props.GetDefault(PropertyStatementTimeout, PropertyStatementTimeoutDefault), 0, 64)
	if err != nil {
		ExitOnError("invalid %s: %s", PropertyStatementTimeout, err)
	}
	timeout := time.Duration(SecondToNanosecond(timeoutSecs))

	replicas, err := LoadReplicas(*replicasFile, *driver)
	if err != nil {
		ExitOnError("%s", err)
	}
	indexes, err := LoadIndexConfig(*indexFile, len(replicas))
	if err != nil {
		ExitOnError("%s", err)
	}
	routes, err := LoadRoutes(*routesFile, len(replicas))
	if err != nil {
		ExitOnError("%s", err)
	}

	numStreams := *queryStreams
	if numStreams == 0 {
		numStreams = DefaultQueryStreams(*scaleFactor)
	}

	generator := NewGenerator(replicas, *dbgenDir, *dataDir, *scaleFactor, numStreams+1, timeout)

	Infof("generating TPC-H data, scale factor %d", *scaleFactor)
	if err := generator.Generate(); err != nil {
		ExitOnError("%s", err)
	}

	Infof("loading TPC-H data")
	queries, rf1Data, rf2Data, err := generator.Load()
	if err != nil {
		ExitOnError("%s", err)
	}

	benchmark, err := NewBenchmark(&BenchmarkConfig{
		Queries:          queries,
		RF1Data:          rf1Data,
		RF2Data:          rf2Data,
		Replicas:         replicas,
		Routes:           routes,
		Indexes:          indexes,
		NumStreams:       numStreams,
		ScaleFactor:      *scaleFactor,
		StatementTimeout: timeout,
		Properties:       props,
	})
	if err != nil {
		ExitOnError("%s", err)
	}

	if err := benchmark.CreateIndexes(); err != nil {
		ExitOnError("%s", err)
	}
	if err := benchmark.RunPowerTest(); err != nil {
		ExitOnError("%s", err)
	}
	if err := benchmark.RunThroughputTest(); err != nil {
		ExitOnError("%s", err)
	}

	results, err := benchmark.Results()
	if err != nil {
		ExitOnError("%s", err)
	}

	Infof(strings.Repeat("=", 30))
	Infof("TPC-H Performance Benchmark Results")
	Infof("")
	Infof("Power@Size       = %.3f", results.Power)
	Infof("Throughput@Size  = %.3f", results.Throughput)
	Infof("QphH@Size        = %.3f", results.QphH)
	Infof("")
	Infof("Scale factor: %d", results.ScaleFactor)
	Infof("Query latencies: %s", benchmark.QuerySummary())
	Infof("Completed at %s", FormatTimestamp(time.Now()))
	Infof(strings.Repeat("=", 30))
}
