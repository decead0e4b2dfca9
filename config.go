package tpchbench

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// NumQueries is the number of canonical queries in the benchmark.
const NumQueries = 22

const (
	// The TPC-H scale factor the data was generated under.
	PropertyScaleFactor        = "scalefactor"
	PropertyScaleFactorDefault = "10"
	// The number of throughput query streams. "0" means the clause 4.3.4
	// minimum for the scale factor.
	PropertyQueryStreams        = "querystreams"
	PropertyQueryStreamsDefault = "0"
	// The database driver used to reach every replica.
	// Options are "pgx", "mysql" and "sqlite3".
	PropertyDriver        = "driver"
	PropertyDriverDefault = "pgx"
	// Per-statement timeout in seconds. "0" leaves every statement untimed,
	// which is the reference behavior.
	PropertyStatementTimeout        = "statement.timeout"
	PropertyStatementTimeoutDefault = "0"

	// generator
	PropertyDbgenDir        = "dbgen.dir"
	PropertyDbgenDirDefault = "./tpc-h/dbgen"
	PropertyDataDir         = "data.dir"
	PropertyDataDirDefault  = "./data"

	// measurement
	// Percentile values reported in the per-query latency summary.
	PropertyPercentiles        = "hdrhistogram.percentiles"
	PropertyPercentilesDefault = "95,99"
	// Upper bound of the latency histogram, in microseconds.
	PropertyHdrHistogramMax        = "hdrhistogram.max"
	PropertyHdrHistogramMaxDefault = "3600000000"
	// Number of significant digits kept by the latency histogram.
	PropertyHdrHistogramSig        = "hdrhistogram.sig"
	PropertyHdrHistogramSigDefault = "3"
)

// IndexSpec is one index to create on a replica before the measured phases.
type IndexSpec struct {
	Table   string
	Columns []string
}

var tablesByColumnPrefix = map[string]string{
	"l":  "LINEITEM",
	"p":  "PART",
	"ps": "PARTSUPP",
	"o":  "ORDERS",
	"c":  "CUSTOMER",
	"n":  "NATION",
	"r":  "REGION",
	"s":  "SUPPLIER",
}

// TableFromColumnPrefix returns the benchmark table a column belongs to,
// based on the prefix attached to the column name (eg ps_suppkey -> PARTSUPP).
func TableFromColumnPrefix(column string) (string, error) {
	prefix := strings.SplitN(column, "_", 2)[0]
	table, ok := tablesByColumnPrefix[strings.ToLower(prefix)]
	if !ok {
		return "", errors.Errorf("unknown column prefix: %s", column)
	}
	return table, nil
}

// LoadReplicas reads the replica list, one
// `id,host,port,dbname,user,password` line per replica.
func LoadReplicas(path string, driver string) ([]*Replica, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	replicas := make([]*Replica, 0, len(lines))
	for _, line := range lines {
		fields := strings.Split(line, ",")
		if len(fields) != 6 {
			return nil, errors.Errorf("invalid replica line: %s", line)
		}
		id, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid replica id in line: %s", line)
		}
		replicas = append(replicas, &Replica{
			Id:       id,
			Host:     strings.TrimSpace(fields[1]),
			Port:     strings.TrimSpace(fields[2]),
			DBName:   strings.TrimSpace(fields[3]),
			User:     strings.TrimSpace(fields[4]),
			Password: strings.TrimSpace(fields[5]),
			Driver:   driver,
		})
	}
	if len(replicas) == 0 {
		return nil, errors.Errorf("no replicas in %s", path)
	}
	return replicas, nil
}

// LoadRoutes reads the routing table: a single line of 22 comma-separated
// replica ids, position i holding the target replica for canonical query i+1.
func LoadRoutes(path string, numReplicas int) ([]int, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, errors.Errorf("empty routing table %s", path)
	}
	fields := strings.Split(lines[0], ",")
	routes := make([]int, 0, len(fields))
	for _, f := range fields {
		r, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid route in %s", path)
		}
		routes = append(routes, r)
	}
	if err := ValidateRoutes(routes, numReplicas); err != nil {
		return nil, err
	}
	return routes, nil
}

// ValidateRoutes checks the routing table invariant: exactly one entry per
// canonical query, every entry a valid replica id.
func ValidateRoutes(routes []int, numReplicas int) error {
	if len(routes) != NumQueries {
		return errors.Errorf("routing table must have %d entries, got %d", NumQueries, len(routes))
	}
	for i, r := range routes {
		if r < 0 || r >= numReplicas {
			return errors.Errorf("route for Q%d names unknown replica %d", i+1, r)
		}
	}
	return nil
}

// LoadIndexConfig reads the index assignments, one `replica,column[,column...]`
// line per index, grouped by target replica.
func LoadIndexConfig(path string, numReplicas int) ([][]IndexSpec, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	indexes := make([][]IndexSpec, numReplicas)
	for _, line := range lines {
		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			return nil, errors.Errorf("invalid index line: %s", line)
		}
		replica, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid replica id in index line: %s", line)
		}
		if replica < 0 || replica >= numReplicas {
			return nil, errors.Errorf("index line names unknown replica %d", replica)
		}
		columns := make([]string, 0, len(fields)-1)
		for _, c := range fields[1:] {
			columns = append(columns, strings.TrimSpace(c))
		}
		table, err := TableFromColumnPrefix(columns[0])
		if err != nil {
			return nil, err
		}
		indexes[replica] = append(indexes[replica], IndexSpec{
			Table:   table,
			Columns: columns,
		})
	}
	return indexes, nil
}

// DefaultQueryStreams returns the minimum number of throughput streams the
// benchmark requires for a scale factor (clause 4.3.4).
func DefaultQueryStreams(scaleFactor int) int {
	switch {
	case scaleFactor < 10:
		return 2
	case scaleFactor < 30:
		return 3
	case scaleFactor < 100:
		return 4
	case scaleFactor < 300:
		return 5
	case scaleFactor < 1000:
		return 6
	case scaleFactor < 3000:
		return 7
	case scaleFactor < 10000:
		return 8
	case scaleFactor < 30000:
		return 9
	case scaleFactor < 100000:
		return 10
	default:
		return 11
	}
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return lines, nil
}
