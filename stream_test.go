package tpchbench

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hhkbp2/testify/require"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

const heavyQuery = "WITH RECURSIVE cnt(x) AS (SELECT 1 UNION ALL SELECT x+1 FROM cnt WHERE x < 300000) SELECT COUNT(*) FROM cnt"

func trivialQueries() []string {
	queries := make([]string, NumQueries)
	for i := range queries {
		queries[i] = "SELECT 1"
	}
	return queries
}

func zeroRoutes() []int {
	return make([]int, NumQueries)
}

func TestQueryTimesIndexedByCanonicalNumber(t *testing.T) {
	replica := sqliteReplica(0, "stream_canonical_test")
	anchor, err := sql.Open("sqlite3", replica.DataSourceName())
	require.Nil(t, err)
	defer anchor.Close()

	// Ordering 0 executes canonical query 14 first. If query times were
	// recorded by execution position, the heavy duration would land at
	// index 0 instead of index 13.
	queries := trivialQueries()
	queries[13] = heavyQuery
	require.Equal(t, 14, StreamOrder(0)[0])

	results := make(chan TimingSample, 1)
	stream := NewQueryStream(1, ModeThroughput, []*Replica{replica}, queries,
		zeroRoutes(), StreamOrder(0), nil, nil, 0, results)
	stream.Run()
	sample := <-results

	require.Nil(t, sample.Err)
	require.Equal(t, ModeThroughput, sample.Mode)
	require.True(t, sample.Start.IsZero())
	require.True(t, sample.End.IsZero())
	for i, d := range sample.QueryTimes {
		require.True(t, d > 0, "Q%d has no recorded duration", i+1)
		if i != 13 {
			require.True(t, sample.QueryTimes[13] > d,
				"heavy Q14 (%s) not slower than Q%d (%s)", sample.QueryTimes[13], i+1, d)
		}
	}
}

func TestPowerStreamSchedule(t *testing.T) {
	replica := sqliteReplica(0, "stream_power_test")
	anchor, err := sql.Open("sqlite3", replica.DataSourceName())
	require.Nil(t, err)
	defer anchor.Close()
	_, err = anchor.Exec("CREATE TABLE ORDERS (O_ORDERKEY INTEGER)")
	require.Nil(t, err)
	_, err = anchor.Exec("CREATE TABLE LINEITEM (L_ORDERKEY INTEGER)")
	require.Nil(t, err)

	rf1 := [][]RF1Order{{
		{Order: "INSERT INTO ORDERS VALUES (1)", LineItems: []string{"INSERT INTO LINEITEM VALUES (1)"}},
	}}
	rf2 := [][]string{{"1"}}

	results := make(chan TimingSample, 1)
	stream := NewQueryStream(0, ModePower, []*Replica{replica}, trivialQueries(),
		zeroRoutes(), StreamOrder(0), rf1, rf2, 0, results)
	stream.Run()
	sample := <-results

	require.Nil(t, sample.Err)
	require.Equal(t, ModePower, sample.Mode)
	require.False(t, sample.Start.IsZero())
	require.False(t, sample.End.Before(sample.Start))
	require.True(t, sample.RefreshTimes[0] > 0)
	require.True(t, sample.RefreshTimes[1] > 0)
	for i, d := range sample.QueryTimes {
		require.True(t, d > 0, "Q%d has no recorded duration", i+1)
	}
}

func TestRefreshStreamSchedule(t *testing.T) {
	replica := sqliteReplica(0, "stream_refresh_test")
	anchor, err := sql.Open("sqlite3", replica.DataSourceName())
	require.Nil(t, err)
	defer anchor.Close()
	_, err = anchor.Exec("CREATE TABLE ORDERS (O_ORDERKEY INTEGER)")
	require.Nil(t, err)
	_, err = anchor.Exec("CREATE TABLE LINEITEM (L_ORDERKEY INTEGER)")
	require.Nil(t, err)

	rf1 := [][]RF1Order{
		{{Order: "INSERT INTO ORDERS VALUES (1)"}},
		{{Order: "INSERT INTO ORDERS VALUES (2)"}},
	}
	rf2 := [][]string{{"1"}, {"2"}}

	results := make(chan TimingSample, 1)
	stream := NewQueryStream(3, ModeRefresh, []*Replica{replica}, nil, nil, nil, rf1, rf2, 0, results)
	stream.Run()
	sample := <-results

	require.Nil(t, sample.Err)
	require.Equal(t, ModeRefresh, sample.Mode)
	require.False(t, sample.Start.IsZero())
	require.False(t, sample.End.Before(sample.Start))
	for _, d := range sample.QueryTimes {
		require.Equal(t, time.Duration(0), d)
	}
	require.Equal(t, 0, countRows(t, anchor, "ORDERS"))
}

func TestStreamFailureStillEmitsSample(t *testing.T) {
	replica := sqliteReplica(0, "stream_failure_test")
	anchor, err := sql.Open("sqlite3", replica.DataSourceName())
	require.Nil(t, err)
	defer anchor.Close()

	queries := trivialQueries()
	queries[2] = "SELECT * FROM missing_table"

	results := make(chan TimingSample, 1)
	stream := NewQueryStream(1, ModeThroughput, []*Replica{replica}, queries,
		zeroRoutes(), StreamOrder(0), nil, nil, 0, results)
	stream.Run()
	sample := <-results

	require.NotNil(t, sample.Err)
	require.Equal(t, ModeThroughput, sample.Mode)
	require.Equal(t, 0, len(results))
}

func TestStreamStatementTimeout(t *testing.T) {
	replica := sqliteReplica(0, "stream_timeout_test")
	anchor, err := sql.Open("sqlite3", replica.DataSourceName())
	require.Nil(t, err)
	defer anchor.Close()

	queries := trivialQueries()
	queries[0] = heavyQuery

	results := make(chan TimingSample, 1)
	stream := NewQueryStream(1, ModeThroughput, []*Replica{replica}, queries,
		zeroRoutes(), StreamOrder(0), nil, nil, time.Millisecond, results)
	stream.Run()
	sample := <-results

	require.NotNil(t, sample.Err)
	require.True(t, errors.Is(sample.Err, context.DeadlineExceeded))
	require.Equal(t, ModeThroughput, sample.Mode)
	require.Equal(t, 0, len(results))
}

// Every query must reach exactly the replica its canonical index names in the
// routing table. Each canonical query's table exists only on its routed
// replica, so one misrouted statement fails the run.
func TestStreamRoutingProperty(t *testing.T) {
	r0 := sqliteReplica(0, "stream_route0_test")
	r1 := sqliteReplica(1, "stream_route1_test")
	anchor0, err := sql.Open("sqlite3", r0.DataSourceName())
	require.Nil(t, err)
	defer anchor0.Close()
	anchor1, err := sql.Open("sqlite3", r1.DataSourceName())
	require.Nil(t, err)
	defer anchor1.Close()
	anchors := []*sql.DB{anchor0, anchor1}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 15
	properties := gopter.NewProperties(parameters)

	properties.Property("queries only reach their routed replica", prop.ForAll(
		func(routes []int, streamNum int) bool {
			queries := make([]string, NumQueries)
			for i := 0; i < NumQueries; i++ {
				table := fmt.Sprintf("q%d", i+1)
				for _, anchor := range anchors {
					if _, err := anchor.Exec("DROP TABLE IF EXISTS " + table); err != nil {
						return false
					}
				}
				create := fmt.Sprintf("CREATE TABLE %s (x INTEGER)", table)
				if _, err := anchors[routes[i]].Exec(create); err != nil {
					return false
				}
				queries[i] = "SELECT * FROM " + table
			}

			results := make(chan TimingSample, 1)
			stream := NewQueryStream(streamNum, ModeThroughput, []*Replica{r0, r1},
				queries, routes, StreamOrder(streamNum), nil, nil, 0, results)
			stream.Run()
			sample := <-results
			if sample.Err != nil {
				return false
			}
			for _, d := range sample.QueryTimes {
				if d <= 0 {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(NumQueries, gen.IntRange(0, 1)),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}
