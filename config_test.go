package tpchbench

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hhkbp2/testify/require"
)

func writeTempFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	err := os.WriteFile(path, []byte(content), 0644)
	require.Nil(t, err)
	return path
}

func TestLoadReplicas(t *testing.T) {
	path := writeTempFile(t, "replicas.csv",
		"0,db0.internal,5432,tpch,bench,secret\n"+
			"1,db1.internal,5433,tpch,bench,secret\n")
	replicas, err := LoadReplicas(path, "pgx")
	require.Nil(t, err)
	require.Equal(t, 2, len(replicas))
	require.Equal(t, 0, replicas[0].Id)
	require.Equal(t, "db1.internal", replicas[1].Host)
	require.Equal(t, "5433", replicas[1].Port)
	require.Equal(t, "pgx", replicas[0].Driver)
	require.Equal(t, "host=db0.internal port=5432 dbname=tpch user=bench password=secret",
		replicas[0].DataSourceName())
}

func TestLoadReplicasRejectsMalformedLines(t *testing.T) {
	path := writeTempFile(t, "replicas.csv", "0,host,5432,tpch\n")
	_, err := LoadReplicas(path, "pgx")
	require.NotNil(t, err)
}

func TestReplicaDataSourceNameMysql(t *testing.T) {
	replica := &Replica{
		Id: 0, Host: "db0", Port: "3306", DBName: "tpch",
		User: "bench", Password: "secret", Driver: "mysql",
	}
	require.Equal(t, "bench:secret@tcp(db0:3306)/tpch", replica.DataSourceName())
}

func TestLoadRoutes(t *testing.T) {
	entries := make([]string, NumQueries)
	for i := range entries {
		entries[i] = "0"
	}
	entries[4] = "1"
	path := writeTempFile(t, "routes.csv", strings.Join(entries, ","))
	routes, err := LoadRoutes(path, 2)
	require.Nil(t, err)
	require.Equal(t, NumQueries, len(routes))
	require.Equal(t, 1, routes[4])

	// A table naming an unknown replica is rejected outright, not returned
	// alongside the error.
	routes, err = LoadRoutes(path, 1)
	require.NotNil(t, err)
	require.Nil(t, routes)
}

func TestValidateRoutes(t *testing.T) {
	routes := make([]int, NumQueries)
	require.Nil(t, ValidateRoutes(routes, 1))
	require.NotNil(t, ValidateRoutes(routes[:NumQueries-1], 1))
	routes[7] = 3
	require.NotNil(t, ValidateRoutes(routes, 2))
	routes[7] = -1
	require.NotNil(t, ValidateRoutes(routes, 2))
}

func TestLoadIndexConfig(t *testing.T) {
	path := writeTempFile(t, "config.csv",
		"0,l_orderkey,l_partkey\n"+
			"1,ps_suppkey\n"+
			"0,o_orderdate\n")
	indexes, err := LoadIndexConfig(path, 2)
	require.Nil(t, err)
	require.Equal(t, 2, len(indexes[0]))
	require.Equal(t, 1, len(indexes[1]))
	require.Equal(t, "LINEITEM", indexes[0][0].Table)
	require.Equal(t, []string{"l_orderkey", "l_partkey"}, indexes[0][0].Columns)
	require.Equal(t, "PARTSUPP", indexes[1][0].Table)
	require.Equal(t, "ORDERS", indexes[0][1].Table)
}

func TestLoadIndexConfigRejectsUnknownReplica(t *testing.T) {
	path := writeTempFile(t, "config.csv", "2,l_orderkey\n")
	_, err := LoadIndexConfig(path, 2)
	require.NotNil(t, err)
}

func TestTableFromColumnPrefix(t *testing.T) {
	cases := map[string]string{
		"l_orderkey":   "LINEITEM",
		"p_partkey":    "PART",
		"ps_suppkey":   "PARTSUPP",
		"o_orderdate":  "ORDERS",
		"c_mktsegment": "CUSTOMER",
		"n_name":       "NATION",
		"r_name":       "REGION",
		"s_suppkey":    "SUPPLIER",
	}
	for column, expected := range cases {
		table, err := TableFromColumnPrefix(column)
		require.Nil(t, err)
		require.Equal(t, expected, table)
	}
	_, err := TableFromColumnPrefix("x_unknown")
	require.NotNil(t, err)
}

func TestDefaultQueryStreams(t *testing.T) {
	require.Equal(t, 2, DefaultQueryStreams(1))
	require.Equal(t, 2, DefaultQueryStreams(9))
	require.Equal(t, 3, DefaultQueryStreams(10))
	require.Equal(t, 4, DefaultQueryStreams(30))
	require.Equal(t, 5, DefaultQueryStreams(100))
	require.Equal(t, 6, DefaultQueryStreams(300))
	require.Equal(t, 7, DefaultQueryStreams(1000))
	require.Equal(t, 8, DefaultQueryStreams(3000))
	require.Equal(t, 9, DefaultQueryStreams(10000))
	require.Equal(t, 10, DefaultQueryStreams(30000))
	require.Equal(t, 11, DefaultQueryStreams(100000))
}

func TestLoadProperties(t *testing.T) {
	path := writeTempFile(t, "bench.properties",
		"# benchmark settings\n"+
			"statement.timeout=30\n"+
			"hdrhistogram.percentiles = 90,99\n")
	props, err := LoadProperties(path)
	require.Nil(t, err)
	require.Equal(t, "30", props.Get(PropertyStatementTimeout))
	require.Equal(t, "90,99", props.Get(PropertyPercentiles))
	require.Equal(t, "0", props.GetDefault(PropertyQueryStreams, PropertyQueryStreamsDefault))
}
