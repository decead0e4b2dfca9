package tpchbench

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"
)

// insertBatchSize is the number of rows folded into one INSERT statement on
// the non-Postgres bulk-load fallback path.
const insertBatchSize = 500

// Generator is the interface to the dbgen/qgen tools provided by the
// Transaction Processing Performance Council. dbgen is expected to be
// downloaded under dbgenDir with a Makefile in place; Generate recompiles it
// and produces the table, refresh and query data under dataDir. Load then
// resets the replicas, bulk-loads the tables and parses the query and
// refresh-function inputs the benchmark consumes.
type Generator struct {
	replicas      []*Replica
	dbgenDir      string
	dataDir       string
	scaleFactor   int
	numPartitions int
	timeout       time.Duration
}

// NewGenerator builds a generator for the given replicas. numPartitions is
// the number of refresh partitions to produce: one for the power stream plus
// one per throughput stream.
func NewGenerator(replicas []*Replica, dbgenDir, dataDir string, scaleFactor, numPartitions int, timeout time.Duration) *Generator {
	return &Generator{
		replicas:      replicas,
		dbgenDir:      dbgenDir,
		dataDir:       dataDir,
		scaleFactor:   scaleFactor,
		numPartitions: numPartitions,
		timeout:       timeout,
	}
}

// Generate compiles dbgen and produces the table, refresh and query data
// under the data directory.
func (self *Generator) Generate() error {
	if err := self.createDirectories(); err != nil {
		return err
	}
	if err := self.compileDbgen(); err != nil {
		return err
	}
	if err := self.createTableData(); err != nil {
		return err
	}
	if err := self.formatTableData(); err != nil {
		return err
	}
	if err := self.createRefreshData(); err != nil {
		return err
	}
	return self.createQueries()
}

// Load resets every replica, creates the schemas, bulk-loads the generated
// table data, creates the key constraints, and returns the query texts in
// canonical order plus the RF1/RF2 data partitioned per stream index.
func (self *Generator) Load() ([]string, [][]RF1Order, [][]string, error) {
	tables, err := self.tableNames()
	if err != nil {
		return nil, nil, nil, err
	}
	for _, replica := range self.replicas {
		conn, err := Connect(replica, self.timeout)
		if err != nil {
			return nil, nil, nil, err
		}
		err = self.resetDatabase(conn, tables)
		if err == nil {
			err = self.createSchemas(conn)
		}
		if err == nil {
			err = self.loadTableData(replica, conn)
		}
		if err == nil {
			err = self.createKeys(conn)
		}
		conn.Close()
		if err != nil {
			return nil, nil, nil, err
		}
	}
	queries, err := self.loadQueries()
	if err != nil {
		return nil, nil, nil, err
	}
	rf1Data, err := self.loadRF1Data()
	if err != nil {
		return nil, nil, nil, err
	}
	rf2Data, err := self.loadRF2Data()
	if err != nil {
		return nil, nil, nil, err
	}
	return queries, rf1Data, rf2Data, nil
}

func (self *Generator) createDirectories() error {
	Debugf("creating data directories under %s", self.dataDir)
	for _, dir := range []string{"refresh", "tables", "queries", "schema"} {
		if err := os.MkdirAll(filepath.Join(self.dataDir, dir), 0755); err != nil {
			return errors.Wrap(err, "create data directories")
		}
	}
	return nil
}

func (self *Generator) compileDbgen() error {
	Debugf("attempting to compile TPC-H dbgen at %s", self.dbgenDir)
	return self.runCommand(exec.Command("make"))
}

func (self *Generator) createTableData() error {
	Debugf("creating table data for scale factor %d", self.scaleFactor)
	cmd := exec.Command(filepath.Join(self.dbgenDir, "dbgen"), "-s", strconv.Itoa(self.scaleFactor), "-vf")
	if err := self.runCommand(cmd); err != nil {
		return err
	}
	if err := self.moveGlob("*.tbl", "tables"); err != nil {
		return err
	}
	if err := copyFile(filepath.Join(self.dbgenDir, "dss.ddl"),
		filepath.Join(self.dataDir, "schema", "dss.ddl")); err != nil {
		return err
	}
	return copyFile(filepath.Join(self.dbgenDir, "schema_keys.sql"),
		filepath.Join(self.dataDir, "schema", "schema_keys.sql"))
}

func (self *Generator) createRefreshData() error {
	Debugf("creating refresh function data for scale factor %d", self.scaleFactor)
	cmd := exec.Command(filepath.Join(self.dbgenDir, "dbgen"),
		"-s", strconv.Itoa(self.scaleFactor), "-vf", "-U", strconv.Itoa(self.numPartitions))
	if err := self.runCommand(cmd); err != nil {
		return err
	}
	if err := self.moveGlob("*.tbl.u*", "refresh"); err != nil {
		return err
	}
	return self.moveGlob("delete.*", "refresh")
}

func (self *Generator) createQueries() error {
	Debugf("creating TPC-H query data")
	for i := 1; i <= NumQueries; i++ {
		outfile, err := os.Create(filepath.Join(self.dataDir, "queries", fmt.Sprintf("%d.sql", i)))
		if err != nil {
			return errors.Wrap(err, "create query file")
		}
		cmd := exec.Command(filepath.Join(self.dbgenDir, "qgen"),
			"-s", strconv.Itoa(self.scaleFactor), strconv.Itoa(i))
		cmd.Dir = self.dbgenDir
		cmd.Env = append(os.Environ(), "DSS_QUERY="+filepath.Join(self.dbgenDir, "queries"))
		cmd.Stdout = outfile
		cmd.Stderr = os.Stderr
		err = cmd.Run()
		outfile.Close()
		if err != nil {
			return errors.Wrapf(err, "qgen query %d", i)
		}
	}
	return nil
}

// formatTableData strips the trailing pipe dbgen appends to every row, which
// the CSV load path would otherwise read as an empty extra column.
func (self *Generator) formatTableData() error {
	Debugf("correcting table data formats")
	paths, err := filepath.Glob(filepath.Join(self.dataDir, "tables", "*.tbl"))
	if err != nil {
		return errors.Wrap(err, "glob table data")
	}
	for _, path := range paths {
		Debugf("%s", path)
		if err := stripTrailingDelimiter(path); err != nil {
			return err
		}
	}
	return nil
}

func (self *Generator) tableNames() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(self.dataDir, "tables", "*.tbl"))
	if err != nil {
		return nil, errors.Wrap(err, "glob table data")
	}
	tables := make([]string, 0, len(paths))
	for _, path := range paths {
		name := filepath.Base(path)
		tables = append(tables, strings.SplitN(name, ".", 2)[0])
	}
	return tables, nil
}

func (self *Generator) resetDatabase(conn *Connection, tables []string) error {
	Debugf("dropping existing tables: %v", tables)
	for _, table := range tables {
		if err := conn.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
			return err
		}
	}
	return nil
}

func (self *Generator) createSchemas(conn *Connection) error {
	Infof("creating the schemas for tables")
	return self.executeScriptFile(conn, filepath.Join(self.dataDir, "schema", "dss.ddl"))
}

func (self *Generator) createKeys(conn *Connection) error {
	Infof("creating primary and foreign keys")
	return self.executeScriptFile(conn, filepath.Join(self.dataDir, "schema", "schema_keys.sql"))
}

func (self *Generator) executeScriptFile(conn *Connection, path string) error {
	script, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	for _, statement := range strings.Split(string(script), ";") {
		statement = strings.TrimSpace(statement)
		if len(statement) == 0 {
			continue
		}
		if err := conn.Exec(statement); err != nil {
			return errors.Wrapf(err, "script %s", filepath.Base(path))
		}
	}
	return nil
}

func (self *Generator) loadTableData(replica *Replica, conn *Connection) error {
	paths, err := filepath.Glob(filepath.Join(self.dataDir, "tables", "*.tbl"))
	if err != nil {
		return errors.Wrap(err, "glob table data")
	}
	for _, path := range paths {
		table := strings.SplitN(filepath.Base(path), ".", 2)[0]
		Infof("loading data into %s on replica %d", table, replica.Id)
		if replica.Driver == "pgx" {
			err = self.copyTableData(replica, table, path)
		} else {
			err = self.insertTableData(conn, table, path)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// copyTableData bulk-loads one table over a native Postgres connection using
// the COPY protocol, which defers constraint checking until commit.
func (self *Generator) copyTableData(replica *Replica, table, path string) error {
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, replica.DataSourceName())
	if err != nil {
		return errors.Wrapf(err, "replica %d: connect for copy", replica.Id)
	}
	defer conn.Close(ctx)
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	copySQL := fmt.Sprintf("COPY %s FROM STDIN (FORMAT csv, DELIMITER '|')", table)
	if _, err := conn.PgConn().CopyFrom(ctx, bufio.NewReader(f), copySQL); err != nil {
		return errors.Wrapf(err, "copy into %s on replica %d", table, replica.Id)
	}
	return nil
}

// insertTableData is the bulk-load fallback for drivers without a COPY path:
// rows are folded into multi-row INSERT statements.
func (self *Generator) insertTableData(conn *Connection, table, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	values := make([]string, 0, insertBatchSize)
	flush := func() error {
		if len(values) == 0 {
			return nil
		}
		statement := fmt.Sprintf("INSERT INTO %s VALUES %s", table, strings.Join(values, ", "))
		values = values[:0]
		return conn.Exec(statement)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		row := scanner.Text()
		if len(row) == 0 {
			continue
		}
		values = append(values, quoteRowValues(row))
		if len(values) == insertBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	return flush()
}

func (self *Generator) loadQueries() ([]string, error) {
	Infof("reading queries")
	queries := make([]string, 0, NumQueries)
	for i := 1; i <= NumQueries; i++ {
		text, err := os.ReadFile(filepath.Join(self.dataDir, "queries", fmt.Sprintf("%d.sql", i)))
		if err != nil {
			return nil, errors.Wrapf(err, "read query %d", i)
		}
		queries = append(queries, string(text))
	}
	return queries, nil
}

// loadRF1Data reads the refresh insert partitions. Each partition pairs the
// new orders with their line items, preserving dbgen's emission order, and
// precomputes the insert statements so no template work happens inside the
// timed region.
func (self *Generator) loadRF1Data() ([][]RF1Order, error) {
	Infof("loading data for refresh function #1")
	rf1Data := make([][]RF1Order, 0, self.numPartitions)
	for i := 1; i <= self.numPartitions; i++ {
		orderRows, err := readLines(filepath.Join(self.dataDir, "refresh", fmt.Sprintf("orders.tbl.u%d", i)))
		if err != nil {
			return nil, err
		}
		lineitemRows, err := readLines(filepath.Join(self.dataDir, "refresh", fmt.Sprintf("lineitem.tbl.u%d", i)))
		if err != nil {
			return nil, err
		}
		keyOrder := make([]string, 0, len(orderRows))
		byKey := make(map[string]*RF1Order, len(orderRows))
		for _, row := range orderRows {
			key := strings.SplitN(row, "|", 2)[0]
			keyOrder = append(keyOrder, key)
			byKey[key] = &RF1Order{Order: insertStatement("ORDERS", row)}
		}
		for _, row := range lineitemRows {
			key := strings.SplitN(row, "|", 2)[0]
			order, ok := byKey[key]
			if !ok {
				return nil, errors.Errorf("refresh partition %d: lineitem for unknown order %s", i, key)
			}
			order.LineItems = append(order.LineItems, insertStatement("LINEITEM", row))
		}
		partition := make([]RF1Order, 0, len(keyOrder))
		for _, key := range keyOrder {
			partition = append(partition, *byKey[key])
		}
		rf1Data = append(rf1Data, partition)
	}
	return rf1Data, nil
}

// loadRF2Data reads the refresh delete partitions: one orderkey per line to
// remove from ORDERS and LINEITEM.
func (self *Generator) loadRF2Data() ([][]string, error) {
	Infof("loading data for refresh function #2")
	rf2Data := make([][]string, 0, self.numPartitions)
	for i := 1; i <= self.numPartitions; i++ {
		rows, err := readLines(filepath.Join(self.dataDir, "refresh", fmt.Sprintf("delete.%d", i)))
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(rows))
		for _, row := range rows {
			keys = append(keys, strings.TrimSuffix(row, "|"))
		}
		rf2Data = append(rf2Data, keys)
	}
	return rf2Data, nil
}

func (self *Generator) runCommand(cmd *exec.Cmd) error {
	if cmd.Dir == "" {
		cmd.Dir = self.dbgenDir
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "run %s", strings.Join(cmd.Args, " "))
	}
	return nil
}

func (self *Generator) moveGlob(pattern, destDir string) error {
	paths, err := filepath.Glob(filepath.Join(self.dbgenDir, pattern))
	if err != nil {
		return errors.Wrapf(err, "glob %s", pattern)
	}
	for _, path := range paths {
		dest := filepath.Join(self.dataDir, destDir, filepath.Base(path))
		if err := os.Rename(path, dest); err != nil {
			return errors.Wrapf(err, "move %s", path)
		}
	}
	return nil
}

// insertStatement turns one pipe-delimited dbgen row into an INSERT with
// every field kept as a quoted literal.
func insertStatement(table string, row string) string {
	return fmt.Sprintf("INSERT INTO %s VALUES %s", table, quoteRowValues(row))
}

func quoteRowValues(row string) string {
	fields := strings.Split(strings.TrimSuffix(row, "|"), "|")
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = "'" + strings.ReplaceAll(f, "'", "''") + "'"
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}

func stripTrailingDelimiter(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		in.Close()
		return errors.Wrapf(err, "create %s", tmp)
	}
	writer := bufio.NewWriter(out)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "|")
		if _, err := writer.WriteString(line + "\n"); err != nil {
			break
		}
	}
	err = scanner.Err()
	if flushErr := writer.Flush(); err == nil {
		err = flushErr
	}
	in.Close()
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "rewrite %s", path)
	}
	return os.Rename(tmp, path)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "open %s", src)
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return errors.Wrapf(err, "create %s", dest)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrapf(err, "copy %s", src)
	}
	return nil
}
