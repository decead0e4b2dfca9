package tpchbench

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// RF1Order is one synthetic order to insert during refresh function #1: the
// insert statement for the order itself plus the inserts for its line items.
// Line items must follow their parent order so referential checks see the
// parent row first.
type RF1Order struct {
	Order     string
	LineItems []string
}

// rf2Delete is one precomputed delete of refresh function #2, kept as a
// structured {table, key} pair until the point of execution.
type rf2Delete struct {
	table     string
	keyColumn string
	orderKey  string
}

func (self *rf2Delete) statement() string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s", self.table, self.keyColumn, self.orderKey)
}

// rf2Statements expands the order keys into the delete list, child table
// before parent table for every key so immediate referential checking never
// trips. Building the statements here keeps template work out of the timed
// region, as clause 2.5.3.1 permits.
func rf2Statements(orderKeys []string) []rf2Delete {
	deletes := make([]rf2Delete, 0, len(orderKeys)*2)
	for _, key := range orderKeys {
		deletes = append(deletes, rf2Delete{"LINEITEM", "L_ORDERKEY", key})
		deletes = append(deletes, rf2Delete{"ORDERS", "O_ORDERKEY", key})
	}
	return deletes
}

// TimeSpan is the wall-clock bounds of one timed operation.
type TimeSpan struct {
	Start time.Time
	End   time.Time
}

// RefreshPair executes the two update batches the benchmark interleaves with
// query execution, against a single replica, timing each independently. It is
// replica-scoped and stateless across invocations; every invocation opens and
// releases its own connection because refresh pairs for one repetition run as
// concurrent units, one per replica.
type RefreshPair struct {
	num     int
	replica *Replica
	rf1Data []RF1Order
	rf2Data []rf2Delete
	timeout time.Duration
}

func NewRefreshPair(num int, replica *Replica, rf1Data []RF1Order, rf2OrderKeys []string, timeout time.Duration) *RefreshPair {
	return &RefreshPair{
		num:     num,
		replica: replica,
		rf1Data: rf1Data,
		rf2Data: rf2Statements(rf2OrderKeys),
		timeout: timeout,
	}
}

// RunInserts executes refresh function #1: for each record in generator
// emission order, the new order then each of its line items. Timing starts
// immediately before the first insert and ends immediately after the last.
func (self *RefreshPair) RunInserts() (TimeSpan, error) {
	conn, err := Connect(self.replica, self.timeout)
	if err != nil {
		return TimeSpan{}, err
	}
	defer conn.Close()
	span := TimeSpan{Start: time.Now()}
	for _, order := range self.rf1Data {
		if err := conn.Exec(order.Order); err != nil {
			return TimeSpan{}, errors.Wrapf(err, "QS%d:RF1 order insert", self.num)
		}
		for _, lineitem := range order.LineItems {
			if err := conn.Exec(lineitem); err != nil {
				return TimeSpan{}, errors.Wrapf(err, "QS%d:RF1 lineitem insert", self.num)
			}
		}
	}
	span.End = time.Now()
	return span, nil
}

// RunDeletes executes refresh function #2 from the precomputed delete list.
// Deletes are "delete if exists": a key with no remaining rows affects zero
// rows and never aborts the rest of the batch.
func (self *RefreshPair) RunDeletes() (TimeSpan, error) {
	conn, err := Connect(self.replica, self.timeout)
	if err != nil {
		return TimeSpan{}, err
	}
	defer conn.Close()
	span := TimeSpan{Start: time.Now()}
	for i := range self.rf2Data {
		if err := conn.Exec(self.rf2Data[i].statement()); err != nil {
			return TimeSpan{}, errors.Wrapf(err, "QS%d:RF2 delete", self.num)
		}
	}
	span.End = time.Now()
	return span, nil
}
