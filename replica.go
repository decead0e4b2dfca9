package tpchbench

import (
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v4/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Replica describes one database instance of the system under test.
// It is immutable: created once at startup from configuration and shared
// read-only by every stream for the process duration.
type Replica struct {
	Id       int
	Host     string
	Port     string
	DBName   string
	User     string
	Password string
	// Driver selects the database/sql driver: "pgx", "mysql" or "sqlite3".
	Driver string
}

// DataSourceName builds the driver-specific connection string.
func (self *Replica) DataSourceName() string {
	switch self.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s",
			self.User, self.Password, self.Host, self.Port, self.DBName)
	case "sqlite3":
		// DBName carries the full sqlite DSN (a file path or file: URI).
		return self.DBName
	default:
		return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s",
			self.Host, self.Port, self.DBName, self.User, self.Password)
	}
}
