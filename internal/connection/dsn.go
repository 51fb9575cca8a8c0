package connection

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ErrUnsupportedDriver is returned by DSN for drivers the host cannot open.
var ErrUnsupportedDriver = errors.New("unsupported connection driver")

// DSN returns the sqlx driver name and data source for d.  A literal "dsn"
// param wins over the individual host/port/credential params.  SQLite
// connections take the file path from "database".
func (d Descriptor) DSN() (driver, dsn string, err error) {
	driver, _ = d.Get("driver")
	driver = strings.ToLower(driver)

	if raw, ok := d.Get("dsn"); ok && raw != "" {
		if driver == "" {
			return "", "", fmt.Errorf("connection %s: dsn without driver", d.Name)
		}
		return driver, raw, nil
	}

	switch driver {
	case "mysql", "mariadb":
		return "mysql", d.mysqlDSN(), nil
	case "sqlite", "sqlite3":
		dsn, err := d.sqliteDSN()
		if err != nil {
			return "", "", err
		}
		return "sqlite", dsn, nil
	case "":
		return "", "", fmt.Errorf("connection %s: driver not declared", d.Name)
	default:
		return "", "", fmt.Errorf("connection %s: %w: %s", d.Name, ErrUnsupportedDriver, driver)
	}
}

func (d Descriptor) mysqlDSN() string {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"

	host, _ := d.Get("host")
	if host == "" {
		host = "127.0.0.1"
	}
	port, _ := d.Get("port")
	if port == "" {
		port = "3306"
	}
	cfg.Addr = net.JoinHostPort(host, port)

	if v, ok := d.Get("username"); ok {
		cfg.User = v
	}
	if v, ok := d.Get("password"); ok {
		cfg.Passwd = v
	}
	cfg.DBName, _ = d.Get("database")
	cfg.ParseTime = true
	cfg.Loc = time.Local

	if cs, ok := d.Get("charset"); ok && cs != "" {
		cfg.Params = map[string]string{"charset": cs}
	}
	return cfg.FormatDSN()
}

// sqliteBusyTimeout lets concurrent writers (a migration and a request)
// wait for the file lock instead of failing with SQLITE_BUSY.
const sqliteBusyTimeout = 5000

func (d Descriptor) sqliteDSN() (string, error) {
	path, _ := d.Get("database")
	if path == "" {
		return "", fmt.Errorf("connection %s: sqlite database path not set", d.Name)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, sqliteBusyTimeout)
	if v, _ := d.Get("foreign_key_constraints"); truthy(v) {
		dsn += "&_pragma=foreign_keys(1)"
	}
	return dsn, nil
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
