// Package sql opens databases whose statements are both traced with
// OpenTelemetry and recorded as IO calls of the current profiling session.
package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/XSAM/otelsql"

	"github.com/fllarpy/callprobe/internal/adapters/apmsql"
)

// Open is sql.Open for the driver registered as driverName, wrapped for
// profiling and tracing.
func Open(driverName, dataSourceName string, opts ...otelsql.Option) (*sql.DB, error) {
	lookup, err := sql.Open(driverName, "")
	if err != nil {
		return nil, fmt.Errorf("looking up driver %q: %w", driverName, err)
	}
	realDriver := lookup.Driver()
	if err := lookup.Close(); err != nil {
		return nil, err
	}

	wrapped := otelsql.WrapDriver(apmsql.Wrap(realDriver), append([]otelsql.Option{otelsql.WithAttributes()}, opts...)...)
	if dc, ok := wrapped.(driver.DriverContext); ok {
		connector, err := dc.OpenConnector(dataSourceName)
		if err != nil {
			return nil, fmt.Errorf("opening connector: %w", err)
		}
		return sql.OpenDB(connector), nil
	}
	return sql.OpenDB(dsnConnector{dsn: dataSourceName, driver: wrapped}), nil
}

type dsnConnector struct {
	dsn    string
	driver driver.Driver
}

func (c dsnConnector) Connect(context.Context) (driver.Conn, error) {
	return c.driver.Open(c.dsn)
}

func (c dsnConnector) Driver() driver.Driver {
	return c.driver
}
