package engine

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	go_ora "github.com/sijms/go-ora/v2"

	"github.com/crasbi/crasbi-api/internal/models"

	// database/sql drivers
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)

// Extractor opens a job's source data.
type Extractor interface {
	Extract(ctx context.Context, conn *models.Connection, password string, job *models.Job) (RowSource, error)
	Ping(ctx context.Context, conn *models.Connection, password string) error
}

// DriverExtractor dispatches on the connection's db_type: SQL engines go
// through database/sql, MongoDB through the mongo driver.
type DriverExtractor struct {
	ConnectTimeout time.Duration
}

func NewDriverExtractor() *DriverExtractor {
	return &DriverExtractor{ConnectTimeout: 15 * time.Second}
}

func (d *DriverExtractor) Extract(ctx context.Context, conn *models.Connection, password string, job *models.Job) (RowSource, error) {
	if conn.DBType == models.DBTypeMongoDB {
		return openMongoSource(ctx, conn, password, job, d.ConnectTimeout)
	}

	db, err := d.open(ctx, conn, password)
	if err != nil {
		return nil, err
	}
	src, err := querySQLSource(ctx, db, job.JobQuery)
	if err != nil {
		db.Close()
		return nil, err
	}
	return src, nil
}

func (d *DriverExtractor) Ping(ctx context.Context, conn *models.Connection, password string) error {
	if conn.DBType == models.DBTypeMongoDB {
		client, err := connectMongo(ctx, conn, password, d.ConnectTimeout)
		if err != nil {
			return err
		}
		return client.Disconnect(context.Background())
	}
	db, err := d.open(ctx, conn, password)
	if err != nil {
		return err
	}
	return db.Close()
}

func (d *DriverExtractor) open(ctx context.Context, conn *models.Connection, password string) (*sql.DB, error) {
	driver, dsn, err := sqlDSN(conn, password)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s connection", conn.DBType)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, d.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "connecting to %s at %s", conn.DBType, conn.Address())
	}
	return db, nil
}

// sqlDSN returns the database/sql driver name and DSN for conn.
func sqlDSN(conn *models.Connection, password string) (string, string, error) {
	switch conn.DBType {
	case models.DBTypePostgreSQL:
		dsn, err := conn.GenerateConnString(password)
		if err != nil {
			return "", "", err
		}
		return "postgres", dsn + "?sslmode=disable", nil
	case models.DBTypeMySQL:
		cfg := mysql.NewConfig()
		cfg.User = conn.Username
		cfg.Passwd = password
		cfg.Net = "tcp"
		cfg.Addr = conn.Address()
		cfg.DBName = conn.DatabaseName
		cfg.ParseTime = true
		return "mysql", cfg.FormatDSN(), nil
	case models.DBTypeSQLServer:
		u := url.URL{
			Scheme: "sqlserver",
			User:   url.UserPassword(conn.Username, password),
			Host:   conn.Address(),
		}
		if conn.DatabaseName != "" {
			u.RawQuery = url.Values{"database": {conn.DatabaseName}}.Encode()
		}
		return "sqlserver", u.String(), nil
	case models.DBTypeOracle:
		return "oracle", go_ora.BuildUrl(conn.Host, conn.Port, conn.DatabaseName, conn.Username, password, nil), nil
	case models.DBTypeSQLite:
		return "sqlite", conn.Host, nil
	}
	return "", "", unsupported(conn.DBType)
}

type sqlSource struct {
	db      *sql.DB
	rows    *sql.Rows
	columns []Column
	values  []interface{}
	err     error
}

func querySQLSource(ctx context.Context, db *sql.DB, query string) (*sqlSource, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "executing job query")
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "reading result columns")
	}

	cols := make([]Column, len(types))
	for i, t := range types {
		name := t.Name()
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		cols[i] = Column{Name: name, Type: warehouseType(t.DatabaseTypeName())}
	}
	return &sqlSource{db: db, rows: rows, columns: cols}, nil
}

func (s *sqlSource) Columns() []Column { return s.columns }

func (s *sqlSource) Next() bool {
	if s.err != nil || !s.rows.Next() {
		return false
	}
	raw := make([]interface{}, len(s.columns))
	ptrs := make([]interface{}, len(raw))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		s.err = errors.Wrap(err, "scanning source row")
		return false
	}
	for i, c := range s.columns {
		v, err := coerce(c.Type, raw[i])
		if err != nil {
			s.err = errors.Wrapf(err, "column %s", c.Name)
			return false
		}
		raw[i] = v
	}
	s.values = raw
	return true
}

func (s *sqlSource) Values() ([]interface{}, error) { return s.values, nil }

func (s *sqlSource) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.rows.Err()
}

func (s *sqlSource) Close() error {
	err := s.rows.Close()
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	return err
}

func unsupported(t models.DBType) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}
