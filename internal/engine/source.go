package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	mssql "github.com/microsoft/go-mssqldb"
)

// Column describes one extracted column and the warehouse type it loads into.
type Column struct {
	Name string
	Type string
}

// RowSource streams extracted rows. It satisfies pgx.CopyFromSource so the
// loader can COPY straight from the source cursor.
type RowSource interface {
	pgx.CopyFromSource
	Columns() []Column
	Close() error
}

const (
	typeBigint    = "bigint"
	typeDouble    = "double precision"
	typeBoolean   = "boolean"
	typeTimestamp = "timestamptz"
	typeBytea     = "bytea"
	typeUUID      = "uuid"
	typeText      = "text"
)

// warehouseType maps a driver column type name onto a PostgreSQL type.
// Unknown and exact-decimal types load as text.
func warehouseType(dbType string) string {
	t := strings.ToUpper(strings.TrimSpace(dbType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	t = strings.TrimPrefix(t, "UNSIGNED ")
	switch t {
	case "INT", "INTEGER", "INT2", "INT4", "INT8", "SMALLINT", "TINYINT", "MEDIUMINT", "BIGINT",
		"SERIAL", "BIGSERIAL", "SMALLSERIAL", "YEAR":
		return typeBigint
	case "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "DOUBLE PRECISION", "REAL", "BINARY_FLOAT", "BINARY_DOUBLE":
		return typeDouble
	case "BOOL", "BOOLEAN", "BIT":
		return typeBoolean
	case "DATE", "DATETIME", "DATETIME2", "SMALLDATETIME", "DATETIMEOFFSET", "TIMESTAMP", "TIMESTAMPTZ",
		"TIMESTAMP WITH TIME ZONE", "TIMESTAMP WITH LOCAL TIME ZONE":
		return typeTimestamp
	case "BYTEA", "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BINARY", "VARBINARY", "RAW", "LONG RAW", "IMAGE":
		return typeBytea
	case "UNIQUEIDENTIFIER", "UUID":
		return typeUUID
	}
	return typeText
}

// coerce converts a driver value into something pgx can encode for the
// column's warehouse type.
func coerce(pgType string, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch pgType {
	case typeBigint:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int32:
			return int64(x), nil
		case int:
			return int64(x), nil
		case uint64:
			return int64(x), nil
		case float64:
			return int64(x), nil
		case bool:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		case []byte:
			return strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64)
		case string:
			return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		}
	case typeDouble:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case int32:
			return float64(x), nil
		case []byte:
			return strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
		case string:
			return strconv.ParseFloat(strings.TrimSpace(x), 64)
		}
	case typeBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case []byte:
			if len(x) == 1 && (x[0] == 0 || x[0] == 1) {
				return x[0] == 1, nil
			}
			return strconv.ParseBool(string(x))
		case string:
			return strconv.ParseBool(x)
		}
	case typeTimestamp:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case []byte:
			return parseTime(string(x))
		case string:
			return parseTime(x)
		}
	case typeUUID:
		var u mssql.UniqueIdentifier
		switch x := v.(type) {
		case []byte:
			// SQL Server sends 16 mixed-endian bytes; other drivers send text.
			if len(x) == 16 {
				if err := u.Scan(x); err != nil {
					return nil, err
				}
				return pgtype.UUID{Bytes: u, Valid: true}, nil
			}
			if err := u.Scan(string(x)); err != nil {
				return nil, err
			}
			return pgtype.UUID{Bytes: u, Valid: true}, nil
		case string:
			if err := u.Scan(x); err != nil {
				return nil, err
			}
			return pgtype.UUID{Bytes: u, Valid: true}, nil
		}
	case typeBytea:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			return []byte(x), nil
		}
	default:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		case time.Time:
			return x.Format(time.RFC3339Nano), nil
		default:
			return fmt.Sprint(x), nil
		}
	}
	return nil, fmt.Errorf("cannot load %T into %s column", v, pgType)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a timestamp", s)
}

func columnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}
