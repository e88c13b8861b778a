package models

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// PasswordMask is returned in place of a stored password. It is never accepted
// as a real credential.
const PasswordMask = "••••••••"

// DefaultInsertedBy is recorded as the creator while the service has no users.
const DefaultInsertedBy = "system"

type Connection struct {
	ID                int64     `json:"id" db:"id"`
	SourceName        string    `json:"source_name" db:"source_name"`
	DBType            DBType    `json:"db_type" db:"db_type"`
	DBTypeDisplay     string    `json:"db_type_display" db:"-"`
	Host              string    `json:"host" db:"host"`
	Port              int       `json:"port" db:"port"`
	DatabaseName      string    `json:"database_name" db:"database_name"`
	Username          string    `json:"username" db:"username"`
	Password          string    `json:"password,omitempty" db:"-"` // plaintext on input only
	PasswordEncrypted []byte    `json:"-" db:"password_encrypted"`
	IsActive          bool      `json:"is_active" db:"is_active"`
	InsertedBy        string    `json:"inserted_by_username" db:"inserted_by"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// Masked returns a copy that is safe to serialize to clients.
func (c Connection) Masked() Connection {
	c.Password = PasswordMask
	c.DBTypeDisplay = string(c.DBType)
	return c
}

// Address joins host and port. SQLite connections use the host as a file path.
func (c *Connection) Address() string {
	if c.DBType == DBTypeSQLite {
		return c.Host
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// GenerateConnString builds the URL-style connection string for display and for
// drivers that take a URI. The password argument is embedded as given; pass
// PasswordMask to produce a string safe to show.
func (c *Connection) GenerateConnString(password string) (string, error) {
	var scheme string
	switch c.DBType {
	case DBTypeMySQL:
		scheme = "mysql"
	case DBTypePostgreSQL:
		scheme = "postgresql"
	case DBTypeSQLServer:
		scheme = "sqlserver"
	case DBTypeOracle:
		scheme = "oracle"
	case DBTypeSAPHana:
		scheme = "hdb"
	case DBTypeMongoDB:
		scheme = "mongodb"
	case DBTypeRedis:
		scheme = "redis"
	case DBTypeElasticsearch:
		scheme = "http"
	case DBTypeSQLite:
		return "sqlite:///" + strings.TrimPrefix(c.Host, "/"), nil
	default:
		return "", fmt.Errorf("unknown db_type: %s", c.DBType)
	}

	u := url.URL{
		Scheme: scheme,
		User:   url.UserPassword(c.Username, password),
		Host:   c.Address(),
	}
	if c.DatabaseName != "" {
		u.Path = "/" + c.DatabaseName
	}
	// url.URL percent-encodes the mask; keep it readable in display strings.
	return strings.Replace(u.String(), url.QueryEscape(PasswordMask), PasswordMask, 1), nil
}

// ConnectionInput is the client payload for create and update. Absent fields
// stay nil so updates can be partial.
type ConnectionInput struct {
	SourceName   *string  `json:"source_name"`
	DBType       *string  `json:"db_type"`
	Host         *string  `json:"host"`
	Port         FlexInt  `json:"port"`
	DatabaseName *string  `json:"database_name"`
	Username     *string  `json:"username"`
	Password     *string  `json:"password"`
	IsActive     FlexBool `json:"is_active"`
}

// NewConnection validates a create payload and returns the record to store.
func (in ConnectionInput) NewConnection() (*Connection, FieldErrors) {
	errs := FieldErrors{}
	conn := &Connection{IsActive: true, InsertedBy: DefaultInsertedBy}

	conn.SourceName = requiredString(errs, "source_name", in.SourceName)
	conn.Host = requiredString(errs, "host", in.Host)
	conn.Username = requiredString(errs, "username", in.Username)
	if in.DatabaseName != nil {
		conn.DatabaseName = strings.TrimSpace(*in.DatabaseName)
	}

	if in.DBType == nil {
		errs.Add("db_type", MsgRequired)
	} else if t, err := ParseDBType(*in.DBType); err != nil {
		errs.Add("db_type", err.Error())
	} else {
		conn.DBType = t
	}

	if msg := in.Port.Check(); msg != "" {
		errs.Add("port", msg)
	} else if msg := checkPort(in.Port.Value); msg != "" {
		errs.Add("port", msg)
	} else {
		conn.Port = int(in.Port.Value)
	}

	switch {
	case in.Password == nil:
		errs.Add("password", MsgRequired)
	case *in.Password == "":
		errs.Add("password", MsgBlank)
	case *in.Password == PasswordMask:
		errs.Add("password", "Enter the actual password, not the masked placeholder.")
	default:
		conn.Password = *in.Password
	}

	if in.IsActive.Set {
		if in.IsActive.Invalid {
			errs.Add("is_active", MsgInvalidBoolean)
		} else {
			conn.IsActive = in.IsActive.Value
		}
	}

	errs.merge(conn.StorageErrors())

	if !errs.Empty() {
		return nil, errs
	}
	return conn, nil
}

// Apply merges a partial payload onto an existing record. An absent, empty or
// masked password leaves the stored secret untouched (conn.Password stays "").
func (in ConnectionInput) Apply(conn *Connection) FieldErrors {
	errs := FieldErrors{}
	conn.Password = ""

	if in.SourceName != nil {
		conn.SourceName = requiredString(errs, "source_name", in.SourceName)
	}
	if in.Host != nil {
		conn.Host = requiredString(errs, "host", in.Host)
	}
	if in.Username != nil {
		conn.Username = requiredString(errs, "username", in.Username)
	}
	if in.DatabaseName != nil {
		conn.DatabaseName = strings.TrimSpace(*in.DatabaseName)
	}
	if in.DBType != nil {
		if t, err := ParseDBType(*in.DBType); err != nil {
			errs.Add("db_type", err.Error())
		} else {
			conn.DBType = t
		}
	}
	if in.Port.Set {
		if msg := in.Port.Check(); msg != "" {
			errs.Add("port", msg)
		} else if msg := checkPort(in.Port.Value); msg != "" {
			errs.Add("port", msg)
		} else {
			conn.Port = int(in.Port.Value)
		}
	}
	if in.Password != nil && *in.Password != "" && *in.Password != PasswordMask {
		conn.Password = *in.Password
	}
	if in.IsActive.Set {
		if in.IsActive.Invalid {
			errs.Add("is_active", MsgInvalidBoolean)
		} else {
			conn.IsActive = in.IsActive.Value
		}
	}

	errs.merge(conn.StorageErrors())

	if !errs.Empty() {
		return errs
	}
	return nil
}

func checkPort(p int64) string {
	if p < 1 || p > 65535 {
		return "Ensure this value is between 1 and 65535."
	}
	return ""
}

func requiredString(errs FieldErrors, field string, v *string) string {
	if v == nil {
		errs.Add(field, MsgRequired)
		return ""
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		errs.Add(field, MsgBlank)
	}
	return s
}
