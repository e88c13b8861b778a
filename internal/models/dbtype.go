package models

import (
	"fmt"
	"strings"
)

// DBType is the kind of database a source connection points at. The value is
// the label the console displays.
type DBType string

const (
	DBTypeMySQL         DBType = "MySQL"
	DBTypePostgreSQL    DBType = "PostgreSQL"
	DBTypeSQLServer     DBType = "SQL Server"
	DBTypeOracle        DBType = "Oracle"
	DBTypeSAPHana       DBType = "SAP HANA"
	DBTypeSQLite        DBType = "SQLite"
	DBTypeMongoDB       DBType = "MongoDB"
	DBTypeRedis         DBType = "Redis"
	DBTypeElasticsearch DBType = "Elasticsearch"
)

// DBTypes lists every accepted type in display order.
var DBTypes = []DBType{
	DBTypeMySQL,
	DBTypePostgreSQL,
	DBTypeSQLServer,
	DBTypeOracle,
	DBTypeSAPHana,
	DBTypeSQLite,
	DBTypeMongoDB,
	DBTypeRedis,
	DBTypeElasticsearch,
}

// dbTypeAliases are driver codes accepted besides the labels in DBTypes.
var dbTypeAliases = map[string]DBType{
	"mariadb":   DBTypeMySQL,
	"postgres":  DBTypePostgreSQL,
	"pg":        DBTypePostgreSQL,
	"sqlserver": DBTypeSQLServer,
	"mssql":     DBTypeSQLServer,
	"hana":      DBTypeSAPHana,
	"sqlite3":   DBTypeSQLite,
	"mongo":     DBTypeMongoDB,
}

// ParseDBType normalizes a label or driver code to its DBType.
func ParseDBType(s string) (DBType, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, t := range DBTypes {
		if key == strings.ToLower(string(t)) {
			return t, nil
		}
	}
	if t, ok := dbTypeAliases[key]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%q is not a valid choice.", s)
}

// Code is the lowercase driver-style identifier of the type.
func (t DBType) Code() string {
	switch t {
	case DBTypeSQLServer:
		return "sqlserver"
	case DBTypeSAPHana:
		return "hana"
	}
	return strings.ToLower(string(t))
}
