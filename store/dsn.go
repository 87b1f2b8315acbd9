// Package store is the relational persistence boundary: chain_txs,
// pending_txs, pending_messages, messages, message_status,
// rejected_messages, forgotten_messages, message_confirmations,
// stored_files, file_pins and file_tags, backed by database/sql.
package store

import "fmt"

// DSNConfig builds a driver-specific data source name the way the
// teacher's dbutil package does: one struct, one adapter string, and a
// per-adapter DataSourceName() format.
type DSNConfig struct {
	Adapter  string // "postgres" | "sqlite3"
	Username string
	Password string
	Protocol string
	Host     string
	Port     string
	Database string
	Params   map[string]string
}

// DataSourceName renders the DSN for database/sql.Open(Adapter, ...).
func (c DSNConfig) DataSourceName() string {
	switch c.Adapter {
	case "postgres":
		dsn := fmt.Sprintf("postgresql://%s:%s@%s:%s/%s", c.Username, c.Password, c.Host, c.Port, c.Database)
		return appendParams(dsn, c.Params)
	case "sqlite3":
		return c.Database
	default:
		return fmt.Sprintf("%s:%s@%s(%s:%s)/%s", c.Username, c.Password, c.Protocol, c.Host, c.Port, c.Database)
	}
}

func appendParams(dsn string, params map[string]string) string {
	if len(params) == 0 {
		return dsn
	}
	dsn += "?"
	first := true
	for k, v := range params {
		if !first {
			dsn += "&"
		}
		dsn += fmt.Sprintf("%s=%s", k, v)
		first = false
	}
	return dsn
}
