// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/gorse-io/recbench/base/log"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
	"modernc.org/strutil"
)

const (
	MySQLPrefix      = "mysql://"
	PostgresPrefix   = "postgres://"
	PostgreSQLPrefix = "postgresql://"
	SQLitePrefix     = "sqlite://"
)

// IsDatabaseURL reports whether source names a database rather than a file.
func IsDatabaseURL(source string) bool {
	for _, prefix := range []string{MySQLPrefix, PostgresPrefix, PostgreSQLPrefix, SQLitePrefix} {
		if strings.HasPrefix(source, prefix) {
			return true
		}
	}
	return false
}

// SQLLoader reads interactions with a query returning user, item, rating and an
// optional timestamp column, in that order.
type SQLLoader struct {
	URL   string
	Query string
}

func openDatabase(rawURL string) (*gorm.DB, error) {
	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch {
	case strings.HasPrefix(rawURL, MySQLPrefix):
		cfg, err := mysqlDriver.ParseDSN(rawURL[len(MySQLPrefix):])
		if err != nil {
			return nil, errors.Trace(err)
		}
		cfg.ParseTime = true
		conn, err := sql.Open("mysql", cfg.FormatDSN())
		if err != nil {
			return nil, errors.Trace(err)
		}
		return gorm.Open(mysql.New(mysql.Config{Conn: conn}), gormConfig)
	case strings.HasPrefix(rawURL, PostgresPrefix), strings.HasPrefix(rawURL, PostgreSQLPrefix):
		conn, err := sql.Open("postgres", rawURL)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return gorm.Open(postgres.New(postgres.Config{Conn: conn}), gormConfig)
	case strings.HasPrefix(rawURL, SQLitePrefix):
		conn, err := sql.Open("sqlite", rawURL[len(SQLitePrefix):])
		if err != nil {
			return nil, errors.Trace(err)
		}
		return gorm.Open(sqlite.Dialector{Conn: conn}, gormConfig)
	}
	return nil, errors.NotSupportedf("database url %s", log.RedactDBURL(rawURL))
}

// Load runs the query. Rows with empty identifiers or unreadable values are dropped
// and counted; NULL ratings become missing ratings.
func (loader *SQLLoader) Load(ctx context.Context) ([]Interaction, LoadReport, error) {
	var report LoadReport
	db, err := openDatabase(loader.URL)
	if err != nil {
		return nil, report, errors.Trace(err)
	}
	if conn, err := db.DB(); err == nil {
		defer conn.Close()
	}
	rows, err := db.WithContext(ctx).Raw(loader.Query).Rows()
	if err != nil {
		return nil, report, errors.Trace(err)
	}
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, report, errors.Trace(err)
	}
	if len(columns) != 3 && len(columns) != 4 {
		return nil, report, errors.Annotatef(ErrData, "query returns %d columns, want user, item, rating[, timestamp]", len(columns))
	}
	var (
		interactions []Interaction
		pool         = strutil.NewPool()
	)
	for rows.Next() {
		report.Rows++
		var (
			userId, itemId any
			rating         sql.NullFloat64
			timestamp      any
		)
		dest := []any{&userId, &itemId, &rating}
		if len(columns) == 4 {
			dest = append(dest, &timestamp)
		}
		if err = rows.Scan(dest...); err != nil {
			report.Malformed++
			log.Logger().Debug("drop malformed row", zap.Int("row", report.Rows), zap.Error(err))
			continue
		}
		r := Interaction{
			UserId: pool.Align(strings.TrimSpace(toString(userId))),
			ItemId: pool.Align(strings.TrimSpace(toString(itemId))),
			Rating: math.NaN(),
		}
		if rating.Valid {
			r.Rating = rating.Float64
		}
		if r.Timestamp, err = toTime(timestamp); err != nil || r.UserId == "" || r.ItemId == "" {
			report.Malformed++
			continue
		}
		interactions = append(interactions, r)
	}
	if err = rows.Err(); err != nil {
		return nil, report, errors.Trace(err)
	}
	log.Logger().Info("load interactions",
		zap.String("url", log.RedactDBURL(loader.URL)),
		zap.Int("rows", report.Rows),
		zap.Int("malformed", report.Malformed))
	return interactions, report, nil
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t, nil
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case float64:
		return time.Unix(int64(t), 0).UTC(), nil
	case string:
		return ParseTimestamp(t)
	case []byte:
		return ParseTimestamp(string(t))
	default:
		return time.Time{}, errors.Errorf("unsupported timestamp %v", v)
	}
}

// NewLoader picks a loader for a data source: a database URL with a query, or a
// delimited file.
func NewLoader(source, query, sep string, header bool, columns Columns) (Loader, error) {
	if IsDatabaseURL(source) {
		if query == "" {
			return nil, errors.NotValidf("empty query for %s", log.RedactDBURL(source))
		}
		return &SQLLoader{URL: source, Query: query}, nil
	}
	if source == "" {
		return nil, errors.NotValidf("empty data source")
	}
	return &CSVLoader{Path: source, Sep: sep, Header: header, Columns: columns}, nil
}
