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
	"bufio"
	"context"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gorse-io/recbench/base"
	"github.com/gorse-io/recbench/base/log"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"modernc.org/strutil"
)

// LoadReport counts the rows a loader read and the ones it had to drop.
type LoadReport struct {
	Rows      int `json:"rows"`
	Malformed int `json:"malformed"`
}

// Loader reads raw interactions. Rows may still contain missing ratings or duplicates;
// pass the result to Clean.
type Loader interface {
	Load(ctx context.Context) ([]Interaction, LoadReport, error)
}

// Columns locates fields in a row. With a header row the values are column names,
// otherwise zero-based positions. An empty Rating means implicit feedback (rating 1),
// an empty Timestamp means no timestamps.
type Columns struct {
	User      string
	Item      string
	Rating    string
	Timestamp string
}

// DefaultColumns reads user, item, rating and timestamp from the first four fields.
var DefaultColumns = Columns{User: "0", Item: "1", Rating: "2", Timestamp: "3"}

// CSVLoader reads interactions from a delimited text file.
type CSVLoader struct {
	Path    string
	Sep     string
	Header  bool
	Columns Columns
}

type columnIndex struct {
	user, item, rating, timestamp int
}

func (c Columns) resolve(header []string) (columnIndex, error) {
	lookup := func(name string, required bool) (int, error) {
		if name == "" {
			if required {
				return -1, errors.Annotate(ErrData, "column is not specified")
			}
			return -1, nil
		}
		if header == nil {
			i, err := strconv.Atoi(name)
			if err != nil || i < 0 {
				return -1, errors.Annotatef(ErrData, "invalid column position %q", name)
			}
			return i, nil
		}
		for i, h := range header {
			if strings.TrimSpace(h) == name {
				return i, nil
			}
		}
		return -1, errors.Annotatef(ErrData, "column %q not found in header", name)
	}
	var (
		idx columnIndex
		err error
	)
	if idx.user, err = lookup(c.User, true); err != nil {
		return idx, err
	}
	if idx.item, err = lookup(c.Item, true); err != nil {
		return idx, err
	}
	if idx.rating, err = lookup(c.Rating, false); err != nil {
		return idx, err
	}
	if idx.timestamp, err = lookup(c.Timestamp, false); err != nil {
		return idx, err
	}
	return idx, nil
}

// ParseTimestamp accepts unix seconds or any layout known to dateparse.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return dateparse.ParseAny(s)
}

// ParseRating parses a rating. An empty value is a missing rating (NaN).
func ParseRating(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "null") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// Load reads the file. Rows with missing fields, empty identifiers or unparsable
// values are dropped and counted.
func (loader *CSVLoader) Load(ctx context.Context) ([]Interaction, LoadReport, error) {
	var report LoadReport
	file, err := os.Open(loader.Path)
	if err != nil {
		return nil, report, errors.Trace(err)
	}
	defer file.Close()
	columns := loader.Columns
	if columns == (Columns{}) {
		columns = DefaultColumns
	}
	var (
		idx          columnIndex
		resolved     bool
		interactions []Interaction
		pool         = strutil.NewPool()
	)
	if !loader.Header {
		if idx, err = columns.resolve(nil); err != nil {
			return nil, report, err
		}
		resolved = true
	}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	err = base.ReadLines(scanner, loader.Sep, func(lineNumber int, fields []string) bool {
		if ctx.Err() != nil {
			return false
		}
		if !resolved {
			if idx, err = columns.resolve(fields); err != nil {
				return false
			}
			resolved = true
			return true
		}
		report.Rows++
		r, ok := parseFields(fields, idx, pool)
		if !ok {
			report.Malformed++
			log.Logger().Debug("drop malformed row",
				zap.String("path", loader.Path),
				zap.Int("line", lineNumber+1),
				zap.Strings("fields", fields))
			return true
		}
		interactions = append(interactions, r)
		return true
	})
	if err != nil {
		return nil, report, errors.Trace(err)
	}
	if err = ctx.Err(); err != nil {
		return nil, report, errors.Trace(err)
	}
	if !resolved {
		return nil, report, errors.Annotatef(ErrData, "%s has no header", loader.Path)
	}
	log.Logger().Info("load interactions",
		zap.String("path", loader.Path),
		zap.Int("rows", report.Rows),
		zap.Int("malformed", report.Malformed))
	return interactions, report, nil
}

func parseFields(fields []string, idx columnIndex, pool *strutil.Pool) (Interaction, bool) {
	field := func(i int) (string, bool) {
		if i < 0 {
			return "", true
		}
		if i >= len(fields) {
			return "", false
		}
		return fields[i], true
	}
	var r Interaction
	userId, ok := field(idx.user)
	if !ok || strings.TrimSpace(userId) == "" {
		return r, false
	}
	itemId, ok := field(idx.item)
	if !ok || strings.TrimSpace(itemId) == "" {
		return r, false
	}
	r.UserId = pool.Align(strings.TrimSpace(userId))
	r.ItemId = pool.Align(strings.TrimSpace(itemId))
	if idx.rating < 0 {
		r.Rating = 1
	} else {
		s, ok := field(idx.rating)
		if !ok {
			return r, false
		}
		rating, err := ParseRating(s)
		if err != nil {
			return r, false
		}
		r.Rating = rating
	}
	// timestamps are optional, short rows simply have none
	if s, ok := field(idx.timestamp); ok && idx.timestamp >= 0 {
		timestamp, err := ParseTimestamp(s)
		if err != nil {
			return r, false
		}
		r.Timestamp = timestamp
	}
	return r, true
}
