// Copyright 2021 gorse Project Authors
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

package evaluator

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorse-io/recbench/base"
	"github.com/gorse-io/recbench/model"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

// columns returns grid axes followed by the random state when the grid does not fix it.
func (r *SearchResult) columns() []model.ParamName {
	if lo.Contains(r.Names, model.RandomState) {
		return r.Names
	}
	return append(append([]model.ParamName{}, r.Names...), model.RandomState)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func (record Record) status() string {
	if record.Failed() {
		return "failed: " + record.Err.Error()
	}
	return "ok"
}

// WriteTable renders records as a table. The best record is marked with "*".
func (r *SearchResult) WriteTable(w io.Writer) error {
	columns := r.columns()
	header := []string{"#"}
	for _, name := range columns {
		header = append(header, string(name))
	}
	header = append(header, "NDCG", "Precision", "Recall", "HitRate", "MRR", "MAP", "Status")
	table := tablewriter.NewWriter(w)
	table.Header(header)
	for i, record := range r.Records {
		index := strconv.Itoa(record.Index)
		if i == r.BestIndex {
			index += "*"
		}
		row := []string{index}
		for _, name := range columns {
			row = append(row, fmt.Sprint(record.Params[name]))
		}
		if record.Failed() {
			row = append(row, "-", "-", "-", "-", "-", "-")
		} else {
			row = append(row,
				formatFloat(record.Score.NDCG),
				formatFloat(record.Score.Precision),
				formatFloat(record.Score.Recall),
				formatFloat(record.Score.HitRate),
				formatFloat(record.Score.MRR),
				formatFloat(record.Score.MAP))
		}
		row = append(row, record.status())
		if err := table.Append(row); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}

// WriteCSV writes one line per record:
//
//	index,<params...>,ndcg,precision,recall,hit_rate,mrr,map,status
func (r *SearchResult) WriteCSV(w io.Writer) error {
	columns := r.columns()
	bw := bufio.NewWriter(w)
	header := append([]string{"index"}, lo.Map(columns, func(name model.ParamName, _ int) string { return string(name) })...)
	header = append(header, "ndcg", "precision", "recall", "hit_rate", "mrr", "map", "status")
	if _, err := bw.WriteString(strings.Join(header, ",") + "\n"); err != nil {
		return errors.Trace(err)
	}
	for _, record := range r.Records {
		fields := []string{strconv.Itoa(record.Index)}
		for _, name := range columns {
			fields = append(fields, base.Escape(fmt.Sprint(record.Params[name])))
		}
		score := record.Score
		for _, v := range []float64{score.NDCG, score.Precision, score.Recall, score.HitRate, score.MRR, score.MAP} {
			fields = append(fields, strconv.FormatFloat(v, 'g', -1, 64))
		}
		fields = append(fields, base.Escape(record.status()))
		if _, err := bw.WriteString(strings.Join(fields, ",") + "\n"); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(bw.Flush())
}

// WriteCSVFile writes records to path, creating parent directories.
func (r *SearchResult) WriteCSVFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return errors.Trace(err)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Trace(err)
	}
	if err = r.WriteCSV(f); err != nil {
		_ = f.Close()
		return err
	}
	return errors.Trace(f.Close())
}
