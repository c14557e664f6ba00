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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gorse-io/recbench/base"
	"github.com/juju/errors"
)

// WriteCSV writes a log as comma separated values with a header row. Timestamps are
// written as unix seconds, or left empty when absent.
func WriteCSV(w io.Writer, l *Log) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("user_id,item_id,rating,timestamp\n"); err != nil {
		return errors.Trace(err)
	}
	for _, r := range l.records {
		timestamp := ""
		if !r.Timestamp.IsZero() {
			timestamp = strconv.FormatInt(r.Timestamp.Unix(), 10)
		}
		if _, err := fmt.Fprintf(bw, "%s,%s,%s,%s\n",
			base.Escape(r.UserId),
			base.Escape(r.ItemId),
			strconv.FormatFloat(r.Rating, 'g', -1, 64),
			timestamp); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(bw.Flush())
}

// WriteCSVFile writes a log to path, creating parent directories.
func WriteCSVFile(path string, l *Log) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return errors.Trace(err)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Trace(err)
	}
	if err = WriteCSV(f, l); err != nil {
		_ = f.Close()
		return err
	}
	return errors.Trace(f.Close())
}

// Export writes every partition to dir as <name>.csv.
func (p *Partitions) Export(dir string) error {
	for name, l := range map[string]*Log{
		"train":      p.Train,
		"validation": p.Validation,
		"test":       p.Test,
	} {
		if err := WriteCSVFile(filepath.Join(dir, name+".csv"), l); err != nil {
			return errors.Annotatef(err, "export %s", name)
		}
	}
	return nil
}
