// Copyright 2022 gorse Project Authors
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
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	LabelRunId = "run_id"
	LabelModel = "model"
	LabelData  = "data"
)

// WriteMetrics writes the report to path in the Prometheus text format, for the textfile
// collector of node exporter.
func WriteMetrics(path string, report *Report) error {
	labels := prometheus.Labels{LabelRunId: report.RunId, LabelModel: report.Model}
	registry := prometheus.NewRegistry()
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "recbench",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
		registry.MustRegister(g)
		return g
	}
	scores := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   "recbench",
		Name:        "ndcg",
		Help:        "Mean nDCG of the best parameters.",
		ConstLabels: labels,
	}, []string{LabelData})
	registry.MustRegister(scores)
	if report.Search != nil {
		gauge("evaluations", "Number of evaluated parameter combinations.").Set(float64(len(report.Search.Records)))
		gauge("failed_evaluations", "Number of failed evaluations.").Set(float64(report.Search.Failures()))
		if best, ok := report.Search.Best(); ok {
			scores.WithLabelValues("validation").Set(best.Score.NDCG)
		}
	}
	scores.WithLabelValues("test").Set(report.Test.NDCG)
	gauge("test_precision", "Mean precision of the refitted model on test data.").Set(report.Test.Precision)
	gauge("test_recall", "Mean recall of the refitted model on test data.").Set(report.Test.Recall)
	gauge("elapsed_seconds", "Duration of the experiment.").Set(report.Elapsed.Seconds())
	return errors.Trace(prometheus.WriteToTextfile(path, registry))
}
