// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"strings"

	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/rapidsml/classifier"
	"github.com/gomlx/rapidsml/config"
	"github.com/gomlx/rapidsml/internal/workerspool"
	"github.com/gomlx/rapidsml/remote"
	"github.com/gomlx/rapidsml/types/dataset"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"
)

// ProgressbarStyle used for predictions. Consider progressbar.ThemeUnicode for a prettier version.
var ProgressbarStyle = progressbar.ThemeASCII

// readCSV reads one of the input files with the -class, -nominal and -dates flags.
func readCSV(path string) (*dataset.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", path)
	}
	defer func() { _ = f.Close() }()
	var options []dataset.CSVOption
	if cols := splitList(*flagNominal); len(cols) > 0 {
		options = append(options, dataset.NominalColumns(cols...))
	}
	if cols := splitList(*flagDates); len(cols) > 0 {
		options = append(options, dataset.DateColumns(cols...))
	}
	ds, err := dataset.ReadCSV(f, *flagClass, options...)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %q", path)
	}
	klog.V(1).Infof("read %s rows x %d attributes from %q", humanize.Comma(int64(ds.NumRows())), ds.NumAttributes(), path)
	return ds, nil
}

func splitList(list string) []string {
	var parts []string
	for _, part := range strings.Split(list, ",") {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// trainAndEvaluate trains one classifier on -train, and evaluates it on -test (or on the training data).
func trainAndEvaluate(cfg *config.Config, registry *remote.Registry) {
	if *flagClass == "" {
		exceptions.Panicf("-class is required with -train")
	}
	trainDS := must.M1(readCSV(*flagTrain))
	testDS := trainDS
	if *flagTest != "" {
		testDS = must.M1(must.M1(readCSV(*flagTest)).Align(trainDS.Schema()))
	}

	c := must.M1(classifier.New(registry, must.M1(cfg.ClassifierOptions())))
	must.M(c.Train(trainDS))
	fmt.Println(titleStyle.Render(c.String()))

	predictions := must.M1(predictInBatches(c, testDS, cfg.BatchSize, true))
	m := evaluate(testDS, predictions)
	fmt.Println(metricsTable(m).Render())

	if *flagSave != "" {
		f := must.M1(os.Create(*flagSave))
		must.M(c.Save(f))
		must.M(f.Close())
		klog.Infof("saved classifier %s to %q", c.ModelRef(), *flagSave)
	}
}

// crossValidate splits -train in -folds, and trains and evaluates one classifier per fold, running
// up to -parallel folds at the same time.
//
// Folds running at the same time use separate Python servers (see foldHandle): frames are bound to
// fixed names in the server, so two folds sharing one would overwrite each other's data.
func crossValidate(cfg *config.Config, registry *remote.Registry) {
	if *flagClass == "" {
		exceptions.Panicf("-class is required with -train")
	}
	ds := must.M1(must.M1(readCSV(*flagTrain)).WithoutMissingClass())
	numFolds := *flagFolds
	if ds.NumRows() < numFolds {
		exceptions.Panicf("%d rows are not enough for %d folds", ds.NumRows(), numFolds)
	}
	opts := must.M1(cfg.ClassifierOptions())
	rng := rand.New(rand.NewPCG(uint64(*flagSeed), 0))
	order := rng.Perm(ds.NumRows())

	numSlots := *flagParallel
	if numSlots < 0 || numSlots > numFolds {
		numSlots = numFolds
	}
	slots := make(chan int, max(numSlots, 1))
	for slot := range cap(slots) {
		slots <- slot
	}

	foldMetrics := make([]metrics, numFolds)
	pool := workerspool.New(*flagParallel)
	err := pool.Run(numFolds, func(fold int) error {
		slot := <-slots
		defer func() { slots <- slot }()
		foldOpts := opts
		if numSlots > 1 {
			foldOpts.Handle = foldHandle(opts.Handle, slot)
		}

		var trainIdx, testIdx []int
		for ii, row := range order {
			if ii%numFolds == fold {
				testIdx = append(testIdx, row)
			} else {
				trainIdx = append(trainIdx, row)
			}
		}
		c, err := classifier.New(registry, foldOpts)
		if err != nil {
			return err
		}
		if err = c.Train(ds.Subset(trainIdx)); err != nil {
			return errors.WithMessagef(err, "fold %d", fold)
		}
		testDS := ds.Subset(testIdx)
		predictions, err := predictInBatches(c, testDS, cfg.BatchSize, false)
		if err != nil {
			return errors.WithMessagef(err, "fold %d", fold)
		}
		m := evaluate(testDS, predictions)
		foldMetrics[fold] = m
		klog.V(1).Infof("fold %d: %s", fold, m)
		return nil
	})
	must.M(err)

	fmt.Println(titleStyle.Render(fmt.Sprintf("%d-fold cross-validation of %s", numFolds, opts.Learner)))
	fmt.Println(metricsTable(mergeMetrics(foldMetrics)).Render())
}

// foldHandle returns the handle of the server used by the cross-validation worker slot: same
// interpreter, with a server id of its own.
func foldHandle(h remote.Handle, slot int) remote.Handle {
	id := fmt.Sprintf("cv%d", slot)
	if h.ServerID != "" {
		id = h.ServerID + "-" + id
	}
	return remote.NewHandle(h.Executable, id)
}

// predictInBatches calls c.Predict on batches of batchSize rows, optionally showing a progress bar.
func predictInBatches(c *classifier.Classifier, ds *dataset.Dataset, batchSize int, showProgress bool) ([][]float64, error) {
	numRows := ds.NumRows()
	var bar *progressbar.ProgressBar
	if showProgress && numRows > batchSize {
		term := termenv.NewOutput(os.Stdout)
		term.HideCursor()
		defer func() {
			term.ShowCursor()
			fmt.Println()
		}()
		bar = progressbar.NewOptions(numRows,
			progressbar.OptionSetDescription("      [bold]Predicting[reset]"),
			progressbar.OptionUseANSICodes(true),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("rows"),
			progressbar.OptionSetTheme(ProgressbarStyle),
		)
	}

	predictions := make([][]float64, 0, numRows)
	indices := make([]int, 0, batchSize)
	for start := 0; start < numRows; start += batchSize {
		end := min(start+batchSize, numRows)
		indices = indices[:0]
		for ii := start; ii < end; ii++ {
			indices = append(indices, ii)
		}
		batch, err := c.Predict(ds.Subset(indices))
		if err != nil {
			return nil, errors.WithMessagef(err, "rows %d to %d", start, end)
		}
		predictions = append(predictions, batch...)
		if bar != nil {
			_ = bar.Add(end - start)
		}
	}
	return predictions, nil
}

// metrics of a classifier over a test set. Rows with a missing class are not counted.
type metrics struct {
	nominal bool
	count   int

	// Nominal class.
	correct int

	// Numeric class.
	sumSquaredErr, sumAbsErr float64
}

func evaluate(ds *dataset.Dataset, predictions [][]float64) metrics {
	m := metrics{nominal: ds.ClassAttribute().IsNominal()}
	for row, dist := range predictions {
		want := ds.ClassValue(row)
		if dataset.IsMissing(want) || len(dist) == 0 {
			continue
		}
		m.count++
		if m.nominal {
			if floats.MaxIdx(dist) == int(want) {
				m.correct++
			}
			continue
		}
		diff := dist[0] - want
		m.sumSquaredErr += diff * diff
		m.sumAbsErr += math.Abs(diff)
	}
	return m
}

func mergeMetrics(all []metrics) metrics {
	var merged metrics
	for ii, m := range all {
		if ii == 0 {
			merged.nominal = m.nominal
		}
		merged.count += m.count
		merged.correct += m.correct
		merged.sumSquaredErr += m.sumSquaredErr
		merged.sumAbsErr += m.sumAbsErr
	}
	return merged
}

func (m metrics) accuracy() float64 { return float64(m.correct) / float64(m.count) }
func (m metrics) rmse() float64     { return math.Sqrt(m.sumSquaredErr / float64(m.count)) }
func (m metrics) mae() float64      { return m.sumAbsErr / float64(m.count) }

func (m metrics) String() string {
	if m.count == 0 {
		return "no rows evaluated"
	}
	if m.nominal {
		return fmt.Sprintf("accuracy=%.2f%% over %d rows", 100*m.accuracy(), m.count)
	}
	return fmt.Sprintf("rmse=%.4g mae=%.4g over %d rows", m.rmse(), m.mae(), m.count)
}

func metricsTable(m metrics) *lgtable.Table {
	table := newPlainTable(true)
	table.Headers("Metric", "Value")
	table.Row("Rows evaluated", humanize.Comma(int64(m.count)))
	if m.count == 0 {
		return table
	}
	if m.nominal {
		table.Row("Correct", humanize.Comma(int64(m.correct)))
		table.Row("Accuracy", fmt.Sprintf("%.2f%%", 100*m.accuracy()))
	} else {
		table.Row("RMSE", humanize.FtoaWithDigits(m.rmse(), 4))
		table.Row("MAE", humanize.FtoaWithDigits(m.mae(), 4))
	}
	return table
}
