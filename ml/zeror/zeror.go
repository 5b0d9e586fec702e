// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package zeror implements the degenerate "ZeroR" model: it ignores all features and predicts the
// class prior distribution (nominal class) or the mean of the target (numeric class).
package zeror

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/rapidsml/types/dataset"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Model is a fitted ZeroR model. Fields are exported for persistence with encoding/gob.
type Model struct {
	ClassName   string
	ClassValues []string // Empty for numeric classes.

	// Dist holds the class priors for a nominal class, or the single element [mean] for a numeric one.
	Dist []float64
}

// Fit builds the model from the rows of ds with a non-missing class.
//
// For a nominal class each count starts at 1 (Laplace estimator), so a dataset with no labeled rows
// gives a uniform distribution. For a numeric class the mean is 0 if there are no labeled rows.
func Fit(ds *dataset.Dataset) (*Model, error) {
	if !ds.Schema().HasClass() {
		return nil, errors.New("ZeroR requires a dataset with a class attribute")
	}
	classAttr := ds.ClassAttribute()
	m := &Model{ClassName: classAttr.Name}
	if classAttr.Type == dataset.Nominal {
		m.ClassValues = slices.Clone(classAttr.Values)
		counts, err := ds.ClassCounts()
		if err != nil {
			return nil, err
		}
		floats.AddConst(1, counts)
		floats.Scale(1/floats.Sum(counts), counts)
		m.Dist = counts
		return m, nil
	}

	values := slices.DeleteFunc(ds.ColumnValues(ds.ClassIndex()), dataset.IsMissing)
	mean := 0.0
	if len(values) > 0 {
		mean = stat.Mean(values, nil)
	}
	m.Dist = []float64{mean}
	return m, nil
}

// IsNumeric returns whether the model predicts a numeric class.
func (m *Model) IsNumeric() bool { return len(m.ClassValues) == 0 }

// Distribution returns a copy of the predicted distribution, the same for every row.
func (m *Model) Distribution() []float64 {
	return slices.Clone(m.Dist)
}

// PredictBatch returns the distribution for numRows rows.
func (m *Model) PredictBatch(numRows int) [][]float64 {
	out := make([][]float64, numRows)
	for ii := range out {
		out[ii] = m.Distribution()
	}
	return out
}

// String returns a short description of the model.
func (m *Model) String() string {
	var sb strings.Builder
	sb.WriteString("ZeroR predicts ")
	if m.IsNumeric() {
		fmt.Fprintf(&sb, "class value: %g", m.Dist[0])
		return sb.String()
	}
	best := floats.MaxIdx(m.Dist)
	fmt.Fprintf(&sb, "class value: %s (priors:", m.ClassValues[best])
	for ii, value := range m.ClassValues {
		fmt.Fprintf(&sb, " %s=%.4f", value, m.Dist[ii])
	}
	sb.WriteString(")")
	return sb.String()
}
