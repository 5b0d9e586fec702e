// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package filters implements the attribute preprocessing applied to datasets before they are sent to
// the remote engine: missing value replacement, nominal-to-binary conversion and class removal.
//
// A Filter is fitted once on the training data, and afterwards transforms any dataset with the same
// schema deterministically, preserving the number of rows. Filters never modify their input.
// Fitted filters have exported fields only, so they can be persisted with encoding/gob.
package filters

import (
	"fmt"
	"slices"

	"github.com/gomlx/rapidsml/types/dataset"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// Filter transforms datasets.
type Filter interface {
	// Fit the filter to the given (training) dataset.
	Fit(ds *dataset.Dataset) error

	// Apply the fitted filter: it returns a new dataset with the same number of rows.
	Apply(ds *dataset.Dataset) (*dataset.Dataset, error)
}

// FitApply fits the filter to ds and returns ds transformed.
func FitApply(f Filter, ds *dataset.Dataset) (*dataset.Dataset, error) {
	if err := f.Fit(ds); err != nil {
		return nil, err
	}
	return f.Apply(ds)
}

// ReplaceMissing replaces missing values of non-class attributes with the mean (numeric and date
// attributes) or the mode (nominal attributes) observed during Fit.
type ReplaceMissing struct {
	Schema       *dataset.Schema
	Replacements []float64
}

var _ Filter = (*ReplaceMissing)(nil)

// Fit implements Filter.
func (f *ReplaceMissing) Fit(ds *dataset.Dataset) error {
	schema := ds.Schema()
	f.Schema = schema.Clone()
	f.Replacements = make([]float64, schema.NumAttributes())
	for col, attr := range schema.Attributes {
		if col == schema.ClassIndex {
			f.Replacements[col] = dataset.Missing()
			continue
		}
		values := slices.DeleteFunc(ds.ColumnValues(col), dataset.IsMissing)
		if len(values) == 0 {
			// Nothing observed: 0, which is also the first nominal value.
			f.Replacements[col] = 0
			continue
		}
		if attr.Type == dataset.Nominal {
			f.Replacements[col] = mode(values, attr.NumValues())
		} else {
			f.Replacements[col] = stat.Mean(values, nil)
		}
	}
	return nil
}

func mode(indices []float64, numValues int) float64 {
	counts := make([]int, numValues)
	for _, v := range indices {
		counts[int(v)]++
	}
	best := 0
	for ii, count := range counts {
		if count > counts[best] {
			best = ii
		}
	}
	return float64(best)
}

// Apply implements Filter.
func (f *ReplaceMissing) Apply(ds *dataset.Dataset) (*dataset.Dataset, error) {
	if f.Schema == nil {
		return nil, errors.New("ReplaceMissing filter used before Fit")
	}
	if err := f.Schema.Compatible(ds.Schema()); err != nil {
		return nil, errors.WithMessage(err, "ReplaceMissing: dataset doesn't match the fitted schema")
	}
	rows := make([][]float64, ds.NumRows())
	for ii := range rows {
		row := slices.Clone(ds.Row(ii))
		for col, v := range row {
			if col != f.Schema.ClassIndex && dataset.IsMissing(v) {
				row[col] = f.Replacements[col]
			}
		}
		rows[ii] = row
	}
	return dataset.WithSchema(ds.Schema(), rows)
}

// NominalToBinary converts non-class nominal attributes to numeric ones: an attribute with k > 2
// values becomes k indicator attributes named "attr=value"; an attribute with 2 or fewer values
// becomes a single numeric attribute holding the value index. The class attribute is kept as is.
// Missing nominal values become missing in every generated attribute.
type NominalToBinary struct {
	Input  *dataset.Schema
	Output *dataset.Schema
}

var _ Filter = (*NominalToBinary)(nil)

// Fit implements Filter.
func (f *NominalToBinary) Fit(ds *dataset.Dataset) error {
	in := ds.Schema()
	var attributes []dataset.Attribute
	classIndex := -1
	for col, attr := range in.Attributes {
		if col == in.ClassIndex {
			classIndex = len(attributes)
			attributes = append(attributes, attr)
			continue
		}
		if attr.Type != dataset.Nominal || attr.NumValues() <= 2 {
			attributes = append(attributes, dataset.Attribute{Name: attr.Name, Type: numericOrDate(attr)})
			continue
		}
		for _, value := range attr.Values {
			attributes = append(attributes, dataset.Attribute{
				Name: fmt.Sprintf("%s=%s", attr.Name, value),
				Type: dataset.Numeric,
			})
		}
	}
	out, err := dataset.NewSchema(in.Relation, attributes, classIndex)
	if err != nil {
		return errors.WithMessage(err, "NominalToBinary: can't build output schema")
	}
	f.Input = in.Clone()
	f.Output = out
	return nil
}

func numericOrDate(attr dataset.Attribute) dataset.AttributeType {
	if attr.Type == dataset.Date {
		return dataset.Date
	}
	return dataset.Numeric
}

// Apply implements Filter.
func (f *NominalToBinary) Apply(ds *dataset.Dataset) (*dataset.Dataset, error) {
	if f.Input == nil {
		return nil, errors.New("NominalToBinary filter used before Fit")
	}
	if err := f.Input.Compatible(ds.Schema()); err != nil {
		return nil, errors.WithMessage(err, "NominalToBinary: dataset doesn't match the fitted schema")
	}
	rows := make([][]float64, ds.NumRows())
	for ii := range rows {
		in := ds.Row(ii)
		out := make([]float64, 0, f.Output.NumAttributes())
		for col, attr := range f.Input.Attributes {
			v := in[col]
			if col == f.Input.ClassIndex || attr.Type != dataset.Nominal || attr.NumValues() <= 2 {
				out = append(out, v)
				continue
			}
			for valueIdx := range attr.Values {
				switch {
				case dataset.IsMissing(v):
					out = append(out, dataset.Missing())
				case int(v) == valueIdx:
					out = append(out, 1)
				default:
					out = append(out, 0)
				}
			}
		}
		rows[ii] = out
	}
	return dataset.WithSchema(f.Output, rows)
}

// RemoveClass returns a copy of ds without its class column, and with no class set.
func RemoveClass(ds *dataset.Dataset) (*dataset.Dataset, error) {
	schema := ds.Schema()
	if !schema.HasClass() {
		return nil, errors.New("dataset has no class attribute to remove")
	}
	classIndex := schema.ClassIndex
	attributes := slices.Delete(slices.Clone(schema.Attributes), classIndex, classIndex+1)
	out, err := dataset.NewSchema(schema.Relation, attributes, -1)
	if err != nil {
		return nil, err
	}
	rows := make([][]float64, ds.NumRows())
	for ii := range rows {
		rows[ii] = slices.Delete(slices.Clone(ds.Row(ii)), classIndex, classIndex+1)
	}
	return dataset.WithSchema(out, rows)
}
