// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dataset holds tabular data: an ordered list of rows sharing one immutable Schema.
//
// Every cell is stored as a float64: numeric values as is, nominal values as the index into the
// attribute's domain, and dates as Unix seconds. A missing cell is NaN (see Missing and IsMissing).
//
// Datasets are only read by the rest of the module: filters and transfers produce new Datasets
// rather than modifying the ones they are given.
package dataset

import (
	"math"
	"slices"

	"github.com/pkg/errors"
)

// Missing returns the value used to represent a missing cell.
func Missing() float64 { return math.NaN() }

// IsMissing returns whether v represents a missing cell.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// Dataset is an ordered sequence of rows sharing one Schema.
type Dataset struct {
	schema *Schema
	rows   [][]float64
}

// New creates an empty Dataset with a copy of the given schema.
func New(schema *Schema, capacity int) *Dataset {
	return &Dataset{
		schema: schema.Clone(),
		rows:   make([][]float64, 0, capacity),
	}
}

// Schema returns the dataset's schema. It must not be modified.
func (ds *Dataset) Schema() *Schema { return ds.schema }

// NumRows returns the number of rows.
func (ds *Dataset) NumRows() int { return len(ds.rows) }

// NumAttributes returns the number of columns, including the class.
func (ds *Dataset) NumAttributes() int { return len(ds.schema.Attributes) }

// ClassIndex returns the class column, or -1.
func (ds *Dataset) ClassIndex() int { return ds.schema.ClassIndex }

// ClassAttribute returns the class attribute. It panics if the dataset has no class.
func (ds *Dataset) ClassAttribute() Attribute {
	return ds.schema.Attributes[ds.schema.ClassIndex]
}

// Add appends a copy of row. Nominal cells must be valid indices into the attribute domain (or missing).
func (ds *Dataset) Add(row []float64) error {
	if len(row) != len(ds.schema.Attributes) {
		return errors.Errorf("row has %d values, schema has %d attributes", len(row), len(ds.schema.Attributes))
	}
	for ii, v := range row {
		attr := ds.schema.Attributes[ii]
		if attr.Type != Nominal || IsMissing(v) {
			continue
		}
		if v != math.Trunc(v) || v < 0 || int(v) >= len(attr.Values) {
			return errors.Errorf("invalid value %g for nominal attribute %q with %d values", v, attr.Name, len(attr.Values))
		}
	}
	ds.rows = append(ds.rows, slices.Clone(row))
	return nil
}

// Row returns the row at index idx. The returned slice must not be modified.
func (ds *Dataset) Row(idx int) []float64 { return ds.rows[idx] }

// Value returns the cell at (row, col).
func (ds *Dataset) Value(row, col int) float64 { return ds.rows[row][col] }

// IsMissing returns whether the cell at (row, col) is missing.
func (ds *Dataset) IsMissing(row, col int) bool { return IsMissing(ds.rows[row][col]) }

// ClassValue returns the class cell of the given row.
func (ds *Dataset) ClassValue(row int) float64 { return ds.rows[row][ds.schema.ClassIndex] }

// ColumnValues returns a copy of the column col.
func (ds *Dataset) ColumnValues(col int) []float64 {
	values := make([]float64, len(ds.rows))
	for ii, row := range ds.rows {
		values[ii] = row[col]
	}
	return values
}

// Clone returns a copy of the dataset.
func (ds *Dataset) Clone() *Dataset {
	return ds.Subset(nil)
}

// Subset returns a new dataset with the rows given by indices, in that order.
// If indices is nil, all rows are copied.
func (ds *Dataset) Subset(indices []int) *Dataset {
	if indices == nil {
		out := New(ds.schema, len(ds.rows))
		for _, row := range ds.rows {
			out.rows = append(out.rows, slices.Clone(row))
		}
		return out
	}
	out := New(ds.schema, len(indices))
	for _, idx := range indices {
		out.rows = append(out.rows, slices.Clone(ds.rows[idx]))
	}
	return out
}

// WithoutMissingClass returns a copy of the dataset with the rows with a missing class removed.
// It returns an error if the dataset has no class.
func (ds *Dataset) WithoutMissingClass() (*Dataset, error) {
	if !ds.schema.HasClass() {
		return nil, errors.New("dataset has no class attribute")
	}
	out := New(ds.schema, len(ds.rows))
	for _, row := range ds.rows {
		if IsMissing(row[ds.schema.ClassIndex]) {
			continue
		}
		out.rows = append(out.rows, slices.Clone(row))
	}
	return out, nil
}

// ClassCounts returns the number of rows per class value of a nominal class.
// Rows with a missing class are ignored.
func (ds *Dataset) ClassCounts() ([]float64, error) {
	if !ds.schema.HasClass() {
		return nil, errors.New("dataset has no class attribute")
	}
	classAttr := ds.ClassAttribute()
	if classAttr.Type != Nominal {
		return nil, errors.Errorf("class attribute %q is %s, not nominal", classAttr.Name, classAttr.Type)
	}
	counts := make([]float64, classAttr.NumValues())
	for _, row := range ds.rows {
		v := row[ds.schema.ClassIndex]
		if IsMissing(v) {
			continue
		}
		counts[int(v)]++
	}
	return counts, nil
}

// WithSchema returns a dataset with the given schema and rows. The rows are used as is (not copied)
// and must match the schema: it is meant for filters that build new rows.
func WithSchema(schema *Schema, rows [][]float64) (*Dataset, error) {
	for ii, row := range rows {
		if len(row) != len(schema.Attributes) {
			return nil, errors.Errorf("row %d has %d values, schema has %d attributes", ii, len(row), len(schema.Attributes))
		}
	}
	return &Dataset{schema: schema.Clone(), rows: rows}, nil
}

// Align returns a copy of ds conforming to target: columns are matched by name, and nominal values by
// label. Labels unknown to target become missing, and so do target columns absent from ds.
//
// It is used to predict on data read separately from the training data, whose nominal domains may
// differ.
func (ds *Dataset) Align(target *Schema) (*Dataset, error) {
	sourceCols := make([]int, len(target.Attributes))
	for col, attr := range target.Attributes {
		sourceCols[col] = slices.IndexFunc(ds.schema.Attributes, func(a Attribute) bool { return a.Name == attr.Name })
		if sourceCols[col] < 0 {
			continue
		}
		source := ds.schema.Attributes[sourceCols[col]]
		if (source.Type == Nominal) != (attr.Type == Nominal) {
			return nil, errors.Errorf("attribute %q is %s, expected %s", attr.Name, source.Type, attr.Type)
		}
	}
	rows := make([][]float64, len(ds.rows))
	for ii, in := range ds.rows {
		row := make([]float64, len(target.Attributes))
		for col, attr := range target.Attributes {
			src := sourceCols[col]
			switch {
			case src < 0 || IsMissing(in[src]):
				row[col] = Missing()
			case attr.Type == Nominal:
				idx := attr.IndexOf(ds.schema.Attributes[src].Values[int(in[src])])
				if idx < 0 {
					row[col] = Missing()
				} else {
					row[col] = float64(idx)
				}
			default:
				row[col] = in[src]
			}
		}
		rows[ii] = row
	}
	return WithSchema(target, rows)
}
