// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"bytes"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/gomlx/rapidsml/types/dataset"
	"github.com/pkg/errors"
)

// ArrowSchema returns the Arrow schema for ds: float64 columns for numeric and date attributes, utf8
// columns for nominal ones. Every column is nullable, missing cells being nulls.
func ArrowSchema(ds *dataset.Dataset) *arrow.Schema {
	fields := make([]arrow.Field, ds.NumAttributes())
	for ii, attr := range ds.Schema().Attributes {
		var dtype arrow.DataType = arrow.PrimitiveTypes.Float64
		if attr.IsNominal() {
			dtype = arrow.BinaryTypes.String
		}
		fields[ii] = arrow.Field{Name: attr.Name, Type: dtype, Nullable: true}
	}
	metadata := arrow.NewMetadata([]string{"relation"}, []string{ds.Schema().Relation})
	return arrow.NewSchema(fields, &metadata)
}

// EncodeArrow returns ds as an Arrow IPC stream holding a single record batch.
// All memory taken from mem is released before it returns.
func EncodeArrow(ds *dataset.Dataset, mem memory.Allocator) ([]byte, error) {
	schema := ArrowSchema(ds)
	builder := array.NewRecordBuilder(mem, schema)
	defer builder.Release()
	numRows := ds.NumRows()
	for col, attr := range ds.Schema().Attributes {
		switch b := builder.Field(col).(type) {
		case *array.Float64Builder:
			b.Reserve(numRows)
			for row := 0; row < numRows; row++ {
				v := ds.Value(row, col)
				if dataset.IsMissing(v) {
					b.AppendNull()
				} else {
					b.Append(v)
				}
			}
		case *array.StringBuilder:
			b.Reserve(numRows)
			for row := 0; row < numRows; row++ {
				v := ds.Value(row, col)
				if dataset.IsMissing(v) {
					b.AppendNull()
				} else {
					b.Append(attr.Values[int(v)])
				}
			}
		default:
			return nil, errors.Errorf("unexpected arrow builder %T for attribute %q", b, attr.Name)
		}
	}
	record := builder.NewRecord()
	defer record.Release()

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err := writer.Write(record); err != nil {
		_ = writer.Close()
		return nil, errors.Wrap(err, "writing arrow record batch")
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, "closing arrow stream")
	}
	return buf.Bytes(), nil
}

func (s *Sender) sendColumnar(ds *dataset.Dataset, frame string) (int, error) {
	payload, err := EncodeArrow(ds, s.allocator)
	if err != nil {
		return 0, err
	}
	if err := s.session.PutArrow(frame, payload); err != nil {
		return 0, err
	}
	return len(payload), nil
}
