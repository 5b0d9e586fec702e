// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"encoding/base64"
	"sync"

	"github.com/gomlx/rapidsml/remote"
	"github.com/gomlx/rapidsml/types/dataset"
	"github.com/pkg/errors"
)

// DeviceMemory allocates buffers that can be exported to another process.
type DeviceMemory interface {
	// Allocate returns a buffer of numElements float32 values.
	Allocate(numElements int) (DeviceBuffer, error)

	// Outstanding returns the number of buffers allocated and not yet freed.
	Outstanding() int
}

// DeviceBuffer is a float32 buffer shared with another process.
type DeviceBuffer interface {
	// Float32s returns the host view of the buffer, valid until Free.
	Float32s() []float32

	// IPCHandle returns the opaque handle the other process uses to import the buffer.
	IPCHandle() ([]byte, error)

	// Device returns the ordinal of the device the buffer is attached to.
	Device() int

	// Free releases the buffer. Calling it more than once is a no-op.
	Free() error
}

var defaultDeviceMemory = sync.OnceValue(func() DeviceMemory {
	return NewSharedMemory(DefaultSharedDir(), 0)
})

// DefaultDeviceMemory returns the process-wide SharedMemory used when a Sender isn't given one.
func DefaultDeviceMemory() DeviceMemory { return defaultDeviceMemory() }

func (s *Sender) sendShared(ds *dataset.Dataset, frame string, h *Handle) (int, error) {
	for _, attr := range ds.Schema().Attributes {
		if attr.IsNominal() {
			return 0, errors.Errorf("shared transfer requires numeric attributes, %q is nominal", attr.Name)
		}
	}
	numRows, numCols := ds.NumRows(), ds.NumAttributes()
	if numRows == 0 || numCols == 0 {
		return 0, errors.Errorf("shared transfer of an empty dataset (%d rows x %d columns)", numRows, numCols)
	}
	buffer, err := s.memory.Allocate(numRows * numCols)
	if err != nil {
		return 0, errors.WithMessagef(err, "allocating shared buffer for %d x %d values", numRows, numCols)
	}
	h.buffer = buffer

	data := buffer.Float32s()
	for row := 0; row < numRows; row++ {
		values := ds.Row(row)
		offset := row * numCols
		for col, v := range values {
			data[offset+col] = float32(v)
		}
	}

	ipcHandle, err := buffer.IPCHandle()
	if err != nil {
		return 0, errors.WithMessage(err, "exporting shared buffer")
	}
	err = s.session.OpenShared(remote.SharedBuffer{
		Frame:     frame,
		IPCHandle: base64.StdEncoding.EncodeToString(ipcHandle),
		DType:     "float32",
		Shape:     [2]int{numRows, numCols},
		Columns:   columnNames(ds),
		Device:    buffer.Device(),
	})
	if err != nil {
		return 0, err
	}
	h.opened = true
	return len(data) * 4, nil
}
