// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build !unix

package transfer

import (
	"os"

	"github.com/pkg/errors"
)

// DefaultSharedDir returns the temporary directory.
func DefaultSharedDir() string { return os.TempDir() }

// SharedMemory is not supported on this platform: every allocation fails.
type SharedMemory struct{}

// NewSharedMemory returns a SharedMemory whose allocations fail.
func NewSharedMemory(dir string, device int) *SharedMemory { return &SharedMemory{} }

// Outstanding implements DeviceMemory.
func (m *SharedMemory) Outstanding() int { return 0 }

// Allocate implements DeviceMemory.
func (m *SharedMemory) Allocate(numElements int) (DeviceBuffer, error) {
	return nil, errors.New("shared transfer is only supported on unix systems")
}
