// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build unix

package transfer

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// DefaultSharedDir returns /dev/shm if it exists, or the temporary directory otherwise.
func DefaultSharedDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// SharedMemory is a DeviceMemory backed by memory-mapped files in a directory, usually /dev/shm.
//
// Its IPC handle is a JSON document {"path", "size", "device"}: the remote process maps the same file.
type SharedMemory struct {
	dir    string
	device int

	allocated, freed atomic.Int64
}

var _ DeviceMemory = (*SharedMemory)(nil)

// NewSharedMemory returns a SharedMemory creating its files in dir, reporting device as their device.
func NewSharedMemory(dir string, device int) *SharedMemory {
	return &SharedMemory{dir: dir, device: device}
}

// Outstanding implements DeviceMemory.
func (m *SharedMemory) Outstanding() int {
	return int(m.allocated.Load() - m.freed.Load())
}

// Allocate implements DeviceMemory.
func (m *SharedMemory) Allocate(numElements int) (DeviceBuffer, error) {
	if numElements <= 0 {
		return nil, errors.Errorf("invalid shared buffer size %d", numElements)
	}
	size := numElements * 4
	f, err := os.CreateTemp(m.dir, "rapidsml_shm_*")
	if err != nil {
		return nil, errors.Wrapf(err, "creating shared memory file in %q", m.dir)
	}
	path := f.Name()
	err = f.Truncate(int64(size))
	var data []byte
	if err == nil {
		data, err = unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	}
	_ = f.Close()
	if err != nil {
		_ = os.Remove(path)
		return nil, errors.Wrapf(err, "mapping %d bytes of %q", size, path)
	}
	m.allocated.Add(1)
	return &sharedBuffer{
		memory: m,
		path:   path,
		data:   data,
		values: unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), numElements),
	}, nil
}

type sharedBuffer struct {
	memory *SharedMemory
	path   string
	data   []byte
	values []float32

	freeOnce sync.Once
	freeErr  error
}

func (b *sharedBuffer) Float32s() []float32 { return b.values }

func (b *sharedBuffer) Device() int { return b.memory.device }

func (b *sharedBuffer) IPCHandle() ([]byte, error) {
	return json.Marshal(struct {
		Path   string `json:"path"`
		Size   int    `json:"size"`
		Device int    `json:"device"`
	}{b.path, len(b.data), b.memory.device})
}

func (b *sharedBuffer) Free() error {
	b.freeOnce.Do(func() {
		b.values = nil
		if err := unix.Munmap(b.data); err != nil {
			b.freeErr = errors.Wrapf(err, "unmapping %q", b.path)
		}
		b.data = nil
		if err := os.Remove(b.path); err != nil {
			klog.Warningf("transfer: failed to remove shared memory file %q: %v", b.path, err)
		}
		b.memory.freed.Add(1)
	})
	return b.freeErr
}
