// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package transfer moves datasets into the namespace of a remote session, under one of three strategies
// with different resource ownership:
//
//   - RowText: CSV text, nothing to release.
//   - ColumnarZeroCopy: an Arrow IPC stream, nothing to release after Send returns.
//   - DeviceShared: a buffer shared with the remote process, owned by the returned Handle until Release.
//
// In every strategy a nominal class column is sent as its value index, so the remote side can cast it
// to an integer label.
package transfer

import (
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/rapidsml/remote"
	"github.com/gomlx/rapidsml/types/dataset"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Strategy used to transfer datasets. The values are part of the configuration format.
type Strategy int

const (
	// RowText sends the dataset as CSV text.
	RowText Strategy = 0

	// ColumnarZeroCopy sends the dataset as an Arrow IPC stream.
	ColumnarZeroCopy Strategy = 1

	// DeviceShared shares a float32 buffer with the remote process.
	DeviceShared Strategy = 2
)

// DefaultStrategy is ColumnarZeroCopy.
const DefaultStrategy = ColumnarZeroCopy

var strategyNames = map[Strategy]string{
	RowText:          "csv",
	ColumnarZeroCopy: "arrow",
	DeviceShared:     "shared",
}

// String implements fmt.Stringer.
func (s Strategy) String() string {
	if name, found := strategyNames[s]; found {
		return name
	}
	return "Strategy(" + strconv.Itoa(int(s)) + ")"
}

// ParseStrategy accepts a strategy name ("csv", "arrow", "shared"), its number ("0", "1", "2"), or the
// empty string for DefaultStrategy.
func ParseStrategy(text string) (Strategy, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return DefaultStrategy, nil
	}
	for s, name := range strategyNames {
		if text == name || text == strconv.Itoa(int(s)) {
			return s, nil
		}
	}
	return DefaultStrategy, errors.Errorf("unknown transfer strategy %q, valid values are csv (0), arrow (1) or shared (2)", text)
}

// Handle is the resource token of one Send. It is empty for RowText and ColumnarZeroCopy. For
// DeviceShared it owns the shared buffer, and Sender.Release must be called before the session is
// released.
type Handle struct {
	strategy Strategy
	frame    string
	buffer   DeviceBuffer
	opened   bool
}

// Empty returns whether the handle owns no resource.
func (h *Handle) Empty() bool { return h == nil || h.buffer == nil }

// Frame returns the name of the remote frame.
func (h *Handle) Frame() string { return h.frame }

// Sender transfers datasets to one session under one strategy.
type Sender struct {
	strategy  Strategy
	session   remote.Session
	memory    DeviceMemory
	allocator memory.Allocator
}

// Option configures a Sender.
type Option func(s *Sender)

// WithDeviceMemory sets where DeviceShared buffers are allocated. The default is a SharedMemory in
// DefaultSharedDir.
func WithDeviceMemory(m DeviceMemory) Option {
	return func(s *Sender) { s.memory = m }
}

// WithAllocator sets the Arrow allocator used by ColumnarZeroCopy.
func WithAllocator(allocator memory.Allocator) Option {
	return func(s *Sender) { s.allocator = allocator }
}

// NewSender returns a Sender for session.
func NewSender(strategy Strategy, session remote.Session, options ...Option) *Sender {
	s := &Sender{strategy: strategy, session: session, allocator: memory.DefaultAllocator}
	for _, opt := range options {
		opt(s)
	}
	if s.memory == nil && strategy == DeviceShared {
		s.memory = DefaultDeviceMemory()
	}
	return s
}

// Strategy returns the strategy of the sender.
func (s *Sender) Strategy() Strategy { return s.strategy }

// Send binds ds to the remote variable frame.
//
// It always returns a non-nil Handle, also when it fails, and the caller must pass it to Release,
// usually with a defer right after the call.
func (s *Sender) Send(ds *dataset.Dataset, frame string) (*Handle, error) {
	h := &Handle{strategy: s.strategy, frame: frame}
	view, err := classAsIndex(ds)
	if err != nil {
		return h, err
	}
	start := time.Now()
	var size int
	switch s.strategy {
	case RowText:
		size, err = s.sendRowText(view, frame)
	case ColumnarZeroCopy:
		size, err = s.sendColumnar(view, frame)
	case DeviceShared:
		size, err = s.sendShared(view, frame, h)
	default:
		err = errors.Errorf("unknown transfer strategy %s", s.strategy)
	}
	if err != nil {
		return h, errors.WithMessagef(err, "sending %d rows to %q with strategy %s", ds.NumRows(), frame, s.strategy)
	}
	klog.V(1).Infof("transfer: sent %d rows x %d columns (%s) to %q with %s in %s",
		view.NumRows(), view.NumAttributes(), humanize.Bytes(uint64(size)), frame, s.strategy, time.Since(start))
	return h, nil
}

// Release frees the resources owned by h: the remote import is closed (if it was opened) and the shared
// buffer is always freed. It is a no-op for nil or empty handles, and safe to call twice.
func (s *Sender) Release(h *Handle) error {
	if h.Empty() {
		return nil
	}
	var closeErr error
	if h.opened {
		closeErr = s.session.CloseShared(h.frame)
		if closeErr != nil {
			closeErr = errors.WithMessagef(closeErr, "closing shared frame %q", h.frame)
		}
		h.opened = false
	}
	freeErr := h.buffer.Free()
	h.buffer = nil
	if closeErr != nil {
		if freeErr != nil {
			klog.Errorf("transfer: failed to free buffer of %q: %+v", h.frame, freeErr)
		}
		return closeErr
	}
	return freeErr
}

// classAsIndex returns a view of ds where a nominal class is a numeric column holding the value index.
// Rows are shared, not copied.
func classAsIndex(ds *dataset.Dataset) (*dataset.Dataset, error) {
	schema := ds.Schema()
	if !schema.HasClass() || !ds.ClassAttribute().IsNominal() {
		return ds, nil
	}
	schema = schema.Clone()
	schema.Attributes[schema.ClassIndex] = dataset.Attribute{Name: schema.Attributes[schema.ClassIndex].Name, Type: dataset.Numeric}
	rows := make([][]float64, ds.NumRows())
	for ii := range rows {
		rows[ii] = ds.Row(ii)
	}
	return dataset.WithSchema(schema, rows)
}

// columnNames returns the attribute names of ds.
func columnNames(ds *dataset.Dataset) []string {
	names := make([]string, ds.NumAttributes())
	for ii, attr := range ds.Schema().Attributes {
		names[ii] = attr.Name
	}
	return names
}
