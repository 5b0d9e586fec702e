// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package decode converts the output of a remote predict script into one distribution per row: class
// probabilities or a one-hot vector for nominal classes, and a single-element vector for numeric ones.
//
// Decoding is a small state machine: Pending -> Decoding -> Normalized, with any step possibly ending
// in Failed.
package decode

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/gomlx/rapidsml/remote"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"
)

var (
	// ErrEmptyRemoteResult is returned when the remote predictions are absent.
	ErrEmptyRemoteResult = errors.New("remote returned no predictions")

	// ErrRowCountMismatch is returned when the number of predictions differs from the number of rows.
	ErrRowCountMismatch = errors.New("number of predictions doesn't match the number of rows")

	// ErrInvalidPrediction is returned when a prediction can't be interpreted: not a number, a class
	// index out of range or a probability vector of the wrong length.
	ErrInvalidPrediction = errors.New("invalid prediction")

	// ErrNormalizationFailure is never returned: it is logged when a probability vector can't be
	// normalized and the class priors are used instead.
	ErrNormalizationFailure = errors.New("probability vector can't be normalized")
)

// State of a Decoder.
type State int

const (
	Pending State = iota
	Decoding
	Normalized
	Failed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Decoding:
		return "Decoding"
	case Normalized:
		return "Normalized"
	case Failed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Request holds everything needed to decode one batch of predictions.
type Request struct {
	// Stdout and Stderr are the captured output of the predict script.
	Stdout, Stderr string

	// Value is the predictions variable read as JSON: a list with one entry per row, each a number or
	// a list of numbers.
	Value any

	// NumRows is the number of rows sent for prediction.
	NumRows int

	// ClassValues is the class domain for a nominal class, empty for a numeric class.
	ClassValues []string

	// Probabilities is set if Value holds probability vectors (for a nominal class).
	Probabilities bool

	// EmptyClassMask marks the classes absent from the training data: the remote probability vectors
	// skip them. Nil means no class was absent.
	EmptyClassMask []bool

	// Priors replace probability vectors that can't be normalized.
	Priors []float64

	// ContinueOnError makes a non-empty Stderr a logged warning instead of a failure.
	ContinueOnError bool
}

// Batch holds one distribution per row.
type Batch [][]float64

// Decoder decodes one Request.
type Decoder struct {
	req   Request
	state State
	err   error

	// fallbacks counts rows that used the priors.
	fallbacks int
}

// New returns a Decoder in the Pending state.
func New(req Request) *Decoder {
	return &Decoder{req: req, state: Pending}
}

// State returns the current state: Normalized or Failed after Run.
func (d *Decoder) State() State { return d.state }

// Err returns the error that made the decoder fail, if any.
func (d *Decoder) Err() error { return d.err }

// Fallbacks returns the number of rows whose probabilities were replaced by the priors.
func (d *Decoder) Fallbacks() int { return d.fallbacks }

func (d *Decoder) fail(err error) (Batch, error) {
	d.state = Failed
	d.err = err
	return nil, err
}

// Run walks the states to a terminal one, and returns the decoded batch.
func (d *Decoder) Run() (Batch, error) {
	if d.state != Pending {
		return nil, errors.Errorf("decoder already run, state %s", d.state)
	}
	if err := CheckStderr(d.req.Stderr, d.req.ContinueOnError); err != nil {
		return d.fail(err)
	}
	d.state = Decoding

	if d.req.Value == nil {
		return d.fail(ErrEmptyRemoteResult)
	}
	rows, ok := d.req.Value.([]any)
	if !ok {
		return d.fail(errors.WithMessagef(ErrInvalidPrediction, "predictions are a %T, not a list", d.req.Value))
	}
	if len(rows) != d.req.NumRows {
		return d.fail(errors.WithMessagef(ErrRowCountMismatch, "got %d predictions for %d rows", len(rows), d.req.NumRows))
	}

	batch := make(Batch, len(rows))
	var err error
	for ii, row := range rows {
		switch {
		case len(d.req.ClassValues) == 0:
			batch[ii], err = d.regression(row)
		case d.req.Probabilities:
			batch[ii], err = d.probabilities(row)
		default:
			batch[ii], err = d.oneHot(row)
		}
		if err != nil {
			return d.fail(errors.WithMessagef(err, "row %d", ii))
		}
	}
	if d.fallbacks > 0 {
		klog.Warningf("decode: %v for %d of %d rows, predicting with the class priors",
			ErrNormalizationFailure, d.fallbacks, len(rows))
	}
	d.state = Normalized
	return batch, nil
}

// CheckStderr returns a *remote.ScriptError holding stderr if it is not empty, unless continueOnError
// is set, in which case stderr is only logged.
func CheckStderr(stderr string, continueOnError bool) error {
	if strings.TrimSpace(stderr) == "" {
		return nil
	}
	if continueOnError {
		klog.Warningf("remote script wrote to stderr (ignored):\n%s", stderr)
		return nil
	}
	return &remote.ScriptError{Stderr: stderr}
}

// scalar returns the number in row, or the first element of row if it is a list.
func scalar(row any) (float64, error) {
	if list, ok := row.([]any); ok {
		if len(list) == 0 {
			return 0, errors.WithMessage(ErrInvalidPrediction, "empty list")
		}
		row = list[0]
	}
	v, ok := row.(float64)
	if !ok {
		return 0, errors.WithMessagef(ErrInvalidPrediction, "%v (%T) is not a number", row, row)
	}
	return v, nil
}

func (d *Decoder) regression(row any) ([]float64, error) {
	v, err := scalar(row)
	if err != nil {
		return nil, err
	}
	return []float64{v}, nil
}

func (d *Decoder) oneHot(row any) ([]float64, error) {
	v, err := scalar(row)
	if err != nil {
		return nil, err
	}
	numClasses := len(d.req.ClassValues)
	idx := int(v)
	if float64(idx) != v || idx < 0 || idx >= numClasses {
		return nil, errors.WithMessagef(ErrInvalidPrediction, "class index %g out of range for %d classes", v, numClasses)
	}
	dist := make([]float64, numClasses)
	dist[idx] = 1
	return dist, nil
}

func (d *Decoder) probabilities(row any) ([]float64, error) {
	list, ok := row.([]any)
	if !ok {
		return nil, errors.WithMessagef(ErrInvalidPrediction, "%v (%T) is not a probability vector", row, row)
	}
	numClasses := len(d.req.ClassValues)
	numPresent := numClasses
	for _, empty := range d.req.EmptyClassMask {
		if empty {
			numPresent--
		}
	}
	if len(list) != numPresent {
		return nil, errors.WithMessagef(ErrInvalidPrediction, "got %d probabilities for %d classes present in training",
			len(list), numPresent)
	}
	dist := make([]float64, numClasses)
	next := 0
	for ii := range dist {
		if ii < len(d.req.EmptyClassMask) && d.req.EmptyClassMask[ii] {
			continue
		}
		p, ok := list[next].(float64)
		if !ok {
			// JSON null (NaN on the remote side) or garbage: let normalization fail.
			p = math.NaN()
		}
		dist[ii] = p
		next++
	}
	if !normalize(dist) {
		d.fallbacks++
		klog.V(1).Infof("decode: %v: %v", ErrNormalizationFailure, dist)
		return slices.Clone(d.req.Priors), nil
	}
	return dist, nil
}

// normalize scales dist in place to sum 1, and returns false if the sum is zero or not finite.
func normalize(dist []float64) bool {
	sum := floats.Sum(dist)
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return false
	}
	floats.Scale(1/sum, dist)
	return true
}
