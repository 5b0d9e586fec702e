// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package learners

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Remote names shared by all classifiers. Two classifiers training concurrently on one session can
// overwrite each other's frames between commands: only the model names are per classifier.
const (
	TrainingFrame = "rapids_classifier_training"
	TestFrame     = "cuml_classifier_test"

	// ModelPrefix is the prefix of every ModelRef.
	ModelPrefix = "weka_cuml_learner"

	// PredictionsVariable holds the output of a predict script, as nested lists.
	PredictionsVariable = "preds"

	// VersionVariable holds the version string set by VersionScript.
	VersionVariable = "cumlv"
)

// ModelRef is the remote variable name bound to one trained model.
type ModelRef string

// NewModelHash returns a new random hash for a ModelRef.
func NewModelHash() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewModelRef returns the reference for the given hash.
func NewModelRef(hash string) ModelRef {
	return ModelRef(ModelPrefix + hash)
}

// Builder builds the remote scripts for one learner and option text.
type Builder struct {
	desc    Descriptor
	options string
}

// NewBuilder returns a Builder for desc. The options text is passed verbatim to the constructor; its
// syntax is not checked here, a mistake shows up in the stderr of the train script.
func NewBuilder(desc Descriptor, options string) *Builder {
	return &Builder{desc: desc, options: strings.TrimSpace(options)}
}

// Descriptor returns the learner descriptor.
func (b *Builder) Descriptor() Descriptor { return b.desc }

// Options returns the constructor options text.
func (b *Builder) Options() string { return b.options }

// TrainScript returns the script that binds X and Y from frame, constructs the learner as ref and fits it.
// Features are cast to float32, and the class to int32 for classifiers or float32 for regressors.
func (b *Builder) TrainScript(ref ModelRef, frame, classColumn string) (string, error) {
	if err := b.desc.Validate(); err != nil {
		return "", err
	}
	labelType := "float32"
	if b.desc.Classifier {
		labelType = "int32"
	}
	column := pyString(classColumn)
	var sb strings.Builder
	fmt.Fprintf(&sb, "from cuml import %s\n", b.desc.Module)
	sb.WriteString("import cupy as cp\n")
	sb.WriteString("import cudf\n")
	fmt.Fprintf(&sb, "X = %s.drop(columns=[%s])\n", frame, column)
	fmt.Fprintf(&sb, "Y = %s[%s]\n", frame, column)
	fmt.Fprintf(&sb, "%s = %s.%s(%s)\n", ref, b.desc.Module, b.desc.Name, b.options)
	fmt.Fprintf(&sb, "%s.fit(X.astype('float32'), Y.astype('%s'))\n", ref, labelType)
	return sb.String(), nil
}

// PredictScript returns the script that predicts for every row of frame (features only) with ref, and
// stores the result in PredictionsVariable as nested lists. Learners with Probabilities use
// predict_proba when the class is nominal.
//
// PredictionsVariable is reset to None first, so a script that fails leaves it unset rather than
// holding the previous predictions.
func (b *Builder) PredictScript(ref ModelRef, frame string, nominalClass bool) (string, error) {
	if err := b.desc.Validate(); err != nil {
		return "", err
	}
	method := "predict"
	if b.ProducesProbabilities(nominalClass) {
		method = "predict_proba"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s = None\n", PredictionsVariable)
	fmt.Fprintf(&sb, "from cuml.%s import %s\n", b.desc.Module, b.desc.Name)
	fmt.Fprintf(&sb, "X = %s\n", frame)
	fmt.Fprintf(&sb, "%s = %s.%s(X.astype('float32'))\n", PredictionsVariable, ref, method)
	fmt.Fprintf(&sb, "%s = _to_list(%s)\n", PredictionsVariable, PredictionsVariable)
	return sb.String(), nil
}

// ProducesProbabilities returns whether predictions are probability vectors for the given class type.
func (b *Builder) ProducesProbabilities(nominalClass bool) bool {
	return b.desc.Probabilities && nominalClass
}

// CleanupScript returns the script that deletes ref from the remote namespace.
func (b *Builder) CleanupScript(ref ModelRef) string {
	return fmt.Sprintf("del %s\n", ref)
}

// VersionScript returns the script that stores the cuML version string in VersionVariable.
func VersionScript() string {
	return "import cuml\n" + VersionVariable + " = cuml.__version__\n"
}

// ParseVersion converts a version string like "24.02.01" to major.minor as a number (24.02).
func ParseVersion(text string) (float64, error) {
	text = strings.TrimSpace(text)
	if strings.Count(text, ".") > 1 {
		text = text[:strings.LastIndex(text, ".")]
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing cuML version %q", text)
	}
	return v, nil
}

// pyString returns s as a Python string literal.
func pyString(s string) string {
	return strconv.Quote(s)
}
