// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"
)

// AttributeType is the type of the values held by one column of a Dataset.
type AttributeType int

const (
	// Numeric values are stored as is.
	Numeric AttributeType = iota

	// Nominal values are stored as the index of the value in Attribute.Values.
	Nominal

	// Date values are stored as Unix seconds.
	Date
)

// String implements fmt.Stringer.
func (t AttributeType) String() string {
	switch t {
	case Numeric:
		return "numeric"
	case Nominal:
		return "nominal"
	case Date:
		return "date"
	}
	return fmt.Sprintf("AttributeType(%d)", int(t))
}

// Attribute describes one column.
type Attribute struct {
	Name string
	Type AttributeType

	// Values is the domain of a Nominal attribute, in index order. Empty for other types.
	Values []string
}

// NumValues returns the size of the nominal domain, or 0 for non-nominal attributes.
func (a Attribute) NumValues() int {
	return len(a.Values)
}

// IsNominal returns whether the attribute is Nominal.
func (a Attribute) IsNominal() bool { return a.Type == Nominal }

// IsNumeric returns whether the attribute is Numeric.
func (a Attribute) IsNumeric() bool { return a.Type == Numeric }

// IndexOf returns the index of a nominal value, or -1 if it is not in the domain.
func (a Attribute) IndexOf(value string) int {
	return slices.Index(a.Values, value)
}

func (a Attribute) clone() Attribute {
	a.Values = slices.Clone(a.Values)
	return a
}

// Schema is the header shared by all rows of a Dataset.
//
// A Schema is immutable once given to a Dataset: New copies it, and accessors return copies.
type Schema struct {
	Relation   string
	Attributes []Attribute

	// ClassIndex is the column holding the class (label), or -1 if there is none.
	ClassIndex int
}

// NewSchema returns a validated copy of the given attributes as a Schema.
func NewSchema(relation string, attributes []Attribute, classIndex int) (*Schema, error) {
	s := &Schema{Relation: relation, ClassIndex: classIndex}
	if classIndex < -1 || classIndex >= len(attributes) {
		return nil, errors.Errorf("class index %d out of range for %d attributes", classIndex, len(attributes))
	}
	seen := make(map[string]bool, len(attributes))
	for ii, attr := range attributes {
		if seen[attr.Name] {
			return nil, errors.Errorf("duplicate attribute name %q at column %d", attr.Name, ii)
		}
		seen[attr.Name] = true
		if attr.Type == Nominal && len(attr.Values) == 0 {
			return nil, errors.Errorf("nominal attribute %q has an empty domain", attr.Name)
		}
		s.Attributes = append(s.Attributes, attr.clone())
	}
	return s, nil
}

// Clone returns a deep copy of the schema.
func (s *Schema) Clone() *Schema {
	c := &Schema{Relation: s.Relation, ClassIndex: s.ClassIndex}
	c.Attributes = make([]Attribute, len(s.Attributes))
	for ii, attr := range s.Attributes {
		c.Attributes[ii] = attr.clone()
	}
	return c
}

// NumAttributes returns the number of columns, including the class.
func (s *Schema) NumAttributes() int { return len(s.Attributes) }

// Attribute returns the attribute at column idx.
func (s *Schema) Attribute(idx int) Attribute { return s.Attributes[idx] }

// HasClass returns whether a class column is set.
func (s *Schema) HasClass() bool { return s.ClassIndex >= 0 }

// Equal returns whether both schemas have the same attribute names, types, domains and class index.
// The relation name is not compared.
func (s *Schema) Equal(other *Schema) bool {
	if s.ClassIndex != other.ClassIndex || len(s.Attributes) != len(other.Attributes) {
		return false
	}
	for ii, attr := range s.Attributes {
		o := other.Attributes[ii]
		if attr.Name != o.Name || attr.Type != o.Type || !slices.Equal(attr.Values, o.Values) {
			return false
		}
	}
	return true
}

// Compatible returns an error describing the first difference in attribute count or types between
// s and other. Names and nominal domains are not checked.
func (s *Schema) Compatible(other *Schema) error {
	if len(s.Attributes) != len(other.Attributes) {
		return errors.Errorf("expected %d attributes, got %d", len(s.Attributes), len(other.Attributes))
	}
	for ii, attr := range s.Attributes {
		if o := other.Attributes[ii]; attr.Type != o.Type {
			return errors.Errorf("attribute #%d (%q) is %s, expected %s", ii, o.Name, o.Type, attr.Type)
		} else if attr.Type == Nominal && len(attr.Values) != len(o.Values) {
			return errors.Errorf("nominal attribute #%d (%q) has %d values, expected %d",
				ii, o.Name, len(o.Values), len(attr.Values))
		}
	}
	if s.ClassIndex != other.ClassIndex {
		return errors.Errorf("class index is %d, expected %d", other.ClassIndex, s.ClassIndex)
	}
	return nil
}
