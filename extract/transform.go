package extract

import (
	"fmt"
	"strings"

	"github.com/allthingslinux/schemaport/mapping"
)

// TransformRow turns one raw source row into a target product. A nil skip
// means the product is usable; a non-nil skip means the row was left behind
// and the skip says why. Skipped rows never abort a table.
func TransformRow(raw Row, m *mapping.TableMapping) (Product, *Skip) {
	identity := identityString(raw, m.PrimaryKey)
	for _, pk := range m.PrimaryKey {
		if raw[pk] == nil {
			return Product{}, &Skip{
				Identity: identity,
				Field:    pk,
				Message:  "null value in identity field",
			}
		}
	}

	targetKey, err := m.TargetKey()
	if err != nil {
		return Product{}, &Skip{Identity: identity, Message: err.Error()}
	}

	record := Record{
		Table:  m.TargetTable,
		Key:    targetKey,
		Values: make(map[string]any, len(m.Fields)),
	}
	for _, f := range m.Fields {
		if f.Dropped() {
			continue
		}
		if f.TargetOnly() {
			record.Columns = append(record.Columns, f.Target)
			record.Values[f.Target] = f.Default
			continue
		}
		value, err := applyTransform(f.Transform, raw[f.Source])
		if err != nil {
			return Product{}, &Skip{Identity: identity, Field: f.Source, Message: err.Error()}
		}
		record.Columns = append(record.Columns, f.Target)
		record.Values[f.Target] = value
	}

	product := Product{Record: record}
	for _, d := range m.Derived {
		children, skip := deriveRecords(raw, identity, &d)
		if skip != nil {
			return Product{}, skip
		}
		product.Derived = append(product.Derived, children...)
	}
	return product, nil
}

// deriveRecords explodes a row's slot columns into child records. The slot
// index is the column's declaration position, so a value keeps its index
// even when earlier slots are null.
func deriveRecords(raw Row, identity string, d *mapping.DerivedSpec) ([]Record, *Skip) {
	parentVals := make(map[string]any, len(d.ParentKey))
	var parentCols []string
	for _, pk := range d.ParentKey {
		value, err := applyTransform(pk.Transform, raw[pk.Source])
		if err != nil {
			return nil, &Skip{Identity: identity, Field: pk.Source, Message: err.Error()}
		}
		parentCols = append(parentCols, pk.Target)
		parentVals[pk.Target] = value
	}

	var children []Record
	for i, slot := range d.Slots {
		value := raw[slot]
		if value == nil {
			continue
		}
		value, err := applyTransform(d.Transform, value)
		if err != nil {
			return nil, &Skip{Identity: identity, Field: slot, Message: err.Error()}
		}
		child := Record{
			Table:   d.TargetTable,
			Columns: make([]string, 0, len(parentCols)+2),
			Key:     d.KeyFields(),
			Values:  make(map[string]any, len(parentVals)+2),
		}
		child.Columns = append(child.Columns, parentCols...)
		for col, v := range parentVals {
			child.Values[col] = v
		}
		child.Columns = append(child.Columns, d.IndexField, d.ValueField)
		child.Values[d.IndexField] = i
		child.Values[d.ValueField] = value
		children = append(children, child)
	}
	return children, nil
}

func applyTransform(t *mapping.Transform, value any) (any, error) {
	if t == nil {
		return value, nil
	}
	return t.Apply(value)
}

func identityString(raw Row, primaryKey []string) string {
	parts := make([]string, 0, len(primaryKey))
	for _, pk := range primaryKey {
		value := raw[pk]
		if value == nil {
			parts = append(parts, pk+"=<null>")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%v", pk, value))
	}
	return strings.Join(parts, ", ")
}
