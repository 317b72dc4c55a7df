// Package record holds the mutation records written to the WAL. Each record
// validates itself and serializes into a wal.BufferView; the WAL adds framing.
package record

import (
	"fmt"

	"github.com/INLOpen/nexuswal/core"
	"github.com/INLOpen/nexuswal/wal"
)

// ValueType tags each value of an InsertRow in the serialized payload.
type ValueType byte

const (
	ValueFloat64 ValueType = 0x01
	ValueFloat32 ValueType = 0x02
	ValueInt64   ValueType = 0x03
	ValueInt32   ValueType = 0x04
	ValueBool    ValueType = 0x05
	ValueString  ValueType = 0x06
)

var defaultValidator = core.NewValidator()

var (
	_ wal.Record = (*InsertRow)(nil)
	_ wal.Record = (*InsertTablet)(nil)
	_ wal.Record = (*Delete)(nil)
)

// Validatable is implemented by every record in this package.
type Validatable interface {
	Validate() error
}

// InsertRow is a single-timestamp insert into one device.
type InsertRow struct {
	Device       string
	Timestamp    int64
	Measurements []string
	Values       []interface{}
	// Index is the consensus search index, or core.NoSearchIndex.
	Index int64
}

func (r *InsertRow) EntryType() core.EntryType { return core.EntryTypeInsertRow }
func (r *InsertRow) SearchIndex() int64        { return r.Index }

// Validate checks names and that every measurement has a value.
func (r *InsertRow) Validate() error {
	if err := core.ValidateDeviceAndMeasurements(defaultValidator, r.Device, r.Measurements); err != nil {
		return err
	}
	if len(r.Values) != len(r.Measurements) {
		return &core.ValidationError{
			Message: fmt.Sprintf("%d values for %d measurements", len(r.Values), len(r.Measurements)),
			Field:   "values",
			Value:   r.Device,
		}
	}
	return nil
}

// Serialize writes device | timestamp | count | (name | tag | value)*.
func (r *InsertRow) Serialize(view wal.BufferView) error {
	if len(r.Values) != len(r.Measurements) {
		return r.Validate()
	}
	view.PutString(r.Device)
	view.PutInt64(r.Timestamp)
	view.PutUint32(uint32(len(r.Measurements)))
	for i, name := range r.Measurements {
		view.PutString(name)
		if err := putValue(view, r.Values[i]); err != nil {
			return fmt.Errorf("measurement %s of %s: %w", name, r.Device, err)
		}
	}
	return nil
}

func putValue(view wal.BufferView, v interface{}) error {
	switch val := v.(type) {
	case float64:
		view.PutByte(byte(ValueFloat64))
		view.PutFloat64(val)
	case float32:
		view.PutByte(byte(ValueFloat32))
		view.PutFloat32(val)
	case int64:
		view.PutByte(byte(ValueInt64))
		view.PutInt64(val)
	case int:
		view.PutByte(byte(ValueInt64))
		view.PutInt64(int64(val))
	case int32:
		view.PutByte(byte(ValueInt32))
		view.PutInt32(val)
	case bool:
		view.PutByte(byte(ValueBool))
		view.PutBool(val)
	case string:
		view.PutByte(byte(ValueString))
		view.PutString(val)
	default:
		return &core.UnsupportedTypeError{Message: fmt.Sprintf("%T", v)}
	}
	return nil
}

// InsertTablet is a columnar multi-row insert into one device.
type InsertTablet struct {
	Device       string
	Times        []int64
	Measurements []string
	// Columns holds one column per measurement, each with len(Times) values.
	Columns [][]float64
	Index   int64
}

func (r *InsertTablet) EntryType() core.EntryType { return core.EntryTypeInsertTablet }
func (r *InsertTablet) SearchIndex() int64        { return r.Index }

func (r *InsertTablet) Validate() error {
	if err := core.ValidateDeviceAndMeasurements(defaultValidator, r.Device, r.Measurements); err != nil {
		return err
	}
	if len(r.Times) == 0 {
		return &core.ValidationError{Message: "tablet has no rows", Field: "times", Value: r.Device}
	}
	if len(r.Columns) != len(r.Measurements) {
		return &core.ValidationError{
			Message: fmt.Sprintf("%d columns for %d measurements", len(r.Columns), len(r.Measurements)),
			Field:   "columns",
			Value:   r.Device,
		}
	}
	for i, col := range r.Columns {
		if len(col) != len(r.Times) {
			return &core.ValidationError{
				Message: fmt.Sprintf("column has %d values, want %d", len(col), len(r.Times)),
				Field:   "columns",
				Value:   r.Measurements[i],
			}
		}
	}
	return nil
}

// Serialize writes device | rows | times | columns | (name | values)*.
func (r *InsertTablet) Serialize(view wal.BufferView) error {
	if len(r.Columns) != len(r.Measurements) {
		return r.Validate()
	}
	for _, col := range r.Columns {
		if len(col) != len(r.Times) {
			return r.Validate()
		}
	}
	view.PutString(r.Device)
	view.PutUint32(uint32(len(r.Times)))
	for _, ts := range r.Times {
		view.PutInt64(ts)
	}
	view.PutUint32(uint32(len(r.Measurements)))
	for i, name := range r.Measurements {
		view.PutString(name)
		for _, v := range r.Columns[i] {
			view.PutFloat64(v)
		}
	}
	return nil
}

// Delete removes the data points of Path within [StartTime, EndTime]. It
// carries no search index.
type Delete struct {
	Path      string
	StartTime int64
	EndTime   int64
}

func (d *Delete) EntryType() core.EntryType { return core.EntryTypeDelete }
func (d *Delete) SearchIndex() int64        { return core.NoSearchIndex }

func (d *Delete) Validate() error {
	if err := defaultValidator.ValidateDevice(d.Path); err != nil {
		return err
	}
	if d.StartTime > d.EndTime {
		return &core.ValidationError{
			Message: fmt.Sprintf("start time %d is after end time %d", d.StartTime, d.EndTime),
			Field:   "time_range",
			Value:   d.Path,
		}
	}
	return nil
}

func (d *Delete) Serialize(view wal.BufferView) error {
	view.PutString(d.Path)
	view.PutInt64(d.StartTime)
	view.PutInt64(d.EndTime)
	return nil
}
