package log

import "time"

// Field is a single structured key/value attached to a log record.
type Field struct {
	Key   string
	Value interface{}
}

// F builds a Field from any value.
func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

func Str(key, value string) Field { return Field{Key: key, Value: value} }

func Int(key string, value int) Field { return Field{Key: key, Value: value} }

func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

func Uint64(key string, value uint64) Field { return Field{Key: key, Value: value} }

func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Dur records a duration in milliseconds under key.
func Dur(key string, value time.Duration) Field {
	return Field{Key: key, Value: float64(value.Microseconds()) / 1000.0}
}

// Err records an error under the "error" key. A nil error yields an empty value.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: ""}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Component tags a record with the emitting component.
func Component(name string) Field { return Field{Key: ComponentKey, Value: name} }

// Epoch tags a record with a layout epoch.
func Epoch(epoch uint64) Field { return Field{Key: EpochKey, Value: epoch} }
