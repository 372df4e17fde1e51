package pool

import (
	"math"

	"github.com/launchdarkly/go-jsonstream/v3/jreader"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/thek-os/segheap/memutils"
)

const (
	segmentSizeMax      = "max"
	segmentSizeMaxMinus = "max-1"
)

var requiredSpecProperties = []string{"segmentSize", "percentage"}

// ParseSchema reads a schema from JSON. The document is an array of objects with the properties
// "segmentSize" and "percentage". A segment size may be given as a number or as one of the
// strings "max" and "max-1", which produce pools holding a single segment.
//
//	[{"segmentSize": 256, "percentage": 90}, {"segmentSize": "max", "percentage": 10}]
//
// The parsed schema is validated before it is returned.
func ParseSchema(data []byte) (Schema, error) {
	r := jreader.NewReader(data)

	var schema Schema
	for arr := r.Array(); arr.Next(); {
		var spec PoolSpec

		for obj := r.Object().WithRequiredProperties(requiredSpecProperties); obj.Next(); {
			switch string(obj.Name()) {
			case "segmentSize":
				spec.SegmentSize = readSegmentSize(&r)
			case "percentage":
				spec.Percentage = readPercentage(&r)
			default:
				_ = r.SkipValue()
			}
		}

		schema = append(schema, spec)
	}

	if err := r.Error(); err != nil {
		return nil, errors.Wrapf(memutils.ErrConfiguration, "malformed schema: %v", err)
	}

	if err := r.RequireEOF(); err != nil {
		return nil, errors.Wrapf(memutils.ErrConfiguration, "malformed schema: %v", err)
	}

	return schema, schema.Validate()
}

func readSegmentSize(r *jreader.Reader) int {
	value := r.Any()

	switch value.Kind {
	case jreader.NumberValue:
		if value.Number < 1 || value.Number >= float64(math.MaxInt) || value.Number != math.Trunc(value.Number) {
			r.AddError(errors.Errorf("segment size %v is not a positive integer", value.Number))
			return 0
		}
		return int(value.Number)
	case jreader.StringValue:
		switch value.String {
		case segmentSizeMax:
			return math.MaxInt
		case segmentSizeMaxMinus:
			return math.MaxInt - 1
		}
		r.AddError(errors.Errorf("unknown segment size %q", value.String))
	default:
		r.AddError(errors.Errorf("segment size must be a number or a string, got %v", value.Kind))
	}

	return 0
}

func readPercentage(r *jreader.Reader) uint8 {
	value := r.Int()
	if value < 0 || value > 100 {
		r.AddError(errors.Errorf("percentage %d is outside [0, 100]", value))
		return 0
	}
	return uint8(value)
}

// WriteJSON writes the schema in the format ParseSchema reads
func (s Schema) WriteJSON(w *jwriter.Writer) {
	arr := w.Array()
	defer arr.End()

	for _, spec := range s {
		obj := arr.Object()

		switch spec.SegmentSize {
		case math.MaxInt:
			obj.Name("segmentSize").String(segmentSizeMax)
		case math.MaxInt - 1:
			obj.Name("segmentSize").String(segmentSizeMaxMinus)
		default:
			obj.Name("segmentSize").Int(spec.SegmentSize)
		}
		obj.Name("percentage").Int(int(spec.Percentage))

		obj.End()
	}
}
