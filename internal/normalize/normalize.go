// Package normalize validates and coerces raw sensor payloads into canonical
// samples for storage and inference.
package normalize

import (
	"strconv"
	"time"

	"github.com/riverwatch/floodsentry/internal/types"
)

// Validation error codes. Errors make a sample unusable for inference but it
// remains storable.
const (
	ErrMissingDistance    = "missing_distance"
	ErrInvalidDistance    = "invalid_distance"
	ErrMissingRain        = "missing_rain"
	ErrMissingFloatStatus = "missing_float_status"
)

// Validation warning codes. Warnings are informational only.
const (
	WarnRainClampedLow  = "rain_clamped_low"
	WarnRainClampedHigh = "rain_clamped_high"
	WarnFloatCoerced    = "float_status_coerced"
)

// Sentinel distance used when the field is absent. Still yields a
// constructed sample so the reading can be stored.
const missingDistance = -1.0

// Payload normalizes an incoming sensor payload.
//
// Supports both the current firmware keys and legacy keys:
//   - distance_cm OR height
//   - rain_analog OR rain
//   - float_status OR float
//
// Current keys take precedence when both are present. The returned payload
// always contains all three canonical fields.
func Payload(raw types.RawPayload) types.NormalizedPayload {
	var errors, warnings []string

	distance, haveDistance := toFloat(fieldValue(raw, "distance_cm", "height"))
	rain, haveRain := toInt(fieldValue(raw, "rain_analog", "rain"))
	floatStatus, haveFloat := toInt(fieldValue(raw, "float_status", "float"))

	if !haveDistance {
		errors = append(errors, ErrMissingDistance)
		distance = missingDistance
	} else if distance < 0 {
		// Propagated unmodified; the sample is flagged but not clamped.
		errors = append(errors, ErrInvalidDistance)
	}

	if !haveRain {
		errors = append(errors, ErrMissingRain)
		rain = 0
	}

	if rain < 0 {
		warnings = append(warnings, WarnRainClampedLow)
		rain = 0
	}
	if rain > 1023 {
		warnings = append(warnings, WarnRainClampedHigh)
		rain = 1023
	}

	if !haveFloat {
		errors = append(errors, ErrMissingFloatStatus)
		floatStatus = 0
	}

	if floatStatus != 0 && floatStatus != 1 {
		warnings = append(warnings, WarnFloatCoerced)
		floatStatus = 1
	}

	return types.NormalizedPayload{
		Sample: types.CanonicalSample{
			Timestamp:   time.Now(),
			DistanceCM:  distance,
			RainAnalog:  rain,
			FloatStatus: floatStatus,
		},
		Errors:   errors,
		Warnings: warnings,
	}
}

// fieldValue returns the current-name value when present, falling back to the
// legacy alias.
func fieldValue(raw types.RawPayload, current, legacy string) interface{} {
	if v, ok := raw[current]; ok {
		return v
	}
	return raw[legacy]
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func toInt(v interface{}) (int, bool) {
	switch val := v.(type) {
	case float64:
		return int(val), true
	case float32:
		return int(val), true
	case int:
		return val, true
	case int64:
		return int(val), true
	case string:
		// Accept integer strings and, like the firmware occasionally
		// produces, float-formatted integers.
		if i, err := strconv.Atoi(val); err == nil {
			return i, true
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, false
		}
		return int(f), true
	default:
		return 0, false
	}
}
