package convert

// ToFloat64Slice converts []float64, []float32, or []interface{} to
// []float64, failing if any element of an []interface{} input is not
// itself numeric.
func ToFloat64Slice(v interface{}) ([]float64, bool) {
	switch val := v.(type) {
	case []float64:
		return val, true
	case []float32:
		result := make([]float64, len(val))
		for i, f := range val {
			result[i] = float64(f)
		}
		return result, true
	case []interface{}:
		result := make([]float64, len(val))
		for i, item := range val {
			if f, ok := ToFloat64(item); ok {
				result[i] = f
			} else {
				return nil, false
			}
		}
		return result, true
	}
	return nil, false
}

// ToFloat32Slice converts []float32, []float64, or []interface{} to
// []float32, the vector type brainy's HNSW index and Embedder interface
// use. Non-numeric elements of an []interface{} input are skipped.
func ToFloat32Slice(v interface{}) []float32 {
	switch val := v.(type) {
	case []float32:
		return val
	case []float64:
		result := make([]float32, len(val))
		for i, f := range val {
			result[i] = float32(f)
		}
		return result
	case []interface{}:
		result := make([]float32, 0, len(val))
		for _, item := range val {
			if f, ok := ToFloat64(item); ok {
				result = append(result, float32(f))
			}
		}
		return result
	}
	return nil
}

// ToStringSlice converts []string or []interface{} to []string, failing
// if any []interface{} element is not itself a string.
func ToStringSlice(v interface{}) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []interface{}:
		result := make([]string, len(val))
		for i, item := range val {
			if s, ok := item.(string); ok {
				result[i] = s
			} else {
				return nil
			}
		}
		return result
	}
	return nil
}
