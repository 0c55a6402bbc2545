package storage

// Row values arrive from the driver boundary as interface{} (database/sql's
// scan target, or a JSON-decoded value when crossing the proxy's IPC
// boundary), so every facade read goes through these narrow converters
// rather than a type assertion at each call site.

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case nil:
		return 0
	default:
		return 0
	}
}

func toNullInt64(v interface{}) *int64 {
	if v == nil {
		return nil
	}
	n := toInt64(v)
	return &n
}

func toNullIntFromInt64(v interface{}) *int {
	if v == nil {
		return nil
	}
	n := int(toInt64(v))
	return &n
}

func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case nil:
		return 0
	default:
		return 0
	}
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return ""
	}
}

func toNullString(v interface{}) *string {
	if v == nil {
		return nil
	}
	s := toString(v)
	if s == "" {
		return nil
	}
	return &s
}

func toBool(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case int:
		return b != 0
	case nil:
		return false
	default:
		return false
	}
}

func toBytes(v interface{}) []byte {
	switch b := v.(type) {
	case []byte:
		return b
	case string:
		return []byte(b)
	case nil:
		return nil
	default:
		return nil
	}
}
