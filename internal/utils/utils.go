package utils

// ToStringSlice converts a decoded JSON array (or an already typed slice) into
// a string slice, skipping any non-string members.
func ToStringSlice(v any) []string {
	switch slice := v.(type) {
	case []string:
		return append([]string(nil), slice...)
	case []any:
		stringSlice := make([]string, 0, len(slice))
		for _, item := range slice {
			if s, ok := item.(string); ok {
				stringSlice = append(stringSlice, s)
			}
		}
		return stringSlice
	case string:
		if slice == "" {
			return nil
		}
		return []string{slice}
	}
	return nil
}

func Ptr[T any](v T) *T {
	return &v
}
