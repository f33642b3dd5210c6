package patch

// FindElement returns the index of the first object element of arr whose
// matchKey field equals value, or -1.
func FindElement(arr []any, matchKey string, value any) int {
	for i, elem := range arr {
		obj, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		if v, ok := obj[matchKey]; ok && Equal(v, value) {
			return i
		}
	}
	return -1
}

// InsertElement returns a copy of arr with elem inserted at index i.
// An index at or past the end appends.
func InsertElement(arr []any, i int, elem any) []any {
	if i < 0 {
		i = 0
	}
	if i > len(arr) {
		i = len(arr)
	}
	out := make([]any, 0, len(arr)+1)
	out = append(out, arr[:i]...)
	out = append(out, elem)
	out = append(out, arr[i:]...)
	return out
}

// DeleteElement returns a copy of arr without the element whose matchKey
// equals value. ok is false when no element matches.
func DeleteElement(arr []any, matchKey string, value any) (out []any, ok bool) {
	i := FindElement(arr, matchKey, value)
	if i < 0 {
		return arr, false
	}
	return removeAt(arr, i), true
}

// ReplaceElement returns a copy of arr with the element matching elem's
// matchKey replaced by elem. ok is false when no element matches.
func ReplaceElement(arr []any, matchKey string, elem any) (out []any, ok bool) {
	obj, isObj := elem.(map[string]any)
	if !isObj {
		return arr, false
	}
	i := FindElement(arr, matchKey, obj[matchKey])
	if i < 0 {
		return arr, false
	}
	out = make([]any, len(arr))
	copy(out, arr)
	out[i] = elem
	return out, true
}

// MatchKeys returns the matchKey values of the elements of arr. ok is false
// when some element is not an object carrying the key.
func MatchKeys(arr []any, matchKey string) (keys []any, ok bool) {
	keys = make([]any, len(arr))
	for i, elem := range arr {
		obj, isObj := elem.(map[string]any)
		if !isObj {
			return nil, false
		}
		v, has := obj[matchKey]
		if !has {
			return nil, false
		}
		keys[i] = v
	}
	return keys, true
}

func removeAt(arr []any, i int) []any {
	out := make([]any, 0, len(arr)-1)
	out = append(out, arr[:i]...)
	return append(out, arr[i+1:]...)
}
