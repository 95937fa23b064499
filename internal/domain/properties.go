package domain

import "encoding/json"

// SerializeProperties encodes a property map as its stored JSON form.
// A nil or empty map serializes to "{}".
func SerializeProperties(props map[string]string) string {
	if len(props) == 0 {
		return "{}"
	}
	b, err := json.Marshal(props)
	if err != nil {
		// string maps cannot fail to marshal
		return "{}"
	}
	return string(b)
}

// DeserializeProperties decodes the stored JSON form of a property map.
// Empty or malformed input yields an empty map, never nil.
func DeserializeProperties(serialized string) map[string]string {
	props := map[string]string{}
	if serialized == "" {
		return props
	}
	if err := json.Unmarshal([]byte(serialized), &props); err != nil {
		return map[string]string{}
	}
	return props
}
