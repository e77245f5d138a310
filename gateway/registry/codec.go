package registry

import "encoding/json"

// encodeDescriptor/decodeDescriptor serialize a Descriptor to the string
// values rmap.Map stores, since Pulse replicated maps hold strings rather
// than arbitrary structs.
func encodeDescriptor(d Descriptor) (string, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeDescriptor(raw string) (Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}
