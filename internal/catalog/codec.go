package catalog

import (
	"encoding/json"
	"fmt"
)

// EncodeAttributes serialises the variant attributes of r for storage.
func EncodeAttributes(r *Resource) (string, error) {
	var v any
	switch r.Type {
	case TypeRest:
		v = r.Rest
	case TypeJms:
		v = r.Messaging
	default:
		if len(r.Attributes) == 0 {
			return "{}", nil
		}
		v = r.Attributes
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshalling %s attributes: %w", r.Type, err)
	}
	if len(b) > MaxTextLength {
		return "", fmt.Errorf("%w: attributes exceed %d bytes", ErrInvalidResource, MaxTextLength)
	}
	return string(b), nil
}

// DecodeAttributes fills the variant field of r selected by r.Type.
func DecodeAttributes(r *Resource, data string) error {
	if data == "" {
		data = "{}"
	}

	var err error
	switch r.Type {
	case TypeRest:
		r.Rest = &RestAttributes{}
		err = json.Unmarshal([]byte(data), r.Rest)
	case TypeJms:
		r.Messaging = &MessagingAttributes{}
		err = json.Unmarshal([]byte(data), r.Messaging)
	default:
		attrs := map[string]string{}
		err = json.Unmarshal([]byte(data), &attrs)
		if len(attrs) > 0 {
			r.Attributes = attrs
		}
	}
	if err != nil {
		return fmt.Errorf("unmarshalling %s attributes: %w", r.Type, err)
	}
	return nil
}
