package source

import (
	"fmt"

	"adminreports/pkg/contracts/domain"
)

// Collection names an upstream paged collection and the envelope keys its items may be wrapped in
type Collection struct {
	Name string
	Path string
	Keys []string
}

// PaymentsCollection returns the payments collection served at path
func PaymentsCollection(path string) Collection {
	return Collection{Name: "payments", Path: path, Keys: []string{"payments", "items", "data"}}
}

// UsersCollection returns the users collection served at path
func UsersCollection(path string) Collection {
	return Collection{Name: "users", Path: path, Keys: []string{"user", "users", "items", "data"}}
}

// maxEnvelopeDepth bounds how far nested envelopes like {"data":{"users":[...]}} are followed
const maxEnvelopeDepth = 3

// extractItems reads the item list out of a decoded page body
func extractItems(body interface{}, keys []string) ([]domain.RawRecord, error) {
	return extractAt(body, keys, 0)
}

func extractAt(body interface{}, keys []string, depth int) ([]domain.RawRecord, error) {
	switch v := body.(type) {
	case []interface{}:
		return toRecords(v), nil
	case map[string]interface{}:
		if depth >= maxEnvelopeDepth {
			break
		}
		for _, key := range keys {
			inner, ok := v[key]
			if !ok || inner == nil {
				continue
			}
			return extractAt(inner, keys, depth+1)
		}
		return nil, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected page body of type %T: %w", body, ErrUnavailable)
}

func toRecords(items []interface{}) []domain.RawRecord {
	out := make([]domain.RawRecord, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, domain.RawRecord(m))
		}
	}
	return out
}
