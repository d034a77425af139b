package seed

import "encoding/json"

// MarshalItem serialises an Item to JSON.
func MarshalItem(it *Item) ([]byte, error) {
	return json.Marshal(it)
}

// UnmarshalItem deserialises JSON into an Item.
func UnmarshalItem(data []byte) (*Item, error) {
	var it Item
	if err := json.Unmarshal(data, &it); err != nil {
		return nil, err
	}
	return &it, nil
}
