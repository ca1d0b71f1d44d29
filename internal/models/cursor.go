package models

// Cursor tracks how far back into a room's history the thread has paged.
// EndKey is only meaningful while HasNextPage is true.
type Cursor struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndKey      string `json:"endKey"`
}

// Exhausted is the cursor of a room whose history has been fully loaded.
func Exhausted() Cursor {
	return Cursor{}
}

// NextPageBefore is the cursor of a room with more history older than endKey.
func NextPageBefore(endKey string) Cursor {
	return Cursor{HasNextPage: true, EndKey: endKey}
}
