package models

// Collection is a named, ordered set of channel IDs on the DVR. Items order
// is meaningful and is written back verbatim; the DVR owns every other field.
type Collection struct {
	Slug  string   `json:"slug"`
	Name  string   `json:"name"`
	Items []string `json:"items"`
}
