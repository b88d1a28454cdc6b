package models

// Channel is a point-in-time snapshot of one DVR channel. ID is the stable
// identity used in collection items; everything else is display metadata.
type Channel struct {
	ID         string `json:"id"`
	Number     string `json:"number,omitempty"` // guide number, numeric-valued but stored as text
	Name       string `json:"name"`
	Callsign   string `json:"callsign,omitempty"`
	Affiliate  string `json:"affiliate,omitempty"`
	SourceID   string `json:"source_id,omitempty"`   // originating DVR device
	SourceName string `json:"source_name,omitempty"` // populated from the device's friendly name
}
