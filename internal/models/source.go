package models

// Source is a DVR device that provides channels (one tuner, one M3U
// provider, etc.). Rules filter on the source ID.
type Source struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider,omitempty"`
}
