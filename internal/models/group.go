package models

// Group is a Dispatcharr channel group. Provider groups carry the M3U
// account they are linked through; local groups have no account.
type Group struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	ChannelCount    int    `json:"channel_count"`
	M3UAccountID    *int64 `json:"m3u_account_id,omitempty"`
	M3UAccountName  string `json:"m3u_account_name,omitempty"`
	AutoChannelSync bool   `json:"auto_channel_sync,omitempty"`
}

// GroupChannel is one channel inside a Dispatcharr group.
type GroupChannel struct {
	Number float64 `json:"channel_number"`
	Name   string  `json:"name"`
}
