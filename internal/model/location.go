package model

import "time"

// LocationRecord is one position report from a registered device.
type LocationRecord struct {
	UserID     string    `json:"user"`
	Token      string    `json:"token,omitempty"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Timestamp  int64     `json:"timestamp"`
	ReceivedAt time.Time `json:"received_at"`
}
