package model

// DeviceRecord binds a user identifier to the device's current push token.
type DeviceRecord struct {
	UserID string `json:"user"`
	Token  string `json:"token"`
}
