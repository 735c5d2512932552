package model

// DeviceView hides most of the push token when returning devices to operators.
type DeviceView struct {
	UserID string `json:"user"`
	Token  string `json:"token"`
}
