package model

// StatusRes is the operator dashboard summary.
type StatusRes struct {
	Status    string `json:"status"`
	Transport string `json:"transport"`
	Devices   int    `json:"devices"`
}
