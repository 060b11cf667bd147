package models

import "time"

// EmailMessage is what the dashboard asks to send. Recipient and sender come
// from configuration, never from the request.
type EmailMessage struct {
	Subject  string
	Content  string
	Vehicles string
	Kind     string
	SentAt   time.Time
}

// RelayRequest is the body the dashboard posts to the report endpoints.
// Older builds send "message" instead of "contenido".
type RelayRequest struct {
	Subject  string `json:"asunto"`
	Content  string `json:"contenido"`
	Message  string `json:"message"`
	Vehicles string `json:"vehiculos"`
	Kind     string `json:"tipo"`
}

// RelayResponse mirrors the shape the backend endpoint used to return.
type RelayResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
