// Package types holds the wire envelopes shared by every TalkScribe API
// response.
package types

// SuccessEnvelope wraps successful payloads (accounts, jobs, estimates) under
// a single data key.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public error shape; Details carries structured context such
// as validation field errors or funding shortfalls when the code allows it.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
