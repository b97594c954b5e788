package model

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedMessage is returned when a queue message body cannot be decoded.
// A malformed body carries no usable instance id, so the coordinator deletes
// the message without touching any instance.
var ErrMalformedMessage = errors.New("malformed queue message")

// QueueMessage is the wire contract with trigger producers (scheduler, manual
// run, webhook). The message body on the wire is base64 of UTF-8 JSON.
type QueueMessage struct {
	JobInstanceID     int64     `json:"JobInstanceId"`
	JobID             int64     `json:"JobId"`
	JobEnvironment    string    `json:"JobEnvironment"`
	JobQueueName      string    `json:"JobQueueName"`
	WebhookParameters string    `json:"WebhookParameters"`
	QueuedAt          time.Time `json:"QueuedAt"`
}

// EncodeBody serializes the message to its wire form.
func (m *QueueMessage) EncodeBody() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal queue message: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeBody parses a wire-form message body. Any decoding failure, and any
// body without a positive instance and job id, is reported as ErrMalformedMessage.
func DecodeBody(body string) (*QueueMessage, error) {
	data, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %v", ErrMalformedMessage, err)
	}

	var m QueueMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrMalformedMessage, err)
	}

	if m.JobInstanceID <= 0 {
		return nil, fmt.Errorf("%w: missing job instance id", ErrMalformedMessage)
	}
	if m.JobID <= 0 {
		return nil, fmt.Errorf("%w: missing job id", ErrMalformedMessage)
	}

	return &m, nil
}
