package tracking

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType names a repogrowth event.
type EventType string

const (
	EventForward     EventType = "forward"
	EventUnsubscribe EventType = "unsubscribe"
)

// Event is a repogrowth event carried on the queue.
type Event struct {
	EventType    EventType `json:"event_type"`
	RepositoryID string    `json:"repository_id"`
	Email        string    `json:"email,omitempty"`
	Referrer     string    `json:"referrer,omitempty"`
	Referred     string    `json:"referred,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ErrMalformed marks a message that can never be processed.
var ErrMalformed = errors.New("tracking: malformed message")

// sesNotification covers both configuration-set events (eventType) and
// identity notifications (notificationType).
type sesNotification struct {
	EventType        string `json:"eventType"`
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID string              `json:"messageId"`
		Tags      map[string][]string `json:"tags"`
	} `json:"mail"`
	Bounce *struct {
		BounceType        string `json:"bounceType"`
		BouncedRecipients []struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"bouncedRecipients"`
	} `json:"bounce"`
	Complaint *struct {
		ComplainedRecipients []struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"complainedRecipients"`
	} `json:"complaint"`
}

func (n *sesNotification) kind() string {
	if n.EventType != "" {
		return n.EventType
	}
	return n.NotificationType
}

func (n *sesNotification) tag(name string) string {
	if v := n.Mail.Tags[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// message is a decoded queue body: exactly one of the fields is set.
type message struct {
	event *Event
	ses   *sesNotification
}

func decode(body string) (message, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &probe); err != nil {
		return message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if _, ok := probe["Type"]; ok {
		var env snsEnvelope
		if err := json.Unmarshal([]byte(body), &env); err != nil {
			return message{}, fmt.Errorf("%w: sns envelope: %v", ErrMalformed, err)
		}
		if env.Type != "Notification" {
			return message{}, fmt.Errorf("%w: sns type %q", ErrMalformed, env.Type)
		}
		return decode(env.Message)
	}

	if _, ok := probe["event_type"]; ok {
		var evt Event
		if err := json.Unmarshal([]byte(body), &evt); err != nil {
			return message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return message{event: &evt}, nil
	}

	_, hasEvent := probe["eventType"]
	_, hasNotification := probe["notificationType"]
	if hasEvent || hasNotification {
		var n sesNotification
		if err := json.Unmarshal([]byte(body), &n); err != nil {
			return message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return message{ses: &n}, nil
	}
	return message{}, fmt.Errorf("%w: unrecognized body", ErrMalformed)
}
