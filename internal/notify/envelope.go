package notify

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidEnvelope is returned for push bodies that cannot be decoded.
var ErrInvalidEnvelope = errors.New("invalid pubsub envelope")

// PushEnvelope is the body Pub/Sub POSTs to a push subscription endpoint.
type PushEnvelope struct {
	Message      PushMessage `json:"message"`
	Subscription string      `json:"subscription"`
}

// PushMessage is the message part of a push envelope. Data is base64.
type PushMessage struct {
	Data        string            `json:"data"`
	MessageID   string            `json:"messageId"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	PublishTime time.Time         `json:"publishTime"`
}

// DecodePush parses a push request body and unmarshals its base64 JSON
// payload into v.
func DecodePush(body []byte, v any) (*PushEnvelope, error) {
	var env PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: body is not JSON: %v", ErrInvalidEnvelope, err)
	}
	if strings.TrimSpace(env.Message.Data) == "" {
		return nil, fmt.Errorf("%w: message.data is empty", ErrInvalidEnvelope)
	}
	raw, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: message.data is not base64: %v", ErrInvalidEnvelope, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("%w: message.data is not JSON: %v", ErrInvalidEnvelope, err)
	}
	return &env, nil
}

// EncodePush builds a push body carrying payload, as Pub/Sub would deliver it.
func EncodePush(payload any, messageID, subscription string) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(PushEnvelope{
		Message: PushMessage{
			Data:        base64.StdEncoding.EncodeToString(raw),
			MessageID:   messageID,
			PublishTime: time.Now().UTC(),
		},
		Subscription: subscription,
	})
}
