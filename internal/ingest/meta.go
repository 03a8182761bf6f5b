package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"
)

// MessageSelect is the OData field list requested for every message fetch,
// matching what the ingestion engine needs and nothing more.
const MessageSelect = "$select=id,receivedDateTime,conversationId,internetMessageId,from,toRecipients,ccRecipients,bodyPreview"

// ErrIncompleteMeta marks message metadata missing a required field or
// carrying an unparseable received timestamp. Such notifications are dropped
// rather than coerced.
var ErrIncompleteMeta = errors.New("incomplete message metadata")

// MessageMeta is the validated, strongly-typed form of the message JSON a
// notification or delta page carries.
type MessageMeta struct {
	InternetMessageID string
	ConversationID    string
	ReceivedAt        time.Time
	From              string
	To                []string
	Cc                []string
}

type graphRecipient struct {
	EmailAddress *graphEmailAddress `json:"emailAddress"`
	// Flattened shape seen in some resource-data payloads.
	Address string `json:"address"`
}

type graphEmailAddress struct {
	Address string `json:"address"`
}

func (r graphRecipient) address() string {
	if r.EmailAddress != nil && r.EmailAddress.Address != "" {
		return r.EmailAddress.Address
	}
	return r.Address
}

type graphMessage struct {
	InternetMessageID string           `json:"internetMessageId"`
	ConversationID    string           `json:"conversationId"`
	ReceivedDateTime  string           `json:"receivedDateTime"`
	From              *graphRecipient  `json:"from"`
	ToRecipients      []graphRecipient `json:"toRecipients"`
	To                []graphRecipient `json:"to"`
	CcRecipients      []graphRecipient `json:"ccRecipients"`
	Cc                []graphRecipient `json:"cc"`
}

// ParseMessageMeta validates raw Graph message JSON into a MessageMeta.
// internetMessageId, conversationId and receivedDateTime are required;
// anything else is best-effort.
func ParseMessageMeta(raw json.RawMessage) (*MessageMeta, error) {
	var msg graphMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompleteMeta, err)
	}

	if msg.InternetMessageID == "" {
		return nil, fmt.Errorf("%w: missing internetMessageId", ErrIncompleteMeta)
	}
	if msg.ConversationID == "" {
		return nil, fmt.Errorf("%w: missing conversationId", ErrIncompleteMeta)
	}
	if msg.ReceivedDateTime == "" {
		return nil, fmt.Errorf("%w: missing receivedDateTime", ErrIncompleteMeta)
	}
	receivedAt, err := time.Parse(time.RFC3339, msg.ReceivedDateTime)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid receivedDateTime %q", ErrIncompleteMeta, msg.ReceivedDateTime)
	}

	meta := &MessageMeta{
		InternetMessageID: msg.InternetMessageID,
		ConversationID:    msg.ConversationID,
		ReceivedAt:        receivedAt,
	}
	if msg.From != nil {
		meta.From = msg.From.address()
	}
	meta.To = collectAddresses(msg.ToRecipients, msg.To)
	meta.Cc = collectAddresses(msg.CcRecipients, msg.Cc)
	return meta, nil
}

func collectAddresses(primary, fallback []graphRecipient) []string {
	recipients := primary
	if len(recipients) == 0 {
		recipients = fallback
	}
	var out []string
	for _, r := range recipients {
		if addr := r.address(); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// Matches "Users/{id}/Messages/{mid}" and
// "Users/{id}/mailFolders('inbox')/Messages/{mid}" resource forms, with or
// without a leading slash.
var messageResourceRe = regexp.MustCompile(`(?i)^/?users/([^/]+)/.*?messages/?\(?'?([^/')]+)'?\)?$`)

// ParseMessageResource extracts the Graph user id and message id from a
// change-notification resource path.
func ParseMessageResource(resource string) (userID, messageID string, err error) {
	match := messageResourceRe.FindStringSubmatch(resource)
	if match == nil {
		return "", "", fmt.Errorf("unsupported resource format: %q", resource)
	}
	return match[1], match[2], nil
}

// MessageFetchPath builds the Graph path for fetching one message's metadata.
func MessageFetchPath(userID, messageID string) string {
	return fmt.Sprintf("/users/%s/messages/%s?%s",
		url.PathEscape(userID), url.PathEscape(messageID), MessageSelect)
}
