package ingest

import "encoding/json"

// ChangeNotification is one entry of a Graph change-notification delivery.
type ChangeNotification struct {
	SubscriptionID                 string            `json:"subscriptionId"`
	SubscriptionExpirationDateTime string            `json:"subscriptionExpirationDateTime,omitempty"`
	ClientState                    string            `json:"clientState,omitempty"`
	TenantID                       string            `json:"tenantId,omitempty"`
	Resource                       string            `json:"resource"`
	EncryptedContent               *EncryptedContent `json:"encryptedContent,omitempty"`
	ResourceData                   json.RawMessage   `json:"resourceData,omitempty"`
}

// EncryptedContent carries the rich notification payload when resource data
// is delivered encrypted.
type EncryptedContent struct {
	Data                            string `json:"data"`
	DataKey                         string `json:"dataKey"`
	DataSignature                   string `json:"dataSignature,omitempty"`
	EncryptionCertificateID         string `json:"encryptionCertificateId,omitempty"`
	EncryptionCertificateThumbprint string `json:"encryptionCertificateThumbprint,omitempty"`
}

// NotificationBatch is the body of a webhook POST delivery.
type NotificationBatch struct {
	Value            []ChangeNotification `json:"value"`
	ValidationTokens []string             `json:"validationTokens,omitempty"`
}
