// Package botframework implements the parts of the Microsoft Bot Framework
// protocol the Teams channel needs: the Activity schema, inbound token
// validation and the outbound connector client.
package botframework

import (
	"encoding/json"
	"time"
)

const (
	ActivityTypeMessage = "message"

	// ContentTypeFileDownloadInfo marks a Teams file attachment that carries a
	// pre-authorized download URL.
	ContentTypeFileDownloadInfo = "application/vnd.microsoft.teams.file.download.info"
)

// Activity is the Bot Framework message envelope. Only the fields used by the
// bot are modelled; unknown fields are ignored on decode.
type Activity struct {
	Type         string              `json:"type"`
	ID           string              `json:"id,omitempty"`
	Timestamp    *time.Time          `json:"timestamp,omitempty"`
	ServiceURL   string              `json:"serviceUrl,omitempty"`
	ChannelID    string              `json:"channelId,omitempty"`
	From         ChannelAccount      `json:"from"`
	Recipient    ChannelAccount      `json:"recipient"`
	Conversation ConversationAccount `json:"conversation"`
	Text         string              `json:"text,omitempty"`
	TextFormat   string              `json:"textFormat,omitempty"`
	ReplyToID    string              `json:"replyToId,omitempty"`
	ChannelData  *ChannelData        `json:"channelData,omitempty"`
	Attachments  []Attachment        `json:"attachments,omitempty"`
}

type ChannelAccount struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	AADObjectID string `json:"aadObjectId,omitempty"`
}

type ConversationAccount struct {
	ID               string `json:"id"`
	Name             string `json:"name,omitempty"`
	ConversationType string `json:"conversationType,omitempty"`
	TenantID         string `json:"tenantId,omitempty"`
}

// ChannelData holds the Teams specific payload.
type ChannelData struct {
	Tenant *TenantInfo `json:"tenant,omitempty"`
}

type TenantInfo struct {
	ID string `json:"id"`
}

type Attachment struct {
	ContentType string          `json:"contentType"`
	ContentURL  string          `json:"contentUrl,omitempty"`
	Name        string          `json:"name,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
}

// FileDownloadInfo is the content of a ContentTypeFileDownloadInfo attachment.
type FileDownloadInfo struct {
	DownloadURL string `json:"downloadUrl"`
	UniqueID    string `json:"uniqueId,omitempty"`
	FileType    string `json:"fileType,omitempty"`
}

// DownloadURL returns content.downloadUrl, or "" when the content is missing
// or does not decode.
func (a Attachment) DownloadURL() string {
	if len(a.Content) == 0 {
		return ""
	}
	var info FileDownloadInfo
	if err := json.Unmarshal(a.Content, &info); err != nil {
		return ""
	}
	return info.DownloadURL
}

// TenantID returns channelData.tenant.id, the Azure AD tenant Teams stamps on
// every activity, or "" when absent.
func (a *Activity) TenantID() string {
	if a.ChannelData == nil || a.ChannelData.Tenant == nil {
		return ""
	}
	return a.ChannelData.Tenant.ID
}

// NewReply builds a text message answering a, addressed back to its sender.
func (a *Activity) NewReply(text string) *Activity {
	return &Activity{
		Type:         ActivityTypeMessage,
		ServiceURL:   a.ServiceURL,
		ChannelID:    a.ChannelID,
		From:         a.Recipient,
		Recipient:    a.From,
		Conversation: a.Conversation,
		Text:         text,
		TextFormat:   "plain",
		ReplyToID:    a.ID,
	}
}
