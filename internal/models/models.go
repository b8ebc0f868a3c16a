package models

// ApologyText is sent to the user whenever the assistant cannot produce an answer.
const ApologyText = "ขออภัย ไม่สามารถตอบกลับได้ในขณะนี้"

// PageObject is the object marker carried by Messenger page webhooks.
const PageObject = "page"

// Reply is the structured answer relayed back to a sender.
// An empty field means the part is absent.
type Reply struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// IsEmpty reports whether the reply carries neither text nor image.
func (r Reply) IsEmpty() bool {
	return r.Text == "" && r.Image == ""
}

// ApologyReply returns the fixed fallback reply.
func ApologyReply() Reply {
	return Reply{Text: ApologyText}
}

// WebhookEvent is the envelope posted by the platform to the webhook.
type WebhookEvent struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the messaging events of one page.
type Entry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []MessagingEvent `json:"messaging"`
}

type MessagingEvent struct {
	Sender    Participant `json:"sender"`
	Recipient Participant `json:"recipient"`
	Timestamp int64       `json:"timestamp"`
	Message   *Message    `json:"message,omitempty"`
}

// Text returns the message text, or "" for non-text and echo events.
func (e MessagingEvent) Text() string {
	if e.Message == nil || e.Message.IsEcho {
		return ""
	}
	return e.Message.Text
}

type Participant struct {
	ID string `json:"id"`
}

type Message struct {
	MID    string `json:"mid"`
	Text   string `json:"text,omitempty"`
	IsEcho bool   `json:"is_echo,omitempty"`
}

// SendRequest is the body of a Send API call.
type SendRequest struct {
	Recipient Participant     `json:"recipient"`
	Message   OutboundMessage `json:"message"`
}

// OutboundMessage holds either a text or an attachment.
type OutboundMessage struct {
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

type Attachment struct {
	Type    string            `json:"type"`
	Payload AttachmentPayload `json:"payload"`
}

type AttachmentPayload struct {
	URL        string `json:"url"`
	IsReusable bool   `json:"is_reusable"`
}

// NewImageAttachment builds a reusable image attachment referencing url.
func NewImageAttachment(url string) *Attachment {
	return &Attachment{
		Type: "image",
		Payload: AttachmentPayload{
			URL:        url,
			IsReusable: true,
		},
	}
}
