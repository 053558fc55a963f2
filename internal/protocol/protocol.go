// Package protocol defines the boundary types exchanged with the messaging
// protocol collaborator. The collaborator itself (pairing, encryption,
// transport) lives outside this repository; everything here is the shape of
// what crosses that boundary.
package protocol

import "strings"

// StatusBroadcastJID is the broadcast-only system channel. Events addressed
// to it are never routed.
const StatusBroadcastJID = "status@broadcast"

const (
	userSuffix  = "@s.whatsapp.net"
	groupSuffix = "@g.us"
)

// IsGroupJID reports whether jid addresses a multi-party conversation.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, groupSuffix)
}

// ToJID normalizes a raw phone number into a user JID. Non-digit characters
// are stripped. Returns "" when nothing usable remains.
func ToJID(number string) string {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return b.String() + userSuffix
}

// BareNumber returns the local part of a JID (the part before '@').
func BareNumber(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}

// TextContent is a plain text message body.
type TextContent struct {
	Text string
}

// ExtendedText is a quoted or link-previewed text body, optionally carrying
// mention references.
type ExtendedText struct {
	Text          string
	MentionedJIDs []string
}

// ImageContent is an image with an optional caption.
type ImageContent struct {
	Caption string
}

// ButtonReply is the selection made on a plain button message.
type ButtonReply struct {
	SelectedDisplayText string
}

// TemplateButtonReply is the selection made on a template button message.
type TemplateButtonReply struct {
	SelectedID string
}

// ListReply is the selection made on a list message.
type ListReply struct {
	SelectedDisplayText string
}

// ContactCard is a shared contact attachment.
type ContactCard struct {
	DisplayName string
}

// Inbound is a single normalized inbound event. At most one content shape is
// populated per event.
type Inbound struct {
	ID       string
	ChatID   string
	SenderID string
	FromSelf bool
	PushName string

	Text          *TextContent
	Extended      *ExtendedText
	Image         *ImageContent
	ButtonReply   *ButtonReply
	TemplateReply *TemplateButtonReply
	ListReply     *ListReply
	Contact       *ContactCard
}

// Body extracts the text body of the event. Shapes are checked in a fixed
// priority order and the first non-empty match wins; the order must not be
// changed, it is part of the routing contract.
func (m *Inbound) Body() string {
	if m.Text != nil && m.Text.Text != "" {
		return m.Text.Text
	}
	if m.Extended != nil && m.Extended.Text != "" {
		return m.Extended.Text
	}
	if m.Image != nil && m.Image.Caption != "" {
		return m.Image.Caption
	}
	if m.ButtonReply != nil && m.ButtonReply.SelectedDisplayText != "" {
		return m.ButtonReply.SelectedDisplayText
	}
	if m.TemplateReply != nil && m.TemplateReply.SelectedID != "" {
		return m.TemplateReply.SelectedID
	}
	if m.ListReply != nil && m.ListReply.SelectedDisplayText != "" {
		return m.ListReply.SelectedDisplayText
	}
	return ""
}

// MentionedJIDs returns the mention references attached to the event, if any.
func (m *Inbound) MentionedJIDs() []string {
	if m.Extended == nil {
		return nil
	}
	return m.Extended.MentionedJIDs
}

// Button is one choice on an interactive outbound message.
type Button struct {
	ID   string
	Text string
}

// Content is an outbound message payload. Exactly one of Text/Sticker should
// carry the primary body; Buttons and Mentions decorate a text body.
type Content struct {
	Text     string
	Footer   string
	Mentions []string
	Sticker  []byte
	Buttons  []Button
}

// SendOptions carries per-send options understood by the collaborator.
type SendOptions struct {
	// Quoted makes the outbound message a reply to the given event.
	Quoted *Inbound
}

// ParticipantAction is a group membership mutation verb.
type ParticipantAction string

const (
	ParticipantAdd    ParticipantAction = "add"
	ParticipantRemove ParticipantAction = "remove"
)

// Role is a participant's role within a group roster.
type Role string

const (
	RoleMember     Role = ""
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// Participant is one member of a group roster.
type Participant struct {
	JID  string
	Role Role
}

// IsAdmin reports whether the participant holds an elevated role.
func (p Participant) IsAdmin() bool {
	return p.Role == RoleAdmin || p.Role == RoleSuperAdmin
}

// GroupMetadata is the roster and subject of a group conversation.
type GroupMetadata struct {
	JID          string
	Subject      string
	Participants []Participant
}

// CloseReason classifies why a connection closed. The zero value means the
// reason is unknown and treated as transient.
type CloseReason int

// CloseLoggedOut is the terminal close reason: the account was logged out
// and requires external re-pairing.
const CloseLoggedOut CloseReason = 401

// LoggedOut reports whether the close reason is terminal.
func (r CloseReason) LoggedOut() bool {
	return r == CloseLoggedOut
}

// Connection is the collaborator's reported connection phase.
type Connection string

const (
	ConnectionConnecting Connection = "connecting"
	ConnectionOpen       Connection = "open"
	ConnectionClose      Connection = "close"
)

// ConnectionUpdate is emitted by the collaborator whenever the link state or
// pairing challenge changes. Connection may be empty when only a pairing
// code is delivered.
type ConnectionUpdate struct {
	Connection  Connection
	PairingCode string
	CloseReason CloseReason
}

// Event is an event emitted by the protocol collaborator.
type Event interface {
	event()
}

// MessagesEvent carries a batch of inbound messages.
type MessagesEvent struct {
	Messages []*Inbound
}

// ConnectionEvent carries a connection update.
type ConnectionEvent struct {
	Update ConnectionUpdate
}

// CredsEvent signals that the collaborator's credentials changed and should
// be persisted.
type CredsEvent struct{}

// ParticipantsEvent carries a group membership change.
type ParticipantsEvent struct {
	ChatID string
	Action ParticipantAction
	JIDs   []string
}

func (MessagesEvent) event()     {}
func (ConnectionEvent) event()   {}
func (CredsEvent) event()        {}
func (ParticipantsEvent) event() {}
