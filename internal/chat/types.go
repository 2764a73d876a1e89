package chat

import "time"

// ContactFormLocalID is the reserved local id of the in-chat contact form message.
const ContactFormLocalID = "MESSAGE_CONTACT_FORM_LOCAL_ID"

// MessageType classifies a stored message.
type MessageType string

const (
	TypeMessage     MessageType = "message"
	TypeSystem      MessageType = "system"
	TypeContactForm MessageType = "contact_form"
)

// Status is the pipeline status of a message. The zero value means "none".
type Status string

const (
	StatusNone     Status = ""
	StatusQueued   Status = "queued"
	StatusHistoric Status = "historic"
)

// Timing controls how the message timestamp is rendered.
type Timing string

const (
	TimingRegular Timing = "regular"
	TimingFrozen  Timing = "frozen"
)

// Delivery tracks transmission progress of a client-authored message.
type Delivery string

const (
	DeliveryLocal     Delivery = "local" // never transmitted (system, form)
	DeliveryPending   Delivery = "pending"
	DeliverySent      Delivery = "sent"
	DeliveryDelivered Delivery = "delivered"
	DeliverySeen      Delivery = "seen"
	DeliveryFailed    Delivery = "failed"
)

// FormStatus is the state of a contact form message.
type FormStatus string

const (
	FormInactive FormStatus = "inactive"
	FormEditable FormStatus = "editable"
	FormSnapshot FormStatus = "snapshot"
)

// Attachment is an uploaded media payload.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	MIME string `json:"mime"`
	Size int64  `json:"size"`
}

// ContactForm is the payload of a contact form message.
type ContactForm struct {
	Status  FormStatus   `json:"status"`
	Details *ContactInfo `json:"details,omitempty"`
}

// ContactInfo is what the client submits through the contact form.
type ContactInfo struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// Message is a stored chat message. ID is the server id and stays zero
// until the server acknowledges the message; LocalID is set for
// client-generated rows.
type Message struct {
	UUID       string
	ID         int64
	LocalID    string
	ChatID     int64
	ClientID   string
	AgentID    int64
	Incoming   bool
	Type       MessageType
	Text       string
	Attachment *Attachment
	Form       *ContactForm
	Status     Status
	Timing     Timing
	Delivery   Delivery
	Failure    string
	Date       time.Time
}

// AuthoredByClient reports whether the local client wrote the message.
func (m *Message) AuthoredByClient() bool {
	return !m.Incoming && m.ClientID != ""
}

// AgentState is the presence of a support agent.
type AgentState string

const (
	AgentActive  AgentState = "active"
	AgentAway    AgentState = "away"
	AgentOffline AgentState = "offline"
)

// Agent is a support agent visible to the client.
type Agent struct {
	ID        int64
	Name      string
	Title     string
	AvatarURL string
	State     AgentState
}

// Chat is the single conversation owned by the session.
type Chat struct {
	ID     int64
	Agents []Agent
}

// DataReceivingMode selects which agent set is authoritative. The only
// legal transition within a session is channel -> chat.
type DataReceivingMode string

const (
	ModeChannel DataReceivingMode = "channel"
	ModeChat    DataReceivingMode = "chat"
)

// HasActiveAgent reports whether any agent in the set is active.
func HasActiveAgent(agents []Agent) bool {
	for _, a := range agents {
		if a.State == AgentActive {
			return true
		}
	}
	return false
}
