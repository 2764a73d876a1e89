package locale

// Keys the chat engine resolves.
const (
	KeyIntroduceInChat   = "chat.system.contact_form.introduce_in_chat"
	KeyMustFill          = "chat.system.contact_form.must_fill"
	KeyContactFormSent   = "chat.system.contact_form.status_sent"
	KeyContactInfoReason = "chat_input.status.contact_info"
)
