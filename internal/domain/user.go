package domain

// User is the subset of the key-value user record the reminder core reads.
// Identity issuance and profile management live elsewhere.
type User struct {
	UserID string  `json:"id" dynamodbav:"user_id"`
	Email  *string `json:"email,omitempty" dynamodbav:"email,omitempty"`
	Phone  *string `json:"phone,omitempty" dynamodbav:"phone,omitempty"`
	ChatID *string `json:"chat_id,omitempty" dynamodbav:"chat_id,omitempty"`
}

// Recipient holds the channel addresses resolved for a reminder owner.
type Recipient struct {
	EmailAddress *string `json:"email,omitempty"`
	ChatAddress  *string `json:"chat,omitempty"`
	PhoneNumber  *string `json:"phone,omitempty"`
}

// Address returns the destination for ch, or "" when the owner has none.
func (r *Recipient) Address(ch Channel) string {
	var p *string
	switch ch {
	case ChannelEmail:
		p = r.EmailAddress
	case ChannelChat:
		p = r.ChatAddress
		if p == nil {
			p = r.PhoneNumber
		}
	case ChannelSMS:
		p = r.PhoneNumber
	}
	if p == nil {
		return ""
	}
	return *p
}

// Roles carried in access tokens.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// UpdateContactRequest changes the channel addresses of a user. Absent fields
// keep their stored value; an empty string clears it.
type UpdateContactRequest struct {
	Email  *string `json:"email" validate:"omitempty,email"`
	Phone  *string `json:"phone" validate:"omitempty,e164"`
	ChatID *string `json:"chatId" validate:"omitempty,max=64"`
}
