package telegram

// Chat describes a group, supergroup, or channel. Optional attributes are
// modeled as independently nullable fields.
type Chat struct {
	ID          int64   `json:"id"`
	Type        string  `json:"type"`
	Title       string  `json:"title"`
	Username    *string `json:"username,omitempty"`
	Description *string `json:"description,omitempty"`
	MemberCount *int    `json:"member_count,omitempty"`
}

// Member is one participant of a chat.
type Member struct {
	UserID     int64   `json:"user_id"`
	Username   *string `json:"username,omitempty"`
	FirstName  *string `json:"first_name,omitempty"`
	LastName   *string `json:"last_name,omitempty"`
	IsPremium  *bool   `json:"is_premium,omitempty"`
	IsAdmin    bool    `json:"is_admin"`
	AdminTitle *string `json:"admin_title,omitempty"`
	CanMessage bool    `json:"can_message"`
}

// Wire-level Bot API shapes. Kept separate from the exported DTOs so the
// API's empty-string conventions do not leak out.

type apiChat struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Username    string `json:"username"`
	Description string `json:"description"`
}

func (a *apiChat) toChat() *Chat {
	chat := &Chat{
		ID:    a.ID,
		Type:  a.Type,
		Title: a.Title,
	}
	if a.Username != "" {
		u := a.Username
		chat.Username = &u
	}
	if a.Description != "" {
		d := a.Description
		chat.Description = &d
	}
	return chat
}

type apiUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	IsPremium *bool  `json:"is_premium"`
}

type apiChatMember struct {
	Status      string  `json:"status"`
	User        apiUser `json:"user"`
	CustomTitle string  `json:"custom_title"`
}

func (m *apiChatMember) toMember() Member {
	isAdmin := m.Status == "creator" || m.Status == "administrator"
	member := Member{
		UserID:     m.User.ID,
		IsAdmin:    isAdmin,
		IsPremium:  m.User.IsPremium,
		CanMessage: m.User.Username != "",
	}
	if m.User.Username != "" {
		u := m.User.Username
		member.Username = &u
	}
	if m.User.FirstName != "" {
		f := m.User.FirstName
		member.FirstName = &f
	}
	if m.User.LastName != "" {
		l := m.User.LastName
		member.LastName = &l
	}
	if isAdmin && m.CustomTitle != "" {
		t := m.CustomTitle
		member.AdminTitle = &t
	}
	return member
}
