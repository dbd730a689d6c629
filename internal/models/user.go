package models

// Message privacy settings a user may choose.
const (
	PrivacyAll         = "all"
	PrivacyFriendsOnly = "friends_only"
	PrivacyNobody      = "nobody"
)

// User is the identity record owned by the user service. Only read here.
type User struct {
	ID             int     `db:"id" json:"id"`
	Username       string  `db:"username" json:"username"`
	Name           string  `db:"name" json:"name"`
	AvatarURL      string  `db:"avatar_url" json:"avatar_url"`
	MessagePrivacy *string `db:"message_privacy" json:"message_privacy"`
	IsActive       bool    `db:"is_active" json:"is_active"`
}

// EffectivePrivacy treats an unset privacy as open to everyone.
func (u User) EffectivePrivacy() string {
	if u.MessagePrivacy == nil || *u.MessagePrivacy == "" {
		return PrivacyAll
	}
	return *u.MessagePrivacy
}
