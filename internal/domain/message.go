package domain

// Message is an outbound chat notification. Image, when set, is sent instead
// of Text by deliverers that support images.
type Message struct {
	Text          string
	Image         []byte
	MentionUserID string
}
