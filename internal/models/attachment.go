package models

type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentVideo AttachmentType = "video"
	AttachmentFile  AttachmentType = "file"
	AttachmentAudio AttachmentType = "audio"
)

// ParseAttachmentType maps platform media names onto the known set.
func ParseAttachmentType(s string) (AttachmentType, bool) {
	switch s {
	case "image", "picture", "photo":
		return AttachmentImage, true
	case "video":
		return AttachmentVideo, true
	case "file", "document":
		return AttachmentFile, true
	case "audio", "voice":
		return AttachmentAudio, true
	}
	return "", false
}

// Attachment references media hosted by a platform. Telegram media is
// addressed by FileID instead of a direct URL.
type Attachment struct {
	Type      AttachmentType `json:"type"`
	Name      string         `json:"name"`
	Extension string         `json:"extension"`
	URL       string         `json:"url,omitempty"`
	FileID    string         `json:"file_id,omitempty"`
}
