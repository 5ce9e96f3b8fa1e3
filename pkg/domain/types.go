package domain

import "time"

// Member is a registered user identity. The password is a plain string
// compared verbatim at login and is never serialized.
type Member struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Password string `json:"-"`
}

// MemberRef is the public identity snippet embedded in responses.
type MemberRef struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

// Ref returns the public view of a member.
func (m Member) Ref() MemberRef {
	return MemberRef{ID: m.ID, Username: m.Username}
}

// MemberWithRelations is the login response: the member plus the full
// following and follower lists resolved to identity snippets.
type MemberWithRelations struct {
	ID        int         `json:"id"`
	Username  string      `json:"username"`
	Following []MemberRef `json:"following"`
	Followers []MemberRef `json:"followers"`
}

// Audio is one voice letter. FileName is the opaque handle into the blob
// store; Text holds the raw transcription and ProcessText the AI-processed
// version.
type Audio struct {
	ID          int       `json:"id"`
	Title       string    `json:"title"`
	Owner       MemberRef `json:"owner"`
	Receiver    MemberRef `json:"receiver"`
	FileName    string    `json:"audio"`
	Text        string    `json:"text"`
	ProcessText string    `json:"processText"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RecommendTitleRequest asks the AI service for a title suggestion.
type RecommendTitleRequest struct {
	Text   string `json:"text"`
	Target string `json:"target"`
}

// RecommendTitleResponse carries the suggested title and a sentiment
// rating (lower means more negative).
type RecommendTitleResponse struct {
	Title  string `json:"title"`
	Rating int    `json:"rating"`
}

// RecommendTextRequest asks the AI service to rewrite letter content.
type RecommendTextRequest struct {
	Text        string `json:"text"`
	Target      string `json:"target"`
	Instruction string `json:"instruction"`
}

// RecommendTextResponse carries the rewritten content. The field name
// follows the AI service's wire format.
type RecommendTextResponse struct {
	ProcessedContent string `json:"processed_content"`
}

// TranscriptionResponse is the AI service's speech-to-text result.
type TranscriptionResponse struct {
	Result string `json:"result"`
}
