package domain
import (
	"sort"
	"time"
)

// Paste is the public form of a stored paste. Data is envelope text the server cannot read.
type Paste struct {
	ID         string    `json:"id"`
	Data       string    `json:"data"`
	PostDate   int64     `json:"postdate"`
	Expire     int64     `json:"expire,omitempty"`
	Burn       bool      `json:"burn"`
	Discussion bool      `json:"discussion"`
	Highlight  bool      `json:"highlight"`
	Comments   []Comment `json:"comments,omitempty"`
}

// Comment is one node of a paste discussion. An empty Author is the anonymous marker.
type Comment struct {
	ID        string `json:"id"`
	Parent    string `json:"parent"`
	Data      string `json:"data"`
	Author    string `json:"author"`
	PostDate  int64  `json:"postdate"`
	Avatar    string `json:"avatar,omitempty"`
	Highlight bool   `json:"highlight"`
}
func (c Comment) Anonymous() bool { return c.Author == "" }

// SortComments orders comments by post date, keeping insertion order for ties.
func SortComments(cc []Comment) {
	sort.SliceStable(cc, func(i, j int) bool { return cc[i].PostDate < cc[j].PostDate })
}

// PasteSubmit is the body of a paste creation request.
type PasteSubmit struct {
	Data       string `json:"data"`
	Expire     int64  `json:"expire"`
	Burn       bool   `json:"burn"`
	Discussion bool   `json:"discussion"`
	Highlight  bool   `json:"highlight"`
}

// CommentSubmit is the body of a comment creation request. Author is always sent, "" when anonymous.
type CommentSubmit struct {
	Data      string `json:"data"`
	Author    string `json:"author"`
	Highlight bool   `json:"highlight"`
	Comment   bool   `json:"comment"`
	Parent    string `json:"parent"`
	Paste     string `json:"paste"`
}

// PostData is what the server decodes from POST /: the union of both submit bodies.
type PostData struct {
	Data       string `json:"data"`
	Author     string `json:"author"`
	Expire     int64  `json:"expire"`
	Burn       bool   `json:"burn"`
	Highlight  bool   `json:"highlight"`
	Discussion bool   `json:"discussion"`
	Paste      string `json:"paste"`
	Parent     string `json:"parent"`
	Comment    bool   `json:"comment"`
}

type PasteCreated struct {
	ID       string `json:"id"`
	Delete   string `json:"delete"`
	PostDate int64  `json:"postdate"`
	Expire   int64  `json:"expire,omitempty"`
}

type CommentCreated struct {
	ID       string `json:"id"`
	PostDate int64  `json:"postdate"`
	Avatar   string `json:"avatar"`
}

// PasteRecord is a paste as persisted by the server. Sealed holds Data encrypted at rest.
type PasteRecord struct {
	ID           string
	Sealed       []byte
	EncryptedDEK []byte
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Burn         bool
	Discussion   bool
	Highlight    bool
	IPHash       string
}
func (r *PasteRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// CommentRecord is a persisted comment. SealedAuthor is nil for anonymous comments.
type CommentRecord struct {
	ID           string
	PasteID      string
	Parent       string
	Sealed       []byte
	SealedAuthor []byte
	Avatar       string
	CreatedAt    time.Time
	Highlight    bool
}

type CreatePasteParams struct {
	Data       string
	Expire     time.Duration
	Burn       bool
	Discussion bool
	Highlight  bool
	ClientIP   string
}

type CreateCommentParams struct {
	PasteID   string
	Parent    string
	Data      string
	Author    string
	Highlight bool
	ClientIP  string
}
