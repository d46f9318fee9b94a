package domain
import (
	"errors"
	"net/http"

	pkgerrors "github.com/pkg/errors"
)

// Client-side validation failures. They never reach the network.
var (
	ErrEmptyContent = errors.New("nothing to submit: content is empty")
	ErrNoSession    = errors.New("no paste is open")
)

var (
	ErrPasteNotFound      = NewErr("PASTE_NOT_FOUND", "Paste not found", http.StatusNotFound)
	ErrPasteExpired       = NewErr("PASTE_EXPIRED", "Paste not found", http.StatusNotFound)
	ErrParentNotFound     = NewErr("PARENT_NOT_FOUND", "Parent not found", http.StatusNotFound)
	ErrDiscussionDisabled = NewErr("DISCUSSION_DISABLED", "Discussion is disabled", http.StatusForbidden)
	ErrWrongDeleteToken   = NewErr("WRONG_DELETE_TOKEN", "Wrong delete token", http.StatusForbidden)
	ErrFlood              = NewErr("FLOOD", "Please wait before posting again", http.StatusForbidden)
	ErrPasteTooLarge      = NewErr("PASTE_TOO_LARGE", "Paste too large", http.StatusRequestEntityTooLarge)
	ErrInvalidExpire      = NewErr("INVALID_EXPIRE", "Invalid expiration", http.StatusBadRequest)
	ErrWrongContentType   = NewErr("WRONG_CONTENT_TYPE", "Wrong content-type", http.StatusBadRequest)
	ErrInvalidRequest     = NewErr("INVALID_REQUEST", "Cannot parse request body", http.StatusBadRequest)
	ErrContentRequired    = NewErr("CONTENT_REQUIRED", "Content required", http.StatusBadRequest)
	ErrRateLimitExceeded  = NewErr("RATE_LIMIT_EXCEEDED", "Rate limit exceeded", http.StatusTooManyRequests)
	ErrUnauthorized       = NewErr("UNAUTHORIZED", "Unauthorized", http.StatusUnauthorized)
	ErrServiceUnavailable = NewErr("SERVICE_UNAVAILABLE", "Service unavailable", http.StatusServiceUnavailable)
	ErrInternalServer     = NewErr("INTERNAL_ERROR", "Internal error", http.StatusInternalServerError)
	ErrIDGenerationFailed = NewErr("ID_GENERATION_FAILED", "Could not save paste", http.StatusInternalServerError)
)
type Err struct {
	Code   string
	Msg    string
	Status int
}
func (e *Err) Error() string { return e.Msg }
func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

// ErrResp is the JSON error body. Code repeats the HTTP status; Error is shown to users verbatim.
type ErrResp struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}
func ToResp(err error) ErrResp {
	if e := asErr(err); e != nil {
		return ErrResp{Code: e.Status, Error: e.Msg}
	}
	return ErrResp{Code: http.StatusInternalServerError, Error: ErrInternalServer.Msg}
}
func Status(err error) int {
	if e := asErr(err); e != nil {
		return e.Status
	}
	return http.StatusInternalServerError
}
func asErr(err error) *Err {
	if e, ok := err.(*Err); ok {
		return e
	}
	if e, ok := pkgerrors.Cause(err).(*Err); ok {
		return e
	}
	var e *Err
	if errors.As(err, &e) {
		return e
	}
	return nil
}
