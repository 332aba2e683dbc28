package provider

import (
	"context"
	"errors"
	"fmt"

	"unibox/internal/model"
)

// Op is a canonical mutation applied to one message. Archive is not
// guaranteed to be reversible through this interface; Trash prefers the
// provider's soft-delete path and falls back to a hard delete.
type Op string

const (
	OpMarkRead   Op = "mark_read"
	OpMarkUnread Op = "mark_unread"
	OpStar       Op = "star"
	OpUnstar     Op = "unstar"
	OpArchive    Op = "archive"
	OpTrash      Op = "trash"
)

// Filter narrows a fetch. Some providers paginate by opaque cursor and
// some by offset; the adapter absorbs the difference, so callers may set
// whichever the previous FetchResult handed back.
type Filter struct {
	MaxResults int64
	PageToken  string
	Offset     int64
	Search     string
	Label      string
	IsRead     *bool
	IsStarred  *bool
}

// FetchResult is one page of normalized messages. ResultCount is the
// provider's estimate of matches for the whole query, not the page size.
type FetchResult struct {
	Emails        []*model.Email
	NextPageToken string
	ResultCount   int
}

type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type OutgoingAttachment struct {
	Filename string
	MimeType string
	Content  []byte
}

type OutgoingMessage struct {
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	BodyText    string
	BodyHTML    string
	Attachments []OutgoingAttachment
}

// Adapter translates canonical requests into provider-specific calls and
// normalizes provider message shapes into model.Email. Implementations
// are constructed per request with an injected access token; there is no
// process-wide default credential.
type Adapter interface {
	Fetch(ctx context.Context, filter Filter) (*FetchResult, error)
	Mutate(ctx context.Context, messageID string, op Op) error
	Send(ctx context.Context, msg *OutgoingMessage) error
	GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
	Labels(ctx context.Context) ([]Label, error)
}

// ErrorKind classifies adapter failures so callers can decide whether a
// refresh-and-retry is worthwhile.
type ErrorKind int

const (
	// KindTokenExpired means the access token was rejected; the caller
	// should attempt one refresh and retry.
	KindTokenExpired ErrorKind = iota
	// KindNotFound means the message no longer exists; callers treat it
	// as already deleted, not as a user-facing error.
	KindNotFound
	// KindProviderRejected covers everything the provider refused for a
	// reason a retry will not fix.
	KindProviderRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindTokenExpired:
		return "token_expired"
	case KindNotFound:
		return "not_found"
	default:
		return "provider_rejected"
	}
}

// Error is the typed failure returned by adapters.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ClassifyStatus maps an HTTP status from a provider API to an ErrorKind.
func ClassifyStatus(status int, err error) *Error {
	switch status {
	case 401:
		return &Error{Kind: KindTokenExpired, Err: err}
	case 404:
		return &Error{Kind: KindNotFound, Err: err}
	default:
		return &Error{Kind: KindProviderRejected, Err: err}
	}
}

// Unavailable returns an Adapter whose every call fails with err. It
// stands in when an adapter could not be constructed, so factory
// callers get a uniform error path instead of a nil adapter.
func Unavailable(err error) Adapter {
	return unavailableAdapter{err: &Error{Kind: KindProviderRejected, Err: err}}
}

type unavailableAdapter struct {
	err error
}

func (a unavailableAdapter) Fetch(context.Context, Filter) (*FetchResult, error) {
	return nil, a.err
}

func (a unavailableAdapter) Mutate(context.Context, string, Op) error {
	return a.err
}

func (a unavailableAdapter) Send(context.Context, *OutgoingMessage) error {
	return a.err
}

func (a unavailableAdapter) GetAttachment(context.Context, string, string) ([]byte, error) {
	return nil, a.err
}

func (a unavailableAdapter) Labels(context.Context) ([]Label, error) {
	return nil, a.err
}

// IsKind reports whether err is a provider Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind == kind
	}
	return false
}
