package data

import (
	"errors"
	"fmt"
	"image"
)

// Type is the kind of payload a resource ended up holding.
type Type string

const (
	TypeUnknown Type = "unknown"
	TypeBuffer  Type = "buffer"
	TypeBlob    Type = "blob"
	TypeJSON    Type = "json"
	TypeXML     Type = "xml"
	TypeImage   Type = "image"
	TypeAudio   Type = "audio"
	TypeVideo   Type = "video"
	TypeText    Type = "text"
)

// LoadType selects the strategy used to fetch a resource.
type LoadType string

const (
	LoadRequest LoadType = "request"
	LoadImage   LoadType = "image"
	LoadAudio   LoadType = "audio"
	LoadVideo   LoadType = "video"
)

// ResponseKind tells the request strategy how to interpret a response body.
type ResponseKind string

const (
	ResponseDefault  ResponseKind = ""
	ResponseBuffer   ResponseKind = "arraybuffer"
	ResponseBlob     ResponseKind = "blob"
	ResponseDocument ResponseKind = "document"
	ResponseJSON     ResponseKind = "json"
	ResponseText     ResponseKind = "text"
)

// MimeType returns the mime type a response of kind k is expected to carry.
func (k ResponseKind) MimeType() string {
	switch k {
	case ResponseBuffer:
		return "application/octet-buffer"
	case ResponseBlob:
		return "application/blob"
	case ResponseDocument:
		return "application/xml"
	case ResponseJSON:
		return "application/json"
	default:
		return "text/plain"
	}
}

// State is the lifecycle position of a resource. It only ever moves forward.
type State string

const (
	StateNotStarted State = "NotStarted"
	StateLoading    State = "Loading"
	StateComplete   State = "Complete"
)

// Cross-origin policies understood by the strategies. CrossOriginSame may
// be requested explicitly and resolves to CrossOriginNone; leaving the policy
// empty asks the resource to work it out from its URL.
const (
	CrossOriginNone        = ""
	CrossOriginSame        = "same-origin"
	CrossOriginAnonymous   = "anonymous"
	CrossOriginCredentials = "use-credentials"
)

// Blob is an opaque payload together with the content type it was served with.
type Blob struct {
	ContentType string
	Bytes       []byte
}

// Image is the decoded result of an image resource.
type Image struct {
	Format string
	Width  int
	Height int
	Image  image.Image
}

// Media is the result of an audio or video resource. Source is the URL of
// the source that actually loaded.
type Media struct {
	Source      string
	ContentType string
	Bytes       []byte
}

var (
	ErrMissingURL      = errors.New("url is required")
	ErrDuplicateName   = errors.New("resource name already exists")
	ErrLoadingNoParent = errors.New("cannot add root resources while the loader is running")
	ErrReset           = errors.New("loader reset during load")
)

// ConfigError is returned synchronously from Add when a resource cannot be
// registered. Err is one of the sentinel errors above.
type ConfigError struct {
	Name string
	URL  string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("add resource: %v", e.Err)
	}
	return fmt.Sprintf("add resource %q (%s): %v", e.Name, e.URL, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
