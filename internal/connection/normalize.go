// Package connection models references to tool-providing backends and maps
// each one to a canonical identifier used as the toolset cache key.
package connection

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Kind discriminates the shapes a connection reference can take.
type Kind int

const (
	// KindUnrecognized is any reference the runtime cannot classify.
	KindUnrecognized Kind = iota

	// KindIntegrationID references a stored integration by id ("i:" prefix).
	KindIntegrationID

	// KindAgentID references another agent exposed as a tool source ("a:" prefix).
	KindAgentID

	// KindHTTP is an inline HTTP connection descriptor.
	KindHTTP

	// KindSSE is an inline SSE connection descriptor.
	KindSSE

	// KindWebsocket is an inline websocket connection descriptor.
	KindWebsocket

	// KindInnate is a well-known in-process tool provider.
	KindInnate
)

func (k Kind) String() string {
	switch k {
	case KindIntegrationID:
		return "integration"
	case KindAgentID:
		return "agent"
	case KindHTTP:
		return "http"
	case KindSSE:
		return "sse"
	case KindWebsocket:
		return "websocket"
	case KindInnate:
		return "innate"
	default:
		return "unrecognized"
	}
}

const (
	integrationPrefix = "i:"
	agentPrefix       = "a:"
)

// Ref is a tagged reference to a connection. Exactly one of ID, URL, or Name
// is meaningful depending on Kind.
type Ref struct {
	Kind Kind

	// ID is the stored integration or agent id (prefix already stripped).
	ID string

	// URL is the endpoint of an inline descriptor.
	URL string

	// Name identifies an innate provider.
	Name string

	// Raw preserves the original unparsed reference for logging.
	Raw string
}

// ParseString classifies a string-form reference. Known namespace markers are
// two characters long; everything else is unrecognized.
func ParseString(ref string) Ref {
	switch {
	case strings.HasPrefix(ref, integrationPrefix):
		return Ref{Kind: KindIntegrationID, ID: ref[len(integrationPrefix):], Raw: ref}
	case strings.HasPrefix(ref, agentPrefix):
		return Ref{Kind: KindAgentID, ID: ref[len(agentPrefix):], Raw: ref}
	default:
		return Ref{Kind: KindUnrecognized, Raw: ref}
	}
}

// Descriptor is the wire shape of an inline connection descriptor.
type Descriptor struct {
	Type string `json:"type" yaml:"type"`
	URL  string `json:"url,omitempty" yaml:"url,omitempty"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// ParseDescriptor classifies an inline descriptor.
func ParseDescriptor(d Descriptor) Ref {
	switch strings.ToUpper(d.Type) {
	case "HTTP":
		return Ref{Kind: KindHTTP, URL: d.URL, Raw: d.URL}
	case "SSE":
		return Ref{Kind: KindSSE, URL: d.URL, Raw: d.URL}
	case "WEBSOCKET":
		return Ref{Kind: KindWebsocket, URL: d.URL, Raw: d.URL}
	case "INNATE":
		return Ref{Kind: KindInnate, Name: d.Name, Raw: d.Name}
	default:
		return Ref{Kind: KindUnrecognized, Raw: d.Type + ":" + d.URL + d.Name}
	}
}

// FromCanonical rebuilds a Ref from a canonical identifier, the inverse of
// Normalize for the recognized shapes. Identifiers containing a scheme are
// inline HTTP endpoints; everything else is a stored integration id.
func FromCanonical(id string) Ref {
	if strings.Contains(id, "://") {
		return Ref{Kind: KindHTTP, URL: id, Raw: id}
	}
	return Ref{Kind: KindIntegrationID, ID: id, Raw: id}
}

// Normalizer maps refs to canonical connection identifiers.
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer creates a normalizer. A nil logger falls back to slog.Default.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger.With("component", "connection")}
}

// Normalize maps a reference to its canonical identifier. It is total: an
// unrecognized reference gets a fresh random identifier, which keeps it
// cacheable for the duration of a call but means two equivalent unrecognized
// descriptors are never deduplicated. That case is logged so cache
// fragmentation stays visible.
func (n *Normalizer) Normalize(ref Ref) string {
	switch ref.Kind {
	case KindIntegrationID, KindAgentID:
		return ref.ID
	case KindHTTP, KindSSE, KindWebsocket:
		decoded, err := url.PathUnescape(ref.URL)
		if err != nil {
			return ref.URL
		}
		return decoded
	case KindInnate:
		return ref.Name
	default:
		id := uuid.NewString()
		n.logger.Warn("unrecognized connection reference, assigning random id",
			"ref", ref.Raw,
			"id", id)
		return id
	}
}
