package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Transport is the wire shape a provider speaks.
type Transport string

const (
	TransportUpload Transport = "upload" // one request per audio chunk
	TransportStream Transport = "stream" // persistent websocket session
	TransportPeer   Transport = "peer"   // webrtc offer/answer with a data channel
)

// EndpointConfig holds HTTP/WebSocket endpoint configuration
type EndpointConfig struct {
	BaseURL string // e.g., "https://api.openai.com" or "wss://api.deepgram.com"
	Path    string // e.g., "/v1/audio/transcriptions"
}

func (e EndpointConfig) URL() string {
	return e.BaseURL + e.Path
}

// Definition describes one backend: a vendor and model pair reachable over
// one transport.
type Definition struct {
	ID             string
	Name           string
	Vendor         string
	Description    string
	Transport      Transport
	Adapter        string
	Models         []string
	DefaultModel   string
	APIKeyEnv      string
	RequiresAPIKey bool
	Endpoint       EndpointConfig
	SampleRate     int  // rate the vendor wants on the wire
	Diarize        bool // request speaker labels when the vendor supports it
	DocsURL        string
}

// Batched reports whether the provider consumes batched chunks rather than
// a continuous small-frame stream.
func (d Definition) Batched() bool {
	return d.Transport == TransportUpload
}

// HasModel reports whether model is one of the definition's models.
func (d Definition) HasModel(model string) bool {
	for _, m := range d.Models {
		if m == model {
			return true
		}
	}
	return false
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Definition)
)

func init() {
	for _, d := range builtin() {
		Register(d)
	}
}

// Register adds or replaces a definition.
func Register(d Definition) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[d.ID] = d
}

// Get returns the definition for id.
func Get(id string) (Definition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[id]
	return d, ok
}

// MustGet is Get for ids known at compile time.
func MustGet(id string) Definition {
	d, ok := Get(id)
	if !ok {
		panic(fmt.Sprintf("provider: unknown id %q", id))
	}
	return d
}

// IDs returns every registered id in sorted order.
func IDs() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns every definition ordered by id.
func List() []Definition {
	ids := IDs()
	out := make([]Definition, 0, len(ids))
	for _, id := range ids {
		d, _ := Get(id)
		out = append(out, d)
	}
	return out
}

// ByTransport returns the definitions using t, ordered by id.
func ByTransport(t Transport) []Definition {
	var out []Definition
	for _, d := range List() {
		if d.Transport == t {
			out = append(out, d)
		}
	}
	return out
}
