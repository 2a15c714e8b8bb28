package relay

import (
	"time"

	"github.com/dan246/mtx-toolkit/internal/models"
)

// PathSource describes where a path's media comes from.
type PathSource struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// PathReader is a consumer attached to a path.
type PathReader struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// PathInfo is one entry from the relay's runtime path list.
type PathInfo struct {
	Name          string       `json:"name"`
	ConfName      string       `json:"confName"`
	Source        *PathSource  `json:"source"`
	Ready         bool         `json:"ready"`
	ReadyTime     *time.Time   `json:"readyTime"`
	Tracks        []string     `json:"tracks"`
	BytesReceived int64        `json:"bytesReceived"`
	BytesSent     int64        `json:"bytesSent"`
	Readers       []PathReader `json:"readers"`
}

// Protocol returns the stream protocol inferred from the source type.
func (p *PathInfo) Protocol() models.Protocol {
	if p.Source == nil {
		return models.ProtocolUnknown
	}
	return models.DetectProtocol(p.Source.Type)
}

// pathList is the paged wire shape of the path list endpoint.
type pathList struct {
	ItemCount int        `json:"itemCount"`
	PageCount int        `json:"pageCount"`
	Items     []PathInfo `json:"items"`
}

// PathConf is a path's configuration entry. The relay accepts arbitrary
// keys here, so the shape stays an open map.
type PathConf map[string]any

// GlobalConf is the relay's global configuration document.
type GlobalConf map[string]any

// Session is one client session or connection on the relay, normalized
// across the per-protocol endpoints.
type Session struct {
	ID            string     `json:"id"`
	Created       *time.Time `json:"created"`
	RemoteAddr    string     `json:"remoteAddr"`
	State         string     `json:"state"`
	Path          string     `json:"path"`
	Transport     string     `json:"transport"`
	BytesReceived int64      `json:"bytesReceived"`
	BytesSent     int64      `json:"bytesSent"`
}

// sessionList is the paged wire shape of the session list endpoints.
type sessionList struct {
	ItemCount int       `json:"itemCount"`
	PageCount int       `json:"pageCount"`
	Items     []Session `json:"items"`
}

// protocolEndpoints maps a session protocol to its API path segment. HLS
// has no kickable session resource and is absent on purpose.
var protocolEndpoints = map[models.Protocol]string{
	models.ProtocolRTSP:   "rtspsessions",
	models.ProtocolRTSPS:  "rtspssessions",
	models.ProtocolWebRTC: "webrtcsessions",
	models.ProtocolRTMP:   "rtmpconns",
	models.ProtocolSRT:    "srtconns",
}

// SessionEndpoint returns the API segment for a protocol, and whether the
// protocol has session endpoints at all.
func SessionEndpoint(protocol models.Protocol) (string, bool) {
	segment, ok := protocolEndpoints[protocol]
	return segment, ok
}
