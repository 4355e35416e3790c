package nrdp

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Format identifies how a client packaged its check results: the classic
// form-encoded XMLDATA/JSONDATA fields, or a raw XML/JSON body.
type Format int

const (
	FormatUnknown Format = iota
	FormatXMLForm
	FormatJSONForm
	FormatRawXML
	FormatRawJSON
)

func (f Format) String() string {
	switch f {
	case FormatXMLForm:
		return "xmlform"
	case FormatJSONForm:
		return "jsonform"
	case FormatRawXML:
		return "xml"
	case FormatRawJSON:
		return "json"
	}
	return "unknown"
}

func (f Format) isXML() bool { return f == FormatXMLForm || f == FormatRawXML }

// Submission is one normalized passive check result off the wire.
type Submission struct {
	Host    string
	Service string // empty for a host result
	State   int
	Output  string
	At      time.Time
	Via     string // "{format}://{ip}:{port}"
}

// xml/json wire envelopes; these only exist at the decode boundary.
type xmlEnvelope struct {
	XMLName xml.Name   `xml:"checkresults"`
	Entries []xmlEntry `xml:"checkresult"`
}

type xmlEntry struct {
	Type      string `xml:"type,attr"`
	CheckType string `xml:"checktype,attr"`
	Host      string `xml:"hostname"`
	Service   string `xml:"servicename"`
	State     int    `xml:"state"`
	Output    string `xml:"output"`
	Timestamp string `xml:"timestamp"`
}

type jsonEnvelope struct {
	Entries []jsonEntry `json:"checkresults"`
}

type jsonEntry struct {
	Type      string `json:"type"`
	Host      string `json:"hostname"`
	Service   string `json:"servicename"`
	State     int    `json:"status"`
	Output    string `json:"output"`
	Timestamp string `json:"timestamp"`
}

// DetectFormat classifies a request from its Content-Type (parameters such
// as charset are ignored) and, for form posts, which data field is present.
func DetectFormat(contentType string, form url.Values) Format {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if semi := strings.IndexByte(mediaType, ';'); semi >= 0 {
		mediaType = strings.TrimSpace(mediaType[:semi])
	}

	switch mediaType {
	case "application/x-www-form-urlencoded":
		switch {
		case form.Get("XMLDATA") != "":
			return FormatXMLForm
		case form.Get("JSONDATA") != "":
			return FormatJSONForm
		}
	case "text/xml", "application/xml":
		return FormatRawXML
	case "application/json":
		return FormatRawJSON
	}
	return FormatUnknown
}

// DecodeSubmissions extracts the normalized results for a detected format.
func DecodeSubmissions(format Format, body []byte, form url.Values) ([]Submission, error) {
	switch format {
	case FormatXMLForm, FormatJSONForm:
		field := "XMLDATA"
		if format == FormatJSONForm {
			field = "JSONDATA"
		}
		data := form.Get(field)
		if data == "" {
			return nil, fmt.Errorf("empty %s field", field)
		}
		body = []byte(data)
	case FormatRawXML, FormatRawJSON:
		// body already holds the payload
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
	if format.isXML() {
		return decodeXML(body)
	}
	return decodeJSON(body)
}

func decodeXML(data []byte) ([]Submission, error) {
	var env xmlEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("xml decode: %w", err)
	}
	subs := make([]Submission, len(env.Entries))
	for i, e := range env.Entries {
		subs[i] = normalize(e.Host, e.Service, e.State, e.Output, e.Timestamp)
	}
	return subs, nil
}

func decodeJSON(data []byte) ([]Submission, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}
	subs := make([]Submission, len(env.Entries))
	for i, e := range env.Entries {
		subs[i] = normalize(e.Host, e.Service, e.State, e.Output, e.Timestamp)
	}
	return subs, nil
}

func normalize(host, service string, state int, output, timestamp string) Submission {
	if state < 0 || state > 3 {
		state = 3
	}
	return Submission{
		Host:    host,
		Service: service,
		State:   state,
		Output:  stripControlChars(output),
		At:      parseWhen(timestamp),
	}
}

// parseWhen accepts the handful of timestamp spellings NRDP clients send;
// anything unparseable means "now".
func parseWhen(s string) time.Time {
	if s == "" {
		return time.Now()
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(epoch, 0)
	}
	return time.Now()
}

// stripControlChars removes control bytes from plugin output, keeping only
// newline.
func stripControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' {
			return -1
		}
		return r
	}, s)
}

// replyXML / replyJSON are the response envelopes.
type replyXML struct {
	XMLName xml.Name `xml:"response"`
	ID      string   `xml:"id"`
	Status  int      `xml:"status"`
	Message string   `xml:"message"`
}

type replyJSON struct {
	ID      string `json:"id"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Reply renders a response body in the client's own format, falling back to
// plain text when the format is unknown or marshaling fails.
func Reply(format Format, id string, status int, message string) (body []byte, contentType string) {
	switch {
	case format.isXML():
		b, err := xml.Marshal(replyXML{ID: id, Status: status, Message: message})
		if err != nil {
			break
		}
		return append([]byte(xml.Header), b...), "text/xml"
	case format == FormatJSONForm || format == FormatRawJSON:
		b, err := json.Marshal(replyJSON{ID: id, Status: status, Message: message})
		if err != nil {
			break
		}
		return b, "application/json"
	}
	return []byte(message), "text/plain"
}

// NewRequestID returns a short opaque correlation id for log lines and
// responses.
func NewRequestID() string {
	return uuid.NewString()[:8]
}

// SourceTag renders the "{format}://{ip}:{port}" origin recorded on each
// submission.
func SourceTag(format Format, remoteAddr string) string {
	host, port, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return fmt.Sprintf("%s://%s", format, remoteAddr)
	}
	return fmt.Sprintf("%s://%s:%s", format, host, port)
}
