package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"sort"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.
//
// Only include primitives we need at the adapter boundary: the answer
// document that bridges an answered outbound call to the conversational
// voice-AI media stream, and a hangup fallback.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlConnect struct {
	XMLName xml.Name     `xml:"Connect"`
	Stream  *twimlStream `xml:"Stream,omitempty"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter,omitempty"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// RenderAnswerTwiML produces the document the provider fetches when the
// callee picks up: connect the call audio to the voice-AI websocket stream,
// passing call identifiers as stream parameters.
func RenderAnswerTwiML(streamURL string, params map[string]string) (string, error) {
	if strings.TrimSpace(streamURL) == "" {
		return "", errors.New("telephony: stream url required")
	}

	s := &twimlStream{URL: streamURL}
	for _, name := range sortedKeys(params) {
		s.Parameters = append(s.Parameters, twimlParameter{Name: name, Value: params[name]})
	}

	var r twimlResponse
	r.Verbs = append(r.Verbs, twimlConnect{Stream: s})
	return renderTwiML(r)
}

// RenderHangupTwiML produces a bare hangup document, used when a call can no
// longer be bridged (campaign stopped between dispatch and answer).
func RenderHangupTwiML() (string, error) {
	var r twimlResponse
	r.Verbs = append(r.Verbs, twimlHangup{})
	return renderTwiML(r)
}

func renderTwiML(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
