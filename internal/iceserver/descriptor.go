package iceserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/stun/v3"
)

var (
	ErrMissingURLs       = errors.New("missing urls")
	ErrAmbiguousURLs     = errors.New("both urls and url are set")
	ErrEmptyURL          = errors.New("urls must not contain empty entries")
	ErrMissingTURNCreds  = errors.New("turn urls require username and credential")
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
)

type urlKind uint8

const (
	urlKindNone urlKind = iota
	urlKindMulti
	urlKindSingle
)

// URLSpec holds the URL field(s) of a descriptor: either the list form
// ("urls") or the legacy single-URL form ("url"). The zero value carries
// neither.
type URLSpec struct {
	kind   urlKind
	multi  []string
	single string
}

// MultiURL returns a URLSpec for the "urls" form.
func MultiURL(urls ...string) URLSpec {
	return URLSpec{kind: urlKindMulti, multi: append([]string(nil), urls...)}
}

// SingleURL returns a URLSpec for the legacy "url" form.
func SingleURL(url string) URLSpec {
	return URLSpec{kind: urlKindSingle, single: url}
}

func (s URLSpec) IsZero() bool   { return s.kind == urlKindNone }
func (s URLSpec) IsSingle() bool { return s.kind == urlKindSingle }

// URLs returns the URL set as an ordered slice. The legacy form yields a
// one-element slice; the zero value yields nil. The returned slice is a copy.
func (s URLSpec) URLs() []string {
	switch s.kind {
	case urlKindMulti:
		return append(make([]string, 0, len(s.multi)), s.multi...)
	case urlKindSingle:
		return []string{s.single}
	default:
		return nil
	}
}

// Descriptor is one caller-supplied ICE server entry.
type Descriptor struct {
	URLs       URLSpec
	Username   string
	Credential string
}

func (d Descriptor) HasCredentials() bool {
	return strings.TrimSpace(d.Username) != "" && strings.TrimSpace(d.Credential) != ""
}

type descriptorJSON struct {
	URLs       json.RawMessage `json:"urls,omitempty"`
	URL        *string         `json:"url,omitempty"`
	Username   string          `json:"username,omitempty"`
	Credential string          `json:"credential,omitempty"`
}

// UnmarshalJSON accepts {"urls": [...]}, {"urls": "..."} and the legacy
// {"url": "..."} shapes. Setting both urls and url is an error; setting
// neither leaves URLs zero so Validate can report it.
func (d *Descriptor) UnmarshalJSON(b []byte) error {
	var raw descriptorJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	hasURLs := len(raw.URLs) > 0 && !bytes.Equal(bytes.TrimSpace(raw.URLs), []byte("null"))
	if hasURLs && raw.URL != nil {
		return ErrAmbiguousURLs
	}

	out := Descriptor{
		Username:   raw.Username,
		Credential: raw.Credential,
	}
	switch {
	case hasURLs:
		var single string
		if err := json.Unmarshal(raw.URLs, &single); err == nil {
			out.URLs = MultiURL(single)
			break
		}
		var many []string
		if err := json.Unmarshal(raw.URLs, &many); err != nil {
			return fmt.Errorf("urls: %w", err)
		}
		out.URLs = MultiURL(many...)
	case raw.URL != nil:
		out.URLs = SingleURL(*raw.URL)
	}

	*d = out
	return nil
}

// MarshalJSON always emits the list form, which is what browsers expect in
// RTCConfiguration.iceServers.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	urls := d.URLs.URLs()
	if urls == nil {
		urls = []string{}
	}
	return json.Marshal(struct {
		URLs       []string `json:"urls"`
		Username   string   `json:"username,omitempty"`
		Credential string   `json:"credential,omitempty"`
	}{
		URLs:       urls,
		Username:   d.Username,
		Credential: d.Credential,
	})
}

// Validate checks that every URL is a STUN/TURN URI and that TURN URLs carry
// credentials. allowMissingTURNCreds is used when credentials are minted per
// request (TURN REST).
func Validate(d Descriptor, allowMissingTURNCreds bool) error {
	if d.URLs.IsZero() {
		return ErrMissingURLs
	}
	urls := d.URLs.URLs()
	if len(urls) == 0 {
		return ErrMissingURLs
	}

	requiresTurnCreds := false
	for _, raw := range urls {
		url := strings.TrimSpace(raw)
		if url == "" {
			return ErrEmptyURL
		}
		uri, err := stun.ParseURI(url)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrUnsupportedScheme, url, err)
		}
		if IsTURNScheme(uri.Scheme) {
			requiresTurnCreds = true
		}
	}

	if requiresTurnCreds && !allowMissingTURNCreds && !d.HasCredentials() {
		return ErrMissingTURNCreds
	}
	return nil
}

func IsTURNScheme(scheme stun.SchemeType) bool {
	return scheme == stun.SchemeTypeTURN || scheme == stun.SchemeTypeTURNS
}

// HasTURNURL reports whether any URL of d uses the turn: or turns: scheme.
func HasTURNURL(d Descriptor) bool {
	for _, raw := range d.URLs.URLs() {
		url := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			return true
		}
	}
	return false
}
