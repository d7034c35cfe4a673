package config

import (
	"errors"
	"testing"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/iceserver"
)

func TestParseICEServersJSON(t *testing.T) {
	t.Parallel()

	raw := `[
	  {
	    "urls": ["stun:stun.example.com:3478"]
	  },
	  {
	    "urls": ["turn:turn.example.com:3478?transport=udp"],
	    "username": "user",
	    "credential": "pass"
	  }
	]`

	servers, err := ParseICEServersJSON(raw, false)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}

	if got := servers[0].URLs.URLs(); len(got) != 1 || got[0] != "stun:stun.example.com:3478" {
		t.Fatalf("unexpected stun urls: %#v", got)
	}
	if got := servers[1].Username; got != "user" {
		t.Fatalf("unexpected username: %q", got)
	}
	if got := servers[1].Credential; got != "pass" {
		t.Fatalf("unexpected credential: %q", got)
	}
}

func TestParseICEServersJSON_SupportsSingleStringURLs(t *testing.T) {
	t.Parallel()

	raw := `[{"urls": "stun:stun.example.com:3478"}]`

	servers, err := ParseICEServersJSON(raw, false)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(servers))
	}
	if got := servers[0].URLs.URLs(); len(got) != 1 || got[0] != "stun:stun.example.com:3478" {
		t.Fatalf("unexpected urls: %#v", got)
	}
}

func TestParseICEServersJSON_SupportsLegacyURL(t *testing.T) {
	t.Parallel()

	raw := `[{"url": "turn:turn.example.com:3478", "username": "u", "credential": "c"}]`

	servers, err := ParseICEServersJSON(raw, false)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !servers[0].URLs.IsSingle() {
		t.Fatalf("expected legacy url form to be preserved: %#v", servers[0])
	}
	if got := servers[0].URLs.URLs(); len(got) != 1 || got[0] != "turn:turn.example.com:3478" {
		t.Fatalf("unexpected urls: %#v", got)
	}
}

func TestParseICEServersJSON_RejectsMissingAndAmbiguousURLs(t *testing.T) {
	t.Parallel()

	if _, err := ParseICEServersJSON(`[{"username": "u"}]`, false); !errors.Is(err, iceserver.ErrMissingURLs) {
		t.Fatalf("err=%v, want ErrMissingURLs", err)
	}
	if _, err := ParseICEServersJSON(`[{"urls": ["stun:a"], "url": "stun:b"}]`, false); !errors.Is(err, iceserver.ErrAmbiguousURLs) {
		t.Fatalf("err=%v, want ErrAmbiguousURLs", err)
	}
}

func TestParseICEServersJSON_RejectsTURNWithoutCreds(t *testing.T) {
	t.Parallel()

	raw := `[{"urls": ["turn:turn.example.com:3478?transport=udp"]}]`

	_, err := ParseICEServersJSON(raw, false)
	if !errors.Is(err, iceserver.ErrMissingTURNCreds) {
		t.Fatalf("err=%v, want ErrMissingTURNCreds", err)
	}
}

func TestParseICEServersJSON_AllowsTURNWithoutCredsWhenEnabled(t *testing.T) {
	t.Parallel()

	raw := `[{"urls": ["turn:turn.example.com:3478?transport=udp"]}]`

	servers, err := ParseICEServersJSON(raw, true)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(servers))
	}
	if servers[0].Username != "" || servers[0].Credential != "" {
		t.Fatalf("expected TURN server creds to be empty: %#v", servers[0])
	}
}

func TestParseICEServersFromConvenienceEnv(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersFromConvenienceEnv(
		"stun:stun.example.com:3478, stun:stun2.example.com:3478",
		"turn:turn.example.com:3478?transport=udp",
		"user",
		"pass",
		false,
	)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if got := servers[0].URLs.URLs(); len(got) != 2 || got[1] != "stun:stun2.example.com:3478" {
		t.Fatalf("unexpected stun urls: %#v", got)
	}
	if servers[0].HasCredentials() {
		t.Fatalf("stun server should not have creds: %#v", servers[0])
	}
	if servers[1].Username != "user" || servers[1].Credential != "pass" {
		t.Fatalf("unexpected turn creds: %#v", servers[1])
	}
}

func TestParseICEServersFromConvenienceEnv_RequiresTURNCreds(t *testing.T) {
	t.Parallel()

	_, err := ParseICEServersFromConvenienceEnv("", "turn:turn.example.com:3478", "user", "", false)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestParseICEServersFromConvenienceEnv_RejectsTURNInSTUNList(t *testing.T) {
	t.Parallel()

	_, err := ParseICEServersFromConvenienceEnv("turn:turn.example.com:3478", "", "user", "pass", false)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestParseICEServersFromConvenienceEnv_AllowsTURNWithoutCredsWhenEnabled(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersFromConvenienceEnv(
		"",
		"turn:turn.example.com:3478?transport=udp",
		"",
		"",
		true,
	)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(servers))
	}
	if servers[0].Username != "" || servers[0].Credential != "" {
		t.Fatalf("expected TURN server creds to be empty: %#v", servers[0])
	}
}

func TestParseICEServersFromConvenienceEnv_Empty(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersFromConvenienceEnv("", " , ", "", "", false)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 0 {
		t.Fatalf("expected no servers, got %#v", servers)
	}
}
