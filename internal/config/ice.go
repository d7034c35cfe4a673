package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-factory/internal/iceserver"
)

const (
	envICEServersJSON = "AERO_ICE_SERVERS_JSON"

	envStunURLs       = "AERO_STUN_URLS"
	envTurnURLs       = "AERO_TURN_URLS"
	envTurnUsername   = "AERO_TURN_USERNAME"
	envTurnCredential = "AERO_TURN_CREDENTIAL"
)

// parseICEServersFromValues prefers AERO_ICE_SERVERS_JSON and falls back to the
// convenience env vars. allowTURNWithoutCreds is set when TURN REST mints
// credentials per request.
func parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string, allowTURNWithoutCreds bool) ([]iceserver.Descriptor, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		iceServers, err := ParseICEServersJSON(raw, allowTURNWithoutCreds)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return iceServers, nil
	}

	return ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential, allowTURNWithoutCreds)
}

// ParseICEServersJSON parses and validates AERO_ICE_SERVERS_JSON. Entries may
// use either "urls" (string or list) or the legacy "url" field. The URL form
// of each entry is preserved.
func ParseICEServersJSON(raw string, allowTURNWithoutCreds bool) ([]iceserver.Descriptor, error) {
	var servers []iceserver.Descriptor
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}

	out := make([]iceserver.Descriptor, 0, len(servers))
	for i, server := range servers {
		server.Username = strings.TrimSpace(server.Username)
		if err := iceserver.Validate(server, allowTURNWithoutCreds); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, server)
	}
	return out, nil
}

// ParseICEServersFromConvenienceEnv builds an ICE server list from the convenience env vars.
//
// The URL lists are comma-separated.
func ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential string, allowTURNWithoutCreds bool) ([]iceserver.Descriptor, error) {
	stunList := splitCommaSeparated(stunURLs)
	turnList := splitCommaSeparated(turnURLs)

	var servers []iceserver.Descriptor
	if len(stunList) > 0 {
		server := iceserver.Descriptor{URLs: iceserver.MultiURL(stunList...)}
		if err := iceserver.Validate(server, false); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		if iceserver.HasTURNURL(server) {
			return nil, fmt.Errorf("%s: turn urls belong in %s", envStunURLs, envTurnURLs)
		}
		servers = append(servers, server)
	}

	if len(turnList) > 0 {
		turnUsername = strings.TrimSpace(turnUsername)
		turnCredential = strings.TrimSpace(turnCredential)
		if !allowTURNWithoutCreds && (turnUsername == "" || turnCredential == "") {
			return nil, fmt.Errorf("%s/%s: both must be set when %s is set", envTurnUsername, envTurnCredential, envTurnURLs)
		}

		server := iceserver.Descriptor{
			URLs:       iceserver.MultiURL(turnList...),
			Username:   turnUsername,
			Credential: turnCredential,
		}
		if err := iceserver.Validate(server, allowTURNWithoutCreds); err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, server)
	}

	return servers, nil
}

func splitCommaSeparated(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
