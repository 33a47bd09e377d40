package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "AERO_ICE_SERVERS_JSON"

	envStunURLs       = "AERO_STUN_URLS"
	envTurnURLs       = "AERO_TURN_URLS"
	envTurnUsername   = "AERO_TURN_USERNAME"
	envTurnCredential = "AERO_TURN_CREDENTIAL"
)

var (
	ErrICEMissingURLs       = errors.New("ice server has no urls")
	ErrICEUnsupportedScheme = errors.New("unsupported ice url scheme")
	ErrICETURNCredentials   = errors.New("turn urls require username and credential")
)

// ICESource holds the raw ICE settings. JSON wins over the URL lists when
// both are set.
type ICESource struct {
	JSON string

	STUNURLs       string
	TURNURLs       string
	TURNUsername   string
	TURNCredential string
}

// Servers builds the list handed to browsers by GET /webrtc/ice. With
// mintedCreds set, TURN entries may omit credentials because they are
// generated per request.
func (src ICESource) Servers(mintedCreds bool) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(src.JSON); raw != "" {
		servers, err := ParseICEServersJSON(raw, mintedCreds)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}

	var servers []webrtc.ICEServer
	if urls := splitList(src.STUNURLs); len(urls) > 0 {
		server := webrtc.ICEServer{URLs: urls}
		if err := checkICEServer(server, false); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}

	urls := splitList(src.TURNURLs)
	if len(urls) == 0 {
		return servers, nil
	}
	username := strings.TrimSpace(src.TURNUsername)
	credential := strings.TrimSpace(src.TURNCredential)
	if (username == "") != (credential == "") {
		return nil, fmt.Errorf("%s/%s: set both or neither", envTurnUsername, envTurnCredential)
	}
	server := withPassword(webrtc.ICEServer{URLs: urls}, username, credential)
	if err := checkICEServer(server, mintedCreds); err != nil {
		return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
	}
	return append(servers, server), nil
}

// urlList accepts "urls" as either a string or an array, like RTCIceServer.
type urlList []string

func (l *urlList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = urlList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// ParseICEServersJSON parses an RTCIceServer array.
func ParseICEServersJSON(raw string, mintedCreds bool) ([]webrtc.ICEServer, error) {
	var entries []struct {
		URLs       urlList `json:"urls"`
		Username   string  `json:"username"`
		Credential string  `json:"credential"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	servers := make([]webrtc.ICEServer, 0, len(entries))
	for i, e := range entries {
		var urls []string
		for _, u := range e.URLs {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		server := withPassword(webrtc.ICEServer{URLs: urls}, strings.TrimSpace(e.Username), e.Credential)
		if err := checkICEServer(server, mintedCreds); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

func withPassword(server webrtc.ICEServer, username, credential string) webrtc.ICEServer {
	server.Username = username
	if strings.TrimSpace(credential) != "" {
		server.Credential = credential
		server.CredentialType = webrtc.ICECredentialTypePassword
	}
	return server
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func checkICEServer(server webrtc.ICEServer, mintedCreds bool) error {
	if len(server.URLs) == 0 {
		return ErrICEMissingURLs
	}

	turn := false
	for _, u := range server.URLs {
		switch iceScheme(u) {
		case "stun", "stuns":
		case "turn", "turns":
			turn = true
		default:
			return fmt.Errorf("%w: %q", ErrICEUnsupportedScheme, u)
		}
	}
	if !turn || mintedCreds {
		return nil
	}
	cred, _ := server.Credential.(string)
	if server.Username == "" || strings.TrimSpace(cred) == "" {
		return ErrICETURNCredentials
	}
	return nil
}

func iceScheme(u string) string {
	scheme, _, ok := strings.Cut(strings.TrimSpace(u), ":")
	if !ok {
		return ""
	}
	return strings.ToLower(scheme)
}

// HasTURN reports whether any server carries a turn: or turns: URL.
func HasTURN(servers []webrtc.ICEServer) bool {
	for _, server := range servers {
		for _, u := range server.URLs {
			if s := iceScheme(u); s == "turn" || s == "turns" {
				return true
			}
		}
	}
	return false
}
