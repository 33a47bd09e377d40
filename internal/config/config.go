package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/origin"
)

const (
	envVarListenAddr      = "AERO_WEBRTC_PAIRING_LISTEN_ADDR"
	envVarPublicBaseURL   = "AERO_WEBRTC_PAIRING_PUBLIC_BASE_URL"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "AERO_WEBRTC_PAIRING_LOG_FORMAT"
	envVarLogLevel        = "AERO_WEBRTC_PAIRING_LOG_LEVEL"
	envVarShutdownTimeout = "AERO_WEBRTC_PAIRING_SHUTDOWN_TIMEOUT"
	envVarMode            = "AERO_WEBRTC_PAIRING_MODE"

	// Pairing engine knobs.
	envVarMaxPeers            = "MAX_PEERS"
	envVarRoomConnectTimeout  = "ROOM_CONNECT_TIMEOUT"
	envVarPairBlockTTL        = "PAIR_BLOCK_TTL"
	envVarPairBlockMaxEntries = "PAIR_BLOCK_MAX_ENTRIES"

	// Signaling WebSocket hardening.
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSignalingSendQueueDepth       = "SIGNALING_SEND_QUEUE_DEPTH"

	// Partner profile enrichment.
	envVarProfileLookupURL       = "PROFILE_LOOKUP_URL"
	envVarProfileLookupTimeout   = "PROFILE_LOOKUP_TIMEOUT"
	envVarProfileCacheTTL        = "PROFILE_CACHE_TTL"
	envVarProfileCacheMaxEntries = "PROFILE_CACHE_MAX_ENTRIES"

	// coturn TURN REST (ephemeral) credentials.
	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"

	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdown        = 15 * time.Second
	DefaultMode       Mode = ModeDev

	DefaultMaxPeers = 10000
	// DefaultRoomConnectTimeout is how long a matched pair has to report a
	// working connection before the room is failed.
	DefaultRoomConnectTimeout = 20 * time.Second
	MinRoomConnectTimeout     = 1 * time.Second
	MaxRoomConnectTimeout     = 5 * time.Minute
	// DefaultPairBlockTTL of zero disables re-match blocking after a timeout.
	DefaultPairBlockTTL        = time.Duration(0)
	DefaultPairBlockMaxEntries = 4096

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultSignalingSendQueueDepth       = 64

	DefaultProfileLookupTimeout   = 2 * time.Second
	DefaultProfileCacheTTL        = 5 * time.Minute
	DefaultProfileCacheMaxEntries = 1024

	DefaultTURNRESTTTLSeconds     int64  = 3600
	DefaultTURNRESTUsernamePrefix string = "aero"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	ListenAddr      string
	PublicBaseURL   string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	// MaxPeers caps concurrently registered peers. <= 0 means unlimited.
	MaxPeers           int
	RoomConnectTimeout time.Duration
	// PairBlockTTL keeps two peers whose room timed out from being matched
	// again for this long. Zero disables blocking.
	PairBlockTTL        time.Duration
	PairBlockMaxEntries int

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	// SignalingSendQueueDepth bounds buffered outbound frames per connection.
	// A connection whose queue overflows is closed.
	SignalingSendQueueDepth int

	// ProfileLookupURL enables partner profile enrichment when set. The
	// externalId is appended as a path segment.
	ProfileLookupURL       string
	ProfileLookupTimeout   time.Duration
	ProfileCacheTTL        time.Duration
	ProfileCacheMaxEntries int

	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig

	iceConfigErr error
}

// ICEConfigError reports an invalid ICE server configuration. It is kept
// separate from Load so the service can still start and answer /webrtc/ice
// with an error.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

func (c Config) ProfileLookupEnabled() bool {
	return strings.TrimSpace(c.ProfileLookupURL) != ""
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	publicBaseURL := envOrDefault(lookup, envVarPublicBaseURL, "")
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTTTLSeconds := DefaultTURNRESTTTLSeconds
	if raw, ok := lookup(envVarTURNRESTTTLSeconds); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarTURNRESTTTLSeconds, raw, err)
		}
		turnRESTTTLSeconds = n
	}
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}

	maxPeers, err := envIntOrDefault(lookup, envVarMaxPeers, DefaultMaxPeers)
	if err != nil {
		return Config{}, err
	}
	roomConnectTimeout, err := envDurationOrDefault(lookup, envVarRoomConnectTimeout, DefaultRoomConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	pairBlockTTL, err := envDurationOrDefault(lookup, envVarPairBlockTTL, DefaultPairBlockTTL)
	if err != nil {
		return Config{}, err
	}
	pairBlockMaxEntries, err := envIntOrDefault(lookup, envVarPairBlockMaxEntries, DefaultPairBlockMaxEntries)
	if err != nil {
		return Config{}, err
	}

	signalingWSIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	signalingWSPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	maxSignalingMessageBytes := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		maxSignalingMessageBytes = n
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	signalingSendQueueDepth, err := envIntOrDefault(lookup, envVarSignalingSendQueueDepth, DefaultSignalingSendQueueDepth)
	if err != nil {
		return Config{}, err
	}

	profileLookupURL := envOrDefault(lookup, envVarProfileLookupURL, "")
	profileLookupTimeout, err := envDurationOrDefault(lookup, envVarProfileLookupTimeout, DefaultProfileLookupTimeout)
	if err != nil {
		return Config{}, err
	}
	profileCacheTTL, err := envDurationOrDefault(lookup, envVarProfileCacheTTL, DefaultProfileCacheTTL)
	if err != nil {
		return Config{}, err
	}
	profileCacheMaxEntries, err := envIntOrDefault(lookup, envVarProfileCacheMaxEntries, DefaultProfileCacheMaxEntries)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("aero-webrtc-pairing", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&publicBaseURL, "public-base-url", publicBaseURL, "Public base URL (optional; used for logging)")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")

	fs.IntVar(&maxPeers, "max-peers", maxPeers, "Maximum concurrently connected peers (0 = unlimited; env "+envVarMaxPeers+")")
	fs.DurationVar(&roomConnectTimeout, "room-connect-timeout", roomConnectTimeout, "Time a matched pair has to establish a connection (env "+envVarRoomConnectTimeout+")")
	fs.DurationVar(&pairBlockTTL, "pair-block-ttl", pairBlockTTL, "Keep peers whose room timed out apart for this long (0 = disabled; env "+envVarPairBlockTTL+")")
	fs.IntVar(&pairBlockMaxEntries, "pair-block-max-entries", pairBlockMaxEntries, "Maximum remembered blocked pairs (env "+envVarPairBlockMaxEntries+")")

	fs.DurationVar(&signalingWSIdleTimeout, "signaling-ws-idle-timeout", signalingWSIdleTimeout, "Close idle signaling WebSocket connections after this duration (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&signalingWSPingInterval, "signaling-ws-ping-interval", signalingWSPingInterval, "Send ping frames on signaling WebSocket connections at this interval (must be < --signaling-ws-idle-timeout; env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound signaling WS message size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Max inbound signaling WS messages per second (env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.IntVar(&signalingSendQueueDepth, "signaling-send-queue-depth", signalingSendQueueDepth, "Outbound frames buffered per signaling connection (env "+envVarSignalingSendQueueDepth+")")

	fs.StringVar(&profileLookupURL, "profile-lookup-url", profileLookupURL, "Base URL of the profile service (empty = disabled; env "+envVarProfileLookupURL+")")
	fs.DurationVar(&profileLookupTimeout, "profile-lookup-timeout", profileLookupTimeout, "Timeout for a single profile lookup (env "+envVarProfileLookupTimeout+")")
	fs.DurationVar(&profileCacheTTL, "profile-cache-ttl", profileCacheTTL, "How long fetched profiles are cached (env "+envVarProfileCacheTTL+")")
	fs.IntVar(&profileCacheMaxEntries, "profile-cache-max-entries", profileCacheMaxEntries, "Maximum cached profiles (env "+envVarProfileCacheMaxEntries+")")

	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret ("+envVarTURNRESTSharedSecret+")")
	fs.Int64Var(&turnRESTTTLSeconds, "turn-rest-ttl-seconds", turnRESTTTLSeconds, "TURN REST credential TTL seconds ("+envVarTURNRESTTTLSeconds+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix ("+envVarTURNRESTUsernamePrefix+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if roomConnectTimeout < MinRoomConnectTimeout || roomConnectTimeout > MaxRoomConnectTimeout {
		return Config{}, fmt.Errorf("%s/--room-connect-timeout must be between %s and %s (got %s)", envVarRoomConnectTimeout, MinRoomConnectTimeout, MaxRoomConnectTimeout, roomConnectTimeout)
	}
	if pairBlockTTL < 0 {
		return Config{}, fmt.Errorf("%s/--pair-block-ttl must be >= 0", envVarPairBlockTTL)
	}
	if pairBlockTTL > 0 && pairBlockMaxEntries <= 0 {
		return Config{}, fmt.Errorf("%s/--pair-block-max-entries must be > 0 when pair blocking is enabled", envVarPairBlockMaxEntries)
	}
	if signalingWSIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-idle-timeout must be > 0", envVarSignalingWSIdleTimeout)
	}
	if signalingWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be > 0", envVarSignalingWSPingInterval)
	}
	if signalingWSPingInterval >= signalingWSIdleTimeout {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be < %s/--signaling-ws-idle-timeout", envVarSignalingWSPingInterval, envVarSignalingWSIdleTimeout)
	}
	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", envVarMaxSignalingMessageBytes)
	}
	if maxSignalingMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-messages-per-second must be > 0", envVarMaxSignalingMessagesPerSecond)
	}
	if signalingSendQueueDepth <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-send-queue-depth must be > 0", envVarSignalingSendQueueDepth)
	}

	profileLookupURL = strings.TrimSpace(profileLookupURL)
	if profileLookupURL != "" {
		u, err := url.Parse(profileLookupURL)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s/--profile-lookup-url %q: %w", envVarProfileLookupURL, profileLookupURL, err)
		}
		scheme := strings.ToLower(u.Scheme)
		if scheme != "http" && scheme != "https" {
			return Config{}, fmt.Errorf("invalid %s/--profile-lookup-url %q (expected http:// or https://)", envVarProfileLookupURL, profileLookupURL)
		}
		if u.Host == "" {
			return Config{}, fmt.Errorf("invalid %s/--profile-lookup-url %q (missing host)", envVarProfileLookupURL, profileLookupURL)
		}
		if profileLookupTimeout <= 0 {
			return Config{}, fmt.Errorf("%s/--profile-lookup-timeout must be > 0", envVarProfileLookupTimeout)
		}
		if profileCacheMaxEntries <= 0 {
			return Config{}, fmt.Errorf("%s/--profile-cache-max-entries must be > 0", envVarProfileCacheMaxEntries)
		}
	}

	if turnRESTSharedSecret != "" && turnRESTTTLSeconds <= 0 {
		return Config{}, fmt.Errorf("%s/--turn-rest-ttl-seconds must be > 0", envVarTURNRESTTTLSeconds)
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("%s/%s: %w", envVarAllowedOrigins, "--allowed-origins", err)
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		PublicBaseURL:   publicBaseURL,
		AllowedOrigins:  allowedOrigins,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,

		MaxPeers:            maxPeers,
		RoomConnectTimeout:  roomConnectTimeout,
		PairBlockTTL:        pairBlockTTL,
		PairBlockMaxEntries: pairBlockMaxEntries,

		SignalingWSIdleTimeout:        signalingWSIdleTimeout,
		SignalingWSPingInterval:       signalingWSPingInterval,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,
		SignalingSendQueueDepth:       signalingSendQueueDepth,

		ProfileLookupURL:       profileLookupURL,
		ProfileLookupTimeout:   profileLookupTimeout,
		ProfileCacheTTL:        profileCacheTTL,
		ProfileCacheMaxEntries: profileCacheMaxEntries,

		TURNREST: TurnRESTConfig{
			SharedSecret:   turnRESTSharedSecret,
			TTLSeconds:     turnRESTTTLSeconds,
			UsernamePrefix: turnRESTUsernamePrefix,
		},
	}

	iceServers, err := ICESource{
		JSON:           iceServersJSON,
		STUNURLs:       stunURLs,
		TURNURLs:       turnURLs,
		TURNUsername:   turnUsername,
		TURNCredential: turnCredential,
	}.Servers(cfg.TURNREST.Enabled())
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			out = append(out, entry)
			continue
		}

		normalizedOrigin, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalizedOrigin)
	}
	return out, nil
}
