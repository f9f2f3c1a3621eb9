package config

// Config is the full relaybot configuration.
//
// All durations are Go duration strings (e.g. "500ms", "5s", "1m").
// YAML files are accepted and coerced to JSON before strict decoding,
// so unknown fields are rejected in both formats.
type Config struct {
	Telegram Telegram `json:"telegram"`
	Logging  Logging  `json:"logging"`
	JobStore JobStore `json:"jobstore"`
	Transfer Transfer `json:"transfer"`
	Quota    Quota    `json:"quota"`
	Creds    Creds    `json:"creds"`
	Janitor  Janitor  `json:"janitor,omitempty"`

	// DataDir holds user preferences, sealed credentials and thumbnails.
	DataDir string `json:"data_dir,omitempty"`
}

type Telegram struct {
	// Token is the process-wide shared relay bot token. Users may
	// register their own relay token via /setbot; this one is the
	// fallback when they have none.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	PollTimeout  string  `json:"poll_timeout,omitempty"` // default "10s"

	// StagingChatID is the intermediary chat oversized payloads are
	// uploaded to before being copied to the real destination.
	StagingChatID int64 `json:"staging_chat_id,omitempty"`
}

type Logging struct {
	Level   string      `json:"level,omitempty"` // default "info"
	Console bool        `json:"console"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// JobStore controls durable job-record persistence.
//
// Example:
//
//	"jobstore": { "driver": "file", "path": "./data/jobs.json" }
type JobStore struct {
	Driver      string `json:"driver,omitempty"` // "file" (default) or "sqlite"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// Transfer controls the per-item transfer engine and batch pacing.
type Transfer struct {
	DownloadDir string `json:"download_dir,omitempty"` // default "./downloads"

	// Pace is the fixed inter-item delay in a batch (rate-limit safety).
	// Single-item jobs skip pacing. Default "5s".
	Pace string `json:"pace,omitempty"`

	// StagingThresholdBytes routes larger payloads through the staging
	// chat. Default 2 GiB (the platform's single-client upload ceiling).
	StagingThresholdBytes int64 `json:"staging_threshold_bytes,omitempty"`
}

// Quota sets per-tier batch ceilings.
type Quota struct {
	FreeLimit    int `json:"free_limit"`
	PremiumLimit int `json:"premium_limit"`
}

// Creds configures credential sealing.
type Creds struct {
	// MasterKey seeds the argon2id key derivation for sealed session
	// strings and relay tokens. Required if users log in.
	MasterKey string `json:"master_key,omitempty"`
}

// Janitor controls periodic maintenance sweeps.
type Janitor struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron expression; default "*/30 * * * *".
	Schedule string `json:"schedule,omitempty"`
	// StagedTTL: downloaded artifacts older than this are orphans and get
	// removed. Default "24h".
	StagedTTL string `json:"staged_ttl,omitempty"`
}
