// Package constants defines magic numbers and default values used throughout go-rawhttp
package constants

import "time"

// Connection timeouts and limits
const (
	DefaultIdleTimeout     = 90 * time.Second
	DefaultConnTimeout     = 10 * time.Second
	DefaultReadTimeout     = 10 * time.Second
	DefaultPingInterval    = 15 * time.Second
	MaxConnectionIdleTime  = 5 * time.Minute
	HealthCheckInterval    = 30 * time.Second
	CleanupInterval        = 30 * time.Second
)

// HTTP/2 limits
const (
	MaxTotalStreams       = 10000
	SettingsAckTimeout    = 10 * time.Second
	DefaultHpackTableSize = 4096
)

// HTTP limits
const (
	MaxContentLength = 1024 * 1024 * 1024 * 1024 // 1TB
)

// Buffer limits
const (
	DefaultBodyMemLimit = 4 * 1024 * 1024   // 4MB
	MaxRawBufferSize    = 100 * 1024 * 1024 // 100MB cap for raw buffer
)

// Flow control defaults (C3, C4). The local initial window is intentionally
// larger than the HTTP/2 RFC default of 64KiB to amortize WINDOW_UPDATE
// frames, per the spec's 16MiB figure.
const (
	DefaultLocalInitialWindowSize = 16 * 1024 * 1024 // 16MiB
	DefaultMaxFrameSize           = 16384
	StreamWriteBatchSize          = 16 * 1024 // 16KiB
	DegradedPingTimeout           = 1 * time.Second
	MaxStreamID                   = 0x7fffffff
)

// Dispatcher defaults (C8).
const (
	DefaultMaxRequests         = 64
	DefaultMaxRequestsPerHost  = 5
	DefaultDispatcherDrainWait = 0 // zero means wait indefinitely on Shutdown
)

// Retry & follow-up policy defaults (C9).
const (
	MaxFollowUpCount = 20
)

// Response cache defaults (C10).
const (
	CacheJournalMagic     = "h2engine cache 1"
	CacheJournalFile      = "journal"
	CacheJournalFileTmp   = "journal.tmp"
	CacheJournalFileBak   = "journal.bak"
	CacheEntryMetaSuffix  = ".0"
	CacheEntryBodySuffix  = ".1"
	CacheEntryTmpSuffix   = ".tmp"
	CacheRedundancyFactor = 2 // rewrite journal once ops exceed entries by this factor
)
