package config

import "time"

// Constants defining default values for application configuration
const (
	DefaultSourcesCSVPath = "./sources.csv"
	DefaultDBPath         = "./vetrefill.db"

	DefaultServerPort = 8080
	DefaultServerHost = "" // Empty string means all interfaces

	DefaultInterval = 0 // Minutes between runs, 0 means one-shot

	DefaultMaxPerRun        = 5
	DefaultPaceDelay        = 1500 * time.Millisecond
	DefaultItemsPerSource   = 5
	DefaultFetchTimeout     = 8 * time.Second
	DefaultFetchConcurrency = 4
	DefaultWriteTimeout     = 10 * time.Second
	DefaultFetchUserAgent   = "VetRefill Animal News/1.0 RSS Reader"

	DefaultRewriteBaseURL    = "https://api.groq.com/openai/v1"
	DefaultRewriteModel      = "llama-3.3-70b-versatile"
	DefaultRewriteTimeout    = 30 * time.Second
	DefaultRewriteRetries    = 1
	DefaultRewriteRetryDelay = 2 * time.Second

	DefaultMailEndpoint = "https://api.resend.com/emails"
	DefaultMailTimeout  = 10 * time.Second
	DefaultSenderDomain = "vetrefill.com"
	DefaultSenderName   = "VetRefill"

	DefaultReminderOffsetDays = 3
	DefaultFreePlanLimit      = 10

	DefaultLogLevel = "info"

	ConfigPathEnv = "VETREFILL_CONFIG"
)
