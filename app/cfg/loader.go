package cfg

import (
	"fmt"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	if Version != "" {
		return Version
	}
	return "unknown"
}

type rawCfg struct {
	// Forum configuration
	Subreddit      string `long:"subreddit" env:"SUBREDDIT" default:"DiscordServers" description:"Subreddit to moderate"`
	RedditClientID string `long:"reddit-client-id" env:"REDDIT_CLIENT_ID" description:"Reddit script app client id (required)" required:"true"`
	RedditSecret   string `long:"reddit-secret" env:"REDDIT_SECRET" description:"Reddit script app client secret (required)" required:"true"`
	RedditUsername string `long:"reddit-username" env:"REDDIT_USERNAME" description:"Reddit bot account username (required)" required:"true"`
	RedditPassword string `long:"reddit-password" env:"REDDIT_PASSWORD" description:"Reddit bot account password (required)" required:"true"`

	// Invite API configuration
	DiscordAPIBase string `long:"discord-api-base" env:"DISCORD_API_BASE" default:"https://discordapp.com/api" description:"Base URL for the invite lookup API"`

	// Persistence and moderator lists
	DBPath        string `long:"db-path" env:"DB_PATH" default:"./data/advert-sentry.db" description:"SQLite database file"`
	BlacklistFile string `long:"blacklist-file" env:"BLACKLIST_FILE" default:"./blacklist.txt" description:"Denylisted server ids, one per line"`
	WhitelistFile string `long:"whitelist-file" env:"WHITELIST_FILE" default:"./whitelist.txt" description:"Allowlisted authors, one per line"`
	MessagesFile  string `long:"messages-file" env:"MESSAGES_FILE" default:"" description:"Optional YAML file overriding reply/escalation templates"`

	// Ops HTTP API
	Port         string `long:"port" env:"PORT" default:"8080" description:"Ops HTTP server port"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for the adverts listing endpoint (optional)"`

	// Pipeline tuning
	NewScanInterval int `long:"new-scan-interval" env:"NEW_SCAN_INTERVAL" default:"30" description:"Seconds between scans of the new listing"`
	HotScanInterval int `long:"hot-scan-interval" env:"HOT_SCAN_INTERVAL" default:"300" description:"Seconds between rescans of the hot listing"`
	NewListingLimit int `long:"new-listing-limit" env:"NEW_LISTING_LIMIT" default:"100" description:"Submissions fetched per new-listing scan"`
	HotListingLimit int `long:"hot-listing-limit" env:"HOT_LISTING_LIMIT" default:"1000" description:"Submissions fetched per hot-listing rescan"`
	CheckDelay      int `long:"check-delay" env:"CHECK_DELAY" default:"5" description:"Seconds to pause between submissions"`
	RecheckInterval int `long:"recheck-interval" env:"RECHECK_INTERVAL" default:"900" description:"Seconds before a tracked advert is re-verified"`
	MinTimeBetween  int `long:"min-time-between-posts" env:"MIN_TIME_BETWEEN_POSTS" default:"86400" description:"Cooldown between posts advertising the same server"`
	AdvertRetention int `long:"advert-retention" env:"ADVERT_RETENTION" default:"86400" description:"Seconds before adverts are pruned"`
	HTTPTimeout     int `long:"http-timeout" env:"HTTP_TIMEOUT" default:"10" description:"Timeout for outbound HTTP requests"`
	MaxRedirects    int `long:"max-redirects" env:"MAX_REDIRECTS" default:"10" description:"Redirect hops followed before giving up"`

	// Moderation identity
	FlairTemplateID   string `long:"flair-template-id" env:"FLAIR_TEMPLATE_ID" default:"3c0343d0-3daa-11e6-b5ea-0e43c84e73c3" description:"Flair template for partnered servers"`
	AutomatedApprover string `long:"automated-approver" env:"AUTOMATED_APPROVER" default:"AutoModerator" description:"Approver name that does not count as a human approval"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"advert-sentry/1.0 (by /r/DiscordServers)" description:"User agent string for HTTP requests"`
	DryRun    bool   `long:"dry-run" env:"DRY_RUN" description:"Log moderation actions without performing them"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		Subreddit:         raw.Subreddit,
		RedditClientID:    raw.RedditClientID,
		RedditSecret:      raw.RedditSecret,
		RedditUsername:    raw.RedditUsername,
		RedditPassword:    raw.RedditPassword,
		DiscordAPIBase:    raw.DiscordAPIBase,
		DBPath:            raw.DBPath,
		BlacklistFile:     raw.BlacklistFile,
		WhitelistFile:     raw.WhitelistFile,
		MessagesFile:      raw.MessagesFile,
		Port:              raw.Port,
		APIAccessKey:      raw.APIAccessKey,
		NewScanInterval:   raw.NewScanInterval,
		HotScanInterval:   raw.HotScanInterval,
		NewListingLimit:   raw.NewListingLimit,
		HotListingLimit:   raw.HotListingLimit,
		CheckDelay:        raw.CheckDelay,
		RecheckInterval:   raw.RecheckInterval,
		MinTimeBetween:    raw.MinTimeBetween,
		AdvertRetention:   raw.AdvertRetention,
		HTTPTimeout:       raw.HTTPTimeout,
		MaxRedirects:      raw.MaxRedirects,
		FlairTemplateID:   raw.FlairTemplateID,
		AutomatedApprover: raw.AutomatedApprover,
		UserAgent:         raw.UserAgent,
		DryRun:            raw.DryRun,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}
