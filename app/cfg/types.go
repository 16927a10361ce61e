package cfg

type Cfg struct {
	// Forum configuration
	Subreddit      string
	RedditClientID string
	RedditSecret   string
	RedditUsername string
	RedditPassword string

	// Invite API configuration
	DiscordAPIBase string

	// Persistence and moderator lists
	DBPath        string
	BlacklistFile string
	WhitelistFile string
	MessagesFile  string

	// Ops HTTP API
	Port         string
	APIAccessKey string

	// Pipeline tuning (seconds)
	NewScanInterval int
	HotScanInterval int
	NewListingLimit int
	HotListingLimit int
	CheckDelay      int
	RecheckInterval int
	MinTimeBetween  int
	AdvertRetention int
	HTTPTimeout     int
	MaxRedirects    int

	// Moderation identity
	FlairTemplateID   string
	AutomatedApprover string

	// Application metadata
	UserAgent string
	DryRun    bool
	Debug     bool
	Version   string
}
