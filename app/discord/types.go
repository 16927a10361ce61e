package discord

// Outcome classifies an invite lookup.
type Outcome int

const (
	// Success means a live invite was fetched.
	Success Outcome = iota

	// NotFound means the invite does not exist or has expired. Terminal:
	// retrying will not help.
	NotFound

	// RateLimited means the provider throttled the request. Retryable; the
	// client has already waited out the advertised reset window.
	RateLimited

	// TransientFailure covers transport errors and unclassified statuses.
	// Retryable.
	TransientFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case NotFound:
		return "not_found"
	case RateLimited:
		return "rate_limited"
	case TransientFailure:
		return "transient_failure"
	default:
		return "unknown"
	}
}

// Invite is the provider's invite object, kept only for the duration of one
// verdict computation.
type Invite struct {
	Code    string  `json:"code"`
	Guild   Guild   `json:"guild"`
	Channel Channel `json:"channel"`
}

type Guild struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Features []string `json:"features"`
}

type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type int    `json:"type"`
}

// HasFeature reports whether the guild advertises the given capability tag.
func (g Guild) HasFeature(feature string) bool {
	for _, f := range g.Features {
		if f == feature {
			return true
		}
	}
	return false
}
