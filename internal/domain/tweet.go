package domain

import (
	"regexp"
	"strings"
	"time"
)

// DefaultPosterName is recorded when a submission carries no submitter name.
const DefaultPosterName = "Unknown"

// tweetIDPattern matches platform snowflake IDs: numeric, 15-19 digits.
var tweetIDPattern = regexp.MustCompile(`^\d{15,19}$`)

// tweetURLPatterns are the accepted submission formats, tried in order.
var tweetURLPatterns = []*regexp.Regexp{
	// https://twitter.com/username/status/1234567890
	regexp.MustCompile(`(?i)twitter\.com/[^/]+/status/(\d+)`),
	// https://x.com/username/status/1234567890
	regexp.MustCompile(`(?i)x\.com/[^/]+/status/(\d+)`),
	// https://mobile.twitter.com/username/status/1234567890
	regexp.MustCompile(`(?i)mobile\.twitter\.com/[^/]+/status/(\d+)`),
	// Raw tweet ID
	regexp.MustCompile(`^(\d+)$`),
}

// ValidTweetID reports whether id is a well-formed tweet ID.
func ValidTweetID(id string) bool {
	return tweetIDPattern.MatchString(id)
}

// ParseTweetURL extracts a tweet ID from a Twitter/X URL or a raw ID.
// Returns false if the input matches no known format or the extracted ID
// is malformed.
func ParseTweetURL(input string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	for _, pattern := range tweetURLPatterns {
		if m := pattern.FindStringSubmatch(trimmed); m != nil {
			if ValidTweetID(m[1]) {
				return m[1], true
			}
			return "", false
		}
	}
	return "", false
}

// CanonicalURL returns the canonical display URL for a tweet ID.
func CanonicalURL(id string) string {
	return "https://twitter.com/i/status/" + id
}

// Poster is one distinct submitter of a tweet.
type Poster struct {
	// Name identifies the submitter.
	Name string `json:"name"`

	// SubmittedAt is when this poster first submitted the tweet.
	SubmittedAt time.Time `json:"submittedAt"`
}

// TweetRecord is the stored state for one tweet in the registry.
type TweetRecord struct {
	// ID is the tweet's snowflake ID and the registry primary key.
	ID string

	// SubmittedAt is the time of first submission. It never changes once
	// the record exists, even as more posters are merged in.
	SubmittedAt time.Time

	// Posters lists distinct submitters in submission order.
	Posters []Poster

	// URL is the canonical tweet URL, derived from ID.
	URL string

	// Seen marks whether a viewer has acknowledged the tweet.
	Seen bool
}

// HasPoster reports whether name is already among the record's posters.
func (r *TweetRecord) HasPoster(name string) bool {
	for _, p := range r.Posters {
		if p.Name == name {
			return true
		}
	}
	return false
}

// PosterNames returns poster names in submission order.
func (r *TweetRecord) PosterNames() []string {
	names := make([]string, len(r.Posters))
	for i, p := range r.Posters {
		names[i] = p.Name
	}
	return names
}

// TweetView is the client-facing projection of a TweetRecord carried in
// events and stream snapshots.
type TweetView struct {
	ID          string   `json:"id"`
	SubmittedBy []string `json:"submittedBy"`
	Seen        bool     `json:"seen"`
}

// View projects the record into its client-facing shape.
func (r *TweetRecord) View() TweetView {
	return TweetView{
		ID:          r.ID,
		SubmittedBy: r.PosterNames(),
		Seen:        r.Seen,
	}
}
