package registry

import (
	"fmt"
	"time"

	"github.com/blackmichael/tweetwall/internal/domain"
	"github.com/goccy/go-json"
)

// recordVersion is the current stored metadata schema.
//
// Version history:
//
//	v0 (implicit): {id, submittedAt, url, submittedBy?: string, seen?}
//	v1 (implicit): submittedBy became an array of names
//	v2: explicit version field, posters list with per-poster timestamps
const recordVersion = 2

// storedRecord is the raw JSON shape read from the store. It carries
// fields from every schema version so that legacy records decode cleanly;
// decodeRecord upgrades them in one place.
type storedRecord struct {
	Version     int            `json:"version,omitempty"`
	ID          string         `json:"id"`
	SubmittedAt int64          `json:"submittedAt"`
	URL         string         `json:"url,omitempty"`
	Seen        bool           `json:"seen,omitempty"`
	Posters     []storedPoster `json:"posters,omitempty"`

	// SubmittedBy is the legacy poster field: a plain string in v0, an
	// array of names in v1. Ignored when Posters is present.
	SubmittedBy json.RawMessage `json:"submittedBy,omitempty"`
}

type storedPoster struct {
	Name        string `json:"name"`
	SubmittedAt int64  `json:"submittedAt"`
}

func encodeRecord(rec *domain.TweetRecord) ([]byte, error) {
	stored := storedRecord{
		Version:     recordVersion,
		ID:          rec.ID,
		SubmittedAt: rec.SubmittedAt.UnixMilli(),
		URL:         rec.URL,
		Seen:        rec.Seen,
		Posters:     make([]storedPoster, len(rec.Posters)),
	}
	for i, p := range rec.Posters {
		stored.Posters[i] = storedPoster{
			Name:        p.Name,
			SubmittedAt: p.SubmittedAt.UnixMilli(),
		}
	}
	return json.Marshal(stored)
}

// decodeRecord parses stored metadata, upgrading legacy shapes to the
// current posters list. Migration happens only here, at the storage
// boundary; everything above sees the current schema.
func decodeRecord(data []byte) (*domain.TweetRecord, error) {
	var stored storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode tweet record: %w", err)
	}
	if stored.ID == "" {
		return nil, fmt.Errorf("decode tweet record: missing id")
	}

	rec := &domain.TweetRecord{
		ID:          stored.ID,
		SubmittedAt: time.UnixMilli(stored.SubmittedAt),
		URL:         stored.URL,
		Seen:        stored.Seen,
	}
	if rec.URL == "" {
		rec.URL = domain.CanonicalURL(rec.ID)
	}

	if len(stored.Posters) > 0 {
		rec.Posters = make([]domain.Poster, 0, len(stored.Posters))
		for _, p := range stored.Posters {
			if p.Name == "" {
				continue
			}
			rec.Posters = append(rec.Posters, domain.Poster{
				Name:        p.Name,
				SubmittedAt: time.UnixMilli(p.SubmittedAt),
			})
		}
		return rec, nil
	}

	rec.Posters = migrateLegacyPosters(stored.SubmittedBy, rec.SubmittedAt)
	return rec, nil
}

// migrateLegacyPosters upgrades the v0 string / v1 array submittedBy
// field. Legacy records carry no per-poster timestamps, so every migrated
// poster inherits the record's first-submission time.
func migrateLegacyPosters(raw json.RawMessage, submittedAt time.Time) []domain.Poster {
	if len(raw) == 0 {
		return nil
	}

	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		var single string
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil
		}
		names = []string{single}
	}

	posters := make([]domain.Poster, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		posters = append(posters, domain.Poster{Name: name, SubmittedAt: submittedAt})
	}
	return posters
}
