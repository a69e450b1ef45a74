package mphost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SentinelBeatmapURL is what Bancho reports for picks never submitted
// to the site; there is nothing behind it to fetch.
const SentinelBeatmapURL = "https://osu.ppy.sh/b/0"

// ErrNoMetadata marks a page carrying no embedded beatmapset JSON.
var ErrNoMetadata = errors.New("no beatmapset metadata in page")

// metadataRe locates the beatmapset JSON blob inside the page HTML; it
// runs to the end of the line the blob sits on.
var metadataRe = regexp.MustCompile(`\{"artist".+`)

// BeatmapsetInfo is the metadata blob embedded in a beatmap page.
type BeatmapsetInfo struct {
	Artist       string `json:"artist"`
	ID           int    `json:"id"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	Availability struct {
		DownloadDisabled bool `json:"download_disabled"`
	} `json:"availability"`
	Beatmaps []BeatmapDiff `json:"beatmaps"`
}

// BeatmapDiff is a single difficulty within a beatmapset.
type BeatmapDiff struct {
	ID      int     `json:"id"`
	Version string  `json:"version"`
	Stars   float64 `json:"difficulty_rating"`
	Status  string  `json:"status"`
	CS      float64 `json:"cs"`
	AR      float64 `json:"ar"`
	URL     string  `json:"url"`
}

// Violation tags as they appear in room chat.
const (
	TagNotFound         = "NotFound"
	TagHTTPError        = "HttpError"
	TagDownloadDisabled = "DownloadDisabled"
	TagStar             = "star"
)

// Violation is one rejected pick: Tag is the wire category, Message the
// explanation appended to the map reset command.
type Violation struct {
	Tag     string
	Message string
}

// PickResult is the outcome of evaluating a manual map pick. Exactly
// one of Accepted and Violation is set.
type PickResult struct {
	Accepted  bool
	MapID     int    // accepted difficulty id
	Announce  string // acceptance announcement for the room
	Violation *Violation
}

// Policy checks picked beatmaps against a room's star window.
type Policy struct {
	fetcher Fetcher
	log     zerolog.Logger
}

func NewPolicy(fetcher Fetcher) *Policy {
	return &Policy{
		fetcher: fetcher,
		log:     log.Logger.With().Str("caller", "Policy").Logger(),
	}
}

// EvaluatePick applies the pick rules in order: reject unsubmitted or
// unfetchable maps, then maps whose set is download-disabled, then
// versions outside the star window. Both bounds are themselves allowed;
// only strictly outside ratings violate.
func (p *Policy) EvaluatePick(ctx context.Context, version, url string, minStar, maxStar float64) PickResult {
	if version == "" || url == "" {
		return reject(TagNotFound, "Beatmap not found!")
	}
	if url == SentinelBeatmapURL {
		return reject(TagNotFound, "Beatmap Not Submitted!")
	}

	info, err := p.Lookup(ctx, url)
	if err != nil {
		p.log.Warn().Err(err).Str("url", url).Msg("beatmap lookup failed")
		return rejectLookup(err)
	}

	if info.Availability.DownloadDisabled {
		return reject(TagDownloadDisabled, "Beatmap is not available!")
	}

	for _, diff := range info.Beatmaps {
		if diff.Version != version {
			continue
		}
		switch {
		case diff.Stars < minStar:
			return reject(TagStar, starMessage(info.ID, diff, "Low"))
		case diff.Stars > maxStar:
			return reject(TagStar, starMessage(info.ID, diff, "High"))
		}

		title := info.Title
		if title == "" {
			title = "link"
		}
		return PickResult{
			Accepted: true,
			MapID:    diff.ID,
			Announce: fmt.Sprintf(
				"Stars: %g | Status: %s | CircleSize: %g | ApproachRate: %g | [%s %s] [https://beatconnect.io/b/%d/ Beatconnect]",
				diff.Stars, diff.Status, diff.CS, diff.AR, diff.URL, title, info.ID,
			),
		}
	}
	return reject(TagNotFound, "Beatmap version not found")
}

// Lookup fetches a beatmap page and decodes the embedded beatmapset
// metadata.
func (p *Policy) Lookup(ctx context.Context, url string) (*BeatmapsetInfo, error) {
	body, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return decodeMetadata(body)
}

func decodeMetadata(body []byte) (*BeatmapsetInfo, error) {
	blob := metadataRe.Find(body)
	if blob == nil {
		return nil, ErrNoMetadata
	}
	info := &BeatmapsetInfo{}
	if err := json.Unmarshal(blob, info); err != nil {
		return nil, fmt.Errorf("decode beatmapset metadata: %w", err)
	}
	return info, nil
}

func reject(tag, message string) PickResult {
	return PickResult{Violation: &Violation{Tag: tag, Message: message}}
}

// rejectLookup maps a lookup failure onto its chat category: a served
// error page or broken metadata is NotFound, anything transport-shaped
// is HttpError.
func rejectLookup(err error) PickResult {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, ErrBadStatus):
		return reject(TagNotFound, "Beatmap Not Submitted!")
	case errors.Is(err, ErrNoMetadata):
		return reject(TagNotFound, "Beatmap details not found!")
	case errors.As(err, &syntaxErr) || errors.As(err, &typeErr):
		return reject(TagNotFound, "Beatmap json parser error")
	default:
		return reject(TagHTTPError, "Fetching beatmap error!")
	}
}

func starMessage(setID int, diff BeatmapDiff, side string) string {
	return fmt.Sprintf("[https://osu.ppy.sh/beatmapsets/%d#osu/%d %s | %g*] %s Star* Beatmap",
		setID, diff.ID, diff.Version, diff.Stars, side)
}

// BeatmapLinks renders the site and mirror links for a beatmapset,
// empty when the set id is unknown.
func BeatmapLinks(title string, setID int) string {
	if setID == 0 {
		return ""
	}
	return fmt.Sprintf("[https://osu.ppy.sh/beatmapsets/%d %s] [https://beatconnect.io/b/%d/ beatconnect]",
		setID, title, setID)
}
