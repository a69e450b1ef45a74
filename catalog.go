package mphost

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
)

// BeatmapRecord is one catalog entry. Only the fields the bot reads are
// decoded; Raw keeps the original object so a filtered catalog can be
// written back without losing anything.
type BeatmapRecord struct {
	ID    int
	Title string
	Stars float64
	Raw   json.RawMessage
}

func (r *BeatmapRecord) UnmarshalJSON(data []byte) error {
	var fields struct {
		ID    int     `json:"beatmap_id"`
		Title string  `json:"title"`
		Stars float64 `json:"d"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	r.ID = fields.ID
	r.Title = fields.Title
	r.Stars = fields.Stars
	r.Raw = append([]byte(nil), data...)
	return nil
}

func (r BeatmapRecord) MarshalJSON() ([]byte, error) {
	if len(r.Raw) > 0 {
		return r.Raw, nil
	}
	return json.Marshal(struct {
		ID    int     `json:"beatmap_id"`
		Title string  `json:"title"`
		Stars float64 `json:"d"`
	}{r.ID, r.Title, r.Stars})
}

// LoadCatalog reads a beatmapset catalog, a JSON array of records.
func LoadCatalog(path string) ([]BeatmapRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var records []BeatmapRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return records, nil
}

// FilterByStars keeps records whose difficulty lies in [min, max].
// Both bounds are inclusive.
func FilterByStars(records []BeatmapRecord, min, max float64) []BeatmapRecord {
	out := make([]BeatmapRecord, 0, len(records))
	for _, r := range records {
		if r.Stars >= min && r.Stars <= max {
			out = append(out, r)
		}
	}
	return out
}

// ShuffleCatalog randomizes pick order in place.
func ShuffleCatalog(records []BeatmapRecord) {
	rand.Shuffle(len(records), func(i, j int) {
		records[i], records[j] = records[j], records[i]
	})
}
