package domain

import "time"

// Report collects the data-quality conditions of one processed upload as
// structured counts. It is meant for logs and API consumers, not end users.
type Report struct {
	UploadID        string          `json:"upload_id"`
	Station         string          `json:"station"`
	Basin           string          `json:"basin,omitempty"`
	KnownStation    bool            `json:"known_station"`
	RowsIn          int             `json:"rows_in"`
	RowsOut         int             `json:"rows_out"`
	TimestampSource TimestampSource `json:"timestamp_source"`
	// DroppedTimestamps counts rows dropped while splitting or building
	// timestamps.
	DroppedTimestamps int              `json:"dropped_timestamps"`
	DuplicatesRemoved int              `json:"duplicates_removed"`
	SkippedRenames    []string         `json:"skipped_renames,omitempty"`
	Stations          []StationOutcome `json:"stations"`
}

// Scrubbed sums the out-of-range values per variable across stations.
func (r Report) Scrubbed() map[string]int {
	out := make(map[string]int)
	for _, s := range r.Stations {
		for name, n := range s.Scrubbed {
			out[name] += n
		}
	}
	return out
}

// Fallbacks lists the stations annotated with the fixed daylight window.
func (r Report) Fallbacks() []string {
	var out []string
	for _, s := range r.Stations {
		if s.Daylight == DaylightFixed {
			out = append(out, s.Station)
		}
	}
	return out
}

// ProcessedBatch is the result of running one upload through the pipeline.
type ProcessedBatch struct {
	UploadID    string
	Series      []Series
	Report      Report
	ProcessedAt time.Time
}

// Stations returns the station names in the batch, in series order.
func (b ProcessedBatch) Stations() []string {
	out := make([]string, len(b.Series))
	for i, s := range b.Series {
		out[i] = s.Station
	}
	return out
}

// Readings returns the batch as canonical rows sorted by time, then station.
func (b ProcessedBatch) Readings() []ProcessedReading {
	return Flatten(b.Series)
}
