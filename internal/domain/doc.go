// Package domain models automatic weather station logs and the stages that
// turn them into a clean, gap-filled, daylight-annotated time series.
//
// # Data Source
//
// Stations in three river basins (DANO, DASSARI, VEA_SISSILI) record at
// fixed intervals with Campbell-style dataloggers. Each basin exports a
// different column layout: some carry a single combined timestamp, some
// carry Year/Month/Day/Hour/Minute columns, and sensor names differ per
// basin. Uploads arrive as a header row plus string cells.
//
// # Processing Stages
//
// A raw upload flows through the "before" stages:
//
//	NormalizeSchema  rename/subset columns using the station's layout
//	BuildReadings    build one timestamp per row and parse numeric cells
//	Deduplicate      keep the first reading per (Station, Time)
//
// The readings are grouped into one [Series] per station and then run
// through the interpolation pass:
//
//	AnnotateDaylight sunrise/sunset per local date, or the fixed fallback
//	ScrubLimits      out-of-range values become missing
//	Interpolate      time-weighted gap fill, rain coalescing, solar policy
//
// [RunInterpolation] applies the pass to every station. [Summarize] and
// [DailySeries] compute statistics on demand.
//
// # Conventions
//
// Timestamps carry the logger's wall clock. Naive values are held in UTC
// and never shifted; the station's IANA zone is only used to decide which
// local calendar date a reading belongs to when looking up sunrise and
// sunset.
//
// Missing values are NaN inside a [Series]. They are exported as JSON null.
//
// Numeric cells accept a decimal comma. Empty cells and the sentinels NA,
// NaN, null, -9999 and -999 are missing.
package domain
