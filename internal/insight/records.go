package insight

import "time"

// LocationSource ranks where a site location came from. Explicit document
// coordinates beat weather-file metadata, which beats a geocoded address.
type LocationSource string

const (
	LocationFromDocument LocationSource = "document"
	LocationFromWeather  LocationSource = "weather"
	LocationFromGeocode  LocationSource = "geocode"
)

// Priority returns the fixed rank used by location consolidation; lower is
// better.
func (s LocationSource) Priority() int {
	switch s {
	case LocationFromDocument:
		return 0
	case LocationFromWeather:
		return 1
	case LocationFromGeocode:
		return 2
	default:
		return 3
	}
}

// Location is one candidate (or the recorded) project site position.
type Location struct {
	Latitude   float64        `json:"latitude"`
	Longitude  float64        `json:"longitude"`
	Address    string         `json:"address,omitempty"`
	Source     LocationSource `json:"source"`
	Confidence int            `json:"confidence"`
}

// PerformanceRecord is the single current structured engineering record per
// project. Fields are updated in place by domain extraction, not appended.
type PerformanceRecord struct {
	CapacityDCMW   float64 `json:"capacity_dc_mw,omitempty"`
	CapacityACMW   float64 `json:"capacity_ac_mw,omitempty"`
	ModuleType     string  `json:"module_type,omitempty"`
	InverterType   string  `json:"inverter_type,omitempty"`
	ModuleCount    int     `json:"module_count,omitempty"`
	TiltDegrees    float64 `json:"tilt_degrees,omitempty"`
	AzimuthDegrees float64 `json:"azimuth_degrees,omitempty"`
	DCACRatio      float64 `json:"dc_ac_ratio,omitempty"`
}

// Configured reports whether enough of the electrical configuration is
// known for a downstream simulation.
func (p PerformanceRecord) Configured() bool {
	return p.ModuleType != "" || p.InverterType != "" || p.DCACRatio > 0
}

// FinancialRecord is the single current financial breakdown per project.
type FinancialRecord struct {
	CapexUSD       float64 `json:"capex_usd,omitempty"`
	OpexUSDPerYear float64 `json:"opex_usd_per_year,omitempty"`
	PPARatePerMWh  float64 `json:"ppa_rate_per_mwh,omitempty"`
	TermYears      int     `json:"term_years,omitempty"`
}

// WeatherSummary aggregates a parsed time-series weather upload.
type WeatherSummary struct {
	Records        int     `json:"records"`
	AvgGHI         float64 `json:"avg_ghi_wm2,omitempty"`
	AvgTemperature float64 `json:"avg_temperature_c,omitempty"`
	SourceFile     string  `json:"source_file,omitempty"`
}

// ProjectRecord is the consolidated per-project state the pipeline writes:
// recorded location, current structured records, and weather aggregates.
type ProjectRecord struct {
	ProjectID   string             `json:"project_id"`
	Location    *Location          `json:"location,omitempty"`
	Performance *PerformanceRecord `json:"performance,omitempty"`
	Financial   *FinancialRecord   `json:"financial,omitempty"`
	Weather     *WeatherSummary    `json:"weather,omitempty"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobComplete JobStatus = "complete"
	JobFailed   JobStatus = "failed"
)

// SimulationJob is the one-shot downstream trigger created by the
// readiness check.
type SimulationJob struct {
	ID        string    `json:"id" db:"id"`
	ProjectID string    `json:"project_id" db:"project_id"`
	Status    JobStatus `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"-"`
}
