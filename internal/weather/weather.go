// Package weather parses raw time-series weather uploads (TMY-style CSV)
// into per-project aggregates, and pulls site coordinates out of file
// metadata when present.
package weather

import (
	"encoding/csv"
	"errors"
	"strconv"
	"strings"

	"github.com/joelkehle/projectfacts/internal/insight"
)

// ErrNoRecords is returned when a file yields no usable data rows.
var ErrNoRecords = errors.New("weather file contains no data records")

// Parsed is the result of one upload: aggregates plus any coordinates
// found in the metadata header.
type Parsed struct {
	Summary   insight.WeatherSummary
	Latitude  float64
	Longitude float64
	HasCoords bool
}

// Parse reads a CSV weather file. It tolerates a metadata preamble before
// the column header and ignores unparseable rows; the only failure mode is
// a file with no data at all.
func Parse(name, content string) (*Parsed, error) {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")

	p := &Parsed{Summary: insight.WeatherSummary{SourceFile: name}}
	headerIdx := -1
	var ghiCol, tempCol int
	latCol, lonCol := -1, -1

	for i, line := range lines {
		fields := splitCSVLine(line)
		if len(fields) == 0 {
			continue
		}
		// TMY-style metadata: one row names Latitude/Longitude columns,
		// the next carries the values.
		if latCol >= 0 || lonCol >= 0 {
			p.setCoords(floatAt(fields, latCol), floatAt(fields, lonCol))
			latCol, lonCol = -1, -1
		}
		scanMetadataCoords(fields, p)
		if !p.HasCoords {
			latCol, lonCol = coordColumns(fields)
		}
		if c1, c2, ok := headerColumns(fields); ok {
			headerIdx, ghiCol, tempCol = i, c1, c2
			break
		}
	}
	if headerIdx < 0 {
		return nil, ErrNoRecords
	}

	var ghiSum, tempSum float64
	var ghiN, tempN, records int
	for _, line := range lines[headerIdx+1:] {
		fields := splitCSVLine(line)
		if len(fields) <= ghiCol && len(fields) <= tempCol {
			continue
		}
		rowUsed := false
		if ghiCol >= 0 && ghiCol < len(fields) {
			if v, err := strconv.ParseFloat(strings.TrimSpace(fields[ghiCol]), 64); err == nil {
				ghiSum += v
				ghiN++
				rowUsed = true
			}
		}
		if tempCol >= 0 && tempCol < len(fields) {
			if v, err := strconv.ParseFloat(strings.TrimSpace(fields[tempCol]), 64); err == nil {
				tempSum += v
				tempN++
				rowUsed = true
			}
		}
		if rowUsed {
			records++
		}
	}
	if records == 0 {
		return nil, ErrNoRecords
	}

	p.Summary.Records = records
	if ghiN > 0 {
		p.Summary.AvgGHI = ghiSum / float64(ghiN)
	}
	if tempN > 0 {
		p.Summary.AvgTemperature = tempSum / float64(tempN)
	}
	return p, nil
}

// scanMetadataCoords picks coordinates out of preamble rows shaped like
// "Latitude,35.05" or "latitude: 35.05".
func scanMetadataCoords(fields []string, p *Parsed) {
	var lat, lon *float64
	for i, f := range fields {
		key := strings.ToLower(strings.TrimSpace(strings.TrimSuffix(f, ":")))
		if (key == "latitude" || key == "lat") && i+1 < len(fields) {
			if v, err := strconv.ParseFloat(strings.TrimSpace(fields[i+1]), 64); err == nil {
				lat = &v
			}
		}
		if (key == "longitude" || key == "lon" || key == "lng") && i+1 < len(fields) {
			if v, err := strconv.ParseFloat(strings.TrimSpace(fields[i+1]), 64); err == nil {
				lon = &v
			}
		}
	}
	p.setCoords(lat, lon)
}

// coordColumns reports which columns a metadata header names Latitude and
// Longitude, or -1 when absent.
func coordColumns(fields []string) (latCol, lonCol int) {
	latCol, lonCol = -1, -1
	for i, f := range fields {
		switch strings.ToLower(strings.TrimSpace(f)) {
		case "latitude", "lat":
			latCol = i
		case "longitude", "lon", "lng":
			lonCol = i
		}
	}
	return latCol, lonCol
}

func floatAt(fields []string, col int) *float64 {
	if col < 0 || col >= len(fields) {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(fields[col]), 64)
	if err != nil {
		return nil
	}
	return &v
}

func (p *Parsed) setCoords(lat, lon *float64) {
	if p.HasCoords || lat == nil || lon == nil {
		return
	}
	if *lat < -90 || *lat > 90 || *lon < -180 || *lon > 180 {
		return
	}
	p.Latitude = *lat
	p.Longitude = *lon
	p.HasCoords = true
}

// headerColumns finds the data header row: any row naming a GHI column or
// a temperature column. Missing columns come back as -1.
func headerColumns(fields []string) (ghiCol, tempCol int, ok bool) {
	ghiCol, tempCol = -1, -1
	for i, f := range fields {
		name := strings.ToLower(strings.TrimSpace(f))
		switch {
		case name == "ghi" || strings.Contains(name, "global horizontal"):
			ghiCol = i
		case strings.Contains(name, "temp"):
			tempCol = i
		}
	}
	return ghiCol, tempCol, ghiCol >= 0 || tempCol >= 0
}

func splitCSVLine(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if err != nil {
		return strings.Split(line, ",")
	}
	return fields
}
