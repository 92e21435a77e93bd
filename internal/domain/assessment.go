package domain

import (
	"math"
	"strings"
	"time"
)

// maxRecommendations caps the recommendations kept from one answer.
const maxRecommendations = 5

// RiskLevel is the closed set of flood risk classifications.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskModerate RiskLevel = "MODERATE"
	RiskHigh     RiskLevel = "HIGH"
	RiskSevere   RiskLevel = "SEVERE"
	RiskUnknown  RiskLevel = "UNKNOWN"
)

// RiskLevels lists every level, UNKNOWN last.
var RiskLevels = []RiskLevel{RiskLow, RiskModerate, RiskHigh, RiskSevere, RiskUnknown}

// levelAliases maps the vocabulary models actually use onto the canonical
// levels. Keys are lowercase with single spaces.
var levelAliases = map[string]RiskLevel{
	"low":       RiskLow,
	"moderate":  RiskModerate,
	"medium":    RiskModerate,
	"high":      RiskHigh,
	"severe":    RiskSevere,
	"very high": RiskSevere,
	"very_high": RiskSevere,
	"extreme":   RiskSevere,
	"critical":  RiskSevere,
	"unknown":   RiskUnknown,
}

// ParseRiskLevel maps a level name or alias, in any case, to a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	key := strings.Join(strings.Fields(strings.ToLower(s)), " ")
	level, ok := levelAliases[key]
	return level, ok
}

// ParseMethod records which parser pass produced an assessment.
type ParseMethod string

const (
	ParseStrict    ParseMethod = "strict"
	ParseHeuristic ParseMethod = "heuristic"
	ParseFallback  ParseMethod = "fallback"
)

// RawModelOutput is the model's answer before interpretation.
type RawModelOutput struct {
	Text         string
	ModelVersion string
}

// RiskAssessment is the canonical analysis result. The detail fields are
// filled only when the model supplies them.
type RiskAssessment struct {
	RiskLevel    RiskLevel `json:"risk_level"`
	Confidence   float64   `json:"confidence"`
	Rationale    string    `json:"rationale"`
	ModelVersion string    `json:"model_version"`
	GeneratedAt  time.Time `json:"generated_at"`

	Recommendations    []string `json:"recommendations,omitempty"`
	ElevationM         *float64 `json:"elevation_m,omitempty"`
	DistanceFromWaterM *float64 `json:"distance_from_water_m,omitempty"`
	ImageAnalysis      string   `json:"image_analysis,omitempty"`

	Method ParseMethod `json:"-"`
}

// assessmentDetails are the optional supporting facts a model may report.
type assessmentDetails struct {
	Recommendations    []string
	ElevationM         *float64
	DistanceFromWaterM *float64
	ImageAnalysis      string
}

func (a *RiskAssessment) setDetails(d assessmentDetails) {
	a.Recommendations = d.Recommendations
	a.ElevationM = d.ElevationM
	a.DistanceFromWaterM = d.DistanceFromWaterM
	a.ImageAnalysis = d.ImageAnalysis
}

// normalize enforces the confidence range and the UNKNOWN-means-zero rule.
func (a RiskAssessment) normalize() RiskAssessment {
	switch {
	case a.RiskLevel == RiskUnknown:
		a.Confidence = 0
	case a.Confidence != a.Confidence: // NaN
		a.Confidence = 0
	case a.Confidence < 0:
		a.Confidence = 0
	case a.Confidence > 1:
		a.Confidence = 1
	}
	if a.DistanceFromWaterM != nil && (*a.DistanceFromWaterM < 0 || math.IsNaN(*a.DistanceFromWaterM)) {
		a.DistanceFromWaterM = nil
	}
	if a.ElevationM != nil && math.IsNaN(*a.ElevationM) {
		a.ElevationM = nil
	}
	if len(a.Recommendations) > maxRecommendations {
		a.Recommendations = a.Recommendations[:maxRecommendations]
	}
	return a
}
