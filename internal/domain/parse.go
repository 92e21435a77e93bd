package domain

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// defaultConfidence is used when a level is recognized but no confidence
// value accompanies it.
const defaultConfidence = 0.5

const levelPattern = `very[ \t_]+high|severe|extreme|critical|high|moderate|medium|low`

var (
	codeFence = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\n?(.*?)```")

	// contractLine matches "Risk: HIGH, Confidence: 0.82, rationale" at the
	// start of any line. The confidence may be a number or a word such as
	// "low". Group 4 captures everything after the confidence.
	contractLine = regexp.MustCompile(`(?im)^[ \t*_>-]*risk(?:[ _]?level)?[ \t*_]*[:=][ \t*]*(very[ \t_]+high|[a-z]+)[ \t*]*(?:[,;|]|\n)\s*confidence[ \t*_]*[:=][ \t*]*([-+]?\d*\.?\d+|[a-z]+)[ \t]*(%)?(?s:(.*))$`)

	rationaleLabel = regexp.MustCompile(`(?i)^[\s,;|*]*(?:(?:rationale|reason|description)[ \t*]*[:=])?\s*`)

	riskWord  = regexp.MustCompile(`(?i)\brisk(?:[ \t]+level)?\b`)
	levelWord = regexp.MustCompile(`(?i)\b(?:` + levelPattern + `)\b`)

	// notARiskLevel matches what follows an adjective used for terrain or
	// certainty rather than risk: "low-lying", "high ground", "low confidence".
	notARiskLevel = regexp.MustCompile(`(?i)^(?:-|[ \t]+(?:confidence|ground|land|lands|water|tide|tides|elevation|altitude|point|areas?|terrain|lying)\b)`)

	// levelThenRisk finds a level qualifying a risk noun, as in "high flood
	// risk", "low-risk" or "very high chance of flooding".
	levelThenRisk = regexp.MustCompile(`(?i)\b(` + levelPattern + `)(?:[ \t-]+flood(?:ing)?)?[ \t-]+(?:risk|chance|likelihood|probability|danger)\b`)

	confidenceFragment = regexp.MustCompile(`(?i)\bconfidence(?:\s+(?:level|score))?\s*(?:[:=]|of|is)?\s*([-+]?\d*\.?\d+)\s*(%)?`)

	detailLine = regexp.MustCompile(`(?i)^[ \t*_>#-]*(recommendations?|elevation|distance[ \t_]+(?:from|to)[ \t_]+(?:the[ \t]+)?(?:nearest[ \t]+)?water|image[ \t_]+analysis)(?:[ \t]*\([a-z]+\))?[ \t*_]*[:=][ \t*]*(.*)$`)

	bulletLine = regexp.MustCompile(`^[ \t]*(?:[-*•]|\d+[.)])[ \t]+(.+)$`)

	measure = regexp.MustCompile(`(?i)([-+]?\d[\d,]*(?:\.\d+)?)\s*(km|kilomet(?:er|re)s?|m|met(?:er|re)s?|ft|feet|foot)?\b`)
)

// ParseModelOutput interprets raw model text as a RiskAssessment. It tries the
// strict structured formats first, then a keyword heuristic, and otherwise
// degrades to RiskUnknown with the original text as the rationale. Only empty
// output is an error.
func ParseModelOutput(raw RawModelOutput) (RiskAssessment, error) {
	text := strings.TrimSpace(raw.Text)
	if text == "" {
		return RiskAssessment{}, NewParseError(ReasonEmptyResponse, "model returned an empty response")
	}

	a, ok := parseStrict(text)
	if !ok {
		a, ok = parseHeuristic(text)
	}
	if !ok {
		a = RiskAssessment{RiskLevel: RiskUnknown, Rationale: text, Method: ParseFallback}
	}

	a.ModelVersion = raw.ModelVersion
	a.GeneratedAt = clock.Now().UTC()
	return a.normalize(), nil
}

// parseStrict accepts the contract line format or a JSON object, optionally
// wrapped in a markdown code fence.
func parseStrict(text string) (RiskAssessment, bool) {
	body := stripCodeFence(text)

	if a, ok := parseContractLine(body); ok {
		return a, true
	}
	if a, ok := parseJSONAssessment(body); ok {
		return a, true
	}
	return RiskAssessment{}, false
}

func parseContractLine(body string) (RiskAssessment, bool) {
	m := contractLine.FindStringSubmatch(body)
	if m == nil {
		return RiskAssessment{}, false
	}
	level, ok := ParseRiskLevel(m[1])
	if !ok {
		return RiskAssessment{}, false
	}
	// A worded confidence ("low", "high") keeps the level but carries no number.
	confidence := defaultConfidence
	if c, err := strconv.ParseFloat(m[2], 64); err == nil {
		confidence = c
		if m[3] == "%" {
			confidence /= 100
		}
	}
	rest, details := extractDetails(m[4])
	a := RiskAssessment{
		RiskLevel:  level,
		Confidence: confidence,
		Rationale:  strings.TrimSpace(rationaleLabel.ReplaceAllString(rest, "")),
		Method:     ParseStrict,
	}
	a.setDetails(details)
	return a, true
}

type jsonAssessment struct {
	RiskLevel   string `json:"risk_level"`
	Risk        string `json:"risk"`
	Confidence  any    `json:"confidence"`
	Rationale   string `json:"rationale"`
	Description string `json:"description"`

	Recommendations    any    `json:"recommendations"`
	Elevation          any    `json:"elevation"`
	ElevationM         any    `json:"elevation_m"`
	DistanceFromWater  any    `json:"distance_from_water"`
	DistanceFromWaterM any    `json:"distance_from_water_m"`
	ImageAnalysis      string `json:"image_analysis"`
}

func parseJSONAssessment(body string) (RiskAssessment, bool) {
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start == -1 || end <= start {
		return RiskAssessment{}, false
	}

	var out jsonAssessment
	if err := json.Unmarshal([]byte(body[start:end+1]), &out); err != nil {
		return RiskAssessment{}, false
	}

	levelText := out.RiskLevel
	if levelText == "" {
		levelText = out.Risk
	}
	level, ok := ParseRiskLevel(levelText)
	if !ok {
		return RiskAssessment{}, false
	}

	confidence := defaultConfidence
	if c, ok := confidenceValue(out.Confidence); ok {
		confidence = c
	}

	rationale := out.Rationale
	if rationale == "" {
		rationale = out.Description
	}
	a := RiskAssessment{
		RiskLevel:  level,
		Confidence: confidence,
		Rationale:  strings.TrimSpace(rationale),
		Method:     ParseStrict,
	}
	a.setDetails(assessmentDetails{
		Recommendations:    recommendationList(out.Recommendations),
		ElevationM:         firstMeasure(out.ElevationM, out.Elevation),
		DistanceFromWaterM: firstMeasure(out.DistanceFromWaterM, out.DistanceFromWater),
		ImageAnalysis:      strings.TrimSpace(out.ImageAnalysis),
	})
	return a, true
}

func confidenceValue(v any) (float64, bool) {
	switch c := v.(type) {
	case float64:
		return c, true
	case string:
		s := strings.TrimSpace(c)
		percent := strings.HasSuffix(s, "%")
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		if percent {
			f /= 100
		}
		return f, true
	default:
		return 0, false
	}
}

// parseHeuristic looks for a risk level stated next to a risk noun. It
// succeeds only when every such statement names the same level. Bare
// adjectives ("low-lying", "high ground", "low confidence") are ignored.
func parseHeuristic(text string) (RiskAssessment, bool) {
	rest, details := extractDetails(text)

	var found RiskLevel
	for _, level := range statedLevels(rest) {
		if found != "" && level != found {
			return RiskAssessment{}, false
		}
		found = level
	}
	if found == "" {
		return RiskAssessment{}, false
	}

	confidence := defaultConfidence
	if m := confidenceFragment.FindStringSubmatch(text); m != nil {
		if c, err := strconv.ParseFloat(m[1], 64); err == nil {
			if m[2] == "%" {
				c /= 100
			}
			confidence = c
		}
	}

	a := RiskAssessment{
		RiskLevel:  found,
		Confidence: confidence,
		Rationale:  text,
		Method:     ParseHeuristic,
	}
	a.setDetails(details)
	return a, true
}

// riskWindow is how far after "risk" a level may appear in the same clause.
const riskWindow = 60

// statedLevels returns every level the text attaches to a risk noun, in
// either order: "the flood risk here is high" or "high flood risk".
func statedLevels(text string) []RiskLevel {
	var levels []RiskLevel
	for _, r := range riskWord.FindAllStringIndex(text, -1) {
		clause := text[r[1]:min(len(text), r[1]+riskWindow)]
		if i := strings.IndexAny(clause, ".;!?\n"); i >= 0 {
			clause = clause[:i]
		}
		for _, m := range levelWord.FindAllStringIndex(clause, -1) {
			if strings.Contains(strings.ToLower(clause[:m[0]]), "confidence") {
				break
			}
			if notARiskLevel.MatchString(clause[m[1]:]) {
				continue
			}
			if level, ok := ParseRiskLevel(clause[m[0]:m[1]]); ok {
				levels = append(levels, level)
				break
			}
		}
	}
	for _, m := range levelThenRisk.FindAllStringSubmatch(text, -1) {
		if level, ok := ParseRiskLevel(m[1]); ok {
			levels = append(levels, level)
		}
	}
	return levels
}

// extractDetails pulls the optional detail lines (recommendations,
// elevation, distance from water, image analysis) out of text and returns
// the remaining lines.
func extractDetails(text string) (string, assessmentDetails) {
	var (
		d       assessmentDetails
		kept    []string
		inRecom bool
	)
	for _, line := range strings.Split(text, "\n") {
		if m := detailLine.FindStringSubmatch(line); m != nil {
			inRecom = false
			value := strings.TrimSpace(m[2])
			switch key := strings.ToLower(m[1]); {
			case strings.HasPrefix(key, "recommendation"):
				d.Recommendations = append(d.Recommendations, splitRecommendations(value)...)
				inRecom = true
			case strings.HasPrefix(key, "elevation"):
				d.ElevationM = parseMeasure(value)
			case strings.HasPrefix(key, "distance"):
				d.DistanceFromWaterM = parseMeasure(value)
			default:
				d.ImageAnalysis = value
			}
			continue
		}
		if inRecom {
			if b := bulletLine.FindStringSubmatch(line); b != nil {
				d.Recommendations = append(d.Recommendations, strings.TrimSpace(b[1]))
				continue
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			inRecom = false
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n"), d
}

func splitRecommendations(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ";") {
		item = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(item), "-*•"))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func recommendationList(v any) []string {
	switch r := v.(type) {
	case string:
		return splitRecommendations(r)
	case []any:
		var out []string
		for _, item := range r {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	default:
		return nil
	}
}

// parseMeasure reads the first distance in s as meters, converting km and
// feet. It returns nil when s holds no number.
func parseMeasure(s string) *float64 {
	m := measure.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return nil
	}
	switch unit := strings.ToLower(m[2]); {
	case unit == "km" || strings.HasPrefix(unit, "kilomet"):
		f *= 1000
	case unit == "ft" || unit == "feet" || unit == "foot":
		f *= 0.3048
	}
	return &f
}

// firstMeasure returns the first JSON value that holds a number.
func firstMeasure(values ...any) *float64 {
	for _, v := range values {
		switch n := v.(type) {
		case float64:
			return &n
		case string:
			if f := parseMeasure(n); f != nil {
				return f
			}
		}
	}
	return nil
}

// stripCodeFence returns the contents of the first fenced block, or the text
// unchanged when there is none.
func stripCodeFence(text string) string {
	if m := codeFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}
