// Package domain models flood risk analysis requests and the assessments
// derived from a generative model's answer.
//
// # Inputs
//
// An analysis is requested for exactly one of:
//
//	Coordinates: WGS-84 latitude in [-90, 90] and longitude in [-180, 180].
//	Image:       a PNG or JPEG photo of the terrain, bounded in size.
//
// [Validate] turns the transport's [RawInput] into an [AnalysisRequest], a
// closed sum type with the two variants [CoordinateRequest] and
// [ImageRequest]. Code that consumes a request switches over both variants.
//
// # Model contract
//
// [BuildPayload] produces the instructions sent to the model. Every payload
// asks for a single line in the canonical format:
//
//	Risk: <LOW|MODERATE|HIGH|SEVERE|UNKNOWN>, Confidence: <0..1>, <rationale>
//
//	e.g. "Risk: HIGH, Confidence: 0.82, near river floodplain"
//
// Payloads are pure functions of the request so identical requests are sent
// to the model byte for byte.
//
// # Parsing
//
// [ParseModelOutput] reads the model's text in two passes:
//
//	Strict:    the canonical line, or a JSON object with risk_level,
//	           confidence and rationale (description is accepted too).
//	           Markdown code fences are stripped first.
//	Heuristic: a keyword scan for the risk vocabulary. Exactly one distinct
//	           level must be mentioned.
//
// When neither pass succeeds the assessment degrades to [RiskUnknown] with
// the original text kept as the rationale. Only an empty answer is an error.
//
// Level vocabulary:
//
//	LOW       low
//	MODERATE  moderate, medium
//	HIGH      high
//	SEVERE    severe, very high, extreme, critical
//
// Confidence is clamped to [0, 1]; values written as percentages ("82%")
// are divided by 100.
package domain
