package domain

import (
	"fmt"
	"strings"
)

// ImageAttachment is an image sent alongside the model instructions.
type ImageAttachment struct {
	Data     []byte
	MimeType string
}

// ModelPayload is everything sent to the model for one request.
type ModelPayload struct {
	Instructions string
	ContextText  string
	Image        *ImageAttachment
}

// outputContract fixes the response shape so the parser can read it. Only the
// first line is required.
const outputContract = `Respond in this format and nothing else:
Risk: <LOW|MODERATE|HIGH|SEVERE|UNKNOWN>, Confidence: <number between 0 and 1>, <rationale>
Recommendations: <3 to 5 short actions, separated by semicolons>
Elevation: <estimated elevation in meters>
Distance from water: <estimated distance to the nearest river, lake or coast in meters>
Image analysis: <one sentence on what the image shows>

Rules:
- Use one of the five risk levels exactly as written above.
- Confidence is your certainty in the chosen level, as a decimal between 0 and 1.
- The rationale is one or two sentences naming the factors you relied on.
- Give numbers only for Elevation and Distance from water; leave out a line you cannot estimate.
- Include the Image analysis line only when an image is attached.
- Answer UNKNOWN with Confidence: 0 if you cannot assess the risk.`

const coordinateInstructions = `You are a flood risk analyst. Assess the flood risk at the location given below.
Consider elevation, distance from rivers, lakes and coastline, floodplains, terrain slope, drainage and the local climate.

` + outputContract

const imageInstructions = `You are a flood risk analyst. Assess the flood risk from the visible indicators in the attached terrain image.
Consider standing water, nearby water bodies and their distance, terrain slope and estimated elevation, drainage infrastructure, vegetation and signs of past flooding.

` + outputContract

// BuildPayload converts a validated request into the model payload. The result
// depends only on the request.
func BuildPayload(req AnalysisRequest) ModelPayload {
	switch r := req.(type) {
	case CoordinateRequest:
		return ModelPayload{
			Instructions: coordinateInstructions,
			ContextText:  coordinateContext(r),
		}
	case ImageRequest:
		return ModelPayload{
			Instructions: imageInstructions,
			ContextText:  fmt.Sprintf("Attached image: %s, %d bytes.", r.MimeType, r.SizeBytes),
			Image:        &ImageAttachment{Data: r.Data, MimeType: r.MimeType},
		}
	default:
		panic(fmt.Sprintf("domain: unhandled analysis request %T", req))
	}
}

func coordinateContext(r CoordinateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Location: latitude %.6f, longitude %.6f.", r.Latitude, r.Longitude)
	if r.PlaceName != "" {
		fmt.Fprintf(&b, "\nNearest place: %s.", r.PlaceName)
	}
	return b.String()
}
