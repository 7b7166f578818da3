package pipeline

import (
	"fmt"
	"strings"

	"github.com/vidmetric/analyzer-worker/internal/models"
)

// defaultScore substitutes for top-level scores the analyzer omitted when
// composing the predictor prompt. The stored analysis itself is never
// altered.
const defaultScore = 50

// buildExtractPrompt composes the content-analysis prompt: target audience
// context, the KPI vocabulary, and the fixed response shape (tags, three
// top-level scores, the characteristics object, a one-sentence summary).
func buildExtractPrompt(req *models.AnalysisRequest) string {
	return fmt.Sprintf(`You are a social media video analysis expert.

Target platform: %s
Target audience age: %s
Target audience gender: %s
Target interests: %s
KPIs to evaluate: %s

Watch this video carefully and evaluate ALL of the following:

CONTENT (up to 10 tags max, no more):
- Up to 10 tags covering topics, themes, visual style, audio, mood

SCORES (0-100 each):
- quality_score: overall production quality
- hook_strength: how engaging are the first 3 seconds
- audience_relevance: relevance to the target demographic

VIDEO CHARACTERISTICS (score each 0-100 unless noted):
- objective: one of "educate", "sell", "entertain", "inspire", "inform"
- storytelling: narrative strength and emotional connection
- audio_quality: clarity of speech/music, no distracting noise
- visual_quality: resolution, brightness, colour grading
- editing_pacing: rhythm of cuts, transitions, avoids lag
- audience_awareness: tone and style match the target demographic
- hook_score: first-seconds attention grab (same as hook_strength)
- cta_present: true or false, is there a clear call to action
- lighting: proper lighting, well-lit scene
- stability: steady footage, no unwanted shake
- format_fit: how well aspect ratio and length suit the platform (0-100)

Your response must be a raw JSON object. Do not use markdown, do not wrap in code fences, do not add any text before or after the JSON. Start your response with { and end with }.
{
  "tags": ["tag1", "tag2"],
  "quality_score": 75,
  "hook_strength": 80,
  "audience_relevance": 70,
  "content_summary": "brief one-sentence description",
  "characteristics": {
    "objective": "educate",
    "storytelling": 70,
    "audio_quality": 85,
    "visual_quality": 80,
    "editing_pacing": 75,
    "audience_awareness": 80,
    "cta_present": false,
    "lighting": 85,
    "stability": 90,
    "format_fit": 80
  }
}`,
		req.Platform,
		req.TargetAge,
		req.TargetGender,
		tagsOrNone(req.TargetTags),
		strings.Join(models.KPIVocabulary, ", "),
	)
}

// buildScorePrompt composes the KPI-prediction prompt from the analyzer's
// output plus the target-audience description. The predictor reasons from
// the already-extracted attributes rather than re-watching the video, so
// this call is never bound to the uploaded asset.
func buildScorePrompt(req *models.AnalysisRequest, analysis *models.ContentAnalysis) string {
	summary := analysis.ContentSummary
	if summary == "" {
		summary = "N/A"
	}
	tags := strings.Join(analysis.Tags, ", ")
	if tags == "" {
		tags = "N/A"
	}

	return fmt.Sprintf(`You are a social media performance prediction expert for %s.

Video analysis:
- Summary: %s
- Tags: %s
- Production quality: %d/100
- Hook strength: %d/100
- Audience relevance: %d/100

Target audience:
- Platform: %s
- Age: %s
- Gender: %s
- Interests: %s

For each KPI, predict realistic performance for a new creator account posting this video:
- predicted_value: realistic value with units (e.g. "8.5K", "3.2%%", "$0.45")
- For "View Duration" specifically: return an integer in milliseconds only, no units (e.g. "45000")
- score: 0-100 (50=average, 80+=strong, 100=viral)
- explanation: one sentence

KPIs: %s

Your response must be a raw JSON object. Do not use markdown, do not wrap in code fences, do not add any text before or after the JSON. Start your response with { and end with }.
{
  "results": [
    {"kpi_name": "Impressions", "predicted_value": "12.5K", "score": 68, "explanation": "Good hook drives solid impressions."}
  ]
}`,
		req.Platform,
		summary,
		tags,
		scoreOrDefault(analysis.QualityScore),
		scoreOrDefault(analysis.HookStrength),
		scoreOrDefault(analysis.AudienceRelevance),
		req.Platform,
		req.TargetAge,
		req.TargetGender,
		tagsOrNone(req.TargetTags),
		strings.Join(models.KPIVocabulary, ", "),
	)
}

func scoreOrDefault(score *int) int {
	if score == nil {
		return defaultScore
	}
	return *score
}

func tagsOrNone(tags []string) string {
	if len(tags) == 0 {
		return "none"
	}
	return strings.Join(tags, ", ")
}
