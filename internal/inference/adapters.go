package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/your-org/vigil/internal/config"
	"github.com/your-org/vigil/internal/models"
)

// NewChain builds the ordered provider chain from config. Unknown kinds are
// a configuration error, not a runtime fallback.
func NewChain(cfgs []config.ProviderConfig) ([]Provider, error) {
	chain := make([]Provider, 0, len(cfgs))
	for _, pc := range cfgs {
		switch pc.Kind {
		case "vision_rest":
			chain = append(chain, newRESTProvider(pc))
		case "motion_stub":
			chain = append(chain, &motionProvider{id: pc.ID})
		default:
			return nil, fmt.Errorf("unknown provider kind %q (id %s)", pc.Kind, pc.ID)
		}
	}
	return chain, nil
}

// restProvider calls an OpenAI-compatible vision chat endpoint with frames
// attached as base64 image parts.
type restProvider struct {
	cfg    config.ProviderConfig
	client *http.Client
}

func newRESTProvider(cfg config.ProviderConfig) *restProvider {
	return &restProvider{
		cfg: cfg,
		// Per-attempt deadlines come from the orchestrator's context; the
		// client itself only bounds connection setup.
		client: &http.Client{Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		}},
	}
}

func (p *restProvider) ID() string { return p.cfg.ID }

func (p *restProvider) Supports(mode models.AnalysisMode) bool {
	switch mode {
	case models.ModeSingleFrame:
		return true
	case models.ModeMultiFrame:
		return p.cfg.MultiImage
	case models.ModeVideoNative:
		return p.cfg.Clips
	}
	return false
}

func (p *restProvider) EstimateCost(in Input) float64 {
	return p.cfg.CostPerImage * float64(in.ImageCount())
}

const analysisPrompt = `Describe what is happening in this security camera footage in one short sentence. ` +
	`Then list each visible subject as type (person, vehicle, animal, package, motion) with a short label.`

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string     `json:"role"`
	Content []chatPart `json:"content"`
}

type chatPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Detections []models.Detection `json:"detections,omitempty"`
	Confidence float32            `json:"confidence,omitempty"`
}

func (p *restProvider) Analyze(ctx context.Context, in Input) (*RawResult, error) {
	parts := []chatPart{{Type: "text", Text: analysisPrompt}}
	frames := in.Frames
	if in.Mode == models.ModeSingleFrame && len(frames) > 1 {
		frames = frames[:1]
	}
	for _, f := range frames {
		parts = append(parts, chatPart{
			Type:     "image_url",
			ImageURL: &imageURL{URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(f)},
		})
	}

	body, err := json.Marshal(chatRequest{
		Model:    p.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: parts}},
	})
	if err != nil {
		return nil, &UnavailableError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusPaymentRequired,
		resp.StatusCode == http.StatusTooManyRequests:
		return nil, &UnavailableError{Err: fmt.Errorf("%s returned %d", p.cfg.ID, resp.StatusCode)}
	case resp.StatusCode >= 500:
		return nil, &TransientError{Err: fmt.Errorf("%s returned %d", p.cfg.ID, resp.StatusCode)}
	default:
		return nil, &UnavailableError{Err: fmt.Errorf("%s returned %d", p.cfg.ID, resp.StatusCode)}
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, &TransientError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(cr.Choices) == 0 {
		return nil, &TransientError{Err: fmt.Errorf("%s returned empty choices", p.cfg.ID)}
	}

	return &RawResult{
		Text:       cr.Choices[0].Message.Content,
		Confidence: cr.Confidence,
		Detections: cr.Detections,
	}, nil
}

// motionProvider is the designated no-cost chain tail: it emits a
// detection-type-agnostic motion description so a budget-limited or
// provider-dark deployment still commits usable events.
type motionProvider struct {
	id string
}

func (p *motionProvider) ID() string { return p.id }
func (p *motionProvider) Supports(mode models.AnalysisMode) bool {
	return mode == models.ModeSingleFrame
}
func (p *motionProvider) EstimateCost(Input) float64 { return 0 }

func (p *motionProvider) Analyze(_ context.Context, in Input) (*RawResult, error) {
	return &RawResult{
		Text:       fmt.Sprintf("Motion detected on camera %s", in.CameraID),
		Detections: []models.Detection{{Type: "motion"}},
	}, nil
}
