package outbox

import (
	"embed"
	"fmt"
	"math"

	"github.com/bluesky-social/agora/governance"
	"github.com/bluesky-social/agora/models"

	"github.com/flosch/pongo2/v6"
)

//go:embed templates/*.txt
var templateFS embed.FS

// Renderer turns outbox events into announcement text, one template per event kind.
type Renderer struct {
	templates map[models.OutboxEventKind]*pongo2.Template
	fallback  *pongo2.Template
}

var eventKinds = []models.OutboxEventKind{
	models.OutboxVotingStarted,
	models.OutboxVotingEnded,
	models.OutboxResultsApproved,
	models.OutboxResultsRejected,
	models.OutboxEpochForced,
	models.OutboxVotingReminder,
}

func loadTemplate(name string) (*pongo2.Template, error) {
	b, err := templateFS.ReadFile("templates/" + name + ".txt")
	if err != nil {
		return nil, err
	}
	tpl, err := pongo2.FromString(string(b))
	if err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", name, err)
	}
	return tpl, nil
}

func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[models.OutboxEventKind]*pongo2.Template, len(eventKinds))}
	for _, kind := range eventKinds {
		tpl, err := loadTemplate(string(kind))
		if err != nil {
			return nil, err
		}
		r.templates[kind] = tpl
	}
	fallback, err := loadTemplate("default")
	if err != nil {
		return nil, err
	}
	r.fallback = fallback
	return r, nil
}

// PublicPayload is the event payload with per-voter data replaced by counts
// and whole numbers restored to integers after the JSON round trip.
func PublicPayload(ev *models.OutboxEvent) map[string]any {
	redacted := governance.RedactDetails(ev.Payload)
	out := make(map[string]any, len(redacted))
	for k, v := range redacted {
		out[k] = tidy(v)
	}
	return out
}

func tidy(v any) any {
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = tidy(vv)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = tidy(vv)
		}
		return out
	default:
		return v
	}
}

// Render produces announcement text for the event. A kind whose template
// fails on the event's payload is rendered with the generic template instead.
func (r *Renderer) Render(ev *models.OutboxEvent) (string, error) {
	data := pongo2.Context{
		"kind":     string(ev.Kind),
		"epoch_id": ev.EpochID,
		"payload":  PublicPayload(ev),
	}
	if tpl, ok := r.templates[ev.Kind]; ok {
		text, err := tpl.Execute(data)
		if err == nil {
			return text, nil
		}
		renderFallbacks.WithLabelValues(string(ev.Kind)).Inc()
	}
	text, err := r.fallback.Execute(data)
	if err != nil {
		return "", fmt.Errorf("rendering %s announcement: %w", ev.Kind, err)
	}
	return text, nil
}
