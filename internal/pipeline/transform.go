package pipeline

import (
	"context"

	"github.com/couchcryptid/crop-diagnosis/internal/domain"
)

// RequestTransformer implements Transformer by running each queued request
// through a Diagnoser.
type RequestTransformer struct {
	diagnoser *Diagnoser
}

// NewTransformer creates a RequestTransformer backed by d.
func NewTransformer(d *Diagnoser) *RequestTransformer {
	return &RequestTransformer{diagnoser: d}
}

func (t *RequestTransformer) Transform(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error) {
	req, err := domain.ParseDiagnosisRequest(raw)
	if err != nil {
		return domain.OutputEvent{}, err
	}

	out, err := t.diagnoser.Diagnose(ctx, req.Crop, req.Image, req.Location)
	if err != nil {
		return domain.OutputEvent{}, err
	}
	out.RequestID = req.RequestID

	return domain.SerializeOutcome(out)
}
