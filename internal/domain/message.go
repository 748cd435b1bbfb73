package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RawEvent is an unprocessed message from the request topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// OutputEvent is the serialized form destined for the result topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// LocationInput is the optional supplier-search part of a request.
type LocationInput struct {
	Confirmed bool        `json:"confirmed"`
	Region    string      `json:"region"`
	SubRegion string      `json:"sub_region"`
	Origin    *Coordinate `json:"origin,omitempty"`
	K         int         `json:"k,omitempty"`
	// Widen overrides the service-wide region fallback setting when set.
	Widen *bool `json:"widen,omitempty"`
}

// DiagnosisRequest is the JSON payload of a queued diagnosis. Image carries
// the encoded photo (JPEG, PNG, GIF, WebP, BMP or TIFF); encoding/json maps
// it to base64.
type DiagnosisRequest struct {
	RequestID string         `json:"request_id,omitempty"`
	Crop      Crop           `json:"crop"`
	Image     []byte         `json:"image"`
	Location  *LocationInput `json:"location,omitempty"`
}

// DiagnosisOutcome is the full answer for one photo.
type DiagnosisOutcome struct {
	ID             string               `json:"id"`
	RequestID      string               `json:"request_id,omitempty"`
	Crop           Crop                 `json:"crop"`
	Classification ClassificationResult `json:"classification"`
	LabelTitle     string               `json:"label_title"`
	Advisories     []AdvisoryEntry      `json:"advisories"`
	// AdvisoryFallback is set when no advisory matched.
	AdvisoryFallback string         `json:"advisory_fallback,omitempty"`
	Treatments       []Treatment    `json:"treatments,omitempty"`
	Suppliers        *SupplierMatch `json:"suppliers,omitempty"`
	// SupplierNotice explains why the supplier search was skipped or left
	// unranked.
	SupplierNotice string    `json:"supplier_notice,omitempty"`
	OriginPlace    string    `json:"origin_place,omitempty"`
	Report         string    `json:"report"`
	DiagnosedAt    time.Time `json:"diagnosed_at"`
}

// ParseDiagnosisRequest decodes a request message. The request ID defaults to
// the message key.
func ParseDiagnosisRequest(raw RawEvent) (DiagnosisRequest, error) {
	var req DiagnosisRequest
	if err := json.Unmarshal(raw.Value, &req); err != nil {
		return DiagnosisRequest{}, fmt.Errorf("parse diagnosis request: %w", err)
	}
	if req.RequestID == "" {
		req.RequestID = string(raw.Key)
	}
	if len(req.Image) == 0 {
		return DiagnosisRequest{}, fmt.Errorf("parse diagnosis request: %w: empty image", ErrInvalidImage)
	}
	return req, nil
}

// SerializeOutcome marshals an outcome into a result message keyed by its ID.
func SerializeOutcome(out DiagnosisOutcome) (OutputEvent, error) {
	data, err := json.Marshal(out)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize diagnosis outcome: %w", err)
	}
	return OutputEvent{
		Key:   []byte(out.ID),
		Value: data,
		Headers: map[string]string{
			"label":        string(out.Classification.Label),
			"processed_at": out.DiagnosedAt.Format(time.RFC3339),
		},
	}, nil
}

// DiagnosisID derives a deterministic ID from the crop and the image bytes, so
// replaying the same request yields the same ID.
func DiagnosisID(crop Crop, image []byte) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(string(crop))))
	h.Write([]byte{'|'})
	h.Write(image)
	short := hex.EncodeToString(h.Sum(nil)[:8])
	if crop == "" {
		return short
	}
	return string(crop) + "-" + short
}
