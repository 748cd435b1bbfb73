package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/couchcryptid/crop-diagnosis/internal/domain"
	"github.com/couchcryptid/crop-diagnosis/internal/imaging"
)

const (
	invalidPhotoMessage = "please upload a valid photo"
	multipartOverhead   = 1 << 20
)

// requestError is a client mistake with a fixed status and message.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

type labelInfo struct {
	Label domain.Label `json:"label"`
	Title string       `json:"title"`
}

type cropsResponse struct {
	Crops  []domain.Crop `json:"crops"`
	Labels []labelInfo   `json:"labels"`
}

type regionsResponse struct {
	County  string              `json:"county"`
	Regions []domain.RegionInfo `json:"regions"`
}

type suppliersResponse struct {
	Eligible    bool                    `json:"eligible"`
	Notice      string                  `json:"notice,omitempty"`
	County      string                  `json:"county,omitempty"`
	Scope       domain.Scope            `json:"scope,omitempty"`
	Ranked      bool                    `json:"ranked,omitempty"`
	Suppliers   []domain.RankedSupplier `json:"suppliers,omitempty"`
	OriginPlace string                  `json:"origin_place,omitempty"`
}

func (s *Server) handleCrops(w http.ResponseWriter, _ *http.Request) {
	labels := make([]labelInfo, 0, len(domain.Labels()))
	for _, l := range domain.Labels() {
		labels = append(labels, labelInfo{Label: l, Title: l.Title()})
	}
	writeJSON(w, http.StatusOK, cropsResponse{Crops: s.service.Catalog().Crops(), Labels: labels})
}

func (s *Server) handleRegions(w http.ResponseWriter, _ *http.Request) {
	dir := s.service.Directory()
	writeJSON(w, http.StatusOK, regionsResponse{County: dir.County(), Regions: dir.Regions()})
}

func (s *Server) handleSuppliers(w http.ResponseWriter, r *http.Request) {
	loc, err := parseLocation(r.URL.Query())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if loc == nil || loc.Region == "" || loc.SubRegion == "" {
		s.writeError(w, badRequest("region and sub_region are required"))
		return
	}

	match, err := s.service.FindSuppliers(r.Context(), *loc)
	if errors.Is(err, domain.ErrIneligibleLocation) {
		writeJSON(w, http.StatusOK, suppliersResponse{Eligible: false, Notice: s.service.IneligibleNotice()})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := suppliersResponse{
		Eligible:  true,
		County:    s.service.Directory().County(),
		Scope:     match.Scope,
		Ranked:    match.Ranked,
		Suppliers: match.Suppliers,
	}
	if loc.Origin != nil {
		resp.OriginPlace = s.service.DescribeOrigin(r.Context(), *loc.Origin)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	out, ok := s.diagnose(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	out, ok := s.diagnose(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", domain.ReportContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": domain.ReportFileName}))
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, out.Report) //nolint:errcheck // client may have gone away
}

// diagnose reads the upload, runs the diagnosis and writes any error response.
func (s *Server) diagnose(w http.ResponseWriter, r *http.Request) (domain.DiagnosisOutcome, bool) {
	photo, values, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, err)
		return domain.DiagnosisOutcome{}, false
	}

	crop := values.Get("crop")
	if crop == "" {
		s.writeError(w, badRequest("crop is required"))
		return domain.DiagnosisOutcome{}, false
	}
	loc, err := parseLocation(values)
	if err != nil {
		s.writeError(w, err)
		return domain.DiagnosisOutcome{}, false
	}

	out, err := s.service.Diagnose(r.Context(), domain.Crop(crop), photo, loc)
	if err != nil {
		s.writeError(w, err)
		return domain.DiagnosisOutcome{}, false
	}
	out.RequestID = r.Header.Get("X-Request-ID")
	return out, true
}

// readUpload accepts either a multipart form with an "image" file part or
// the raw photo as the request body. Form fields and query parameters are
// returned together.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, url.Values, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType != "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, nil, err
		}
		if len(data) == 0 {
			return nil, nil, badRequest("image is required")
		}
		return data, r.URL.Query(), nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, nil, err
		}
		return nil, nil, badRequest("malformed multipart form")
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, nil, badRequest("image is required")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		return nil, nil, err
	}
	if int64(len(data)) > s.maxUploadBytes {
		return nil, nil, &http.MaxBytesError{Limit: s.maxUploadBytes}
	}
	return data, r.Form, nil
}

// parseLocation reads the optional supplier-search fields. It returns nil
// when none are present.
func parseLocation(v url.Values) (*domain.LocationInput, error) {
	if v.Get("confirmed") == "" && v.Get("region") == "" && v.Get("sub_region") == "" &&
		v.Get("lat") == "" && v.Get("lon") == "" {
		return nil, nil
	}

	loc := &domain.LocationInput{
		Region:    v.Get("region"),
		SubRegion: v.Get("sub_region"),
	}
	if s := v.Get("confirmed"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, badRequest("invalid confirmed %q", s)
		}
		loc.Confirmed = b
	}

	latStr, lonStr := v.Get("lat"), v.Get("lon")
	if (latStr == "") != (lonStr == "") {
		return nil, badRequest("lat and lon must be given together")
	}
	if latStr != "" {
		lat, errLat := strconv.ParseFloat(latStr, 64)
		lon, errLon := strconv.ParseFloat(lonStr, 64)
		origin := domain.Coordinate{Lat: lat, Lon: lon}
		if errLat != nil || errLon != nil || !origin.Valid() {
			return nil, badRequest("invalid origin %q,%q", latStr, lonStr)
		}
		loc.Origin = &origin
	}

	if s := v.Get("k"); s != "" {
		k, err := strconv.Atoi(s)
		if err != nil || k < 1 {
			return nil, badRequest("invalid k %q", s)
		}
		loc.K = k
	}
	if s := v.Get("widen"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, badRequest("invalid widen %q", s)
		}
		loc.Widen = &b
	}
	return loc, nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var reqErr *requestError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &reqErr):
		writeJSON(w, reqErr.status, map[string]string{"error": reqErr.msg})
	case errors.As(err, &maxErr), imaging.IsTooLarge(err):
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "photo is too large"})
	case errors.Is(err, domain.ErrInvalidOrigin):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidImage):
		s.logger.Debug("rejected upload", "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": invalidPhotoMessage})
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
