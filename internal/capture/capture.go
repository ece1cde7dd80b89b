// Package capture is the seam to the camera/liveness collaborator.
// The camera, face detection, and photo storage live outside this
// core; the machine only needs a yes/no and an opaque artifact ref.
package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"tamtap/internal/model"
)

// Result is the collaborator's answer for one scan.
type Result struct {
	OK          bool
	ArtifactRef string // opaque reference to the stored capture, empty when none
}

// Verifier runs the liveness check for an identity. Implementations
// may take a few seconds; callers bound them with a context deadline.
type Verifier interface {
	CaptureAndVerify(ctx context.Context, id model.Identity) (Result, error)
}

// HTTPVerifier calls a capture microservice. Skip mode passes every
// check with a synthetic artifact ref, for appliances running without
// a camera service.
type HTTPVerifier struct {
	base string
	http *http.Client
	skip bool
}

// NewHTTPVerifier builds the client.
func NewHTTPVerifier(base string, timeout time.Duration, skip bool) *HTTPVerifier {
	return &HTTPVerifier{
		base: base,
		skip: skip,
		http: &http.Client{Timeout: timeout},
	}
}

type verifyRequest struct {
	BadgeKey    string `json:"badge_key"`
	SequenceID  string `json:"sequence_id"`
	DisplayName string `json:"display_name"`
}

type verifyResponse struct {
	Live        bool    `json:"live"`
	Confidence  float64 `json:"confidence"`
	ArtifactRef string  `json:"artifact_ref"`
}

// CaptureAndVerify triggers a capture and liveness check for the
// identity.
func (v *HTTPVerifier) CaptureAndVerify(ctx context.Context, id model.Identity) (Result, error) {
	if v.skip {
		return Result{OK: true, ArtifactRef: "skip-" + uuid.NewString()}, nil
	}

	payload, err := json.Marshal(verifyRequest{
		BadgeKey:    id.BadgeKey,
		SequenceID:  id.SequenceID,
		DisplayName: id.DisplayName,
	})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.base+"/verify", bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.http.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("capture service status %d", resp.StatusCode)
	}

	var body verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("decode capture response: %w", err)
	}
	return Result{OK: body.Live, ArtifactRef: body.ArtifactRef}, nil
}
