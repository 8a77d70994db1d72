package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"

	"github.com/fxamacker/cbor/v2"

	"github.com/remiblancher/tsa-verifier/internal/api/dto"
	apierrors "github.com/remiblancher/tsa-verifier/internal/api/errors"
	"github.com/remiblancher/tsa-verifier/internal/api/service"
	"github.com/remiblancher/tsa-verifier/internal/audit"
	"github.com/remiblancher/tsa-verifier/internal/tsa"
	"github.com/remiblancher/tsa-verifier/internal/verifier"
)

// Media types accepted by Verify.
const (
	MediaJSON = "application/json"
	MediaCBOR = "application/cbor"
)

// VerifyHandler handles verification requests.
type VerifyHandler struct {
	service *service.VerifyService
	host    string
}

// NewVerifyHandler creates a new VerifyHandler. host is recorded in audit
// events.
func NewVerifyHandler(svc *service.VerifyService, host string) *VerifyHandler {
	return &VerifyHandler{service: svc, host: host}
}

// Verify handles POST /api/v1/verify. The body is either a JSON
// verification document or its CBOR equivalent. Verdicts are always 200;
// only unreadable requests are errors.
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	req, original, err := decodeVerifyRequest(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp, err := h.service.Verify(r.Context(), req, original, h.actor(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// VerifyBatch handles POST /api/v1/verify/batch.
func (h *VerifyHandler) VerifyBatch(w http.ResponseWriter, r *http.Request) {
	if err := requireMedia(r, MediaJSON); err != nil {
		handleServiceError(w, r, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	var req dto.BatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, apierrors.NewBadRequest("Invalid JSON request body"))
		return
	}

	resp, err := h.service.VerifyDocuments(r.Context(), req.Items, h.actor(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *VerifyHandler) actor(r *http.Request) audit.Actor {
	id := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		id = host
	}
	return audit.Actor{Type: "service", ID: id, Host: h.host}
}

func decodeVerifyRequest(r *http.Request) (verifier.Request, *bool, error) {
	media, err := mediaType(r)
	if err != nil {
		return verifier.Request{}, nil, err
	}
	body, err := readBody(r)
	if err != nil {
		return verifier.Request{}, nil, err
	}

	switch media {
	case MediaCBOR:
		var c dto.VerifyCBORRequest
		if err := cbor.Unmarshal(body, &c); err != nil {
			return verifier.Request{}, nil, fmt.Errorf("invalid CBOR request body: %w", err)
		}
		req := verifier.Request{
			Hash:     c.Hash,
			Provider: c.Provider,
		}
		if len(c.Token) > 0 {
			req.Token = tsa.BinaryToken(c.Token)
		}
		if c.HashAlgorithm != "" {
			alg, err := tsa.ParseHashAlgorithm(c.HashAlgorithm)
			if err != nil {
				return verifier.Request{}, nil, err
			}
			req.HashAlgorithm = alg
		}
		return req, c.OriginalVerified, nil
	default:
		doc, err := verifier.ParseDocument(body)
		if err != nil {
			return verifier.Request{}, nil, err
		}
		return doc.Request, doc.OriginalVerified, nil
	}
}

func mediaType(r *http.Request) (string, error) {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return MediaJSON, nil
	}
	media, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return "", fmt.Errorf("%w: %s", apierrors.ErrUnsupportedMediaType, ct)
	}
	switch media {
	case MediaJSON, MediaCBOR:
		return media, nil
	default:
		return "", fmt.Errorf("%w: %s", apierrors.ErrUnsupportedMediaType, media)
	}
}

func requireMedia(r *http.Request, want string) error {
	media, err := mediaType(r)
	if err != nil {
		return err
	}
	if media != want {
		return fmt.Errorf("%w: %s", apierrors.ErrUnsupportedMediaType, media)
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return nil, fmt.Errorf("%w: limit is %d bytes", apierrors.ErrBodyTooLarge, tooLarge.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return body, nil
}
