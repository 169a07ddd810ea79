package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"sealreg/internal/domain"
	"sealreg/internal/usecase"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

const maxSignedDocumentBytes = 32 << 20

type errorResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type partyRequest struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	SigningOrder int    `json:"signing_order" binding:"gte=0"`
}

type createEnvelopeRequest struct {
	RecordID   string         `json:"record_id" binding:"required"`
	EntitySlug string         `json:"entity_slug"`
	Lane       string         `json:"lane"`
	Actor      string         `json:"actor"`
	Parties    []partyRequest `json:"parties" binding:"dive"`
}

type createEnvelopeResponse struct {
	OK               bool                  `json:"ok"`
	EnvelopeID       string                `json:"envelope_id"`
	Status           domain.EnvelopeStatus `json:"status"`
	Lane             domain.Lane           `json:"lane"`
	Reused           bool                  `json:"reused"`
	BaseDocumentPath *string               `json:"base_document_path"`
	BaseDocumentErr  string                `json:"base_document_error,omitempty"`
	PartiesAdded     int                   `json:"parties_added"`
}

type sealRequest struct {
	RecordID string `json:"record_id" binding:"required"`
}

type sealResponse struct {
	OK bool `json:"ok"`
	usecase.SealOutcome
}

type resolveRequest struct {
	Hash       string `json:"hash"`
	EnvelopeID string `json:"envelope_id"`
	RecordID   string `json:"record_id"`
	Lane       string `json:"lane"`
	ExpiresIn  int    `json:"expires_in"`
	Recompute  bool   `json:"recompute"`
}

type verifyQuery struct {
	EnvelopeID string `form:"envelope_id" binding:"required"`
	Recompute  bool   `form:"recompute"`
}

type verifyResponse struct {
	OK bool `json:"ok"`
	usecase.Verification
}

type addPartiesRequest struct {
	Parties []partyRequest `json:"parties" binding:"required,min=1,dive"`
}

type partyStatusRequest struct {
	Email  string `json:"email" binding:"required"`
	Status string `json:"status" binding:"required"`
}

type envelopeResponse struct {
	OK          bool                  `json:"ok"`
	EnvelopeID  string                `json:"envelope_id"`
	RecordID    string                `json:"record_id"`
	Lane        domain.Lane           `json:"lane"`
	Status      domain.EnvelopeStatus `json:"status"`
	Hash        string                `json:"hash,omitempty"`
	StoragePath string                `json:"storage_path,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	mode := "no-db"
	if s.store != nil {
		mode = s.store.Mode()
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": mode})
}

func (s *Server) handleCreateEnvelope(c *gin.Context) {
	if !s.ready(c) {
		return
	}
	var req createEnvelopeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	lane, err := parseLane(req.Lane)
	if err != nil {
		writeError(c, err)
		return
	}
	slug := strings.TrimSpace(req.EntitySlug)
	if slug == "" {
		slug = s.cfg.DefaultEntitySlug
	}

	ctx := c.Request.Context()
	created, err := s.envelopes.CreateOrReuse(ctx, usecase.CreateEnvelopeRequest{
		RecordID:   req.RecordID,
		EntitySlug: slug,
		Lane:       lane,
		Actor:      req.Actor,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	env := created.Envelope
	resp := createEnvelopeResponse{
		OK:         true,
		EnvelopeID: env.ID,
		Status:     env.Status,
		Lane:       env.Lane,
		Reused:     created.Reused,
	}

	base, err := s.envelopes.EnsureBaseDocument(ctx, env.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	if base.Pointer != nil {
		path := base.Pointer.Path
		resp.BaseDocumentPath = &path
	} else {
		resp.BaseDocumentErr = base.FailureCode
	}

	if len(req.Parties) > 0 {
		added, err := s.envelopes.AddParties(ctx, env.ID, partyInputs(req.Parties))
		if err != nil {
			writeError(c, err)
			return
		}
		resp.PartiesAdded = added
	}

	status := http.StatusCreated
	if created.Reused {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

func (s *Server) handleSeal(c *gin.Context) {
	if !s.ready(c) {
		return
	}
	var req sealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	out, err := s.sealer.Seal(c.Request.Context(), req.RecordID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sealResponse{OK: true, SealOutcome: out})
}

func (s *Server) handleResolve(c *gin.Context) {
	if !s.ready(c) {
		return
	}
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	var lane domain.Lane
	if strings.TrimSpace(req.Lane) != "" {
		parsed, err := domain.ParseLane(req.Lane)
		if err != nil {
			writeError(c, err)
			return
		}
		lane = parsed
	}
	out, err := s.resolver.Resolve(c.Request.Context(), usecase.ResolveRequest{
		Reference: domain.ResolveReference{
			Hash:       req.Hash,
			EnvelopeID: req.EnvelopeID,
			RecordID:   req.RecordID,
			Lane:       lane,
		},
		ExpiresInSeconds: req.ExpiresIn,
		Recompute:        req.Recompute,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(resolutionStatus(out), out)
}

func (s *Server) handleVerify(c *gin.Context) {
	if !s.ready(c) {
		return
	}
	var q verifyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeBindError(c, err)
		return
	}
	out, err := s.resolver.Verify(c.Request.Context(), usecase.VerifyRequest{
		EnvelopeID: q.EnvelopeID,
		Recompute:  q.Recompute,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, verifyResponse{OK: true, Verification: out})
}

func (s *Server) handleCertificate(c *gin.Context) {
	if !s.ready(c) {
		return
	}
	hash := strings.TrimSpace(c.Query("hash"))
	if hash == "" {
		writeErrorCode(c, http.StatusBadRequest, domain.CodeInvalidRequest, "hash is required")
		return
	}
	ctx := c.Request.Context()
	out, err := s.resolver.Resolve(ctx, usecase.ResolveRequest{Reference: domain.ResolveReference{Hash: hash}})
	if err != nil {
		writeError(c, err)
		return
	}
	if !out.OK {
		writeErrorCode(c, resolutionStatus(out), out.Error, "no artifact for hash")
		return
	}
	if out.Pointers.Best == nil {
		writeErrorCode(c, http.StatusNotFound, usecase.ResolveErrNotResolved, "no downloadable artifact for hash")
		return
	}
	data, err := s.resolver.Download(ctx, *out.Pointers.Best)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", certificateName(out)))
	c.Data(http.StatusOK, domain.MimeTypePDF, data)
}

func (s *Server) handleAddParties(c *gin.Context) {
	if !s.ready(c) {
		return
	}
	var req addPartiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	added, err := s.envelopes.AddParties(c.Request.Context(), c.Param("id"), partyInputs(req.Parties))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "envelope_id": c.Param("id"), "parties_added": added})
}

func (s *Server) handlePartyStatus(c *gin.Context) {
	if !s.ready(c) {
		return
	}
	var req partyStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	status, err := domain.ParsePartyStatus(req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.envelopes.UpdatePartyStatus(c.Request.Context(), c.Param("id"), req.Email, status); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "envelope_id": c.Param("id"), "email": domain.NormalizeEmail(req.Email), "status": status})
}

func (s *Server) handleAttachSigned(c *gin.Context) {
	if !s.ready(c) {
		return
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSignedDocumentBytes+1))
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, domain.CodeInvalidRequest, "read body: "+err.Error())
		return
	}
	if len(data) > maxSignedDocumentBytes {
		writeErrorCode(c, http.StatusRequestEntityTooLarge, domain.CodeInvalidRequest, "signed document too large")
		return
	}
	env, err := s.envelopes.AttachSignedDocument(c.Request.Context(), c.Param("id"), data)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildEnvelopeResponse(env))
}

func (s *Server) handleCancel(c *gin.Context) {
	if !s.ready(c) {
		return
	}
	if err := s.envelopes.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "envelope_id": c.Param("id"), "status": domain.EnvelopeCancelled})
}

func (s *Server) handleBaseDocument(c *gin.Context) {
	if !s.ready(c) {
		return
	}
	out, err := s.envelopes.EnsureBaseDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if out.Pointer == nil {
		c.JSON(http.StatusAccepted, gin.H{
			"ok":          false,
			"envelope_id": c.Param("id"),
			"error":       out.FailureCode,
			"message":     out.Failure,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":                 true,
		"envelope_id":        c.Param("id"),
		"base_document_path": out.Pointer.Path,
		"rendered":           out.Rendered,
	})
}

func (s *Server) handleNoRoute(c *gin.Context) {
	writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
}

// ready rejects requests when startup wiring failed.
func (s *Server) ready(c *gin.Context) bool {
	if s.envelopes == nil || s.sealer == nil || s.resolver == nil {
		message := "service not initialised"
		if s.initErr != nil {
			message = s.initErr.Error()
		}
		writeErrorCode(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", message)
		return false
	}
	return true
}

func parseLane(raw string) (domain.Lane, error) {
	if strings.TrimSpace(raw) == "" {
		return domain.LaneRoT, nil
	}
	return domain.ParseLane(raw)
}

func partyInputs(in []partyRequest) []domain.PartyInput {
	out := make([]domain.PartyInput, 0, len(in))
	for _, p := range in {
		out = append(out, domain.PartyInput{
			Email:        p.Email,
			Name:         p.Name,
			Role:         p.Role,
			SigningOrder: p.SigningOrder,
		})
	}
	return out
}

func buildEnvelopeResponse(env domain.Envelope) envelopeResponse {
	out := envelopeResponse{
		OK:          true,
		EnvelopeID:  env.ID,
		RecordID:    env.RecordID,
		Lane:        env.Lane,
		Status:      env.Status,
		CompletedAt: env.CompletedAt,
	}
	if env.SignedDocument != nil {
		out.Hash = env.SignedDocument.Hash
		out.StoragePath = env.SignedDocument.Pointer.Path
	}
	return out
}

func resolutionStatus(out usecase.Resolution) int {
	if out.OK {
		return http.StatusOK
	}
	if out.Error == usecase.ResolveErrUnavailable {
		return http.StatusBadGateway
	}
	return http.StatusNotFound
}

func certificateName(out usecase.Resolution) string {
	switch {
	case out.RecordID != "":
		return out.RecordID + ".pdf"
	case len(out.Hash) >= 12:
		return out.Hash[:12] + ".pdf"
	}
	return "certificate.pdf"
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, domain.CodeInternal
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrDependency):
		status = http.StatusBadGateway
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		message = "internal error"
	} else {
		code = domain.CodeOf(err)
		if code == domain.CodeDependencyTimeout {
			status = http.StatusGatewayTimeout
		}
	}
	writeErrorCode(c, status, code, message)
}

// writeBindError flattens validator failures into "field:tag" pairs.
func writeBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeErrorCode(c, http.StatusBadRequest, domain.CodeInvalidRequest, err.Error())
		return
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+":"+fe.Tag())
	}
	sort.Strings(fields)
	writeErrorCode(c, http.StatusBadRequest, domain.CodeInvalidRequest, "invalid fields "+strings.Join(fields, ", "))
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		OK:      false,
		Error:   code,
		Message: message,
	})
}
