package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/clawdhub/skillguard/automod/engine"
	"github.com/clawdhub/skillguard/automod/gate"
	"github.com/clawdhub/skillguard/automod/quality"
	"github.com/clawdhub/skillguard/automod/reputation"
	"github.com/clawdhub/skillguard/automod/scanner"
	"github.com/clawdhub/skillguard/automod/store"
	"github.com/clawdhub/skillguard/automod/trust"
	"github.com/clawdhub/skillguard/models"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
)

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Message string `json:"message,omitempty"`
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	errorMessage := "internal error"
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		errorMessage = fmt.Sprintf("%s", he.Message)
	}
	if code >= 500 {
		srv.logger.Warn("warden-http-internal-error", "err", err)
	}
	c.JSON(code, GenericStatus{Status: "error", Daemon: "warden", Message: errorMessage})
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	if err := srv.store.Ping(c.Request().Context()); err != nil {
		srv.logger.Error("health check failed", "err", err)
		return c.JSON(500, GenericStatus{Status: "error", Daemon: "warden", Message: "database unavailable"})
	}
	return c.JSON(200, GenericStatus{Status: "ok", Daemon: "warden", Version: versioninfo.Short()})
}

type SkillTrustResponse struct {
	Slug string `json:"slug"`
	trust.TierInfo
	Safe       bool               `json:"safe"`
	Warning    bool               `json:"warning"`
	Reputation *reputation.Report `json:"reputation,omitempty"`
}

// a reputation lookup is only worth making while no verdict is stored. A bundle
// unknown to the reputation service may be analyzed later, so not_found is not final.
func needsReputation(v *models.SkillVersion) bool {
	if v == nil || v.Sha256hash == nil || *v.Sha256hash == "" {
		return false
	}
	if v.ReputationStatus == nil {
		return true
	}
	switch *v.ReputationStatus {
	case reputation.StatusPending, reputation.StatusNotFound:
		return true
	}
	return false
}

func (srv *Server) HandleSkillTrust(c echo.Context) error {
	ctx := c.Request().Context()
	slug := c.Param("slug")

	sk, err := srv.store.GetSkillBySlug(ctx, slug)
	if errors.Is(err, store.ErrSkillNotFound) || (err == nil && sk.IsSoftDeleted()) {
		return c.JSON(404, GenericError{
			Error:   "SkillNotFound",
			Message: fmt.Sprintf("no skill with slug %q", slug),
		})
	} else if err != nil {
		return err
	}

	var version *models.SkillVersion
	if sk.LatestVersionID != nil {
		version, err = srv.store.GetVersion(ctx, *sk.LatestVersionID)
		if err != nil {
			return err
		}
	}
	owner, err := srv.store.GetUser(ctx, sk.OwnerID)
	if err != nil {
		return err
	}

	var rep *reputation.Report
	if srv.reputation != nil && needsReputation(version) {
		rep = srv.reputation.Lookup(ctx, *version.Sha256hash)
		if rep.Status != reputation.StatusError {
			status := rep.Status
			if err := srv.store.SetReputation(ctx, version.ID, status, srv.now()); err != nil {
				srv.logger.Error("failed to persist reputation status", "skill", sk.Slug, "version", version.ID, "err", err)
			}
			version.ReputationStatus = &status
		}
	}

	tier := trust.Classify(trust.SubjectFor(sk, version, owner), srv.now())
	trustLookups.WithLabelValues(string(tier)).Inc()
	return c.JSON(200, SkillTrustResponse{
		Slug:       sk.Slug,
		TierInfo:   trust.Info(tier),
		Safe:       trust.IsSafe(tier),
		Warning:    trust.IsWarning(tier),
		Reputation: rep,
	})
}

func (srv *Server) HandleAutomodRun(c echo.Context) error {
	if srv.engine == nil {
		return c.JSON(503, GenericError{Error: "AutomodNotConfigured", Message: "automod engine is not enabled"})
	}

	var body engine.Config
	if err := c.Bind(&body); err != nil {
		return c.JSON(400, GenericError{Error: "BadRequest", Message: fmt.Sprintf("invalid request body: %s", err)})
	}
	cfg := srv.automod
	if body.BatchSize != 0 {
		cfg.BatchSize = body.BatchSize
	}
	if body.MaxBatches != 0 {
		cfg.MaxBatches = body.MaxBatches
	}

	res, err := srv.engine.Run(c.Request().Context(), cfg)
	if errors.Is(err, engine.ErrActorNotConfigured) {
		return c.JSON(503, GenericError{Error: "AutomodNotConfigured", Message: err.Error()})
	} else if err != nil {
		return fmt.Errorf("automod run failed: %w", err)
	}
	return c.JSON(200, res)
}

type SubmissionCheckRequest struct {
	OwnerID     uint               `json:"ownerId"`
	Slug        string             `json:"slug,omitempty"`
	DisplayName string             `json:"displayName,omitempty"`
	Readme      string             `json:"readme"`
	Summary     string             `json:"summary,omitempty"`
	Parsed      models.ParsedSkill `json:"parsed"`
	Files       []models.SkillFile `json:"files"`
}

type QualityRejection struct {
	GenericError
	Assessment quality.Assessment `json:"assessment"`
}

func (srv *Server) HandleSubmissionCheck(c echo.Context) error {
	ctx := c.Request().Context()
	if srv.gate == nil {
		return c.JSON(503, GenericError{Error: "GateNotConfigured", Message: "publish checks are not enabled"})
	}

	var req SubmissionCheckRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(400, GenericError{Error: "BadRequest", Message: fmt.Sprintf("invalid request body: %s", err)})
	}

	owner, err := srv.store.GetUser(ctx, req.OwnerID)
	if err != nil {
		return err
	}
	if owner == nil {
		return c.JSON(400, GenericError{Error: "UnknownOwner", Message: fmt.Sprintf("no user with id %d", req.OwnerID)})
	}
	total, err := srv.store.CountSkillsByOwner(ctx, owner.ID)
	if err != nil {
		return err
	}
	created := owner.CreatedAt
	if owner.GithubCreatedAt != nil {
		created = *owner.GithubCreatedAt
	}

	out, err := srv.gate.Check(ctx, gate.Submission{
		Slug:             req.Slug,
		DisplayName:      req.DisplayName,
		Parsed:           req.Parsed,
		SubmitterID:      strconv.FormatUint(uint64(owner.ID), 10),
		AccountCreatedAt: created,
		TotalSkills:      total,
		Readme:           req.Readme,
		Summary:          req.Summary,
		Files:            req.Files,
	})
	var rejected *gate.RejectedError
	var blocked *scanner.SecurityError
	switch {
	case errors.As(err, &rejected):
		return c.JSON(422, QualityRejection{
			GenericError: GenericError{Error: "QualityRejected", Message: rejected.Error()},
			Assessment:   rejected.Assessment,
		})
	case errors.As(err, &blocked):
		return c.JSON(422, blocked)
	case err != nil:
		return err
	}
	return c.JSON(200, out)
}

func (srv *Server) HandleVersionReputationSubmit(c echo.Context) error {
	if srv.submitter == nil {
		return c.JSON(503, GenericError{Error: "ReputationNotConfigured", Message: "bundle submission is not enabled"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(400, GenericError{Error: "BadRequest", Message: fmt.Sprintf("invalid version id %q", c.Param("id"))})
	}

	res, err := srv.submitter.SubmitVersion(c.Request().Context(), uint(id))
	switch {
	case errors.Is(err, reputation.ErrVersionNotFound):
		return c.JSON(404, GenericError{Error: "VersionNotFound", Message: fmt.Sprintf("no skill version with id %d", id)})
	case errors.Is(err, reputation.ErrNoStoredFiles):
		return c.JSON(409, GenericError{Error: "FilesUnavailable", Message: err.Error()})
	case err != nil:
		return fmt.Errorf("submitting version %d: %w", id, err)
	}
	return c.JSON(200, res)
}
