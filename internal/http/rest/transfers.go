package rest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/artifact_connector/internal/connector"
	"github.com/italolelis/artifact_connector/internal/logctx"
	"github.com/italolelis/artifact_connector/internal/storage"
	"github.com/italolelis/artifact_connector/internal/transfer"
)

const (
	maxRequestBody      = 1 << 20
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// Transferer runs download and upload batches.
type Transferer interface {
	Get(ctx context.Context, artifacts, metadata []*connector.Download) error
	Put(ctx context.Context, artifacts, metadata []*connector.Upload) error
}

type ResourceRequest struct {
	Path string `json:"path"`
	// File is relative to the local repository and defaults to Path.
	File string `json:"file,omitempty"`
	// Exists turns a download into an existence check.
	Exists bool `json:"exists,omitempty"`
}

type DownloadRequest struct {
	Artifacts      []ResourceRequest `json:"artifacts"`
	Metadata       []ResourceRequest `json:"metadata"`
	ChecksumPolicy string            `json:"checksum_policy,omitempty"`
}

type UploadRequest struct {
	Artifacts []ResourceRequest `json:"artifacts"`
	Metadata  []ResourceRequest `json:"metadata"`
}

type ResourceResult struct {
	Path     string `json:"path"`
	Resource string `json:"resource"`
	File     string `json:"file,omitempty"`
	Status   string `json:"status"`
	Bytes    int64  `json:"bytes"`
	Error    string `json:"error,omitempty"`
}

type BatchResponse struct {
	Trace   string           `json:"trace,omitempty"`
	Results []ResourceResult `json:"results"`
}

type TransferRecord struct {
	ID            int64     `json:"id"`
	Direction     string    `json:"direction"`
	Resource      string    `json:"resource"`
	RemotePath    string    `json:"remote_path"`
	LocalFile     string    `json:"local_file,omitempty"`
	Status        string    `json:"status"`
	Bytes         int64     `json:"bytes"`
	Error         string    `json:"error,omitempty"`
	Trace         string    `json:"trace,omitempty"`
	InstanceID    string    `json:"instance_id"`
	TransferredAt time.Time `json:"transferred_at"`
}

type TransfersHandler struct {
	username  string
	password  string
	localRepo string
	policy    transfer.ChecksumPolicy
	transfers Transferer
	history   storage.TransferReadRepository
}

// NewTransfersHandler serves the transfer API. Local files are resolved
// under localRepo; policy applies to downloads that do not name one.
func NewTransfersHandler(
	username, password, localRepo string,
	policy transfer.ChecksumPolicy,
	transfers Transferer,
	history storage.TransferReadRepository,
) *TransfersHandler {
	return &TransfersHandler{
		username:  username,
		password:  password,
		localRepo: localRepo,
		policy:    policy,
		transfers: transfers,
		history:   history,
	}
}

func (h *TransfersHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.basicAuthMiddleware)

	r.Post("/downloads", h.HandleDownloads)
	r.Post("/uploads", h.HandleUploads)
	r.Get("/transfers", h.HandleTransfers)

	return r
}

// HandleDownloads runs one download batch and reports every resource.
func (h *TransfersHandler) HandleDownloads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	var req DownloadRequest
	if !decode(w, r, &req) {
		return
	}

	policy := h.policy

	if req.ChecksumPolicy != "" {
		p, err := transfer.ParseChecksumPolicy(req.ChecksumPolicy)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)

			return
		}

		policy = p
	}

	trace := logctx.TraceFromContext(ctx)

	build := func(items []ResourceRequest) ([]*connector.Download, error) {
		out := make([]*connector.Download, 0, len(items))

		for _, it := range items {
			remote, err := cleanRemotePath(it.Path)
			if err != nil {
				return nil, err
			}

			d := &connector.Download{Path: remote, ChecksumPolicy: policy, Trace: trace}

			if !it.Exists {
				if d.File, err = h.resolveLocal(it.File, remote); err != nil {
					return nil, err
				}
			}

			out = append(out, d)
		}

		return out, nil
	}

	artifacts, err := build(req.Artifacts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	metadata, err := build(req.Metadata)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	if len(artifacts)+len(metadata) == 0 {
		http.Error(w, "no resources requested", http.StatusBadRequest)

		return
	}

	if err := h.transfers.Get(ctx, artifacts, metadata); err != nil {
		logger.Error("download batch failed", "err", err)
		writeBatchError(w, err)

		return
	}

	resp := BatchResponse{Trace: trace}
	for _, d := range metadata {
		resp.Results = append(resp.Results, result(d.Path, transfer.ResourceMetadata, d.File, d.Bytes, d.Err))
	}

	for _, d := range artifacts {
		resp.Results = append(resp.Results, result(d.Path, transfer.ResourceArtifact, d.File, d.Bytes, d.Err))
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleUploads runs one upload batch and reports every resource.
func (h *TransfersHandler) HandleUploads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	var req UploadRequest
	if !decode(w, r, &req) {
		return
	}

	trace := logctx.TraceFromContext(ctx)

	build := func(items []ResourceRequest) ([]*connector.Upload, error) {
		out := make([]*connector.Upload, 0, len(items))

		for _, it := range items {
			remote, err := cleanRemotePath(it.Path)
			if err != nil {
				return nil, err
			}

			file, err := h.resolveLocal(it.File, remote)
			if err != nil {
				return nil, err
			}

			out = append(out, &connector.Upload{Path: remote, File: file, Trace: trace})
		}

		return out, nil
	}

	artifacts, err := build(req.Artifacts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	metadata, err := build(req.Metadata)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	if len(artifacts)+len(metadata) == 0 {
		http.Error(w, "no resources requested", http.StatusBadRequest)

		return
	}

	if err := h.transfers.Put(ctx, artifacts, metadata); err != nil {
		logger.Error("upload batch failed", "err", err)
		writeBatchError(w, err)

		return
	}

	resp := BatchResponse{Trace: trace}
	for _, u := range artifacts {
		resp.Results = append(resp.Results, result(u.Path, transfer.ResourceArtifact, u.File, u.Bytes, u.Err))
	}

	for _, u := range metadata {
		resp.Results = append(resp.Results, result(u.Path, transfer.ResourceMetadata, u.File, u.Bytes, u.Err))
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleTransfers lists recorded transfers, newest first.
func (h *TransfersHandler) HandleTransfers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	filter := storage.TransferFilter{
		Direction: r.URL.Query().Get("direction"),
		Status:    r.URL.Query().Get("status"),
		Limit:     defaultHistoryLimit,
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)

			return
		}

		filter.Limit = min(limit, maxHistoryLimit)
	}

	records, err := h.history.GetTransfers(ctx, filter)
	if err != nil {
		logger.Error("failed to list transfers", "err", err)
		http.Error(w, "failed to list transfers", http.StatusInternalServerError)

		return
	}

	out := make([]TransferRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, TransferRecord(rec))
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *TransfersHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.username == "" {
			next.ServeHTTP(w, r)

			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="artifact_connector"`)
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if subtle.ConstantTimeCompare([]byte(username), []byte(h.username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) != 1 {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// resolveLocal maps a repository relative file onto the local repository.
// Paths escaping the local repository are rejected.
func (h *TransfersHandler) resolveLocal(file, remote string) (string, error) {
	if file == "" {
		file = remote
	}

	if filepath.IsAbs(file) || strings.HasPrefix(file, "/") {
		return "", fmt.Errorf("file %q must be relative to the local repository", file)
	}

	full := filepath.Join(h.localRepo, filepath.FromSlash(file))

	rel, err := filepath.Rel(h.localRepo, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("file %q escapes the local repository", file)
	}

	return full, nil
}

func cleanRemotePath(p string) (string, error) {
	p = strings.TrimPrefix(strings.TrimSpace(p), "/")
	if p == "" {
		return "", errors.New("path is required")
	}

	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("path %q must not contain '..'", p)
		}
	}

	return path.Clean(p), nil
}

func result(p string, kind transfer.ResourceKind, file string, n int64, err error) ResourceResult {
	res := ResourceResult{Path: p, Resource: string(kind), File: file, Bytes: n, Status: storage.StatusSucceeded}

	var rerr *connector.ResourceError

	switch {
	case err == nil:
	case errors.As(err, &rerr) && rerr.NotFound():
		res.Status = storage.StatusNotFound
		res.Error = err.Error()
	default:
		res.Status = storage.StatusFailed
		res.Error = err.Error()
	}

	return res
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Debug("failed to decode request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return false
	}

	return true
}

func writeBatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, transfer.ErrClosed):
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "batch timed out", http.StatusGatewayTimeout)
	default:
		http.Error(w, "batch interrupted", http.StatusServiceUnavailable)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
