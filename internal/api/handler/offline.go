package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hszk-dev/offlinecache/internal/api/middleware"
	"github.com/hszk-dev/offlinecache/internal/domain/model"
	"github.com/hszk-dev/offlinecache/internal/domain/repository"
	"github.com/hszk-dev/offlinecache/internal/usecase"
)

// Request/Response types

type DownloadVideoRequest struct {
	VideoID  string `json:"video_id"`
	VideoURL string `json:"video_url"`
	Title    string `json:"title"`
}

type DownloadVideoResponse struct {
	VideoID string `json:"video_id"`
	Status  string `json:"status"`
}

type OfflineVideoResponse struct {
	VideoID      string  `json:"video_id"`
	VideoURL     string  `json:"video_url"`
	Title        string  `json:"title"`
	Status       string  `json:"status"`
	Progress     float64 `json:"progress"`
	Size         int64   `json:"size"`
	DownloadedAt string  `json:"downloaded_at"`
	ExpiresAt    string  `json:"expires_at"`
	Expired      bool    `json:"expired"`
}

type ListOfflineVideosResponse struct {
	Videos []OfflineVideoResponse `json:"videos"`
}

type ProgressResponse struct {
	VideoID  string  `json:"video_id"`
	Progress float64 `json:"progress"`
	Status   string  `json:"status"`
}

type AvailabilityResponse struct {
	VideoID   string `json:"video_id"`
	Available bool   `json:"available"`
}

type StorageStatsResponse struct {
	TotalVideos   int   `json:"total_videos"`
	TotalSize     int64 `json:"total_size"`
	ExpiredVideos int   `json:"expired_videos"`
}

type ClearAllResponse struct {
	RemovedObjects int `json:"removed_objects"`
	Records        int `json:"records"`
	FailedRecords  int `json:"failed_records"`
}

type StartSessionRequest struct {
	SessionID string `json:"session_id"`
}

type StartSessionResponse struct {
	Swept   bool `json:"swept"`
	Expired int  `json:"expired"`
	Deleted int  `json:"deleted"`
	Failed  int  `json:"failed"`
}

// OfflineHandler serves the offline video API for the authenticated user.
type OfflineHandler struct {
	svc usecase.OfflineService
	now func() time.Time
}

// NewOfflineHandler creates a new OfflineHandler.
func NewOfflineHandler(svc usecase.OfflineService) *OfflineHandler {
	return &OfflineHandler{svc: svc, now: time.Now}
}

// Routes mounts the handler under a router that already requires an identity.
func (h *OfflineHandler) Routes(r chi.Router) {
	r.Post("/sessions", h.StartSession)
	r.Route("/offline-videos", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Download)
		r.Delete("/", h.ClearAll)
		r.Get("/stats", h.Stats)
		r.Get("/{id}/progress", h.Progress)
		r.Get("/{id}/availability", h.Availability)
		r.Get("/{id}/content", h.Content)
		r.Delete("/{id}", h.Delete)
	})
}

// StartSession handles POST /v1/sessions
func (h *OfflineHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
			return
		}
	}
	if req.SessionID == "" {
		req.SessionID = middleware.GetRequestID(r.Context())
	}

	result, err := h.svc.StartSession(r.Context(), middleware.GetUserID(r.Context()), req.SessionID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	JSON(w, http.StatusOK, StartSessionResponse{
		Swept:   result.Swept,
		Expired: result.Expired,
		Deleted: result.Deleted,
		Failed:  result.Failed,
	})
}

// List handles GET /v1/offline-videos
func (h *OfflineHandler) List(w http.ResponseWriter, r *http.Request) {
	videos, err := h.svc.ListOfflineVideos(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	now := h.now()
	resp := ListOfflineVideosResponse{Videos: make([]OfflineVideoResponse, 0, len(videos))}
	for _, v := range videos {
		resp.Videos = append(resp.Videos, toOfflineVideoResponse(v, now))
	}
	JSON(w, http.StatusOK, resp)
}

// Download handles POST /v1/offline-videos
func (h *OfflineHandler) Download(w http.ResponseWriter, r *http.Request) {
	var req DownloadVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	err := h.svc.RequestDownload(r.Context(), middleware.GetUserID(r.Context()), usecase.DownloadRequest{
		VideoID:  req.VideoID,
		VideoURL: req.VideoURL,
		Title:    req.Title,
	})
	switch {
	case errors.Is(err, repository.ErrAlreadyDownloaded):
		JSON(w, http.StatusOK, DownloadVideoResponse{VideoID: req.VideoID, Status: model.StatusDownloaded.String()})
	case err != nil:
		h.handleServiceError(w, r, err)
	default:
		JSON(w, http.StatusAccepted, DownloadVideoResponse{VideoID: req.VideoID, Status: "queued"})
	}
}

// ClearAll handles DELETE /v1/offline-videos
func (h *OfflineHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ClearAllVideos(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, ClearAllResponse{
		RemovedObjects: result.RemovedObjects,
		Records:        result.Records,
		FailedRecords:  result.FailedRecords,
	})
}

// Stats handles GET /v1/offline-videos/stats
func (h *OfflineHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GetStorageStats(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, StorageStatsResponse{
		TotalVideos:   stats.TotalVideos,
		TotalSize:     stats.TotalSize,
		ExpiredVideos: stats.ExpiredVideos,
	})
}

// Progress handles GET /v1/offline-videos/{id}/progress
func (h *OfflineHandler) Progress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.svc.GetDownloadProgress(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, ProgressResponse{
		VideoID:  progress.VideoID,
		Progress: progress.Progress,
		Status:   progress.Status.String(),
	})
}

// Availability handles GET /v1/offline-videos/{id}/availability
func (h *OfflineHandler) Availability(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")
	available, err := h.svc.IsVideoOffline(r.Context(), middleware.GetUserID(r.Context()), videoID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, AvailabilityResponse{VideoID: videoID, Available: available})
}

// Content handles GET /v1/offline-videos/{id}/content
func (h *OfflineHandler) Content(w http.ResponseWriter, r *http.Request) {
	body, info, err := h.svc.OpenPlayback(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	defer body.Close()

	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}

	// Seekable payloads get Range support for players.
	if rs, ok := body.(io.ReadSeeker); ok {
		http.ServeContent(w, r, "", info.LastModified, rs)
		return
	}

	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("payload stream interrupted",
			"request_id", middleware.GetRequestID(r.Context()),
			"video_id", chi.URLParam(r, "id"),
			"error", err,
		)
	}
}

// Delete handles DELETE /v1/offline-videos/{id}
func (h *OfflineHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.svc.DeleteVideo(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), r.URL.Query().Get("url"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OfflineHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		netErr     *repository.NetworkError
		storageErr *repository.StorageError
	)

	switch {
	case errors.Is(err, repository.ErrVideoNotFound):
		Error(w, http.StatusNotFound, "video_not_found", "Offline video not found")
	case errors.Is(err, repository.ErrNotReady):
		Error(w, http.StatusServiceUnavailable, "not_ready", "Offline cache is not ready")
	case errors.Is(err, repository.ErrOffline):
		Error(w, http.StatusServiceUnavailable, "offline", "Network is unavailable")
	case errors.Is(err, model.ErrEmptyVideoID):
		Error(w, http.StatusBadRequest, "invalid_video_id", "Video ID is required")
	case errors.Is(err, model.ErrEmptyVideoURL):
		Error(w, http.StatusBadRequest, "invalid_video_url", "Video URL is required")
	case errors.Is(err, model.ErrTitleTooLong):
		Error(w, http.StatusBadRequest, "invalid_title", "Title exceeds maximum length")
	case errors.As(err, &netErr):
		Error(w, http.StatusBadGateway, "network_error", "Failed to fetch the video")
	case errors.As(err, &storageErr):
		h.logError(r, err)
		Error(w, http.StatusInternalServerError, "storage_error", "Offline storage failed")
	default:
		h.logError(r, err)
		Error(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

func (h *OfflineHandler) logError(r *http.Request, err error) {
	slog.Error("request failed",
		"request_id", middleware.GetRequestID(r.Context()),
		"user_id", middleware.GetUserID(r.Context()),
		"error", err,
	)
}

func toOfflineVideoResponse(v *model.OfflineVideo, now time.Time) OfflineVideoResponse {
	return OfflineVideoResponse{
		VideoID:      v.VideoID,
		VideoURL:     v.VideoURL,
		Title:        v.Title,
		Status:       v.Status.String(),
		Progress:     v.Progress,
		Size:         v.Size,
		DownloadedAt: v.DownloadedAt.Format(time.RFC3339),
		ExpiresAt:    v.ExpiresAt.Format(time.RFC3339),
		Expired:      v.IsExpired(now),
	}
}
