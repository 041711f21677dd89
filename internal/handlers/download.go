package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/fjmerc/streamforge/internal/config"
	"github.com/fjmerc/streamforge/internal/playback"
	"github.com/fjmerc/streamforge/internal/utils"
)

// Media types served by the download routes.
const (
	contentTypePlaylist = "application/vnd.apple.mpegurl"
	contentTypeSegment  = "video/mp2t"
	contentTypeExport   = "video/mp4"
)

// Player is the playback surface. *playback.Service satisfies it.
type Player interface {
	Playlist(ctx context.Context, uploadID string) (*playback.Asset, error)
	Segment(ctx context.Context, userID int64, uploadID, segment string) (*playback.Asset, error)
	Export(ctx context.Context, userID int64, uploadID string) (*playback.Asset, error)
}

var _ Player = (*playback.Service)(nil)

// PlaylistHandler handles GET /v1/download/{uploadId}/playlist.m3u8
func PlaylistHandler(svc Player) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uploadID := mux.Vars(r)["uploadId"]

		asset, err := svc.Playlist(r.Context(), uploadID)
		if err != nil {
			sendServiceError(w, r, "playlist", uploadID, err)
			return
		}
		defer asset.Body.Close()

		w.Header().Set("Content-Type", contentTypePlaylist)
		w.Header().Set("Cache-Control", "no-cache")
		serveAsset(w, r, asset)
	}
}

// SegmentHandler handles GET /v1/download/{uploadId}/{segment}.ts
// The segment is watermarked for the viewer named by X-User-ID.
func SegmentHandler(svc Player, ops *utils.OperationTracker, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		uploadID, segment := vars["uploadId"], vars["segment"]

		userID, err := viewerID(r, cfg.DefaultUserID)
		if err != nil {
			sendError(w, err.Error(), "INVALID_USER", http.StatusBadRequest)
			return
		}

		finish, ok := track(w, ops, "segment", uploadID)
		if !ok {
			return
		}
		defer finish()

		asset, err := svc.Segment(r.Context(), userID, uploadID, segment)
		if err != nil {
			sendServiceError(w, r, "segment", uploadID, err)
			return
		}
		defer asset.Body.Close()

		w.Header().Set("Content-Type", contentTypeSegment)
		// Watermarked bytes differ per viewer.
		w.Header().Set("Cache-Control", "private, max-age=3600")
		w.Header().Set("X-Watermarked", strconv.FormatBool(asset.Watermarked))
		serveAsset(w, r, asset)
	}
}

// ExportHandler handles GET /v1/download/{uploadId}/export
func ExportHandler(svc Player, ops *utils.OperationTracker, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uploadID := mux.Vars(r)["uploadId"]

		userID, err := viewerID(r, cfg.DefaultUserID)
		if err != nil {
			sendError(w, err.Error(), "INVALID_USER", http.StatusBadRequest)
			return
		}

		finish, ok := track(w, ops, "export", uploadID)
		if !ok {
			return
		}
		defer finish()

		asset, err := svc.Export(r.Context(), userID, uploadID)
		if err != nil {
			sendServiceError(w, r, "export", uploadID, err)
			return
		}
		defer asset.Body.Close()

		w.Header().Set("Content-Type", contentTypeExport)
		w.Header().Set("Content-Disposition", utils.AttachmentDisposition(asset.Name))
		w.Header().Set("Cache-Control", "private, no-store")
		serveAsset(w, r, asset)
	}
}

// serveAsset streams the asset body, with range support when the body can seek.
func serveAsset(w http.ResponseWriter, r *http.Request, asset *playback.Asset) {
	if rs, ok := asset.Body.(io.ReadSeeker); ok {
		http.ServeContent(w, r, asset.Name, time.Time{}, rs)
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, asset.Body); err != nil {
		slog.Debug("asset stream interrupted", "name", asset.Name, "error", err)
	}
}
