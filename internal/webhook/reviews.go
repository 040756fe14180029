// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/engagetrack/intake/internal/ingest"
	"github.com/engagetrack/intake/internal/materialize"
	"github.com/engagetrack/intake/internal/models"
	"github.com/engagetrack/intake/internal/review"
)

// resolveRequest is the resolve endpoint body. ReviewID is optional; when
// present it must match the path.
type resolveRequest struct {
	ReviewID string `json:"review_id,omitempty"`
	review.Action
}

// ServeResolve applies a UI resolution.
func (h *Handler) ServeResolve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req resolveRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ReviewID != "" && req.ReviewID != id {
		writeError(w, http.StatusBadRequest, "review_id does not match path")
		return
	}

	out, err := h.reviewer.Resolve(r.Context(), id, req.Action)
	if err != nil {
		writeReviewError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ServeNotify re-sends the SMS for an unresolved review.
func (h *Handler) ServeNotify(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.reviewer.Renotify(r.Context(), id); err != nil {
		writeReviewError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent", "review_id": id})
}

// ServeReclassify runs classification and routing for one stored message.
func (h *Handler) ServeReclassify(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	d, err := h.ingester.Reclassify(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, d)
	case errors.Is(err, ingest.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ingest.ErrAlreadyRouted):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("reclassify failed", "message_id", id, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// ServeResume re-runs a materialization saga.
func (h *Handler) ServeResume(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := h.materializer.Resume(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, run)
	case errors.Is(err, materialize.ErrRunNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		slog.Error("resume failed", "run_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "resume failed")
	}
}

// ServeLinks lists an entity's links, flagging dangling ones.
func (h *Handler) ServeLinks(w http.ResponseWriter, r *http.Request) {
	kind, err := models.ParseEntityKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	links, err := h.materializer.ResolveLinks(r.Context(), models.EntityRef{Kind: kind, ID: r.PathValue("id")})
	if err != nil {
		slog.Error("list links failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list links failed")
		return
	}
	if links == nil {
		links = []materialize.ResolvedLink{}
	}
	writeJSON(w, http.StatusOK, links)
}

func writeReviewError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, review.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, review.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, review.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("review action failed", "review_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
