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
	"errors"
	"log/slog"
	"net/http"

	"github.com/engagetrack/intake/internal/review"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// ServeSMS handles operator replies. It always answers an empty TwiML
// document; outcomes reach the operator as separate SMS messages.
func (h *Handler) ServeSMS(w http.ResponseWriter, r *http.Request) {
	defer func() {
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(emptyTwiML))
	}()

	if err := r.ParseForm(); err != nil {
		slog.Warn("unreadable sms webhook", "error", err)
		return
	}
	from, body := r.PostForm.Get("From"), r.PostForm.Get("Body")

	out, err := h.reviewer.ResolveReply(r.Context(), from, body)
	switch {
	case err == nil:
		slog.Info("sms reply applied", "review_id", out.ReviewID, "resolution", out.Resolution)
	case errors.Is(err, review.ErrUnknownSender):
		slog.Debug("sms from unknown sender dropped")
	default:
		slog.Info("sms reply not applied", "error", err)
	}
}
