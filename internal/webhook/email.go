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
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/engagetrack/intake/internal/ingest"
	"github.com/engagetrack/intake/internal/threadparse"
)

const (
	// DefaultMaxSkew is the largest accepted distance between the signed
	// timestamp and the server clock.
	DefaultMaxSkew = 300 * time.Second

	maxBodyBytes  = 25 << 20
	maxFormMemory = 10 << 20
)

var (
	errSignatureMissing = errors.New("missing signature fields")
	errSignatureStale   = errors.New("signature timestamp outside allowed window")
	errSignatureInvalid = errors.New("signature mismatch")
)

// ServeEmail handles the inbound email webhook. Parse failures answer 400
// and signature failures 403. Once authenticated the response is always
// 200 so the provider does not retry; the JSON status field reports
// internal failures.
func (h *Handler) ServeEmail(w http.ResponseWriter, r *http.Request) {
	form, err := readForm(r)
	if err != nil {
		slog.Warn("unreadable email webhook", "error", err)
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	if h.secret != "" {
		err := verifySignature(h.secret, form.Get("timestamp"), form.Get("token"), form.Get("signature"), h.now(), h.maxSkew)
		if err != nil {
			slog.Warn("rejected email webhook", "error", err)
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
	}

	d := deliveryFromForm(form)
	out, err := h.ingester.Ingest(r.Context(), d)
	if err != nil {
		slog.Error("ingestion failed", "delivery_id", d.ID, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "error",
			"error":   err.Error(),
			"outcome": out,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"outcome": out,
	})
}

// readForm parses a multipart body, falling back to url-encoded parsing of
// the raw body when multipart parsing yields no fields.
func readForm(r *http.Request) (url.Values, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	err = r.ParseMultipartForm(maxFormMemory)
	if err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, fmt.Errorf("parse form: %w", err)
	}
	if len(r.PostForm) > 0 {
		return r.PostForm, nil
	}

	vals, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse urlencoded body: %w", err)
	}
	return vals, nil
}

// verifySignature checks hex(HMAC-SHA256(secret, timestamp+token)).
func verifySignature(secret, timestamp, token, signature string, now time.Time, maxSkew time.Duration) error {
	if timestamp == "" || token == "" || signature == "" {
		return errSignatureMissing
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", errSignatureInvalid)
	}
	if math.Abs(float64(now.Unix()-ts)) > maxSkew.Seconds() {
		return errSignatureStale
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + token))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return errSignatureInvalid
	}
	return nil
}

func deliveryFromForm(form url.Values) ingest.Delivery {
	d := ingest.Delivery{
		ID:      form.Get("Message-Id"),
		Sender:  firstField(form, "sender", "from"),
		Subject: form.Get("subject"),
		Text:    firstField(form, "stripped-text", "body-plain"),
	}
	if raw := form.Get("Date"); raw != "" {
		if ts, ok := threadparse.ParseTimestamp(raw); ok {
			d.Timestamp = &ts
		}
	}
	if d.Timestamp == nil {
		if secs, err := strconv.ParseInt(form.Get("timestamp"), 10, 64); err == nil {
			ts := time.Unix(secs, 0).UTC()
			d.Timestamp = &ts
		}
	}
	return d
}

func firstField(form url.Values, keys ...string) string {
	for _, k := range keys {
		if v := form.Get(k); strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
