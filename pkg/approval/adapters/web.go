// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/fractary/faber/pkg/approval"
)

// Web serves a small local HTTP surface for approving/rejecting pending
// requests and exposes a chi.Router so it can be mounted into any host
// server. SendNotification just registers the request locally - the
// "notification" for this channel is the request becoming visible at
// GET /approvals; PollResponse checks whether POST /approvals/{id} has
// landed a decision yet.
type Web struct {
	router chi.Router

	mu       sync.Mutex
	requests map[string]*approval.Request
	decided  map[string]*approval.Response
}

// NewWeb constructs a Web adapter and wires its routes onto a fresh
// chi.Mux, returned via Router for the caller to mount.
func NewWeb() *Web {
	w := &Web{
		requests: make(map[string]*approval.Request),
		decided:  make(map[string]*approval.Response),
	}

	r := chi.NewRouter()
	r.Get("/approvals", w.handleList)
	r.Post("/approvals/{id}", w.handleDecide)
	w.router = r

	return w
}

// Router returns the chi.Router to mount (e.g. under "/faber") on the
// host's HTTP server.
func (w *Web) Router() chi.Router { return w.router }

// Name returns "web".
func (w *Web) Name() string { return "web" }

// SendNotification makes req visible to GET /approvals.
func (w *Web) SendNotification(_ context.Context, req *approval.Request) error {
	w.mu.Lock()
	w.requests[req.ID] = req
	w.mu.Unlock()
	return nil
}

// PollResponse returns the decision posted to POST /approvals/{id}, if any.
func (w *Web) PollResponse(_ context.Context, req *approval.Request) (*approval.Response, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	resp, ok := w.decided[req.ID]
	if !ok {
		return nil, nil
	}
	delete(w.decided, req.ID)
	delete(w.requests, req.ID)
	return resp, nil
}

func (w *Web) handleList(rw http.ResponseWriter, r *http.Request) {
	w.mu.Lock()
	pending := make([]*approval.Request, 0, len(w.requests))
	for _, req := range w.requests {
		pending = append(pending, req)
	}
	w.mu.Unlock()

	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(pending)
}

type webDecisionBody struct {
	Decision  string `json:"decision"`
	Comment   string `json:"comment,omitempty"`
	Responder string `json:"responder,omitempty"`
}

func (w *Web) handleDecide(rw http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body webDecisionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(rw, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if body.Decision == "" {
		http.Error(rw, "decision is required", http.StatusBadRequest)
		return
	}

	w.mu.Lock()
	_, known := w.requests[id]
	if known {
		w.decided[id] = &approval.Response{
			RequestID: id,
			Decision:  body.Decision,
			Comment:   body.Comment,
			Responder: body.Responder,
			Channel:   "web",
		}
	}
	w.mu.Unlock()

	if !known {
		http.Error(rw, "unknown or already-resolved approval request", http.StatusNotFound)
		return
	}
	rw.WriteHeader(http.StatusAccepted)
}
