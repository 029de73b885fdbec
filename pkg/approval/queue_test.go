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

package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter lets tests control exactly when a response becomes visible.
type fakeAdapter struct {
	name      string
	notifyErr error

	mu       sync.Mutex
	response *Response
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) SendNotification(context.Context, *Request) error {
	return f.notifyErr
}

func (f *fakeAdapter) PollResponse(context.Context, *Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.response, nil
}

func (f *fakeAdapter) setResponse(r *Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.response = r
}

func TestQueue_RequestReturnsFirstResponse(t *testing.T) {
	q := NewQueue(nil)
	fast := &fakeAdapter{name: "fast"}
	q.RegisterAdapter(fast)

	go func() {
		time.Sleep(10 * time.Millisecond)
		fast.setResponse(&Response{Decision: "approve", Responder: "alice"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := q.Request(ctx, "WF-1", "build", "proceed?", nil, nil, 1, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "approve", resp.Decision)
}

func TestQueue_NotifyFailureOnOneChannelStillProceeds(t *testing.T) {
	q := NewQueue(nil)
	broken := &fakeAdapter{name: "broken", notifyErr: errors.New("smtp down")}
	working := &fakeAdapter{name: "working"}
	q.RegisterAdapter(broken)
	q.RegisterAdapter(working)

	go func() {
		time.Sleep(10 * time.Millisecond)
		working.setResponse(&Response{Decision: "approve"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := q.Request(ctx, "WF-1", "build", "proceed?", nil, nil, 1, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "approve", resp.Decision)
}

func TestQueue_TimeoutSynthesizesResponse(t *testing.T) {
	q := NewQueue(nil)
	q.RegisterAdapter(&fakeAdapter{name: "silent"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now().Add(-2 * time.Minute) // already past a 1-minute timeout
	resp, err := q.Request(ctx, "WF-1", "build", "proceed?", nil, nil, 1, start)
	require.NoError(t, err)
	assert.Equal(t, "timeout", resp.Decision)
}

func TestQueue_SubmitResponse_FirstWriterWins(t *testing.T) {
	q := NewQueue(nil)

	accepted := q.SubmitResponse(&Response{RequestID: "APR-1", Decision: "approve", Channel: "cli"})
	assert.True(t, accepted)

	accepted = q.SubmitResponse(&Response{RequestID: "APR-1", Decision: "reject", Channel: "web"})
	assert.False(t, accepted)

	resp, ok := q.getResponse("APR-1")
	require.True(t, ok)
	assert.Equal(t, "approve", resp.Decision)
}

func TestQueue_Cancel_SynthesizesCancelledResponse(t *testing.T) {
	q := NewQueue(nil)
	q.RegisterAdapter(&fakeAdapter{name: "silent"})

	var resp *Response
	var err error
	done := make(chan struct{})

	go func() {
		resp, err = q.Request(context.Background(), "WF-1", "build", "proceed?", nil, nil, 60, time.Now())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	pending := q.GetPendingRequests()
	require.Len(t, pending, 1)
	q.Cancel(pending[0].ID)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Request did not return after Cancel")
	}

	require.NoError(t, err)
	assert.Equal(t, "cancelled", resp.Decision)
}

func TestQueue_DefaultOptionsApplied(t *testing.T) {
	q := NewQueue(nil)
	fast := &fakeAdapter{name: "fast"}
	q.RegisterAdapter(fast)

	go func() {
		time.Sleep(10 * time.Millisecond)
		fast.setResponse(&Response{Decision: "approve"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := q.Request(ctx, "WF-1", "build", "proceed?", nil, nil, 1, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "approve", resp.Decision)

	pending := q.GetPendingRequests()
	assert.Empty(t, pending)

	q.mu.RLock()
	defer q.mu.RUnlock()
	require.Len(t, q.requests, 1)
	for _, req := range q.requests {
		assert.Equal(t, defaultOptions, req.Options)
	}
}

// TestQueue_ZeroTimeoutRespondsImmediatelyWhenAdapterAnswersAtFirstPoll
// covers spec.md's boundary case: timeout_minutes=0 is not "use the
// default" - it is a deadline of now, but an adapter that already has a
// response at the very first poll still wins over the timeout.
func TestQueue_ZeroTimeoutRespondsImmediatelyWhenAdapterAnswersAtFirstPoll(t *testing.T) {
	q := NewQueue(nil)
	fast := &fakeAdapter{name: "fast"}
	fast.setResponse(&Response{Decision: "approve"})
	q.RegisterAdapter(fast)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := q.Request(ctx, "WF-1", "build", "proceed?", nil, nil, 0, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "approve", resp.Decision)
}

// TestQueue_ZeroTimeoutExpiresImmediatelyWithNoResponse is the other half
// of the boundary: no adapter has a response ready, so a zero timeout
// resolves to a synthesized timeout instead of silently waiting
// defaultTimeoutMinutes.
func TestQueue_ZeroTimeoutExpiresImmediatelyWithNoResponse(t *testing.T) {
	q := NewQueue(nil)
	q.RegisterAdapter(&fakeAdapter{name: "silent"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	resp, err := q.Request(ctx, "WF-1", "build", "proceed?", nil, nil, 0, start)
	require.NoError(t, err)
	assert.Equal(t, "timeout", resp.Decision)
	assert.WithinDuration(t, start, time.Now(), 1*time.Second)
}
