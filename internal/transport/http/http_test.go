package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nadzzz/macaria/internal/message"
	"github.com/nadzzz/macaria/internal/session"
	"github.com/nadzzz/macaria/internal/status"
)

type fakeInjector struct {
	mu  sync.Mutex
	got []string
	err error
}

func (f *fakeInjector) Inject(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, text)
	return f.err
}

type fakeSession struct{ snap session.Snapshot }

func (f fakeSession) Snapshot() session.Snapshot { return f.snap }

type fakeExplainer struct{ called chan struct{} }

func (f fakeExplainer) Explain(context.Context) error {
	close(f.called)
	return nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, bytes.NewBufferString(body)))
	return rec
}

func TestUtterance(t *testing.T) {
	inj := &fakeInjector{}
	h := New(0, Deps{Injector: inj}).Handler()

	rec := do(t, h, http.MethodPost, "/v1/utterances", `{"text":"¡Macaria, AVANZA!"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp UtteranceResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.True(t, resp.Accepted)
	require.Equal(t, "¡macaria, avanza!", resp.Normalized)
	require.Equal(t, []string{"¡Macaria, AVANZA!"}, inj.got)
}

func TestUtteranceRejectsBadInput(t *testing.T) {
	inj := &fakeInjector{}
	h := New(0, Deps{Injector: inj}).Handler()

	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/utterances", `{`).Code)
	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/utterances", `{"text":" \t "}`).Code)
	require.Empty(t, inj.got)

	inj.err = context.DeadlineExceeded
	require.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPost, "/v1/utterances", `{"text":"alto"}`).Code)

	inj.err = errors.New("closed")
	require.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodPost, "/v1/utterances", `{"text":"alto"}`).Code)

	h = New(0, Deps{}).Handler()
	require.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPost, "/v1/utterances", `{"text":"alto"}`).Code)
}

func TestStatus(t *testing.T) {
	board := status.NewBoard()
	board.SetMode(status.ModeActive)
	board.SetCommand(message.Stop.String())
	sess := fakeSession{snap: session.Snapshot{State: session.Active, WakeWord: "macaria", LastSeq: 3}}

	rec := do(t, New(0, Deps{Status: board, Session: sess}).Handler(), http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, status.ModeActive, resp.Status.Mode)
	require.Equal(t, "detener", resp.Status.Command)
	require.NotNil(t, resp.Session)
	require.Equal(t, session.Active, resp.Session.State)
	require.Equal(t, uint64(3), resp.Session.LastSeq)
}

func TestVocabulary(t *testing.T) {
	rec := do(t, New(0, Deps{}).Handler(), http.MethodGet, "/v1/vocabulary", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []VocabularyEntry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entries))
	require.Len(t, entries, len(message.Vocabulary()))
	require.Equal(t, "avanzar", entries[0].Label)
	require.Equal(t, "advance", entries[0].Tag)
	require.NotEmpty(t, entries[0].Rules)

	last := entries[len(entries)-1]
	require.Equal(t, message.Unrecognized.String(), last.Label)
	require.Empty(t, last.Rules)
}

func TestExplain(t *testing.T) {
	require.Equal(t, http.StatusServiceUnavailable, do(t, New(0, Deps{}).Handler(), http.MethodPost, "/v1/explain", "").Code)

	ex := fakeExplainer{called: make(chan struct{})}
	rec := do(t, New(0, Deps{Explainer: ex}).Handler(), http.MethodPost, "/v1/explain", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-ex.called:
	case <-time.After(2 * time.Second):
		t.Fatal("explainer not called")
	}
}

func TestSwaggerDoc(t *testing.T) {
	rec := do(t, New(0, Deps{}).Handler(), http.MethodGet, "/swagger/doc.json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "/v1/utterances")
}
