package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/datalens-dev/datalens/pkg/analysis"
	"github.com/datalens-dev/datalens/pkg/dataset"
	"github.com/datalens-dev/datalens/pkg/llm"
	"github.com/datalens-dev/datalens/pkg/snapshot"
	"github.com/datalens-dev/datalens/pkg/tools"
)

const salesCSV = `region,sales
east,100
east,2000000
west,50
west,3000000
north,10
`

func newTestServer(t *testing.T, provider llm.Provider, limits dataset.Limits) (*Server, *analysis.Manager) {
	t.Helper()
	agent := analysis.NewAgent(provider, tools.NewRegistry(), analysis.AgentConfig{}, zerolog.Nop())
	manager := analysis.NewManager(agent, snapshot.NewMemoryBackend(), analysis.ManagerConfig{}, zerolog.Nop())
	t.Cleanup(func() { manager.Close() })
	return NewServer(manager, limits, zerolog.Nop()), manager
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func uploadCSV(t *testing.T, srv *Server, sessionID, csv string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+sessionID+"/dataset", strings.NewReader(csv))
	req.Header.Set("Content-Type", "text/csv")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func createSession(t *testing.T, srv *Server) string {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/v1/sessions", map[string]string{"project_id": "p1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create session status = %d, body = %s", w.Code, w.Body.String())
	}
	var meta analysis.Metadata
	if err := json.Unmarshal(w.Body.Bytes(), &meta); err != nil {
		t.Fatal(err)
	}
	return meta.ID
}

func TestCreateAndGetSession(t *testing.T) {
	srv, _ := newTestServer(t, llm.NewMockProvider(), dataset.Limits{})
	id := createSession(t, srv)

	w := doJSON(t, srv, http.MethodGet, "/v1/sessions/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get session status = %d", w.Code)
	}
	var detail struct {
		Metadata analysis.Metadata `json:"metadata"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatal(err)
	}
	if detail.Metadata.ID != id || detail.Metadata.Status != analysis.StatusDraft {
		t.Errorf("metadata = %+v", detail.Metadata)
	}

	w = doJSON(t, srv, http.MethodGet, "/v1/sessions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list sessions status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), id) {
		t.Error("list does not contain the created session")
	}
}

func TestGetUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t, llm.NewMockProvider(), dataset.Limits{})
	w := doJSON(t, srv, http.MethodGet, "/v1/sessions/unknown", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestUploadDataset(t *testing.T) {
	srv, _ := newTestServer(t, llm.NewMockProvider(), dataset.Limits{})
	id := createSession(t, srv)

	w := uploadCSV(t, srv, id, salesCSV)
	if w.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body = %s", w.Code, w.Body.String())
	}
	var desc dataset.Description
	if err := json.Unmarshal(w.Body.Bytes(), &desc); err != nil {
		t.Fatal(err)
	}
	if desc.Rows != 5 || len(desc.Columns) != 2 {
		t.Errorf("description = %+v", desc)
	}
}

func TestUploadDatasetTooLarge(t *testing.T) {
	srv, _ := newTestServer(t, llm.NewMockProvider(), dataset.Limits{MaxRows: 2})
	id := createSession(t, srv)

	w := uploadCSV(t, srv, id, salesCSV)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestUploadDatasetMalformed(t *testing.T) {
	srv, _ := newTestServer(t, llm.NewMockProvider(), dataset.Limits{})
	id := createSession(t, srv)

	w := uploadCSV(t, srv, id, "a,b\n1,2,3,4,5\n\"unclosed")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestChat(t *testing.T) {
	mock := llm.NewMockProvider().
		Script(&llm.Response{
			ToolCalls: []llm.ToolCall{{
				ID:        "c1",
				Name:      "filter",
				Arguments: json.RawMessage(`{"column":"sales","operator":"gte","value":1000000}`),
			}},
		}).
		Script(&llm.Response{Content: "Two rows remain."})
	srv, _ := newTestServer(t, mock, dataset.Limits{})
	id := createSession(t, srv)
	uploadCSV(t, srv, id, salesCSV)

	w := doJSON(t, srv, http.MethodPost, "/v1/sessions/"+id+"/chat", map[string]string{"message": "keep big sales"})
	if w.Code != http.StatusOK {
		t.Fatalf("chat status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp chatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Message != "Two rows remain." {
		t.Errorf("message = %q", resp.Message)
	}
	if len(resp.Steps) != 1 || resp.Steps[0].Type != "filter" {
		t.Errorf("steps = %+v", resp.Steps)
	}
}

func TestChatMissingMessage(t *testing.T) {
	srv, _ := newTestServer(t, llm.NewMockProvider(), dataset.Limits{})
	id := createSession(t, srv)
	uploadCSV(t, srv, id, salesCSV)

	w := doJSON(t, srv, http.MethodPost, "/v1/sessions/"+id+"/chat", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestChatProviderDown(t *testing.T) {
	mock := llm.NewMockProvider().ScriptError(errors.New("upstream down"))
	srv, _ := newTestServer(t, mock, dataset.Limits{})
	id := createSession(t, srv)
	uploadCSV(t, srv, id, salesCSV)

	w := doJSON(t, srv, http.MethodPost, "/v1/sessions/"+id+"/chat", map[string]string{"message": "hi"})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

// parkedProvider blocks completions until released.
type parkedProvider struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *parkedProvider) Name() string { return "parked" }

func (p *parkedProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.once.Do(func() { close(p.started) })
	select {
	case <-p.release:
		return &llm.Response{Content: "done"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestChatWhileBusy(t *testing.T) {
	provider := &parkedProvider{started: make(chan struct{}), release: make(chan struct{})}
	srv, manager := newTestServer(t, provider, dataset.Limits{})
	id := createSession(t, srv)
	uploadCSV(t, srv, id, salesCSV)

	done := make(chan struct{})
	go func() {
		defer close(done)
		doJSON(t, srv, http.MethodPost, "/v1/sessions/"+id+"/chat", map[string]string{"message": "slow"})
	}()
	<-provider.started

	w := doJSON(t, srv, http.MethodPost, "/v1/sessions/"+id+"/chat", map[string]string{"message": "fast"})
	if w.Code != http.StatusConflict {
		t.Errorf("concurrent chat status = %d, want 409", w.Code)
	}

	close(provider.release)
	<-done

	sess, err := manager.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(sess.History()) != 2 {
		t.Errorf("history length = %d, want 2", len(sess.History()))
	}
}

func TestSnapshotLifecycle(t *testing.T) {
	mock := llm.NewMockProvider().
		Script(&llm.Response{
			ToolCalls: []llm.ToolCall{{
				ID:        "c1",
				Name:      "filter",
				Arguments: json.RawMessage(`{"column":"sales","operator":"gte","value":1000000}`),
			}},
		}).
		Script(&llm.Response{Content: "Filtered."})
	srv, _ := newTestServer(t, mock, dataset.Limits{})
	id := createSession(t, srv)
	uploadCSV(t, srv, id, salesCSV)

	w := doJSON(t, srv, http.MethodPost, "/v1/sessions/"+id+"/chat", map[string]string{"message": "filter"})
	if w.Code != http.StatusOK {
		t.Fatalf("chat status = %d", w.Code)
	}

	w = doJSON(t, srv, http.MethodPost, "/v1/sessions/"+id+"/snapshots", map[string]string{"name": "A"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create snapshot status = %d, body = %s", w.Code, w.Body.String())
	}
	var snap snapshot.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Name != "A" || snap.ID == "" {
		t.Errorf("snapshot = %+v", snap)
	}

	w = doJSON(t, srv, http.MethodGet, "/v1/sessions/"+id+"/snapshots", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list snapshots status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), snap.ID) {
		t.Error("list does not contain snapshot")
	}

	w = doJSON(t, srv, http.MethodGet, "/v1/sessions/"+id+"/snapshots?tree=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("snapshot tree status = %d", w.Code)
	}

	path := fmt.Sprintf("/v1/sessions/%s/snapshots/%s/restore", id, snap.ID)
	w = doJSON(t, srv, http.MethodPost, path, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("restore status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, srv, http.MethodPost, "/v1/sessions/"+id+"/snapshots/unknown/restore", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("restore unknown status = %d, want 404", w.Code)
	}
}

func TestResetSession(t *testing.T) {
	srv, _ := newTestServer(t, llm.NewMockProvider(), dataset.Limits{})
	id := createSession(t, srv)
	uploadCSV(t, srv, id, salesCSV)

	w := doJSON(t, srv, http.MethodPost, "/v1/sessions/"+id+"/reset", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reset status = %d", w.Code)
	}
	var desc dataset.Description
	if err := json.Unmarshal(w.Body.Bytes(), &desc); err != nil {
		t.Fatal(err)
	}
	if desc.Rows != 5 {
		t.Errorf("rows after reset = %d, want 5", desc.Rows)
	}
}

func TestArchiveAndDeleteSession(t *testing.T) {
	srv, manager := newTestServer(t, llm.NewMockProvider(), dataset.Limits{})
	id := createSession(t, srv)

	w := doJSON(t, srv, http.MethodPost, "/v1/sessions/"+id+"/archive", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("archive status = %d", w.Code)
	}
	sess, err := manager.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Metadata().Status != analysis.StatusArchived {
		t.Errorf("status = %q, want archived", sess.Metadata().Status)
	}

	w = doJSON(t, srv, http.MethodDelete, "/v1/sessions/"+id, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = doJSON(t, srv, http.MethodGet, "/v1/sessions/"+id, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, llm.NewMockProvider(), dataset.Limits{})
	w := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("healthz status = %d", w.Code)
	}
}
