package remote

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

const (
	testRepo   = "octo/chat-data"
	testToken  = "test-token"
	testBranch = "main"
)

type fakeObject struct {
	content []byte
	sha     string
}

// fakeContentsAPI mimics the parts of the GitHub contents API the client
// uses, including sha-checked writes.
type fakeContentsAPI struct {
	t *testing.T

	mu      sync.Mutex
	objects map[string]fakeObject
	gets    int
	raws    int
	puts    int
	// largeFiles answers JSON reads like the API does for files over 1 MB:
	// no content and encoding "none". The bytes are only served raw.
	largeFiles bool
	// failStatus forces every request to answer with this status when set.
	failStatus int
}

func newFakeContentsAPI(t *testing.T) (*fakeContentsAPI, *httptest.Server) {
	t.Helper()
	f := &fakeContentsAPI{t: t, objects: make(map[string]fakeObject)}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestClient(srv *httptest.Server) *Client {
	c := NewClient(ClientConfig{APIBase: srv.URL, Token: testToken, Repo: testRepo, Branch: testBranch})
	c.HTTPClient = srv.Client()
	return c
}

func blobSHA(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

func (f *fakeContentsAPI) object(path string) (fakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[path]
	return obj, ok
}

func (f *fakeContentsAPI) seed(path string, content []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	sha := blobSHA(content)
	f.objects[path] = fakeObject{content: content, sha: sha}
	return sha
}

func (f *fakeContentsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if got := r.Header.Get("Authorization"); got != "Bearer "+testToken {
		http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
		return
	}
	prefix := "/repos/" + testRepo + "/contents/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, prefix)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failStatus != 0 {
		w.WriteHeader(f.failStatus)
		_, _ = w.Write([]byte(`{"message":"forced failure"}`))
		return
	}

	switch r.Method {
	case http.MethodGet:
		f.gets++
		if ref := r.URL.Query().Get("ref"); ref != testBranch {
			f.t.Errorf("unexpected ref %q", ref)
		}
		obj, ok := f.objects[path]
		if !ok {
			http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
			return
		}
		if r.Header.Get("Accept") == "application/vnd.github.raw" {
			f.raws++
			_, _ = w.Write(obj.content)
			return
		}
		if f.largeFiles {
			_ = json.NewEncoder(w).Encode(map[string]string{
				"sha":      obj.sha,
				"content":  "",
				"encoding": "none",
			})
			return
		}
		enc := base64.StdEncoding.EncodeToString(obj.content)
		var wrapped strings.Builder
		for len(enc) > 60 {
			wrapped.WriteString(enc[:60])
			wrapped.WriteString("\n")
			enc = enc[60:]
		}
		wrapped.WriteString(enc)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"sha":      obj.sha,
			"content":  wrapped.String(),
			"encoding": "base64",
		})

	case http.MethodPut:
		f.puts++
		var req putRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Branch != testBranch {
			f.t.Errorf("unexpected branch %q", req.Branch)
		}
		obj, exists := f.objects[path]
		switch {
		case exists && req.SHA == "":
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"Invalid request.\n\n\"sha\" wasn't supplied."}`))
			return
		case exists && req.SHA != obj.sha:
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"does not match"}`))
			return
		case !exists && req.SHA != "":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"does not match"}`))
			return
		}
		content, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sha := blobSHA(content)
		f.objects[path] = fakeObject{content: content, sha: sha}
		status := http.StatusOK
		if !exists {
			status = http.StatusCreated
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"content": map[string]string{"sha": sha}})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
