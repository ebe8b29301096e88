package sandboxclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sessioncoordinator/coordinator/internal/cryptoutil"
)

// encodeOK writes the provider's uniform success envelope around data.
func encodeOK(w http.ResponseWriter, data interface{}) {
	raw, _ := json.Marshal(data)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: raw})
}

func TestCreateSignsRequestAndParsesResult(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/create-sandbox" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var cfg CreateConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		encodeOK(w, CreateResult{SandboxID: "sb1", ObjectID: "obj1", Status: "spawning", CreatedAt: 1})
	}))
	defer server.Close()

	signer := cryptoutil.NewHMACSigner("provider-secret")
	client := NewClient(server.URL, signer)

	result, err := client.Create(context.Background(), CreateConfig{RepoOwner: "o", RepoName: "r", AuthToken: "tok"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if result.ObjectID != "obj1" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if gotAuth == "" {
		t.Fatal("expected Authorization header to be set")
	}
}

func TestCreateClassifiesServiceUnavailableAsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, cryptoutil.NewHMACSigner("secret"))
	_, err := client.Create(context.Background(), CreateConfig{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransient(err) {
		t.Fatalf("expected transient classification, got %v", err)
	}
}

func TestCreateClassifiesBadRequestAsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(server.URL, cryptoutil.NewHMACSigner("secret"))
	_, err := client.Create(context.Background(), CreateConfig{})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransient(err) {
		t.Fatal("expected permanent classification")
	}
}

func TestSnapshotAndRestore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/snapshot-sandbox":
			encodeOK(w, SnapshotResult{ImageID: "img1"})
		case "/restore-sandbox":
			encodeOK(w, RestoreResult{SandboxID: "sb2", Status: "warming"})
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, cryptoutil.NewHMACSigner("secret"))

	snap, err := client.Snapshot(context.Background(), "obj1")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if snap.ImageID != "img1" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	restore, err := client.Restore(context.Background(), "img1", CreateConfig{RepoOwner: "o", RepoName: "r"})
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if restore.SandboxID != "sb2" {
		t.Fatalf("unexpected restore: %+v", restore)
	}
}

func TestCreateClassifiesApplicationFailureAsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(envelope{Success: false, Error: "repo not found"})
	}))
	defer server.Close()

	client := NewClient(server.URL, cryptoutil.NewHMACSigner("secret"))
	_, err := client.Create(context.Background(), CreateConfig{})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransient(err) {
		t.Fatal("expected permanent classification for an application-level failure")
	}
}
