package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"babble.town/caption"
	"babble.town/room"
	"babble.town/stt"
)

type fakeRecognitionService struct{}

func (fakeRecognitionService) Start(
	_ context.Context,
	_ string,
) (stt.Recognizer, error) {
	panic("not used in web tests")
}

type echoTranslator struct{}

func (echoTranslator) Translate(
	_ context.Context,
	_, text string,
) (string, error) {
	return text, nil
}

type discardPublisher struct{}

func (discardPublisher) Publish(_ context.Context, _ caption.Caption) error {
	return nil
}

func newTestServer(t *testing.T) (*Server, *room.Session) {
	t.Helper()
	session := room.NewSession(
		context.Background(),
		fakeRecognitionService{},
		echoTranslator{},
		discardPublisher{},
		log.New(io.Discard),
	)
	t.Cleanup(session.Close)

	return &Server{Session: session, Logger: log.New(io.Discard)}, session
}

func TestGetLanguages(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/languages", nil)
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /languages status = %d, want 200", rec.Code)
	}

	var languages []struct {
		Code string `json:"code"`
		Name string `json:"name"`
		Flag string `json:"flag"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &languages); err != nil {
		t.Fatalf("response is not a JSON array: %v", err)
	}
	if len(languages) == 0 || languages[0].Code != "en" {
		t.Errorf("catalog = %v, want ordered list starting with en", languages)
	}
}

func TestPostAttributesCreatesWorker(t *testing.T) {
	server, session := newTestServer(t)

	body := `{"participant_identity": "bob", "attributes": {"captions_language": "es"}}`
	req := httptest.NewRequest(http.MethodPost, "/attributes", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /attributes status = %d, want 202", rec.Code)
	}

	active := session.ActiveLanguages()
	if len(active) != 1 || active[0] != "es" {
		t.Errorf("ActiveLanguages() = %v, want [es]", active)
	}
}

func TestPostAttributesRejectsMalformedBody(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/attributes", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed POST /attributes status = %d, want 400", rec.Code)
	}
}

func TestPostAttributesRequiresIdentity(t *testing.T) {
	server, _ := newTestServer(t)

	body := `{"attributes": {"captions_language": "es"}}`
	req := httptest.NewRequest(http.MethodPost, "/attributes", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST /attributes without identity status = %d, want 400", rec.Code)
	}
}

func TestGetCaptionsWithoutStore(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/captions", nil)
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /captions without store status = %d, want 503", rec.Code)
	}
}
