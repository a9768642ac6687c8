package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/findmydocs/backend/internal/auth"
	"github.com/findmydocs/backend/internal/domain"
	"github.com/findmydocs/backend/internal/middleware"
	"github.com/findmydocs/backend/internal/realtime"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Warning string          `json:"warning"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testEnv struct {
	chat     *mockChatService
	notifs   *mockNotificationService
	docs     *mockDocumentService
	reader   *mockProfileReader
	resolver fallbackResolver
	verifier *auth.TokenVerifier
	hub      *realtime.Hub
	ws       *WebSocketManager
	handler  http.Handler
	userID   uuid.UUID
	token    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	env := &testEnv{
		chat:     &mockChatService{},
		notifs:   &mockNotificationService{},
		docs:     &mockDocumentService{},
		reader:   &mockProfileReader{},
		resolver: fallbackResolver{},
		verifier: auth.NewTokenVerifier("test-secret", "", ""),
		hub:      realtime.NewHub(8, logger),
		userID:   uuid.New(),
	}
	t.Cleanup(env.hub.Close)

	token, err := env.verifier.Issue(env.userID, "me@example.com", time.Hour)
	require.NoError(t, err)
	env.token = token

	env.ws = NewWebSocketManager(env.hub, env.resolver, nil, logger)
	router := NewRouter(
		NewChatHandler(env.chat, env.ws, logger),
		NewNotificationHandler(env.notifs, logger),
		NewProfileHandler(env.resolver, env.reader, logger),
		NewDocumentHandler(env.docs, logger),
		NewHealthHandler(nil, "test", logger),
		RouterConfig{
			Verifier: env.verifier,
			Limiter:  middleware.NewRateLimiter(0.001, 2),
		},
		logger,
	)
	env.handler = router.Setup()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+e.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.serve(t, req)
}

func (e *testEnv) serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/v1/threads", "/api/v1/notifications", "/api/v1/me", "/api/v1/documents/nearby?lat=1&lng=1"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec, _ := env.serve(t, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestGetThreads(t *testing.T) {
	env := newTestEnv(t)
	peer := uuid.New()
	threads := []*domain.Thread{{
		Key:                domain.PairThreadKey(env.userID, peer).String(),
		LastMessage:        &domain.Message{ID: uuid.New(), SenderID: peer, ReceiverID: env.userID, Text: "hello"},
		UnreadCount:        2,
		OtherParticipantID: peer,
	}}
	env.chat.On("LoadThreads", mock.Anything, env.userID).Return(threads, nil)

	rec, body := env.do(t, http.MethodGet, "/api/v1/threads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)

	var got []domain.Thread
	require.NoError(t, json.Unmarshal(body.Data, &got))
	require.Len(t, got, 1)
	assert.Equal(t, threads[0].Key, got[0].Key)
	assert.Equal(t, 2, got[0].UnreadCount)
}

func TestGetThreadsDegradesOnFailure(t *testing.T) {
	env := newTestEnv(t)
	env.chat.On("LoadThreads", mock.Anything, env.userID).Return(nil, errors.New("db down"))

	rec, body := env.do(t, http.MethodGet, "/api/v1/threads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)
	assert.Equal(t, "could not load conversations", body.Warning)
	assert.JSONEq(t, `[]`, string(body.Data))
}

func TestGetThreadMessages(t *testing.T) {
	env := newTestEnv(t)
	doc := uuid.New()
	key := domain.DocumentThreadKey(doc)
	env.chat.On("ThreadMessages", mock.Anything, env.userID, key, 10, 10).Return([]*domain.Message{}, nil)

	rec, body := env.do(t, http.MethodGet, "/api/v1/threads/"+key.String()+"/messages?page=2&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(body.Data))
	env.chat.AssertExpectations(t)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/threads/garbage/messages", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetThreadMessagesForbidden(t *testing.T) {
	env := newTestEnv(t)
	key := domain.PairThreadKey(uuid.New(), uuid.New())
	env.chat.On("ThreadMessages", mock.Anything, env.userID, key, defaultPageSize, 0).
		Return(nil, fmt.Errorf("thread %s: %w", key, domain.ErrForbidden))

	rec, body := env.do(t, http.MethodGet, "/api/v1/threads/"+key.String()+"/messages", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "FORBIDDEN", body.Error.Code)
}

func TestMarkThreadRead(t *testing.T) {
	env := newTestEnv(t)
	key := domain.PairThreadKey(env.userID, uuid.New())
	env.chat.On("MarkThreadRead", mock.Anything, env.userID, key).Return(3, nil)

	rec, body := env.do(t, http.MethodPost, "/api/v1/threads/"+key.String()+"/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated":3}`, string(body.Data))
}

func TestSendMessage(t *testing.T) {
	env := newTestEnv(t)
	peer, doc := uuid.New(), uuid.New()
	stored := &domain.Message{ID: uuid.New(), SenderID: env.userID, ReceiverID: peer, DocumentID: &doc, Text: "I have it"}

	env.chat.On("SendMessage", mock.Anything, env.userID, domain.SendMessageParams{
		ReceiverID: peer,
		DocumentID: &doc,
		Text:       "I have it",
		Location:   &domain.Location{Lat: 1.5, Lng: 2.5},
	}).Return(stored, nil)

	rec, body := env.do(t, http.MethodPost, "/api/v1/messages", map[string]any{
		"receiver_id": peer.String(),
		"document_id": doc.String(),
		"text":        "I have it",
		"location":    map[string]float64{"lat": 1.5, "lng": 2.5},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var got domain.Message
	require.NoError(t, json.Unmarshal(body.Data, &got))
	assert.Equal(t, stored.ID, got.ID)
}

func TestSendMessageValidation(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/v1/messages", map[string]any{"receiver_id": "nope", "text": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "VALIDATION_FAILED", body.Error.Code)

	env.chat.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessageRateLimited(t *testing.T) {
	env := newTestEnv(t)
	peer := uuid.New()
	env.chat.On("SendMessage", mock.Anything, env.userID, mock.Anything).Return(&domain.Message{ID: uuid.New()}, nil)

	req := map[string]any{"receiver_id": peer.String(), "text": "hi"}
	for i := 0; i < 2; i++ {
		rec, _ := env.do(t, http.MethodPost, "/api/v1/messages", req)
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec, _ := env.do(t, http.MethodPost, "/api/v1/messages", req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestNotifications(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.New()
	env.notifs.On("GetNotifications", mock.Anything, env.userID, defaultPageSize, 0).
		Return(&domain.NotificationPage{Notifications: []*domain.Notification{{ID: id}}, UnreadCount: 1}, nil)
	env.notifs.On("MarkRead", mock.Anything, env.userID, id).Return(&domain.Notification{ID: id, IsRead: true}, nil)
	env.notifs.On("MarkAllRead", mock.Anything, env.userID).Return(4, nil)

	rec, body := env.do(t, http.MethodGet, "/api/v1/notifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page domain.NotificationPage
	require.NoError(t, json.Unmarshal(body.Data, &page))
	assert.Equal(t, 1, page.UnreadCount)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/notifications/"+id.String()+"/read", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/notifications/not-a-uuid/read", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = env.do(t, http.MethodPost, "/api/v1/notifications/read-all", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated":4}`, string(body.Data))
}

func TestMarkNotificationReadNotFound(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.New()
	env.notifs.On("MarkRead", mock.Anything, env.userID, id).Return(nil, domain.ErrNotFound)

	rec, _ := env.do(t, http.MethodPost, "/api/v1/notifications/"+id.String()+"/read", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterDevice(t *testing.T) {
	env := newTestEnv(t)
	env.notifs.On("RegisterDevice", mock.Anything, env.userID, "fcm-token", "android").Return(nil)

	rec, _ := env.do(t, http.MethodPost, "/api/v1/notifications/devices", map[string]string{"token": "fcm-token", "platform": "android"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/notifications/devices", map[string]string{"token": "fcm-token", "platform": "symbian"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env.notifs.AssertNumberOfCalls(t, "RegisterDevice", 1)
}

func TestGetProfiles(t *testing.T) {
	env := newTestEnv(t)
	known, unknown := uuid.New(), uuid.New()
	env.resolver[known] = "Amina"

	rec, body := env.do(t, http.MethodGet, "/api/v1/profiles?ids="+known.String()+","+unknown.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]domain.DisplayProfile
	require.NoError(t, json.Unmarshal(body.Data, &got))
	assert.Equal(t, "Amina", got[known.String()].DisplayName)
	assert.Equal(t, domain.FallbackDisplayName(unknown), got[unknown.String()].DisplayName)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/profiles?ids=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRankEndpoints(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ranks?points=150", nil)
	rec, body := env.serve(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var info domain.RankInfo
	require.NoError(t, json.Unmarshal(body.Data, &info))
	assert.Equal(t, "Silver", info.Tier.Name)
	assert.Equal(t, 25, info.ProgressPercent)

	rec, _ = env.serve(t, httptest.NewRequest(http.MethodGet, "/api/v1/ranks?points=lots", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = env.serve(t, httptest.NewRequest(http.MethodGet, "/api/v1/ranks/tiers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var tiers []domain.RankTier
	require.NoError(t, json.Unmarshal(body.Data, &tiers))
	assert.Len(t, tiers, len(domain.DefaultRankTable))
}

func TestGetMyRank(t *testing.T) {
	env := newTestEnv(t)
	env.reader.On("GetProfile", mock.Anything, env.userID).Return(nil, domain.ErrNotFound).Once()

	rec, body := env.do(t, http.MethodGet, "/api/v1/me/rank", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info domain.RankInfo
	require.NoError(t, json.Unmarshal(body.Data, &info))
	assert.Equal(t, 0, info.Points)
	assert.Equal(t, "Bronze", info.Tier.Name)

	env.reader.On("GetProfile", mock.Anything, env.userID).Return(&domain.UserProfile{ID: env.userID, Points: 650}, nil).Once()
	_, body = env.do(t, http.MethodGet, "/api/v1/me/rank", nil)
	require.NoError(t, json.Unmarshal(body.Data, &info))
	assert.Equal(t, "Platinum", info.Tier.Name)

	env.reader.On("GetProfile", mock.Anything, env.userID).Return(nil, errors.New("db down")).Once()
	rec, _ = env.do(t, http.MethodGet, "/api/v1/me/rank", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMeUsesTokenNameWhenProfileMissing(t *testing.T) {
	h := NewProfileHandler(fallbackResolver{}, &mockProfileReader{}, zap.NewNop())
	user := &auth.User{ID: uuid.New(), Email: "amina@example.com", Metadata: map[string]any{"full_name": "Amina K"}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req = req.WithContext(middleware.WithUser(req.Context(), user))
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	var me meResponse
	require.NoError(t, json.Unmarshal(body.Data, &me))
	assert.Equal(t, user.ID, me.ID)
	assert.Equal(t, "Amina K", me.Profile.DisplayName)
}

func TestReportDocument(t *testing.T) {
	env := newTestEnv(t)
	docID := uuid.New()
	env.docs.On("Report", mock.Anything, mock.MatchedBy(func(p domain.CreateDocumentParams) bool {
		return p.OwnerID == env.userID && p.Kind == domain.DocumentFound && p.DocType == domain.DocumentIDCard &&
			p.Description == "Found near the bus stop" && p.Location != nil && p.Location.Lat == -1.28
	})).Return(&domain.ReportResult{Document: &domain.Document{ID: docID}, Matches: []*domain.DocumentMatch{}}, nil)

	rec, body := env.do(t, http.MethodPost, "/api/v1/documents", map[string]any{
		"kind":        "found",
		"doc_type":    "id_card",
		"description": "  Found near the bus stop ",
		"location":    map[string]float64{"lat": -1.28, "lng": 36.82},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res domain.ReportResult
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.Equal(t, docID, res.Document.ID)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/documents", map[string]any{"kind": "stolen", "doc_type": "id_card"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNearbyDocuments(t *testing.T) {
	env := newTestEnv(t)
	env.docs.On("Nearby", mock.Anything, domain.NearbyQuery{
		Center:   domain.Location{Lat: -1.28, Lng: 36.82},
		RadiusKm: 3,
		Kind:     domain.DocumentLost,
	}).Return(nil, nil)

	rec, body := env.do(t, http.MethodGet, "/api/v1/documents/nearby?lat=-1.28&lng=36.82&radius=3&kind=lost", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(body.Data))

	for _, q := range []string{"lng=36.82", "lat=x&lng=1", "lat=1&lng=1&radius=-2", "lat=1&lng=1&kind=misplaced"} {
		rec, _ := env.do(t, http.MethodGet, "/api/v1/documents/nearby?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.New()
	env.docs.On("GetDocument", mock.Anything, id).Return(nil, domain.ErrNotFound)

	rec, _ := env.do(t, http.MethodGet, "/api/v1/documents/"+id.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarkReturned(t *testing.T) {
	env := newTestEnv(t)
	id, finder := uuid.New(), uuid.New()
	env.docs.On("MarkReturned", mock.Anything, env.userID, id, (*uuid.UUID)(nil)).
		Return(&domain.Document{ID: id, Status: domain.DocumentStatusReturned}, nil).Once()
	env.docs.On("MarkReturned", mock.Anything, env.userID, id, &finder).
		Return(nil, fmt.Errorf("%w: document is returned", domain.ErrConflict)).Once()

	rec, _ := env.do(t, http.MethodPost, "/api/v1/documents/"+id.String()+"/returned", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/documents/"+id.String()+"/returned", map[string]string{"finder_document_id": finder.String()})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUploadImage(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.New()
	url := "http://localhost/uploads/documents/x.png"
	env.docs.On("AttachImage", mock.Anything, env.userID, id, mock.Anything, "scan.png", "image/png").
		Return(&domain.Document{ID: id, ImageURL: &url}, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="scan.png"`)
	header.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG fake"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+id.String()+"/image", &buf)
	req.Header.Set("Authorization", "Bearer "+env.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec, body := env.serve(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var doc domain.Document
	require.NoError(t, json.Unmarshal(body.Data, &doc))
	require.NotNil(t, doc.ImageURL)
	assert.Equal(t, url, *doc.ImageURL)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+id.String()+"/image", nil)
	req.Header.Set("Authorization", "Bearer "+env.token)
	rec, _ = env.serve(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.serve(t, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h := NewHealthHandler(pingFunc(func(context.Context) error { return errors.New("refused") }), "test", zap.NewNop())
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h = NewHealthHandler(pingFunc(func(context.Context) error { return nil }), "test", zap.NewNop())
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPagination(t *testing.T) {
	tests := []struct {
		query         string
		limit, offset int
	}{
		{"", defaultPageSize, 0},
		{"page=3&limit=10", 10, 20},
		{"page=0&limit=-1", defaultPageSize, 0},
		{"limit=5000", maxPageSize, 0},
	}
	for _, tt := range tests {
		limit, offset := pagination(httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil))
		assert.Equal(t, tt.limit, limit, tt.query)
		assert.Equal(t, tt.offset, offset, tt.query)
	}
}
