package webhook

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/messenger-relay/internal/assistant"
	"github.com/xaenox/messenger-relay/internal/models"
)

type fakeReplier struct {
	mu    sync.Mutex
	calls []string
	reply func(text string) models.Reply
}

func (r *fakeReplier) GetReply(ctx context.Context, messageText string) models.Reply {
	r.mu.Lock()
	r.calls = append(r.calls, messageText)
	r.mu.Unlock()
	if r.reply != nil {
		return r.reply(messageText)
	}
	return models.Reply{Text: "echo: " + messageText}
}

type delivery struct {
	recipient string
	reply     models.Reply
}

type fakeDeliverer struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (d *fakeDeliverer) Send(ctx context.Context, recipientID string, reply models.Reply) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, delivery{recipient: recipientID, reply: reply})
}

func newTestHandler(t *testing.T, replier assistant.Replier, opts Options) (*echo.Echo, *fakeDeliverer) {
	t.Helper()
	deliverer := &fakeDeliverer{}
	e := echo.New()
	NewHandler("verify-secret", replier, deliverer, zaptest.NewLogger(t), opts).Register(e)
	return e, deliverer
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Verify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		query    string
		wantCode int
		wantBody string
	}{
		{name: "valid handshake", query: "hub.mode=subscribe&hub.verify_token=verify-secret&hub.challenge=1234", wantCode: http.StatusOK, wantBody: "1234"},
		{name: "token mismatch", query: "hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1234", wantCode: http.StatusForbidden},
		{name: "wrong mode", query: "hub.mode=unsubscribe&hub.verify_token=verify-secret&hub.challenge=1234", wantCode: http.StatusForbidden},
		{name: "mode only", query: "hub.mode=subscribe&hub.challenge=1234", wantCode: http.StatusForbidden},
		{name: "token only", query: "hub.verify_token=verify-secret&hub.challenge=1234", wantCode: http.StatusForbidden},
		{name: "no parameters", query: "", wantCode: http.StatusBadRequest},
	}

	e, _ := newTestHandler(t, &fakeReplier{}, Options{})
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(e, httptest.NewRequest(http.MethodGet, "/?"+tc.query, nil))
			assert.Equal(t, tc.wantCode, rec.Code)
			assert.Equal(t, tc.wantBody, rec.Body.String())
		})
	}
}

func TestHandler_Verify_EmptyConfiguredToken(t *testing.T) {
	t.Parallel()

	deliverer := &fakeDeliverer{}
	e := echo.New()
	NewHandler("", &fakeReplier{}, deliverer, zaptest.NewLogger(t), Options{}).Register(e)

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/?hub.mode=subscribe&hub.verify_token=&hub.challenge=1", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func postEvent(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestHandler_Receive_WrongObject(t *testing.T) {
	t.Parallel()

	replier := &fakeReplier{}
	e, deliverer := newTestHandler(t, replier, Options{})

	rec := serve(e, postEvent(`{"object":"instagram","entry":[{"messaging":[{"sender":{"id":"1"},"message":{"text":"hi"}}]}]}`))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, replier.calls)
	assert.Empty(t, deliverer.deliveries)
}

func TestHandler_Receive_MalformedBody(t *testing.T) {
	t.Parallel()

	e, _ := newTestHandler(t, &fakeReplier{}, Options{})
	rec := serve(e, postEvent(`{"object":`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Receive_RelaysEachEntry(t *testing.T) {
	t.Parallel()

	replier := &fakeReplier{}
	e, deliverer := newTestHandler(t, replier, Options{})

	body := `{"object":"page","entry":[
		{"id":"page","time":1,"messaging":[{"sender":{"id":"u1"},"recipient":{"id":"page"},"message":{"mid":"m1","text":"first"}}]},
		{"id":"page","time":2,"messaging":[{"sender":{"id":"u2"},"recipient":{"id":"page"},"message":{"mid":"m2","text":"second"}}]},
		{"id":"page","time":3,"messaging":[{"sender":{"id":"u3"},"recipient":{"id":"page"},"message":{"mid":"m3","attachments":[{"type":"image"}]}}]},
		{"id":"page","time":4,"messaging":[{"sender":{"id":"u4"},"recipient":{"id":"page"},"read":{"watermark":1}}]},
		{"id":"page","time":5,"messaging":[]}
	]}`
	rec := serve(e, postEvent(body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "EVENT_RECEIVED", rec.Body.String())
	assert.Equal(t, []string{"first", "second"}, replier.calls)
	assert.Equal(t, []delivery{
		{recipient: "u1", reply: models.Reply{Text: "echo: first"}},
		{recipient: "u2", reply: models.Reply{Text: "echo: second"}},
	}, deliverer.deliveries)
}

func TestHandler_Receive_FirstEventOnlyByDefault(t *testing.T) {
	t.Parallel()

	body := `{"object":"page","entry":[{"messaging":[
		{"sender":{"id":"u1"},"message":{"text":"one"}},
		{"sender":{"id":"u1"},"message":{"text":"two"}}
	]}]}`

	t.Run("default", func(t *testing.T) {
		t.Parallel()
		replier := &fakeReplier{}
		e, _ := newTestHandler(t, replier, Options{})
		serve(e, postEvent(body))
		assert.Equal(t, []string{"one"}, replier.calls)
	})

	t.Run("all events", func(t *testing.T) {
		t.Parallel()
		replier := &fakeReplier{}
		e, _ := newTestHandler(t, replier, Options{AllEvents: true})
		serve(e, postEvent(body))
		assert.Equal(t, []string{"one", "two"}, replier.calls)
	})
}

// failingService stands in for an assistant service that errors before streaming.
func failingService(t *testing.T) assistant.Replier {
	t.Helper()
	return &fakeReplier{reply: func(string) models.Reply { return models.ApologyReply() }}
}

func TestHandler_Receive_ApologyStillAcknowledged(t *testing.T) {
	t.Parallel()

	e, deliverer := newTestHandler(t, failingService(t), Options{})

	rec := serve(e, postEvent(`{"object":"page","entry":[{"messaging":[{"sender":{"id":"u1"},"message":{"text":"hi"}}]}]}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, deliverer.deliveries, 1)
	assert.Equal(t, models.Reply{Text: "ขออภัย ไม่สามารถตอบกลับได้ในขณะนี้"}, deliverer.deliveries[0].reply)
}

func TestHandler_Receive_ConcurrentSenders(t *testing.T) {
	t.Parallel()

	replier := &fakeReplier{}
	e, deliverer := newTestHandler(t, replier, Options{})

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"object":"page","entry":[{"messaging":[{"sender":{"id":"u%d"},"message":{"text":"msg %d"}}]}]}`, i, i)
			rec := serve(e, postEvent(body))
			assert.Equal(t, http.StatusOK, rec.Code)
		}(i)
	}
	wg.Wait()

	require.Len(t, deliverer.deliveries, n)
	for _, d := range deliverer.deliveries {
		var i int
		_, err := fmt.Sscanf(d.recipient, "u%d", &i)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("echo: msg %d", i), d.reply.Text)
	}
}

func TestHandler_Receive_IgnoresOwnMessages(t *testing.T) {
	t.Parallel()

	replier := &fakeReplier{}
	e, deliverer := newTestHandler(t, replier, Options{PageID: "page-1"})

	body := `{"object":"page","entry":[
		{"messaging":[{"sender":{"id":"page-1"},"recipient":{"id":"u1"},"message":{"text":"from the page"}}]},
		{"messaging":[{"sender":{"id":"u1"},"recipient":{"id":"page-1"},"message":{"text":"echoed","is_echo":true}}]},
		{"messaging":[{"sender":{"id":"u2"},"recipient":{"id":"page-1"},"message":{"text":"real"}}]}
	]}`
	rec := serve(e, postEvent(body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"real"}, replier.calls)
	require.Len(t, deliverer.deliveries, 1)
	assert.Equal(t, "u2", deliverer.deliveries[0].recipient)
}
