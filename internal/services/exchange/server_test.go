package exchange_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/sessions"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"cashlink/internal/models"
	"cashlink/internal/services/exchange"
	"cashlink/internal/services/exchange/engine"
	"cashlink/internal/services/exchange/handlers"
	"cashlink/internal/services/exchange/store"
	"cashlink/internal/services/relay"
)

type party struct {
	t      *testing.T
	base   string
	client *http.Client
	jar    http.CookieJar
}

func newTestServer(t *testing.T, cfg engine.Config) string {
	t.Helper()

	logger := zerolog.Nop()
	hub := relay.NewHub(&logger)
	eng, err := engine.New(store.NewMemory(), hub, &logger, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	handle := &handlers.ServerHandle{
		Engine:       eng,
		Hub:          hub,
		SessionStore: sessions.NewCookieStore([]byte("test-session-key-0123456789abcdef")),
		Logger:       &logger,
		Ctx:          ctx,
		ClientBuffer: 8,
	}

	e := echo.New()
	exchange.NewServer("", e, handle, 0).Register()

	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)

	return ts.URL
}

func testEngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.CodeHashCost = bcrypt.MinCost
	return cfg
}

func newParty(t *testing.T, base string) *party {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &party{
		t:      t,
		base:   base,
		client: &http.Client{Jar: jar, Timeout: 5 * time.Second},
		jar:    jar,
	}
}

func (p *party) do(method, path, body string, out any) int {
	p.t.Helper()

	req, err := http.NewRequest(method, p.base+path, strings.NewReader(body))
	require.NoError(p.t, err)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}

	res, err := p.client.Do(req)
	require.NoError(p.t, err)
	defer res.Body.Close()

	if out != nil {
		require.NoError(p.t, json.NewDecoder(res.Body).Decode(out))
	}

	return res.StatusCode
}

type submitResult struct {
	Status    string `json:"status"`
	RequestID string `json:"requestId"`
	MatchID   string `json:"matchId"`
	OTP       string `json:"otp"`
}

type verifyResult struct {
	Success     bool   `json:"success"`
	MatchID     string `json:"matchId"`
	ChannelOpen bool   `json:"channelOpen"`
}

type details struct {
	MatchID      string `json:"matchId"`
	Participants []struct {
		RequestID string  `json:"requestId"`
		Phone     string  `json:"phone"`
		Lat       float64 `json:"lat"`
		Lng       float64 `json:"lng"`
	} `json:"participants"`
}

func (p *party) submit(body string) submitResult {
	p.t.Helper()

	var res submitResult
	require.Equal(p.t, http.StatusOK, p.do(http.MethodPost, "/submit", body, &res))

	return res
}

func (p *party) match() submitResult {
	p.t.Helper()

	var res submitResult
	require.Equal(p.t, http.StatusOK, p.do(http.MethodGet, "/match", "", &res))

	return res
}

func (p *party) verifyOTP(matchID, otp string) verifyResult {
	p.t.Helper()

	var res verifyResult
	body := `{"matchId":"` + matchID + `","otp":"` + otp + `"}`
	require.Equal(p.t, http.StatusOK, p.do(http.MethodPost, "/verify-otp", body, &res))

	return res
}

func (p *party) dial() *websocket.Conn {
	p.t.Helper()

	dialer := websocket.Dialer{Jar: p.jar, HandshakeTimeout: 5 * time.Second}

	conn, _, err := dialer.Dial("ws"+strings.TrimPrefix(p.base, "http")+"/ws", nil)
	require.NoError(p.t, err)
	p.t.Cleanup(func() { _ = conn.Close() })

	return conn
}

const (
	cashBody   = `{"mode":"CashToOnline","amount":500,"phone":"+911111111111","lat":12.900,"lng":77.000}`
	onlineBody = `{"mode":"OnlineToCash","amount":"500","phone":"+912222222222","lat":12.901,"lng":77.001}`
)

func readEvent(t *testing.T, conn *websocket.Conn) models.Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg models.Message
	require.NoError(t, conn.ReadJSON(&msg))

	return msg
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()

	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(models.Message{Event: event, Data: raw}))
}

func TestHealth(t *testing.T) {
	base := newTestServer(t, testEngineConfig())

	res, err := http.Get(base + "/health")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestExchangeFlow(t *testing.T) {
	base := newTestServer(t, testEngineConfig())
	alice := newParty(t, base)
	bob := newParty(t, base)

	first := alice.submit(cashBody)
	assert.Equal(t, "searching", first.Status)
	assert.Empty(t, first.MatchID)

	second := bob.submit(onlineBody)
	require.Equal(t, "matched", second.Status)
	require.NotEmpty(t, second.MatchID)
	require.Len(t, second.OTP, 6)

	var info details
	require.Equal(t, http.StatusOK, alice.do(http.MethodGet, "/verify?matchId="+second.MatchID, "", &info))
	assert.Equal(t, second.MatchID, info.MatchID)
	require.Len(t, info.Participants, 2)
	assert.Equal(t, "+912222222222", info.Participants[0].Phone)
	assert.Equal(t, "+911111111111", info.Participants[1].Phone)

	// channel stays shut until both sides verified
	assert.Equal(t, http.StatusForbidden, bob.do(http.MethodGet, "/chat?matchId="+second.MatchID, "", nil))

	res := bob.verifyOTP(second.MatchID, second.OTP)
	assert.True(t, res.Success)
	assert.Equal(t, second.MatchID, res.MatchID)
	assert.False(t, res.ChannelOpen)

	own := alice.match()
	require.Equal(t, "matched", own.Status)
	assert.Equal(t, first.RequestID, own.RequestID)
	assert.Equal(t, second.MatchID, own.MatchID)

	res = alice.verifyOTP(own.MatchID, own.OTP)
	assert.True(t, res.Success)
	assert.True(t, res.ChannelOpen)

	var chat details
	require.Equal(t, http.StatusOK, bob.do(http.MethodGet, "/chat?matchId="+second.MatchID, "", &chat))
	assert.Len(t, chat.Participants, 2)
}

func TestSubmitErrors(t *testing.T) {
	base := newTestServer(t, testEngineConfig())
	p := newParty(t, base)

	testCases := []struct {
		name string
		body string
	}{
		{name: "bad mode", body: `{"mode":"barter","amount":1,"phone":"p","lat":0,"lng":0}`},
		{name: "negative amount", body: `{"mode":"cashtoonline","amount":-1,"phone":"p","lat":0,"lng":0}`},
		{name: "missing lat", body: `{"mode":"cashtoonline","amount":1,"phone":"p","lng":0}`},
		{name: "lng out of range", body: `{"mode":"cashtoonline","amount":1,"phone":"p","lat":0,"lng":200}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, p.do(http.MethodPost, "/submit", tc.body, nil))
		})
	}
}

func TestSubmitForm(t *testing.T) {
	base := newTestServer(t, testEngineConfig())

	form := url.Values{
		"mode":   {"cashtoonline"},
		"amount": {"250.50"},
		"phone":  {"+913333333333"},
		"lat":    {"12.9"},
		"lng":    {"77.0"},
	}

	res, err := http.PostForm(base+"/submit", form)
	require.NoError(t, err)
	defer res.Body.Close()

	var out submitResult
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "searching", out.Status)
}

func TestVerifyErrors(t *testing.T) {
	base := newTestServer(t, testEngineConfig())
	p := newParty(t, base)

	const unknown = "1b7f3a0e-6d2c-4f0e-9a57-3c1d2e4f5a6b"

	assert.Equal(t, http.StatusBadRequest, p.do(http.MethodGet, "/verify", "", nil))
	assert.Equal(t, http.StatusBadRequest, p.do(http.MethodGet, "/verify?matchId=nope", "", nil))
	assert.Equal(t, http.StatusNotFound, p.do(http.MethodGet, "/verify?matchId="+unknown, "", nil))
	assert.Equal(t, http.StatusNotFound, p.do(http.MethodGet, "/chat?matchId="+unknown, "", nil))

	assert.Equal(t, http.StatusBadRequest, p.do(http.MethodPost, "/verify-otp", `{"otp":"123456"}`, nil))

	res := p.verifyOTP(unknown, "123456")
	assert.False(t, res.Success)
	assert.Empty(t, res.MatchID)
}

func TestVerifyWrongCode(t *testing.T) {
	base := newTestServer(t, testEngineConfig())
	alice := newParty(t, base)
	bob := newParty(t, base)

	alice.submit(cashBody)
	matched := bob.submit(onlineBody)
	require.Equal(t, "matched", matched.Status)

	wrong := "100000"
	if matched.OTP == wrong {
		wrong = "100001"
	}

	res := bob.verifyOTP(matched.MatchID, wrong)
	assert.False(t, res.Success)

	// a stranger holding the right code is not a participant
	stranger := newParty(t, base)
	res = stranger.verifyOTP(matched.MatchID, matched.OTP)
	assert.False(t, res.Success)
}

func TestRealtimeChannel(t *testing.T) {
	base := newTestServer(t, testEngineConfig())
	alice := newParty(t, base)
	bob := newParty(t, base)

	alice.submit(cashBody)
	aliceConn := alice.dial()

	matched := bob.submit(onlineBody)
	require.Equal(t, "matched", matched.Status)

	found := readEvent(t, aliceConn)
	require.Equal(t, models.EventMatchFound, found.Event)

	var notice models.MatchFound
	require.NoError(t, json.Unmarshal(found.Data, &notice))
	assert.Equal(t, matched.MatchID, notice.MatchID)
	assert.Equal(t, matched.OTP, notice.OTP)

	// joining before verification is refused
	send(t, aliceConn, models.EventJoinRoom, map[string]string{"matchId": matched.MatchID})
	assert.Equal(t, models.EventError, readEvent(t, aliceConn).Event)

	require.True(t, alice.verifyOTP(matched.MatchID, notice.OTP).Success)
	require.True(t, bob.verifyOTP(matched.MatchID, matched.OTP).Success)

	bobConn := bob.dial()

	send(t, aliceConn, models.EventJoinRoom, map[string]string{"matchId": matched.MatchID})
	assert.Equal(t, models.EventJoined, readEvent(t, aliceConn).Event)
	send(t, bobConn, models.EventJoinRoom, matched.MatchID)
	assert.Equal(t, models.EventJoined, readEvent(t, bobConn).Event)

	send(t, aliceConn, models.EventSendMessage, map[string]string{"matchId": matched.MatchID, "message": "at the gate"})
	msg := readEvent(t, bobConn)
	assert.Equal(t, models.EventReceiveMessage, msg.Event)
	assert.JSONEq(t, `{"matchId":"`+matched.MatchID+`","message":"at the gate"}`, string(msg.Data))

	send(t, bobConn, models.EventLocationUpdate, models.LocationUpdate{MatchID: matched.MatchID, Lat: 12.9005, Lng: 77.0005})
	moved := readEvent(t, aliceConn)
	assert.Equal(t, models.EventUserMoved, moved.Event)

	var update models.LocationUpdate
	require.NoError(t, json.Unmarshal(moved.Data, &update))
	assert.Equal(t, 12.9005, update.Lat)

	send(t, bobConn, "dance", nil)
	assert.Equal(t, models.EventError, readEvent(t, bobConn).Event)
}

func TestMatchStatus(t *testing.T) {
	base := newTestServer(t, testEngineConfig())
	alice := newParty(t, base)

	assert.Equal(t, http.StatusUnauthorized, alice.do(http.MethodGet, "/match", "", nil))

	first := alice.submit(cashBody)

	status := alice.match()
	assert.Equal(t, "searching", status.Status)
	assert.Equal(t, first.RequestID, status.RequestID)
	assert.Empty(t, status.MatchID)
	assert.Empty(t, status.OTP)
}

func TestCounterpartRecoversCode(t *testing.T) {
	base := newTestServer(t, testEngineConfig())
	alice := newParty(t, base)
	bob := newParty(t, base)

	// alice has no websocket open when bob's submission matches her
	alice.submit(cashBody)
	matched := bob.submit(onlineBody)
	require.Equal(t, "matched", matched.Status)

	polled := alice.match()
	require.Equal(t, "matched", polled.Status)
	assert.Equal(t, matched.MatchID, polled.MatchID)
	assert.Equal(t, matched.OTP, polled.OTP)

	for range 2 {
		conn := alice.dial()

		found := readEvent(t, conn)
		require.Equal(t, models.EventMatchFound, found.Event)

		var notice models.MatchFound
		require.NoError(t, json.Unmarshal(found.Data, &notice))
		assert.Equal(t, matched.MatchID, notice.MatchID)
		assert.Equal(t, matched.OTP, notice.OTP)

		require.NoError(t, conn.Close())
	}

	require.True(t, alice.verifyOTP(polled.MatchID, polled.OTP).Success)
	res := bob.verifyOTP(matched.MatchID, matched.OTP)
	assert.True(t, res.Success)
	assert.True(t, res.ChannelOpen)
}
