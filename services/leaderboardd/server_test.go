package leaderboardd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/reader"
	"nhooyr.io/websocket"

	"emojiboard/gateway/middleware"
	board "emojiboard/native/leaderboard"
	"emojiboard/services/leaderboardd/activity"
)

const testSecret = "leaderboardd-test-secret"

var (
	adminAddr  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	authorAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	readerAddr = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	server *Server
	gate   *board.Gate
	clock  *testClock
	store  *activity.Store
}

func newHarness(t *testing.T, mutate func(*board.Params)) *harness {
	t.Helper()
	db, err := activity.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	store := activity.NewStore(db, nil)
	clock := &testClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	params := board.DefaultParams()
	if mutate != nil {
		mutate(&params)
	}
	gate, err := board.NewGate(params, board.NewStaticAuthority(adminAddr), store,
		board.WithClock(clock.Now), board.WithMetrics(nil))
	require.NoError(t, err)
	server := NewServer(ServerConfig{
		Gate:          gate,
		Activity:      store,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{Enabled: true, HMACSecret: testSecret}, nil),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{Enabled: true}, nil),
	})
	return &harness{server: server, gate: gate, clock: clock, store: store}
}

func token(t *testing.T, subject common.Address, scopes ...string) string {
	t.Helper()
	signed, err := middleware.IssueToken(testSecret, "", subject.Hex(), scopes, time.Hour)
	require.NoError(t, err)
	return signed
}

func (h *harness) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	res := httptest.NewRecorder()
	h.server.ServeHTTP(res, req)
	return res
}

func decode[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out))
	return out
}

func (h *harness) ingest(t *testing.T) {
	t.Helper()
	res := h.do(t, http.MethodPost, "/v1/activity", token(t, adminAddr, middleware.ScopeActivityWrite), ingestRequest{
		Records: []activityPayload{
			{Participant: authorAddr.Hex(), Kind: board.KindArticlePublished, Quantity: 1, OccurredAt: h.clock.Now().Add(-time.Hour)},
			{Participant: readerAddr.Hex(), Kind: board.KindReaction, Quantity: 7, OccurredAt: h.clock.Now().Add(-time.Hour)},
		},
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	require.Len(t, decode[ingestResponse](t, res).IDs, 2)
}

func TestGateEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	res := h.do(t, http.MethodGet, "/v1/gate", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	status := decode[gateResponse](t, res)
	require.False(t, status.CanUpdate)
	require.Equal(t, int64(20745), status.CurrentDay)
	require.Equal(t, int64(20745), status.LastUpdateDay)
	require.Equal(t, "2026-10-20T00:00:00Z", status.NextPeriodStart)

	require.Equal(t, map[string]bool{"canUpdate": false}, decode[map[string]bool](t, h.do(t, http.MethodGet, "/v1/gate/can-update", "", nil)))
	require.Equal(t, map[string]int64{"currentDay": 20745}, decode[map[string]int64](t, h.do(t, http.MethodGet, "/v1/gate/current-day", "", nil)))
	require.Equal(t, map[string]int64{"lastUpdateDay": 20745}, decode[map[string]int64](t, h.do(t, http.MethodGet, "/v1/gate/last-update-day", "", nil)))

	res = h.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.NotEmpty(t, h.do(t, http.MethodGet, "/v1/gate", "", nil).Header().Get(middleware.HeaderRequestID))
}

func TestUpdateFlowOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	h.ingest(t)

	res := h.do(t, http.MethodPost, "/v1/leaderboard/update", token(t, authorAddr), updateRequest{})
	require.Equal(t, http.StatusConflict, res.Code)
	require.Equal(t, "not_eligible", decode[errorResponse](t, res).Code)

	h.clock.Advance(board.DefaultPeriodLength)
	res = h.do(t, http.MethodPost, "/v1/leaderboard/update", token(t, authorAddr), updateRequest{})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	update := decode[updateResponse](t, res)
	require.Equal(t, int64(20746), update.Period)
	require.Equal(t, "10000000000000000000", update.RewardAmount)
	require.Equal(t, update.RewardAmount, update.Balance)
	require.Equal(t, 2, update.Entries)
	require.Equal(t, authorAddr.Hex(), update.Event.Updater)

	res = h.do(t, http.MethodPost, "/v1/leaderboard/update", token(t, readerAddr), nil)
	require.Equal(t, http.StatusConflict, res.Code)

	ranked := decode[leaderboardResponse](t, h.do(t, http.MethodGet, "/v1/leaderboard", "", nil))
	require.Equal(t, int64(20746), ranked.Period)
	require.Len(t, ranked.Entries, 2)
	require.Equal(t, authorAddr.Hex(), ranked.Entries[0].Address)
	require.Equal(t, uint64(50), ranked.Entries[0].Score)

	balance := decode[balanceResponse](t, h.do(t, http.MethodGet, "/v1/rewards/"+authorAddr.Hex(), "", nil))
	require.Equal(t, "10000000000000000000", balance.Balance)
	require.Equal(t, "EMOJI", balance.Symbol)

	events := decode[map[string][]eventPayload](t, h.do(t, http.MethodGet, "/v1/events?periods=1", "", nil))
	require.Len(t, events["events"], 1)
	require.Equal(t, uint64(1), events["events"][0].Sequence)
}

func TestUpdateRequiresToken(t *testing.T) {
	h := newHarness(t, nil)
	res := h.do(t, http.MethodPost, "/v1/leaderboard/update", "", updateRequest{})
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	h := newHarness(t, func(p *board.Params) { p.InitialSupply = board.OneToken() })
	h.ingest(t)
	h.clock.Advance(board.DefaultPeriodLength)

	res := h.do(t, http.MethodPost, "/v1/leaderboard/update", token(t, authorAddr), updateRequest{Ceiling: 10})
	require.Equal(t, http.StatusUnprocessableEntity, res.Code)
	failure := decode[errorResponse](t, res)
	require.Equal(t, "resource_exceeded", failure.Code)
	require.True(t, failure.Retryable)

	res = h.do(t, http.MethodPost, "/v1/leaderboard/update", token(t, authorAddr), updateRequest{})
	require.Equal(t, http.StatusServiceUnavailable, res.Code)
	require.Equal(t, "insufficient_supply", decode[errorResponse](t, res).Code)

	res = h.do(t, http.MethodPost, "/v1/admin/force-reset", token(t, authorAddr), nil)
	require.Equal(t, http.StatusForbidden, res.Code)

	res = h.do(t, http.MethodGet, "/v1/rewards/not-an-address", "", nil)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = h.do(t, http.MethodGet, "/v1/events?limit=-1", "", nil)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = h.do(t, http.MethodPost, "/v1/admin/fund", token(t, adminAddr), fundRequest{Amount: "ten"})
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestAdminEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	res := h.do(t, http.MethodPost, "/v1/admin/force-update-day", token(t, adminAddr), nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	status := decode[gateResponse](t, res)
	require.True(t, status.CanUpdate)
	require.True(t, status.Forced)

	res = h.do(t, http.MethodPost, "/v1/admin/force-reset", token(t, adminAddr), nil)
	require.Equal(t, http.StatusOK, res.Code)
	status = decode[gateResponse](t, res)
	require.True(t, status.CanUpdate)
	require.False(t, status.Forced)

	before := decode[supplyResponse](t, h.do(t, http.MethodGet, "/v1/rewards/supply", "", nil))
	res = h.do(t, http.MethodPost, "/v1/admin/fund", token(t, adminAddr), fundRequest{Amount: "5"})
	require.Equal(t, http.StatusOK, res.Code)
	after := decode[supplyResponse](t, res)
	require.NotEqual(t, before.Supply, after.Supply)
	require.True(t, strings.HasSuffix(after.Supply, "5"))
}

func TestIngestRequiresScope(t *testing.T) {
	h := newHarness(t, nil)
	res := h.do(t, http.MethodPost, "/v1/activity", token(t, adminAddr), ingestRequest{})
	require.Equal(t, http.StatusForbidden, res.Code)

	res = h.do(t, http.MethodPost, "/v1/activity", token(t, adminAddr, middleware.ScopeActivityWrite), ingestRequest{
		Records: []activityPayload{{Participant: "0x01", Kind: board.KindComment}},
	})
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestParquetExport(t *testing.T) {
	h := newHarness(t, nil)
	h.ingest(t)
	require.NoError(t, h.gate.ForceUpdateDay(adminAddr))
	_, err := h.gate.UpdateLeaderboard(context.Background(), authorAddr, 0)
	require.NoError(t, err)

	res := h.do(t, http.MethodGet, "/v1/leaderboard/export.parquet", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "application/vnd.apache.parquet", res.Header().Get("Content-Type"))

	file := buffer.NewBufferFileFromBytes(res.Body.Bytes())
	pr, err := reader.NewParquetReader(file, new(ExportRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.Equal(t, int64(2), pr.GetNumRows())
	rows := make([]ExportRow, 2)
	require.NoError(t, pr.Read(&rows))
	require.Equal(t, authorAddr.Hex(), rows[0].Address)
	require.Equal(t, int32(1), rows[0].Rank)
	require.Equal(t, uint64(50), rows[0].Score)
	require.Equal(t, h.gate.LeaderboardPeriod(), rows[1].Period)
}

func TestWriteParquetRoundTripsLargeScores(t *testing.T) {
	ranked := board.Rank([]board.Entry{
		{Participant: authorAddr, Score: math.MaxUint64},
		{Participant: readerAddr, Score: 1 << 63},
		{Participant: adminAddr, Score: 3},
	})
	var buf bytes.Buffer
	require.NoError(t, WriteParquet(&buf, 20746, ranked))

	pr, err := reader.NewParquetReader(buffer.NewBufferFileFromBytes(buf.Bytes()), new(ExportRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.Equal(t, int64(3), pr.GetNumRows())
	rows := make([]ExportRow, 3)
	require.NoError(t, pr.Read(&rows))
	require.Equal(t, ExportRow{Period: 20746, Rank: 1, Address: authorAddr.Hex(), Score: math.MaxUint64}, rows[0])
	require.Equal(t, ExportRow{Period: 20746, Rank: 2, Address: readerAddr.Hex(), Score: 1 << 63}, rows[1])
	require.Equal(t, ExportRow{Period: 20746, Rank: 3, Address: adminAddr.Hex(), Score: 3}, rows[2])
}

func TestBoardKeepsItsPeriodAfterReset(t *testing.T) {
	h := newHarness(t, nil)
	h.clock.Advance(board.DefaultPeriodLength)
	h.ingest(t)
	res := h.do(t, http.MethodPost, "/v1/leaderboard/update", token(t, authorAddr), updateRequest{})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, int64(20746), decode[updateResponse](t, res).Period)

	res = h.do(t, http.MethodPost, "/v1/admin/force-reset", token(t, adminAddr), nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, int64(20745), decode[gateResponse](t, res).LastUpdateDay)

	res = h.do(t, http.MethodGet, "/v1/leaderboard", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, int64(20746), decode[leaderboardResponse](t, res).Period)

	res = h.do(t, http.MethodGet, "/v1/leaderboard/export.parquet", "", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Contains(t, res.Header().Get("Content-Disposition"), "leaderboard-20746.parquet")
	pr, err := reader.NewParquetReader(buffer.NewBufferFileFromBytes(res.Body.Bytes()), new(ExportRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	rows := make([]ExportRow, pr.GetNumRows())
	require.NoError(t, pr.Read(&rows))
	require.NotEmpty(t, rows)
	require.Equal(t, int64(20746), rows[0].Period)
}

func TestEventStreamReplaysAndPushes(t *testing.T) {
	h := newHarness(t, nil)
	h.ingest(t)
	require.NoError(t, h.gate.ForceUpdateDay(adminAddr))
	_, err := h.gate.UpdateLeaderboard(context.Background(), authorAddr, 0)
	require.NoError(t, err)

	srv := httptest.NewServer(h.server)
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/events/stream?cursor=0", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var replayed eventPayload
	require.NoError(t, json.Unmarshal(data, &replayed))
	require.Equal(t, uint64(1), replayed.Sequence)

	h.clock.Advance(board.DefaultPeriodLength)
	_, err = h.gate.UpdateLeaderboard(context.Background(), readerAddr, 0)
	require.NoError(t, err)

	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	var pushed eventPayload
	require.NoError(t, json.Unmarshal(data, &pushed))
	require.Equal(t, uint64(2), pushed.Sequence)
	require.Equal(t, readerAddr.Hex(), pushed.Updater)
}
