package transition

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldservice/internal/activity"
	"fieldservice/internal/api"
	"fieldservice/internal/realtime"
	"fieldservice/internal/user"
	"fieldservice/internal/workflow"
)

const dispatchID = "0b6d7e7c-3f9a-4f0e-8d3c-5a8f1c2d9e01"

var dispatches = Target{Entity: "dispatch", Table: "dispatches"}

type statusRow struct {
	status string
	err    error
}

func (r statusRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.status
	return nil
}

type execCall struct {
	sql  string
	args []any
}

// fakeTx serves the locked status row and records every statement.
type fakeTx struct {
	pgx.Tx
	row      statusRow
	queries  []string
	execs    []execCall
	onCommit func()

	committed  bool
	rolledBack bool
}

func (tx *fakeTx) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	tx.queries = append(tx.queries, sql)
	return tx.row
}

func (tx *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.execs = append(tx.execs, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (tx *fakeTx) Commit(context.Context) error {
	if tx.onCommit != nil {
		tx.onCommit()
	}
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	if !tx.committed {
		tx.rolledBack = true
	}
	return nil
}

func (tx *fakeTx) updates() []execCall {
	var out []execCall
	for _, c := range tx.execs {
		if strings.HasPrefix(strings.TrimSpace(c.sql), "UPDATE") {
			out = append(out, c)
		}
	}
	return out
}

func (tx *fakeTx) activityInserts() []execCall {
	var out []execCall
	for _, c := range tx.execs {
		if strings.Contains(c.sql, "INSERT INTO activity_logs") {
			out = append(out, c)
		}
	}
	return out
}

type fakePool struct {
	tx *fakeTx
}

func (p fakePool) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	return p.tx, nil
}

func (p fakePool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.tx.QueryRow(ctx, sql, args...)
}

func dispatchFlow(t *testing.T) *workflow.Definition {
	t.Helper()
	d, err := workflow.MustDefaults().Get(workflow.EntityDispatch)
	require.NoError(t, err)
	return d
}

func TestApply_ValidMove(t *testing.T) {
	tx := &fakeTx{row: statusRow{status: "OnSite"}}

	res, err := Apply(context.Background(), tx, dispatchFlow(t), dispatches, dispatchID, "in-progress", "Sam Tech")
	require.NoError(t, err)
	assert.Equal(t, Result{EntityID: dispatchID, From: "on_site", To: "in_progress"}, res)

	require.Len(t, tx.queries, 1)
	assert.Contains(t, tx.queries[0], `FROM "dispatches"`)
	assert.Contains(t, tx.queries[0], "FOR UPDATE")

	updates := tx.updates()
	require.Len(t, updates, 1)
	assert.Contains(t, updates[0].sql, `UPDATE "dispatches"`)
	assert.Equal(t, []any{"in_progress", dispatchID}, updates[0].args)

	inserts := tx.activityInserts()
	require.Len(t, inserts, 1)
	args := inserts[0].args
	require.Len(t, args, 7)
	assert.Equal(t, "dispatch", args[0])
	assert.Equal(t, dispatchID, args[1])
	assert.Equal(t, activity.EventStatusChanged, args[2])
	assert.Equal(t, "Status changed from on_site to in_progress", args[3])
	assert.Equal(t, "Sam Tech", args[4])

	data, ok := args[6].(*string)
	require.True(t, ok)
	require.NotNil(t, data)
	assert.JSONEq(t, `{"from":"on_site","to":"in_progress"}`, *data)
}

func TestApply_InvalidMoveWritesNothing(t *testing.T) {
	tx := &fakeTx{row: statusRow{status: "pending"}}

	_, err := Apply(context.Background(), tx, dispatchFlow(t), dispatches, dispatchID, "completed", "Sam Tech")
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
	assert.Len(t, tx.queries, 1)
	assert.Empty(t, tx.execs)
}

func TestApply_MissingEntity(t *testing.T) {
	tx := &fakeTx{row: statusRow{err: pgx.ErrNoRows}}

	_, err := Apply(context.Background(), tx, dispatchFlow(t), dispatches, dispatchID, "assigned", "")
	require.ErrorIs(t, err, pgx.ErrNoRows)
	assert.Empty(t, tx.execs)
}

func patchRouter(h Handlers) http.Handler {
	r := chi.NewRouter()
	r.Patch("/v1/dispatches/{id}/status", h.Patch)
	return r
}

func patch(t *testing.T, h http.Handler, id, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPatch, "/v1/dispatches/"+id+"/status", strings.NewReader(body))
	req = req.WithContext(api.WithUser(req.Context(), &user.User{ID: "u-1", Name: "Dana"}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env api.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error.Code
}

func TestPatch_ValidatesRequest(t *testing.T) {
	tx := &fakeTx{row: statusRow{status: "pending"}}
	r := patchRouter(Handlers{DB: fakePool{tx: tx}, Definition: dispatchFlow(t), Target: dispatches})

	rec := patch(t, r, "not-a-uuid", `{"status":"assigned"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = patch(t, r, dispatchID, `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(t, rec))

	rec = patch(t, r, dispatchID, `{"status":""}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	assert.Empty(t, tx.queries)
}

func TestPatch_InvalidTransitionConflicts(t *testing.T) {
	hub := realtime.NewHub(nil)
	sub := hub.Subscribe(4)
	sub.Join(WorkflowID("dispatch"))

	tx := &fakeTx{row: statusRow{status: "pending"}}
	r := patchRouter(Handlers{DB: fakePool{tx: tx}, Definition: dispatchFlow(t), Target: dispatches, Hub: hub})

	rec := patch(t, r, dispatchID, `{"status":"on_site"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATE_TRANSITION", errorCode(t, rec))
	assert.Empty(t, tx.updates())
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
	assert.Empty(t, sub.Events())
}

func TestPatch_MissingEntity(t *testing.T) {
	tx := &fakeTx{row: statusRow{err: pgx.ErrNoRows}}
	r := patchRouter(Handlers{DB: fakePool{tx: tx}, Definition: dispatchFlow(t), Target: dispatches})

	rec := patch(t, r, dispatchID, `{"status":"assigned"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatch_PublishesAfterCommit(t *testing.T) {
	hub := realtime.NewHub(nil)
	sub := hub.Subscribe(4)
	sub.Join(WorkflowID("dispatch"))

	tx := &fakeTx{row: statusRow{status: "pending"}}
	publishedBeforeCommit := false
	tx.onCommit = func() { publishedBeforeCommit = len(sub.Events()) > 0 }

	r := patchRouter(Handlers{DB: fakePool{tx: tx}, Definition: dispatchFlow(t), Target: dispatches, Hub: hub})
	rec := patch(t, r, dispatchID, `{"status":"Assigned"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.True(t, tx.committed)
	assert.False(t, publishedBeforeCommit)
	require.Len(t, tx.updates(), 1)
	assert.Equal(t, "Dana", tx.activityInserts()[0].args[4])

	var view workflow.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, workflow.Status("assigned"), view.Status)
	assert.Equal(t, workflow.Status("acknowledged"), view.Next)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, realtime.StatusChanged, ev.Type)
		assert.Equal(t, "dispatch-status", ev.WorkflowID)
		assert.Equal(t, "assigned", ev.Message)
	case <-time.After(time.Second):
		t.Fatal("no status_changed event")
	}
}

func TestPatch_StorageFailureIsInternal(t *testing.T) {
	tx := &fakeTx{row: statusRow{err: errors.New("connection reset")}}
	r := patchRouter(Handlers{DB: fakePool{tx: tx}, Definition: dispatchFlow(t), Target: dispatches})

	rec := patch(t, r, dispatchID, `{"status":"assigned"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
