package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/relay/internal/dispatch"
	"github.com/ignite/relay/internal/queue"
	"github.com/ignite/relay/internal/store"
)

func setupAPI(t *testing.T) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	st := store.NewStore(db)
	svc := dispatch.NewService(st, queue.New(client, 600, 3, 2*time.Second))
	return SetupRoutes(NewHandlers(st, svc)), mock
}

func apiCampaignRows(status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "name", "subject", "from_name", "from_email", "html_body", "text_body", "status",
		"total_recipients", "sent_count", "opened_count", "clicked_count", "bounced_count",
		"unsubscribed_count", "scheduled_at", "created_at", "updated_at",
	}).AddRow("c1", "Launch", "Big news", "Acme", "news@acme.io",
		"<p>hi</p>", "", status, 0, 0, 0, 0, 0, 0, nil, now, now)
}

func TestHealthCheck(t *testing.T) {
	h, _ := setupAPI(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestCreateCampaign(t *testing.T) {
	h, mock := setupAPI(t)

	mock.ExpectExec(`INSERT INTO campaigns`).WillReturnResult(sqlmock.NewResult(0, 1))

	body := `{"name":"Launch","subject":"Big news","from_name":"Acme","from_email":"news@acme.io","html_body":"<p>hi</p>"}`
	req := httptest.NewRequest(http.MethodPost, "/api/campaigns/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if id, _ := resp["id"].(string); id == "" {
		t.Error("missing campaign id")
	}
	if resp["status"] != "draft" {
		t.Errorf("status = %v, want draft", resp["status"])
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	h, _ := setupAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/campaigns/", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestCreateContactValidation(t *testing.T) {
	h, _ := setupAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/contacts", strings.NewReader(`{"first_name":"Ann"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestGetCampaignNotFound(t *testing.T) {
	h, mock := setupAPI(t)

	mock.ExpectQuery(`FROM campaigns WHERE id = \$1`).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/campaigns/missing/", nil))

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestSendCampaign(t *testing.T) {
	h, mock := setupAPI(t)

	mock.ExpectQuery(`FROM campaigns WHERE id = \$1`).WithArgs("c1").WillReturnRows(apiCampaignRows("draft"))
	mock.ExpectQuery(`NOT EXISTS`).WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("k1"))
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO campaign_recipients`)
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`r\.status = 'pending' AND c\.status = 'active'`).WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "campaign_id", "contact_id", "status", "tracking_id"}).
			AddRow("r1", "c1", "k1", "pending", "t1"))
	mock.ExpectExec(`UPDATE campaigns SET total_recipients = \$1`).WithArgs(1, "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE campaigns SET status = \$1`).WithArgs("sending", "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/campaigns/c1/send", nil))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSendCampaignConflict(t *testing.T) {
	h, mock := setupAPI(t)

	mock.ExpectQuery(`FROM campaigns WHERE id = \$1`).WithArgs("c1").WillReturnRows(apiCampaignRows("sending"))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/campaigns/c1/send", nil))

	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rr.Code)
	}
}

func TestPauseCampaignConflict(t *testing.T) {
	h, mock := setupAPI(t)

	mock.ExpectQuery(`FROM campaigns WHERE id = \$1`).WithArgs("c1").WillReturnRows(apiCampaignRows("draft"))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/campaigns/c1/pause", nil))

	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rr.Code)
	}
}

func TestQueueStats(t *testing.T) {
	h, _ := setupAPI(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/queue/stats", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var stats queue.Stats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Waiting != 0 || stats.Active != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
