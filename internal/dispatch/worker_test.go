package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/relay/internal/personalize"
	"github.com/ignite/relay/internal/queue"
	"github.com/ignite/relay/internal/store"
	"github.com/ignite/relay/internal/transport"
)

// fakeTransport returns a scripted result per send.
type fakeTransport struct {
	err   error
	sends []*transport.Message
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Send(ctx context.Context, msg *transport.Message) (*transport.Result, error) {
	f.sends = append(f.sends, msg)
	if f.err != nil {
		return nil, f.err
	}
	return &transport.Result{MessageID: "m1", Provider: "fake", SentAt: time.Now()}, nil
}

func setupPool(t *testing.T, sender transport.Transport) (*Pool, sqlmock.Sqlmock) {
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
	q := queue.New(client, 60, 3, 2*time.Second)
	svc := NewService(st, q)
	renderer := personalize.NewRenderer("https://mail.example.com")
	pool := NewPool(st, q, sender, renderer, svc, DefaultPoolConfig())
	return pool, mock
}

func campaignRows(status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "name", "subject", "from_name", "from_email", "html_body", "text_body", "status",
		"total_recipients", "sent_count", "opened_count", "clicked_count", "bounced_count",
		"unsubscribed_count", "scheduled_at", "created_at", "updated_at",
	}).AddRow("c1", "Launch", "Hi {{first_name}}", "Acme", "news@acme.io",
		"<body><p>Hello {{first_name}}</p></body>", "", status, 2, 0, 0, 0, 0, 0, nil, now, now)
}

func contactRows(status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "email", "first_name", "last_name", "status", "created_at"}).
		AddRow("k1", "ann@example.com", "Ann", "Lee", status, time.Now())
}

func testJob() *queue.Job {
	return &queue.Job{
		ID:          "j1",
		CampaignID:  "c1",
		RecipientID: "r1",
		ContactID:   "k1",
		TrackingID:  "t1",
	}
}

func TestProcessDeliversAndCommits(t *testing.T) {
	sender := &fakeTransport{}
	pool, mock := setupPool(t, sender)

	mock.ExpectQuery(`FROM campaigns WHERE id = \$1`).WithArgs("c1").WillReturnRows(campaignRows("sending"))
	mock.ExpectQuery(`FROM contacts WHERE id = \$1`).WithArgs("k1").WillReturnRows(contactRows("active"))
	mock.ExpectExec(`UPDATE campaign_recipients SET status = 'sent'`).WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE campaigns SET sent_count = sent_count \+ \$1`).WithArgs(1, "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := pool.process(context.Background(), testJob()); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(sender.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(sender.sends))
	}
	msg := sender.sends[0]
	if msg.To != "ann@example.com" {
		t.Errorf("to = %s", msg.To)
	}
	if msg.Subject != "Hi Ann" {
		t.Errorf("subject = %q, want %q", msg.Subject, "Hi Ann")
	}
	if msg.Headers["List-Unsubscribe"] == "" {
		t.Error("missing List-Unsubscribe header")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestProcessCampaignUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		setup func(sqlmock.Sqlmock)
	}{
		{"paused campaign", func(m sqlmock.Sqlmock) {
			m.ExpectQuery(`FROM campaigns WHERE id = \$1`).WithArgs("c1").WillReturnRows(campaignRows("paused"))
		}},
		{"missing campaign", func(m sqlmock.Sqlmock) {
			m.ExpectQuery(`FROM campaigns WHERE id = \$1`).WithArgs("c1").WillReturnError(sql.ErrNoRows)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeTransport{}
			pool, mock := setupPool(t, sender)
			tt.setup(mock)

			err := pool.process(context.Background(), testJob())
			if !errors.Is(err, ErrCampaignUnavailable) {
				t.Errorf("err = %v, want ErrCampaignUnavailable", err)
			}
			if len(sender.sends) != 0 {
				t.Errorf("transport called %d times for unavailable campaign", len(sender.sends))
			}
		})
	}
}

func TestProcessContactInactive(t *testing.T) {
	for _, status := range []string{"unsubscribed", "bounced"} {
		t.Run(status, func(t *testing.T) {
			sender := &fakeTransport{}
			pool, mock := setupPool(t, sender)

			mock.ExpectQuery(`FROM campaigns WHERE id = \$1`).WithArgs("c1").WillReturnRows(campaignRows("sending"))
			mock.ExpectQuery(`FROM contacts WHERE id = \$1`).WithArgs("k1").WillReturnRows(contactRows(status))

			err := pool.process(context.Background(), testJob())
			if !errors.Is(err, ErrContactInactive) {
				t.Errorf("err = %v, want ErrContactInactive", err)
			}
			if len(sender.sends) != 0 {
				t.Error("transport called for inactive contact")
			}
		})
	}
}

func TestProcessBounceSuppressesContact(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"structured permanent error", &transport.DeliveryError{
			Provider: "smtp", StatusCode: 550, Message: "mailbox unavailable", Permanent: true}},
		{"substring sniff", errors.New("provider said: recipient address invalid")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeTransport{err: tt.err}
			pool, mock := setupPool(t, sender)

			mock.ExpectQuery(`FROM campaigns WHERE id = \$1`).WithArgs("c1").WillReturnRows(campaignRows("sending"))
			mock.ExpectQuery(`FROM contacts WHERE id = \$1`).WithArgs("k1").WillReturnRows(contactRows("active"))
			mock.ExpectExec(`UPDATE campaign_recipients SET status = 'bounced'`).
				WithArgs(sqlmock.AnyArg(), "r1").WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectExec(`UPDATE contacts SET status = \$1`).WithArgs("bounced", "k1").
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectExec(`UPDATE campaigns SET bounced_count = bounced_count \+ \$1`).WithArgs(1, "c1").
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := pool.process(context.Background(), testJob())
			if err == nil {
				t.Fatal("expected error")
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestProcessTransientFailure(t *testing.T) {
	sender := &fakeTransport{err: errors.New("connection refused")}
	pool, mock := setupPool(t, sender)

	mock.ExpectQuery(`FROM campaigns WHERE id = \$1`).WithArgs("c1").WillReturnRows(campaignRows("sending"))
	mock.ExpectQuery(`FROM contacts WHERE id = \$1`).WithArgs("k1").WillReturnRows(contactRows("active"))
	mock.ExpectExec(`UPDATE campaign_recipients SET status = 'failed'`).
		WithArgs(sqlmock.AnyArg(), "r1").WillReturnResult(sqlmock.NewResult(0, 1))

	err := pool.process(context.Background(), testJob())
	if err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestIsBounce(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"permanent delivery error", &transport.DeliveryError{Permanent: true}, true},
		{"transient delivery error", &transport.DeliveryError{StatusCode: 429}, false},
		{"bounce substring", errors.New("hard bounce detected"), true},
		{"invalid substring", errors.New("Invalid recipient"), true},
		{"plain timeout", errors.New("i/o timeout"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isBounce(tt.err); got != tt.want {
				t.Errorf("isBounce(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPoolStartStop(t *testing.T) {
	pool, _ := setupPool(t, &fakeTransport{})

	if err := pool.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := pool.Start(); err == nil {
		t.Error("second Start should fail")
	}
	pool.Stop()
	// Stop again is a no-op.
	pool.Stop()
}
