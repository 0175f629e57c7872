package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"

	"github.com/ctfleet/ctfleet/internal/model"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db, DialectSQLite), mock
}

func TestGetLogNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT log_name, log_url, category, tree_size, active FROM ct_logs").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := s.GetLog(context.Background(), "missing")
	if err != ErrNotFound {
		t.Fatalf("GetLog() err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetLogFound(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"log_name", "log_url", "category", "tree_size", "active"}).
		AddRow("argon2024", "https://ct.example/argon2024/", "google", int64(1000), true)
	mock.ExpectQuery("SELECT log_name, log_url, category, tree_size, active FROM ct_logs").
		WithArgs("argon2024").
		WillReturnRows(rows)

	got, err := s.GetLog(context.Background(), "argon2024")
	if err != nil {
		t.Fatalf("GetLog() error = %v", err)
	}
	want := model.CtLog{LogName: "argon2024", LogURL: "https://ct.example/argon2024/", Category: "google", TreeSize: 1000, Active: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("GetLog() mismatch (-want +got):\n%s", diff)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertCertOneDuplicate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO certs").
		WillReturnError(&fakeDriverErr{"UNIQUE constraint failed: certs.issuer, certs.serial_number"})

	c := model.Certificate{
		Fingerprint: model.CertFingerprint{
			Issuer: "CN=Test CA", SerialNumber: "1",
			NotBefore: time.Now(), NotAfter: time.Now(),
			CommonName: "example.jp",
		},
	}
	err := s.InsertCertOne(context.Background(), c)
	if err != ErrDuplicate {
		t.Fatalf("InsertCertOne() err = %v, want ErrDuplicate", err)
	}
}

type fakeDriverErr struct{ msg string }

func (e *fakeDriverErr) Error() string { return e.msg }
