package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestConnFromContext_Nil(t *testing.T) {
	conn := ConnFromContext(context.Background())
	if conn != nil {
		t.Error("expected nil conn from empty context")
	}
}

func TestConnFromContext_WithValue(t *testing.T) {
	// Verify ConnFromContext returns nil for wrong type in context
	ctx := context.WithValue(context.Background(), DBConnKey, "not-a-conn")
	conn := ConnFromContext(ctx)
	if conn != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestTxFromContext_Nil(t *testing.T) {
	tx := TxFromContext(context.Background())
	if tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	tx := TxFromContext(ctx)
	if tx != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestWithTx_NoConnection(t *testing.T) {
	ctx := context.Background()
	_, _, err := WithTx(ctx)
	if err == nil {
		t.Fatal("expected error when no connection in context")
	}
	if err.Error() != "no database connection in context" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
}

func TestNewTxManager_DefaultAttempts(t *testing.T) {
	m := NewTxManager(nil, 0)
	if m.maxAttempts != DefaultTxAttempts {
		t.Errorf("expected %d attempts, got %d", DefaultTxAttempts, m.maxAttempts)
	}
	m = NewTxManager(nil, 5)
	if m.maxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", m.maxAttempts)
	}
}

func TestPgErrorClassification(t *testing.T) {
	exclusion := fmt.Errorf("insert: %w", &pgconn.PgError{Code: CodeExclusionViolation, ConstraintName: "availability_no_overlap"})
	name, ok := IsExclusionViolation(exclusion)
	if !ok {
		t.Fatal("expected exclusion violation")
	}
	if name != "availability_no_overlap" {
		t.Errorf("expected constraint availability_no_overlap, got %q", name)
	}

	fk := &pgconn.PgError{Code: CodeForeignKeyViolation, ConstraintName: "appointment_patient_id_fkey"}
	name, ok = IsForeignKeyViolation(fk)
	if !ok || name != "appointment_patient_id_fkey" {
		t.Errorf("expected fk violation on appointment_patient_id_fkey, got %q %v", name, ok)
	}
	if _, ok := IsExclusionViolation(fk); ok {
		t.Error("fk violation must not classify as exclusion")
	}

	if !IsCheckViolation(&pgconn.PgError{Code: CodeCheckViolation}) {
		t.Error("expected check violation")
	}

	if !IsSerializationFailure(fmt.Errorf("commit: %w", &pgconn.PgError{Code: CodeSerializationFailure})) {
		t.Error("expected serialization failure")
	}
	if !IsSerializationFailure(&pgconn.PgError{Code: CodeDeadlockDetected}) {
		t.Error("expected deadlock to be retryable")
	}
	if IsSerializationFailure(errors.New("boom")) {
		t.Error("plain error must not be retryable")
	}
}

func TestRunOnce_NoConnection(t *testing.T) {
	called := false
	err := runOnce(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("expected error without connection")
	}
	if called {
		t.Error("fn must not run without a transaction")
	}
}

type fakeTx struct{ pgx.Tx }

func TestInTx_JoinsExistingTransaction(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, fakeTx{})
	m := NewTxManager(nil, 0)

	calls := 0
	err := m.InTx(ctx, func(inner context.Context) error {
		calls++
		if TxFromContext(inner) == nil {
			t.Error("expected the outer transaction to be visible")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected fn to run once, ran %d times", calls)
	}
}
