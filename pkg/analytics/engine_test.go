package analytics

import (
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

// testNow is the fixed clock used across the package tests.
var testNow = time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	engine := NewEngine(db,
		WithLogger(quietLogger()),
		WithClock(func() time.Time { return testNow }),
	)
	return engine, mock
}

func TestEngineDefaults(t *testing.T) {
	engine, _ := newTestEngine(t)

	assert.Equal(t, Defaults{Months: 12, Sensitivity: 2.0}, engine.Defaults())
	assert.Equal(t, 12, engine.months(0))
	assert.Equal(t, 3, engine.months(3))
	assert.Equal(t, 2.0, engine.sensitivity(-1))

	engine.SetDefaults(Defaults{Months: 6, Sensitivity: 3})
	assert.Equal(t, 6, engine.months(-5))
	assert.Equal(t, 3.0, engine.sensitivity(0))
	assert.Equal(t, 1.5, engine.sensitivity(1.5))

	engine.SetDefaults(Defaults{})
	assert.Equal(t, Defaults{Months: DefaultMonths, Sensitivity: DefaultSensitivity}, engine.Defaults())
}

func TestNumericScan(t *testing.T) {
	tests := []struct {
		src  interface{}
		want float64
	}{
		{nil, 0},
		{"1250.50", 1250.5},
		{[]byte("42.25"), 42.25},
		{" 7 ", 7},
		{"", 0},
		{int64(3), 3},
		{float64(1.5), 1.5},
	}
	for _, tt := range tests {
		var n numeric
		if err := n.Scan(tt.src); err != nil {
			t.Errorf("Scan(%v) failed: %v", tt.src, err)
			continue
		}
		if n.float() != tt.want {
			t.Errorf("Scan(%v) = %v, want %v", tt.src, n.float(), tt.want)
		}
	}

	var n numeric
	assert.Error(t, n.Scan("abc"))
	assert.Error(t, n.Scan(true))
}

func TestMonthWindow(t *testing.T) {
	start, periods := monthWindow(testNow, 12)

	assert.Equal(t, time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Len(t, periods, 12)
	assert.Equal(t, "2025-04", periods[0])
	assert.Equal(t, "2026-03", periods[11])

	_, periods = monthWindow(time.Date(2026, time.January, 31, 23, 0, 0, 0, time.UTC), 2)
	assert.Equal(t, []string{"2025-12", "2026-01"}, periods)
}

func TestErrors(t *testing.T) {
	nf := &NotFoundError{Entity: EntityContact, ID: "abc"}
	assert.ErrorIs(t, nf, ErrNotFound)
	assert.Equal(t, "contact abc not found", nf.Error())

	cause := io.ErrUnexpectedEOF
	err := failure("donation metrics", cause)
	assert.Equal(t, "failed to retrieve donation metrics", err.Error())
	assert.ErrorIs(t, err, cause)

	assert.Same(t, nf, failure("contact analytics", nf))

	in := invalidInput("bad %s", "thing")
	assert.Equal(t, in, failure("x", in))
	assert.ErrorIs(t, in, ErrInvalidInput)
}
