package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davexpro/recoverd/internal/conn"
	"github.com/davexpro/recoverd/internal/model"
)

func testInfo() *conn.Info {
	return &conn.Info{ID: "primary", Host: "127.0.0.1", Port: 3306, User: "root"}
}

func TestVerifier_AllProbesPass(t *testing.T) {
	exec := &fakeExec{}
	v := NewVerifier(exec, zerolog.Nop())
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	v.SetNow(func() time.Time { return now })

	result := v.Verify(context.Background(), testInfo(), "shop", []string{"schema", "tables", "table:orders"})

	assert.Equal(t, model.VerificationPassed, result.Status)
	assert.Equal(t, 3, result.ObjectCount)
	assert.Equal(t, 3, result.VerifiedObjects)
	assert.Empty(t, result.Errors)
	assert.True(t, result.Timestamp.Equal(now))
}

func TestVerifier_ProbeErrorFailsVerdict(t *testing.T) {
	exec := &fakeExec{failMatch: "CHECK TABLE", failErr: errors.New("corrupt page")}
	v := NewVerifier(exec, zerolog.Nop())

	result := v.Verify(context.Background(), testInfo(), "shop", []string{"schema", "table:orders", "tables"})

	assert.Equal(t, model.VerificationFailed, result.Status)
	assert.Equal(t, 3, result.ObjectCount)
	assert.Equal(t, 2, result.VerifiedObjects)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "table:orders")
}

func TestVerifier_InterruptedContextIsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := NewVerifier(&fakeExec{}, zerolog.Nop())
	result := v.Verify(ctx, testInfo(), "shop", []string{"schema", "tables"})

	assert.Equal(t, model.VerificationPartial, result.Status)
	assert.Equal(t, 2, result.ObjectCount)
	assert.Equal(t, 0, result.VerifiedObjects)
	assert.Empty(t, result.Errors)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "interrupted")
}

func TestVerifier_EmptyObjectListPasses(t *testing.T) {
	v := NewVerifier(&fakeExec{}, zerolog.Nop())
	result := v.Verify(context.Background(), testInfo(), "shop", nil)

	assert.Equal(t, model.VerificationPassed, result.Status)
	assert.Equal(t, 0, result.ObjectCount)
}

func TestProbeStatement_Mapping(t *testing.T) {
	assert.Equal(t, "CHECK TABLE `shop`.`orders`", probeStatement("shop", "table:orders"))
	assert.Equal(t, "SHOW CREATE DATABASE `shop`", probeStatement("shop", "schema"))
	assert.Contains(t, probeStatement("shop", "indexes"), "information_schema.statistics")
	assert.Contains(t, probeStatement("shop", "constraints"), "table_constraints")
	assert.Contains(t, probeStatement("shop", "views"), "information_schema.views")
	assert.Equal(t, "SELECT 1", probeStatement("shop", "state:2024-06-01T11:30:00Z"))
}
