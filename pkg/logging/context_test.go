package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetLogFields(ctx))

	ctx = WithRunID(ctx, "run-1")
	ctx = WithExtractorID(ctx, "FI_TRANSACTIONS")
	ctx = WithObjectID(ctx, "GL_BALANCE")

	assert.Equal(t, []interface{}{
		"run_id", "run-1",
		"extractor_id", "FI_TRANSACTIONS",
		"object_id", "GL_BALANCE",
	}, GetLogFields(ctx))
	assert.Equal(t, "run-1", GetRunID(ctx))
	assert.Equal(t, "", GetServiceName(ctx))
}

func TestEarlyLogPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := &EarlyLog{out: &buf, prefix: "forensic-service"}
	l.Warn("missing %s", "profile")
	l.Error("config %d", 2)
	assert.Equal(t, "WARN [forensic-service] missing profile\nERROR [forensic-service] config 2\n", buf.String())

	buf.Reset()
	(&EarlyLog{out: &buf}).Info("ready")
	assert.Equal(t, "INFO: ready\n", buf.String())
}
