package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	appconfig "github.com/wolfman30/appraisal-booking/internal/config"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

func TestRunRejectsMemoryQueue(t *testing.T) {
	err := run(context.Background(), &appconfig.Config{UseMemoryQueue: true}, logging.Discard())
	assert.ErrorContains(t, err, "USE_MEMORY_QUEUE")
}

func TestRunRequiresDatabase(t *testing.T) {
	cfg := &appconfig.Config{AWSRegion: "us-east-1", AWSAccessKeyID: "test", AWSSecretAccessKey: "test"}
	err := run(context.Background(), cfg, logging.Discard())
	assert.EqualError(t, err, "DATABASE_URL is required")
}
