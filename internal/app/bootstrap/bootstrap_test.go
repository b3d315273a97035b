package bootstrap

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/appraisal-booking/internal/analytics"
	"github.com/wolfman30/appraisal-booking/internal/branches"
	appconfig "github.com/wolfman30/appraisal-booking/internal/config"
	"github.com/wolfman30/appraisal-booking/internal/messaging"
	"github.com/wolfman30/appraisal-booking/internal/notify"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

func TestBuildRedisClient(t *testing.T) {
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, logging.Discard(), true))

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logging.Discard(), true)
	require.NotNil(t, client)
	defer client.Close()
	assert.NoError(t, RedisPinger{Client: client}.Ping(context.Background()))

	addr := mr.Addr()
	mr.Close()
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: addr}, logging.Discard(), true))
}

func TestOpenDatabase_EmptyURL(t *testing.T) {
	db, err := OpenDatabase(context.Background(), &appconfig.Config{})
	require.NoError(t, err)
	assert.Nil(t, db)
}

func TestBuildMessenger_FallsBackOutsideProduction(t *testing.T) {
	m, provider, reason := BuildMessenger(&appconfig.Config{Env: "development", SMSProvider: "auto"}, nil, logging.Discard())
	require.NotNil(t, m)
	assert.Equal(t, messaging.SMSProviderLog, provider)
	assert.NotEmpty(t, reason)

	m, _, reason = BuildMessenger(&appconfig.Config{Env: "production", SMSProvider: "auto"}, nil, logging.Discard())
	assert.Nil(t, m)
	assert.Contains(t, reason, "TELNYX_API_KEY missing")
}

func TestBuildEmailSender(t *testing.T) {
	sender := BuildEmailSender(&appconfig.Config{EmailProvider: "sendgrid"}, nil, logging.Discard())
	assert.IsType(t, &notify.StubEmailSender{}, sender)

	sender = BuildEmailSender(&appconfig.Config{EmailProvider: "sendgrid", SendGridAPIKey: "key", SendGridFromEmail: "ops@example.com"}, nil, logging.Discard())
	assert.IsType(t, &notify.SendGridSender{}, sender)
}

func TestBuildAnalyticsQueue(t *testing.T) {
	q, err := BuildAnalyticsQueue(&appconfig.Config{UseMemoryQueue: true}, nil)
	require.NoError(t, err)
	assert.IsType(t, &analytics.MemoryQueue{}, q)

	_, err = BuildAnalyticsQueue(&appconfig.Config{}, nil)
	assert.Error(t, err)
}

func TestBuildDirectory(t *testing.T) {
	_, err := BuildDirectory(&appconfig.Config{}, nil, logging.Discard())
	assert.Error(t, err)

	dir, err := BuildDirectory(&appconfig.Config{BranchDirectoryBaseURL: "http://directory.local"}, nil, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &branches.Client{}, dir)

	mr := miniredis.RunT(t)
	rdb := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logging.Discard(), false)
	defer rdb.Close()
	dir, err = BuildDirectory(&appconfig.Config{BranchDirectoryBaseURL: "http://directory.local", BranchCacheTTL: 1}, rdb, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &branches.CachedDirectory{}, dir)
}
