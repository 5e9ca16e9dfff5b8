package main

import (
	"testing"
	"time"

	"github.com/hoken/service-manager/internal/circuitbreaker"
	"github.com/hoken/service-manager/internal/config"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildNotifiers(t *testing.T) {
	logger, _ := test.NewNullLogger()
	breakers := circuitbreaker.NewManager(logger)

	cfg := config.Config{
		SMTPHost:              "smtp.hoken.com.br",
		SMTPPort:              587,
		SMTPFrom:              "os@hoken.com.br",
		SMTPTo:                []string{"ops@hoken.com.br"},
		WebhookURL:            "https://hooks.example.com/os",
		WebhookMaxFailures:    3,
		WebhookBreakerTimeout: time.Minute,
	}

	notifiers := buildNotifiers(cfg, breakers, logger)
	require.Len(t, notifiers, 2)
	assert.Equal(t, "email", notifiers[0].Name())
	assert.Equal(t, "webhook", notifiers[1].Name())
	assert.NotNil(t, breakers.Get("webhook"))
}

func TestBuildNotifiersSkipsUnconfigured(t *testing.T) {
	logger, _ := test.NewNullLogger()
	breakers := circuitbreaker.NewManager(logger)

	notifiers := buildNotifiers(config.Config{SMTPHost: "smtp.hoken.com.br"}, breakers, logger)
	assert.Empty(t, notifiers)
	assert.Nil(t, breakers.Get("webhook"))
}
