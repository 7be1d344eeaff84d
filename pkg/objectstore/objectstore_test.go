package objectstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldservice/pkg/config"
)

func validConfig() config.ObjectStoreConfig {
	return config.ObjectStoreConfig{
		Endpoint:   "localhost:9000",
		AccessKey:  "minio",
		SecretKey:  "minio123",
		Region:     "us-east-1",
		Bucket:     "documents",
		PresignTTL: time.Hour,
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))

	cfg := validConfig()
	cfg.Endpoint = "http://localhost:9000"
	assert.Error(t, Validate(cfg))

	cfg = validConfig()
	cfg.Bucket = " "
	assert.Error(t, Validate(cfg))
}

func TestNew_DisabledIsNil(t *testing.T) {
	s, err := New(config.ObjectStoreConfig{})
	require.NoError(t, err)
	assert.Nil(t, s)

	assert.ErrorIs(t, s.Put(context.Background(), "k", strings.NewReader("x"), 1, "text/plain"), ErrDisabled)
	_, _, err = s.PresignGet(context.Background(), "k", "a.pdf")
	assert.ErrorIs(t, err, ErrDisabled)
}

// Presigning is computed locally and needs no server.
func TestPresignGet(t *testing.T) {
	s, err := New(validConfig())
	require.NoError(t, err)
	require.NotNil(t, s)

	u, exp, err := s.PresignGet(context.Background(), "sale/abc/report.pdf", "SA-000001.pdf")
	require.NoError(t, err)
	assert.Contains(t, u, "http://localhost:9000/documents/sale/abc/report.pdf")
	assert.Contains(t, u, "X-Amz-Expires=3600")
	assert.Contains(t, u, "response-content-disposition")
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)
}
