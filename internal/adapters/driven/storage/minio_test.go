package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
)

func TestTranslateMinIOError(t *testing.T) {
	missing := minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."}
	assert.ErrorIs(t, translateMinIOError(missing, "owner-1/a.pdf"), domain.ErrNotFound)

	denied := minio.ErrorResponse{Code: "AccessDenied"}
	err := translateMinIOError(denied, "owner-1/a.pdf")
	assert.False(t, errors.Is(err, domain.ErrNotFound))
	assert.Contains(t, err.Error(), "owner-1/a.pdf")
}

func TestNewMinIOStorage_RequiresEndpoint(t *testing.T) {
	_, err := NewMinIOStorage(context.Background(), MinIOConfig{})
	assert.Error(t, err)
}
