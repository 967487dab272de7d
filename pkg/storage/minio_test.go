package storage

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
)

func TestMapMinioError(t *testing.T) {
	notFound := minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."}
	assert.ErrorIs(t, mapMinioError(notFound), ErrObjectNotFound)

	other := mapMinioError(errors.New("connection reset"))
	assert.False(t, errors.Is(other, ErrObjectNotFound))
	assert.Contains(t, other.Error(), "connection reset")
}
