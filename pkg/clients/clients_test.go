package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/verdantops/verdant-events/pkg/errors"
)

func TestCatalogGetService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/services/23":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":23,"name":"Lawn Mowing","specialty_id":7,"base_price":"45.50","active":true}`))
		case "/api/v1/services/99":
			http.NotFound(w, r)
		case "/api/v1/services/41":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":41,"name":"Hedge Trimming","specialty_id":9,"base_price":"60.00","active":false}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	client, err := NewCatalogClient(srv.URL, time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	info, err := client.GetService(ctx, 23)
	require.NoError(t, err)
	assert.Equal(t, "Lawn Mowing", info.Name)
	assert.Equal(t, int64(7), info.SpecialtyID)
	assert.True(t, info.BasePrice.Equal(decimal.RequireFromString("45.50")))

	_, err = client.GetService(ctx, 99)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
	assert.False(t, pkgerrors.Retryable(err))

	// Retired services count as missing.
	_, err = client.GetService(ctx, 41)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	_, err = client.GetService(ctx, 7)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())
	assert.True(t, pkgerrors.Retryable(err))
}

func TestCatalogTimeoutIsDependencyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client, err := NewCatalogClient(srv.URL, 20*time.Millisecond)
	require.NoError(t, err)

	_, err = client.GetService(context.Background(), 23)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())
	assert.True(t, pkgerrors.Retryable(err))
}

func TestUserGetClient(t *testing.T) {
	activeID := uuid.New()
	inactiveID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/clients/" + activeID.String():
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"` + activeID.String() + `","name":"R. Greenwood","email":"rg@example.com","active":true}`))
		case "/api/v1/clients/" + inactiveID.String():
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"` + inactiveID.String() + `","name":"Closed Account","email":"x@example.com","active":false}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := NewUserClient(srv.URL, time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	info, err := client.GetClient(ctx, activeID)
	require.NoError(t, err)
	assert.Equal(t, activeID, info.ID)

	_, err = client.GetClient(ctx, inactiveID)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	_, err = client.GetClient(ctx, uuid.New())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	_, err = client.GetClient(ctx, uuid.Nil)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestClientConstructorsRequireBaseURL(t *testing.T) {
	_, err := NewCatalogClient("  ", time.Second)
	assert.Error(t, err)
	_, err = NewUserClient("", time.Second)
	assert.Error(t, err)
}
