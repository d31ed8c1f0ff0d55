package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmco/mcf-sub003/internal/auth"
	"github.com/lmco/mcf-sub003/internal/models"
	"github.com/lmco/mcf-sub003/internal/store"
	"github.com/lmco/mcf-sub003/internal/store/memstore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// seedUser inserts a user document into the store.
func seedUser(t *testing.T, s store.Store, u *models.User) {
	t.Helper()
	u.StampCreate(u.Username, time.Now())
	require.NoError(t, s.InsertMany(t.Context(), models.KindUser, []models.Entity{u}))
}

func sessionToken(t *testing.T, username string) string {
	t.Helper()
	token, err := auth.GenerateJWT(username, username+"@example.com", time.Hour)
	require.NoError(t, err)
	return token
}

// newAuthRouter builds a router whose only route echoes the resolved identity.
func newAuthRouter(s store.Store) *gin.Engine {
	r := gin.New()
	r.Use(AuthMiddleware(s))
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"username": c.GetString(ContextUsername)})
	})
	return r
}

// authGet performs GET / with the given Authorization header value. An empty
// value leaves the header unset.
func authGet(r *gin.Engine, authorization string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddlewareRejectsBadCredentials(t *testing.T) {
	r := newAuthRouter(memstore.New())

	tests := []struct {
		name          string
		authorization string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc123"},
		{"bare scheme", "Bearer"},
		{"blank token", "Bearer   "},
		{"no scheme", "token-without-scheme"},
		{"not a jwt", "Bearer not-a-jwt"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := authGet(r, tc.authorization)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestAuthMiddlewareUnknownUser(t *testing.T) {
	// A valid token naming a deleted user must not authenticate.
	w := authGet(newAuthRouter(memstore.New()), "Bearer "+sessionToken(t, "ghost"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "User not found")
}

func TestAuthMiddlewareValidToken(t *testing.T) {
	s := memstore.New()
	seedUser(t, s, &models.User{Username: "jdoe", Email: "jdoe@example.com"})

	w := authGet(newAuthRouter(s), "Bearer "+sessionToken(t, "jdoe"))

	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	assert.JSONEq(t, `{"username":"jdoe"}`, w.Body.String())
}

func TestAuthMiddlewareArchivedUser(t *testing.T) {
	s := memstore.New()
	u := &models.User{Username: "jdoe"}
	u.SetArchived(true, "admin", time.Now())
	seedUser(t, s, u)

	w := authGet(newAuthRouter(s), "Bearer "+sessionToken(t, "jdoe"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "archived")
}

func TestAuthMiddlewareStoreFailure(t *testing.T) {
	w := authGet(newAuthRouter(errStore{}), "Bearer "+sessionToken(t, "jdoe"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAuthMiddlewarePublishesUserDocument(t *testing.T) {
	s := memstore.New()
	seedUser(t, s, &models.User{Username: "admin", Admin: true})

	var got *models.User
	r := gin.New()
	r.Use(AuthMiddleware(s))
	r.GET("/", func(c *gin.Context) {
		got = RequestUser(c)
		c.Status(http.StatusOK)
	})

	authGet(r, "Bearer "+sessionToken(t, "admin"))

	require.NotNil(t, got, "RequestUser returned nil for authenticated request")
	assert.True(t, got.Admin, "resolved user document lost the admin flag")
}

func TestOptionalAuthMiddleware(t *testing.T) {
	s := memstore.New()
	seedUser(t, s, &models.User{Username: "jdoe"})

	var got *models.User
	r := gin.New()
	r.Use(OptionalAuthMiddleware(s))
	r.GET("/", func(c *gin.Context) {
		got = RequestUser(c)
		c.Status(http.StatusOK)
	})

	t.Run("no token passes anonymously", func(t *testing.T) {
		got = nil
		w := authGet(r, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Nil(t, got)
	})

	t.Run("invalid token passes anonymously", func(t *testing.T) {
		got = nil
		w := authGet(r, "Bearer garbage")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Nil(t, got)
	})

	t.Run("valid token resolves the user", func(t *testing.T) {
		got = nil
		w := authGet(r, "Bearer "+sessionToken(t, "jdoe"))
		assert.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, got)
		assert.Equal(t, "jdoe", got.Username)
	})

	t.Run("token for unknown user passes anonymously", func(t *testing.T) {
		got = nil
		w := authGet(r, "Bearer "+sessionToken(t, "ghost"))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Nil(t, got)
	})
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"Bearer  abc ", "abc", true},
		{"Bearer ", "", false},
		{"bearer abc", "", false},
		{"Basic abc", "", false},
		{"", "", false},
	}

	for _, tc := range tests {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			c.Request.Header.Set("Authorization", tc.header)
		}

		got, ok := bearerToken(c)
		assert.Equal(t, tc.want, got, "header %q", tc.header)
		assert.Equal(t, tc.ok, ok, "header %q", tc.header)
	}
}

// errStore fails every operation; used to exercise 500 paths.
type errStore struct{}

var errStoreDown = errors.New("store down")

func (errStore) Find(context.Context, models.Kind, store.Query, store.FindOptions) ([]models.Entity, error) {
	return nil, errStoreDown
}
func (errStore) FindOne(context.Context, models.Kind, string) (models.Entity, error) {
	return nil, errStoreDown
}
func (errStore) InsertMany(context.Context, models.Kind, []models.Entity) error {
	return errStoreDown
}
func (errStore) BulkWrite(context.Context, models.Kind, []models.Entity) (store.BulkResult, error) {
	return store.BulkResult{}, errStoreDown
}
func (errStore) DeleteMany(context.Context, models.Kind, store.Query) (int64, error) {
	return 0, errStoreDown
}
func (errStore) Count(context.Context, models.Kind, store.Query) (int64, error) {
	return 0, errStoreDown
}
