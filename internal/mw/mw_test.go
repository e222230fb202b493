package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimiter(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(rate.Limit(1), 2))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, "other clients have their own bucket")
}

func TestCache(t *testing.T) {
	calls := 0
	r := gin.New()
	r.GET("/data", Cache(cache.New(time.Minute, time.Minute), time.Minute), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})
	r.GET("/missing", Cache(cache.New(time.Minute, time.Minute), time.Minute), func(c *gin.Context) {
		calls++
		c.Status(http.StatusNotFound)
	})

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		r.ServeHTTP(w, req)
		return w
	}

	first := get("/data")
	second := get("/data")
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "HIT", second.Header().Get(CacheHeader))
	assert.Equal(t, 1, calls)

	get("/missing")
	get("/missing")
	assert.Equal(t, 3, calls, "errors are not cached")
}

func TestCache_KeysOnQueryString(t *testing.T) {
	r := gin.New()
	r.GET("/history", Cache(cache.New(time.Minute, time.Minute), time.Minute), func(c *gin.Context) {
		c.String(http.StatusOK, "from=%s", c.Query("from"))
	})

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req, err := http.NewRequest(http.MethodGet, path, nil)
		if err != nil {
			t.Fatal(err)
		}
		r.ServeHTTP(w, req)
		return w
	}

	ranged := get("/history?from=2024")
	full := get("/history")
	assert.Equal(t, "from=2024", ranged.Body.String())
	assert.Equal(t, "from=", full.Body.String())
	assert.Empty(t, full.Header().Get(CacheHeader))

	again := get("/history?from=2024")
	assert.Equal(t, "from=2024", again.Body.String())
	assert.Equal(t, "HIT", again.Header().Get(CacheHeader))
}
