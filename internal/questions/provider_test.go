package questions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/trivia-game/internal/config"
)

// newTestProvider 创建指向测试服务器的题库客户端
func newTestProvider(t *testing.T, handler http.HandlerFunc) (*HTTPProvider, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider := NewHTTPProvider(&config.QuestionsConfig{
		BaseURL:    server.URL,
		Timeout:    2 * time.Second,
		RetryTimes: 2,
	})
	return provider, server
}

// apiPayload 构造题库服务响应体
func apiPayload(code int, count int) apiResponse {
	results := make([]apiResult, 0, count)
	for i := 0; i < count; i++ {
		results = append(results, apiResult{
			Category:         "General Knowledge",
			Type:             "multiple",
			Difficulty:       "medium",
			Question:         "What is 2 &plus; 2?",
			CorrectAnswer:    "4",
			IncorrectAnswers: []string{"3", "5", "22"},
		})
	}
	return apiResponse{ResponseCode: code, Results: results}
}

// TestFetchSuccess 测试正常取题
func TestFetchSuccess(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("amount"))
		assert.Equal(t, "multiple", r.URL.Query().Get("type"))
		json.NewEncoder(w).Encode(apiPayload(0, 10))
	})

	qs, err := provider.Fetch(context.Background(), 10, Options{})
	require.NoError(t, err)
	require.Len(t, qs, 10)

	q := qs[0]
	// HTML实体已解码
	assert.Equal(t, "What is 2 + 2?", q.Text)
	assert.Len(t, q.Options, 4)
	// 正确答案索引指向打乱后的正确选项
	assert.Equal(t, "4", q.Options[q.CorrectIndex])
}

// TestFetchPassesFilters 测试过滤参数透传
func TestFetchPassesFilters(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "9", r.URL.Query().Get("category"))
		assert.Equal(t, "hard", r.URL.Query().Get("difficulty"))
		json.NewEncoder(w).Encode(apiPayload(0, 5))
	})

	qs, err := provider.Fetch(context.Background(), 5, Options{Category: "9", Difficulty: "hard"})
	require.NoError(t, err)
	assert.Len(t, qs, 5)
}

// TestFetchFilteredShortageFails 测试过滤条件下题目不足直接报错，不降级
func TestFetchFilteredShortageFails(t *testing.T) {
	var calls int
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		// 过滤条件下无结果
		json.NewEncoder(w).Encode(apiPayload(1, 0))
	})

	_, err := provider.Fetch(context.Background(), 10, Options{Difficulty: "hard"})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

// TestFetchConcurrent 测试多房间同时取题
func TestFetchConcurrent(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apiPayload(0, 10))
	})

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			qs, err := provider.Fetch(context.Background(), 10, Options{})
			if err == nil && len(qs) != 10 {
				err = fmt.Errorf("got %d questions", len(qs))
			}
			errs[n] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
}

// TestFetchInsufficient 测试无过滤仍不足时报错
func TestFetchInsufficient(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apiPayload(0, 3))
	})

	_, err := provider.Fetch(context.Background(), 10, Options{})
	require.Error(t, err)
}

// TestFetchRetriesOnServerError 测试服务端错误重试
func TestFetchRetriesOnServerError(t *testing.T) {
	var calls int
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(apiPayload(0, 10))
	})

	qs, err := provider.Fetch(context.Background(), 10, Options{})
	require.NoError(t, err)
	assert.Len(t, qs, 10)
	assert.Equal(t, 2, calls)
}
