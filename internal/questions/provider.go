package questions

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/wfunc/trivia-game/internal/config"
	apperrors "github.com/wfunc/trivia-game/internal/errors"
	"github.com/wfunc/trivia-game/internal/logger"
	"go.uber.org/zap"
)

// Question 题目（含正确答案，仅服务端持有）
type Question struct {
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	Category     string   `json:"category"`
	Difficulty   string   `json:"difficulty"` // easy, medium, hard
}

// Options 取题过滤条件（零值表示不过滤）
type Options struct {
	Category   string
	Difficulty string
}

// Provider 题库提供方接口
type Provider interface {
	// Fetch 按过滤条件获取count道题，不足即返回错误
	Fetch(ctx context.Context, count int, opts Options) ([]Question, error)
}

// apiResponse 题库服务响应
type apiResponse struct {
	ResponseCode int         `json:"response_code"`
	Results      []apiResult `json:"results"`
}

// apiResult 题库服务单题
type apiResult struct {
	Category         string   `json:"category"`
	Type             string   `json:"type"`
	Difficulty       string   `json:"difficulty"`
	Question         string   `json:"question"`
	CorrectAnswer    string   `json:"correct_answer"`
	IncorrectAnswers []string `json:"incorrect_answers"`
}

// 题库服务响应码
const (
	codeSuccess    = 0
	codeNoResults  = 1
	codeInvalidArg = 2
)

// HTTPProvider 基于HTTP题库服务的实现
type HTTPProvider struct {
	baseURL    string
	client     *http.Client
	retryTimes int
	rng        *rand.Rand
	rngMu      sync.Mutex // rand.Rand非并发安全，多房间同时取题
}

// NewHTTPProvider 创建HTTP题库客户端
func NewHTTPProvider(cfg *config.QuestionsConfig) *HTTPProvider {
	return &HTTPProvider{
		baseURL: cfg.BaseURL,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		retryTimes: cfg.RetryTimes,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Fetch 获取题目，过滤条件原样传递，结果不足直接报错
func (p *HTTPProvider) Fetch(ctx context.Context, count int, opts Options) ([]Question, error) {
	qs, err := p.fetchOnce(ctx, count, opts)
	if err != nil {
		return nil, err
	}
	if len(qs) < count {
		return nil, apperrors.Newf(apperrors.ErrQuestionSource, "题目不足: 需要%d道，实际%d道", count, len(qs))
	}
	return qs[:count], nil
}

// fetchOnce 单次请求（带网络错误重试）
func (p *HTTPProvider) fetchOnce(ctx context.Context, count int, opts Options) ([]Question, error) {
	reqURL, err := p.buildURL(count, opts)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrQuestionSource)
	}

	var lastErr error
	attempts := p.retryTimes
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, apperrors.Wrap(ctx.Err(), apperrors.ErrQuestionSource)
			case <-time.After(time.Duration(i) * 500 * time.Millisecond):
			}
		}

		qs, err := p.doRequest(ctx, reqURL)
		if err == nil {
			return qs, nil
		}
		lastErr = err

		if !apperrors.IsRetryable(err) {
			break
		}
		logger.Warn("题库请求失败，准备重试",
			zap.Int("attempt", i+1),
			zap.Error(err),
		)
	}

	return nil, lastErr
}

// buildURL 构造请求URL
func (p *HTTPProvider) buildURL(count int, opts Options) (string, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("amount", fmt.Sprintf("%d", count))
	q.Set("type", "multiple")
	if opts.Category != "" {
		q.Set("category", opts.Category)
	}
	if opts.Difficulty != "" {
		q.Set("difficulty", opts.Difficulty)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// doRequest 执行请求并解析响应
func (p *HTTPProvider) doRequest(ctx context.Context, reqURL string) ([]Question, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrQuestionSource)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrQuestionSource, "题库服务请求失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Newf(apperrors.ErrQuestionSource, "题库服务返回 HTTP %d", resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrQuestionSource, "响应解析失败")
	}

	switch body.ResponseCode {
	case codeSuccess:
		// 正常
	case codeNoResults:
		return nil, nil
	default:
		return nil, apperrors.Newf(apperrors.ErrQuestionSource, "题库服务响应码 %d", body.ResponseCode)
	}

	questions := make([]Question, 0, len(body.Results))
	for _, r := range body.Results {
		questions = append(questions, p.convert(r))
	}
	return questions, nil
}

// convert 转换为内部题目格式（解码HTML实体并打乱选项顺序）
func (p *HTTPProvider) convert(r apiResult) Question {
	options := make([]string, 0, len(r.IncorrectAnswers)+1)
	options = append(options, html.UnescapeString(r.CorrectAnswer))
	for _, a := range r.IncorrectAnswers {
		options = append(options, html.UnescapeString(a))
	}

	correctIndex := 0
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	p.rng.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
		switch correctIndex {
		case i:
			correctIndex = j
		case j:
			correctIndex = i
		}
	})

	return Question{
		Text:         html.UnescapeString(r.Question),
		Options:      options,
		CorrectIndex: correctIndex,
		Category:     html.UnescapeString(r.Category),
		Difficulty:   r.Difficulty,
	}
}
