package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"crisisfeed/models"
	"crisisfeed/realtime"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	RESTPath     = "/rest/v1/posts"
	RealtimePath = "/realtime/v1"
	APIKeyHeader = "apikey"
)

// Remote talks to a running backend over HTTP and receives changes over
// its websocket channel.
type Remote struct {
	base   *url.URL
	apiKey string
	client *http.Client
	dialer *websocket.Dialer
	log    *zap.Logger
}

// NewRemote validates the credentials once. A missing url or key makes the
// gateway unusable for the session.
func NewRemote(baseURL, apiKey string, log *zap.Logger) (*Remote, error) {
	if strings.TrimSpace(baseURL) == "" || strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingCredentials
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid gateway url %q", baseURL)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Remote{
		base:   u,
		apiKey: apiKey,
		client: &http.Client{Timeout: 15 * time.Second},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    log,
	}, nil
}

func (r *Remote) FetchAll(ctx context.Context) ([]models.Post, error) {
	var posts []models.Post
	if err := r.do(ctx, http.MethodGet, RESTPath, nil, &posts); err != nil {
		return nil, err
	}
	if posts == nil {
		posts = []models.Post{}
	}
	return posts, nil
}

func (r *Remote) Insert(ctx context.Context, p models.Post) (models.Post, error) {
	var row models.Post
	if err := r.do(ctx, http.MethodPost, RESTPath, p, &row); err != nil {
		return models.Post{}, err
	}
	return row, nil
}

func (r *Remote) UpdateLikes(ctx context.Context, postID string, likes models.Likes) error {
	body := struct {
		Likes models.Likes `json:"likes"`
	}{likes}
	return r.do(ctx, http.MethodPatch, postPath(postID)+"/likes", body, nil)
}

func (r *Remote) UpdateComments(ctx context.Context, postID string, comments []models.Comment) error {
	if comments == nil {
		comments = []models.Comment{}
	}
	body := struct {
		Comments []models.Comment `json:"comments"`
	}{comments}
	return r.do(ctx, http.MethodPatch, postPath(postID)+"/comments", body, nil)
}

func (r *Remote) DeleteRow(ctx context.Context, postID string) error {
	return r.do(ctx, http.MethodDelete, postPath(postID), nil, nil)
}

func postPath(id string) string {
	return RESTPath + "/" + url.PathEscape(id)
}

type errorBody struct {
	Error string `json:"error"`
}

func (r *Remote) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.base.String()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set(APIKeyHeader, r.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&eb)
		switch resp.StatusCode {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusConflict:
			return ErrConflict
		}
		if eb.Error == "" {
			eb.Error = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, eb.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return nil
}

// Subscribe opens the websocket channel and dispatches events from a
// background goroutine until unsubscribe is called or the connection drops.
// A dropped connection is logged, not re-dialled. unsubscribe waits for the
// reader to exit, so it must not be called from inside a handler.
func (r *Remote) Subscribe(ctx context.Context, h Handlers) (func(), error) {
	wsURL := *r.base
	if wsURL.Scheme == "https" {
		wsURL.Scheme = "wss"
	} else {
		wsURL.Scheme = "ws"
	}
	wsURL.Path += RealtimePath

	header := http.Header{}
	header.Set(APIKeyHeader, r.apiKey)
	conn, resp, err := r.dialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime dial: %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime dial: %w", err)
	}

	var (
		closing bool
		mu      sync.Mutex
		done    = make(chan struct{})
	)
	go func() {
		defer close(done)
		for {
			var ev realtime.Event
			if err := conn.ReadJSON(&ev); err != nil {
				mu.Lock()
				expected := closing
				mu.Unlock()
				if !expected && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					r.log.Warn("realtime_subscription_lost", zap.Error(err))
				}
				return
			}
			r.log.Debug("realtime_event", zap.String("type", string(ev.Type)))
			Dispatch(h, ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			mu.Lock()
			closing = true
			mu.Unlock()
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
			<-done
		})
	}, nil
}
