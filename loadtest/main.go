package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	baseURL   string
	pairCount int
	msgCount  int
	pageSize  int
)

type AuthResponse struct {
	Token string `json:"access_token"`
	ID    int    `json:"id"`
}

type ConversationResponse struct {
	ID int64 `json:"conversation_id"`
}

type historyPage struct {
	Messages []struct {
		ID int64 `json:"id"`
	} `json:"messages"`
	Complete bool `json:"complete"`
}

type stats struct {
	sent      atomic.Int64
	pages     atomic.Int64
	paged     atomic.Int64
	pageNanos atomic.Int64
	failures  atomic.Int64
}

var cmd = &cobra.Command{
	Use:   "loadtest",
	Short: "send messages over websockets, then page the history back",
	RunE: func(*cobra.Command, []string) error {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer logger.Sync()

		logger.Info("starting stress test",
			zap.Int("users", pairCount*2),
			zap.Int("messages_per_user", msgCount),
		)
		var (
			wg sync.WaitGroup
			st stats
		)
		// User 0 talks to user 1, user 2 talks to user 3, ...
		for i := 0; i < pairCount; i++ {
			wg.Add(1)
			go func(pairID int) {
				defer wg.Done()
				runPair(logger, &st, pairID)
			}(i)
		}
		wg.Wait()

		var avg time.Duration
		if n := st.pages.Load(); n > 0 {
			avg = time.Duration(st.pageNanos.Load() / n)
		}
		logger.Info("load test complete",
			zap.Int64("sent", st.sent.Load()),
			zap.Int64("pages", st.pages.Load()),
			zap.Int64("paged_messages", st.paged.Load()),
			zap.Duration("avg_page_latency", avg),
			zap.Int64("failures", st.failures.Load()),
		)
		return nil
	},
}

func init() {
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost", "server base URL")
	cmd.Flags().IntVar(&pairCount, "pairs", 50, "number of conversations")
	cmd.Flags().IntVar(&msgCount, "messages", 20, "messages sent by each user")
	cmd.Flags().IntVar(&pageSize, "page-size", 25, "history page size")
}

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runPair(logger *zap.Logger, st *stats, pairID int) {
	userA := fmt.Sprintf("u_%d_a", pairID)
	userB := fmt.Sprintf("u_%d_b", pairID)
	pass := "password123"

	a, errA := authenticate(userA, pass)
	b, errB := authenticate(userB, pass)
	if errA != nil || errB != nil {
		logger.Warn("auth failed", zap.Int("pair", pairID), zap.Errors("errors", []error{errA, errB}))
		st.failures.Add(1)
		return
	}

	convID, err := createConversation(a.Token, b.ID)
	if err != nil {
		logger.Warn("create conversation failed", zap.Int("pair", pairID), zap.Error(err))
		st.failures.Add(1)
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go spamChat(logger, st, &wsWg, a.Token, convID, userA)
	go spamChat(logger, st, &wsWg, b.Token, convID, userB)
	wsWg.Wait()

	// The first walk fills the server cache, the second is served from it.
	for range 2 {
		if err := pageHistory(st, a.Token, convID); err != nil {
			logger.Warn("history paging failed", zap.Int64("conversation", convID), zap.Error(err))
			st.failures.Add(1)
			return
		}
	}
}

// authenticate registers (ignoring an existing user) and logs in.
func authenticate(username, password string) (*AuthResponse, error) {
	creds := map[string]string{"username": username, "password": password}
	if resp, err := postJSON("/register", "", creds); err == nil {
		resp.Body.Close()
	}

	resp, err := postJSON("/login", "", creds)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login %s: %s", username, resp.Status)
	}
	var data AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

func createConversation(token string, peerID int) (int64, error) {
	resp, err := postJSON("/api/conversations", token, map[string]int{"user_id": peerID})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("create conversation: %s", resp.Status)
	}
	var data ConversationResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return 0, err
	}
	return data.ID, nil
}

func spamChat(logger *zap.Logger, st *stats, wg *sync.WaitGroup, token string, convID int64, user string) {
	defer wg.Done()

	wsURL := strings.Replace(baseURL, "http", "ws", 1) + "/ws?" + url.Values{
		"token":   {token},
		"chat_id": {fmt.Sprint(convID)},
	}.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		logger.Warn("websocket connect failed", zap.String("user", user), zap.Error(err))
		st.failures.Add(1)
		return
	}
	defer conn.Close()

	for i := 0; i < msgCount; i++ {
		msg := map[string]string{"content": fmt.Sprintf("LoadTest Msg %d from %s", i, user)}
		if err := conn.WriteJSON(msg); err != nil {
			logger.Warn("send failed", zap.String("user", user), zap.Error(err))
			st.failures.Add(1)
			break
		}
		st.sent.Add(1)
		// Simulate a real network.
		time.Sleep(10 * time.Millisecond)
	}
	logger.Debug("finished sending", zap.String("user", user), zap.Int("messages", msgCount))
}

// pageHistory walks a conversation from the newest message to the first.
func pageHistory(st *stats, token string, convID int64) error {
	var from int64
	for {
		q := url.Values{"limit": {fmt.Sprint(pageSize)}}
		if from != 0 {
			q.Set("from", fmt.Sprint(from))
		}
		req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/api/chats/%d/messages/?%s", baseURL, convID, q.Encode()), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		start := time.Now()
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		var page historyPage
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return err
		}
		st.pageNanos.Add(int64(time.Since(start)))
		st.pages.Add(1)
		st.paged.Add(int64(len(page.Messages)))

		if page.Complete || len(page.Messages) == 0 {
			return nil
		}
		from = page.Messages[len(page.Messages)-1].ID
	}
}

func postJSON(endpoint, token string, data any) (*http.Response, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultClient.Do(req)
}
