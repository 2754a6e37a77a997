package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	NUM_USERS        = 100
	MESSAGES_PER_SEC = 1
	SIMULATION_TIME  = 30 // seconds
	BASE_URL         = "http://localhost:8080"
	WS_URL           = "ws://localhost:8080/ws"
	BATCH_SIZE       = 20 // number of users to register in parallel

	ADMIN_EMAIL    = "admin@local.dev"
	ADMIN_PASSWORD = "admin123"
)

type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Token     string `json:"-"`
}

type loginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type sendFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversationId"`
	Body           string `json:"body"`
	ReplyToID      *int64 `json:"replyToId"`
}

type inboundFrame struct {
	Type    string `json:"type"`
	Message struct {
		ID       int64  `json:"id"`
		Body     string `json:"body"`
		SenderID int64  `json:"sender_id"`
	} `json:"message"`
}

type Stats struct {
	sync.Mutex
	sent            int64
	received        int64
	failed          int64
	deliveryLatency []time.Duration // send -> own echo frame observed
}

func (s *Stats) recordSent() {
	s.Lock()
	defer s.Unlock()
	s.sent++
}

func (s *Stats) recordReceived() {
	s.Lock()
	defer s.Unlock()
	s.received++
}

func (s *Stats) recordError() {
	s.Lock()
	defer s.Unlock()
	s.failed++
}

func (s *Stats) recordDelivery(latency time.Duration) {
	s.Lock()
	defer s.Unlock()
	s.deliveryLatency = append(s.deliveryLatency, latency)
}

func (s *Stats) percentile(p float64) time.Duration {
	s.Lock()
	defer s.Unlock()

	if len(s.deliveryLatency) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(s.deliveryLatency))
	copy(sorted, s.deliveryLatency)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func registerUser(id int) (*User, error) {
	payload := map[string]string{
		"first_name": fmt.Sprintf("Load%d", id),
		"last_name":  "Test",
		"email":      fmt.Sprintf("loadtest_%d_%d@example.com", time.Now().Unix(), id),
		"password":   "testpass123",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := http.Post(BASE_URL+"/api/auth/register", "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("registration failed with status: %d", resp.StatusCode)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, err
	}

	// The register response sets the cookie; grab the token from it.
	for _, cookie := range resp.Cookies() {
		if cookie.Name == "auth_token" {
			user.Token = cookie.Value
		}
	}
	if user.Token == "" {
		return nil, fmt.Errorf("no auth cookie in register response")
	}

	return &user, nil
}

func login(email, password string) (*User, error) {
	payload := map[string]string{"email": email, "password": password}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := http.Post(BASE_URL+"/api/auth/login", "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login failed with status: %d", resp.StatusCode)
	}

	var result loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	result.User.Token = result.Token
	return &result.User, nil
}

func createGroup(admin *User, name string, memberIDs []int64) (int64, error) {
	payload := map[string]interface{}{
		"name":      name,
		"memberIds": memberIDs,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequest("POST", BASE_URL+"/api/admin/groups", bytes.NewBuffer(jsonData))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: "auth_token", Value: admin.Token})

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("group creation failed with status: %d", resp.StatusCode)
	}

	var conv struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return 0, err
	}
	return conv.ID, nil
}

// simulateUser opens one WebSocket connection, drives send_message traffic at
// the configured rate, and measures how long each message takes to come back
// on the sender's own connection.
func simulateUser(user *User, conversationID int64, wg *sync.WaitGroup, stats *Stats) {
	defer wg.Done()

	header := http.Header{}
	header.Set("Cookie", "auth_token="+user.Token)

	conn, _, err := websocket.DefaultDialer.Dial(WS_URL, header)
	if err != nil {
		stats.recordError()
		log.Printf("User %d failed to connect: %v", user.ID, err)
		return
	}
	defer conn.Close()

	var pending sync.Map // body -> send time

	// Reader: count deliveries and resolve echo latencies.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame inboundFrame
			if err := json.Unmarshal(raw, &frame); err != nil || frame.Type != "new_message" {
				continue
			}
			stats.recordReceived()
			if frame.Message.SenderID == user.ID {
				if start, ok := pending.LoadAndDelete(frame.Message.Body); ok {
					stats.recordDelivery(time.Since(start.(time.Time)))
				}
			}
		}
	}()

	ticker := time.NewTicker(time.Second / MESSAGES_PER_SEC)
	defer ticker.Stop()

	endTime := time.Now().Add(SIMULATION_TIME * time.Second)
	seq := 0

	for time.Now().Before(endTime) {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		seq++
		body := fmt.Sprintf("msg %d from user %d", seq, user.ID)
		frame := sendFrame{Type: "send_message", ConversationID: conversationID, Body: body}

		pending.Store(body, time.Now())
		if err := conn.WriteJSON(frame); err != nil {
			stats.recordError()
			log.Printf("User %d failed to send: %v", user.ID, err)
			return
		}
		stats.recordSent()
	}

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	<-done
}

func registerUsersInParallel() ([]*User, error) {
	users := make([]*User, NUM_USERS)
	errChan := make(chan error, NUM_USERS)
	var wg sync.WaitGroup

	for start := 0; start < NUM_USERS; start += BATCH_SIZE {
		end := start + BATCH_SIZE
		if end > NUM_USERS {
			end = NUM_USERS
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				user, err := registerUser(i)
				if err != nil {
					errChan <- fmt.Errorf("failed to register user %d: %v", i, err)
					continue
				}
				users[i] = user
			}
		}(start, end)
	}

	wg.Wait()
	close(errChan)
	for err := range errChan {
		log.Printf("%v", err)
	}

	registered := make([]*User, 0, NUM_USERS)
	for _, user := range users {
		if user != nil {
			registered = append(registered, user)
		}
	}
	if len(registered) == 0 {
		return nil, fmt.Errorf("no users registered")
	}
	return registered, nil
}

func main() {
	log.Printf("Registering %d users...", NUM_USERS)
	users, err := registerUsersInParallel()
	if err != nil {
		log.Fatalf("Registration failed: %v", err)
	}
	log.Printf("Registered %d users", len(users))

	admin, err := login(ADMIN_EMAIL, ADMIN_PASSWORD)
	if err != nil {
		log.Fatalf("Admin login failed: %v", err)
	}

	memberIDs := make([]int64, 0, len(users))
	for _, user := range users {
		memberIDs = append(memberIDs, user.ID)
	}
	conversationID, err := createGroup(admin, fmt.Sprintf("LoadTest %d", time.Now().Unix()), memberIDs)
	if err != nil {
		log.Fatalf("Group creation failed: %v", err)
	}
	log.Printf("Created group conversation %d with %d members", conversationID, len(memberIDs))

	stats := &Stats{}
	var wg sync.WaitGroup
	start := time.Now()

	for _, user := range users {
		wg.Add(1)
		go simulateUser(user, conversationID, &wg, stats)
	}
	wg.Wait()

	duration := time.Since(start)

	stats.Lock()
	sent, received, failed := stats.sent, stats.received, stats.failed
	stats.Unlock()

	log.Printf("Load test completed in %v", duration)
	log.Printf("Messages sent:     %d (%.1f/sec)", sent, float64(sent)/duration.Seconds())
	log.Printf("Frames received:   %d (%.1f/sec)", received, float64(received)/duration.Seconds())
	log.Printf("Errors:            %d", failed)
	log.Printf("Echo latency p50:  %v", stats.percentile(0.50))
	log.Printf("Echo latency p99:  %v", stats.percentile(0.99))
}
