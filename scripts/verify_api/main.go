// Command verify_api walks a running API through the support lifecycle:
// create, message, escalate, resolve, reopen, archive. It needs
// AUTH_DEV_LOGIN on the server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/spf13/pflag"

	"github.com/mahaj/dupahar-support/pkg/auth"
	"github.com/mahaj/dupahar-support/pkg/model"
	"github.com/mahaj/dupahar-support/pkg/support"
)

var apiAddr = pflag.String("api", "http://localhost:8081", "api address")

func login(userID string, role model.Role) string {
	var out auth.LoginResponse
	call("", http.MethodPost, "/login", auth.LoginRequest{UserID: userID, TenantID: "verify-tenant", Role: role}, http.StatusOK, &out)
	return out.Token
}

// call performs one request and fails unless the status matches.
func call(token, method, path string, body any, want int, out any) {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, *apiAddr+path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		log.Fatalf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, want, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			log.Fatalf("%s %s: %v", method, path, err)
		}
	}
	log.Printf("%s %s -> %d", method, path, resp.StatusCode)
}

func main() {
	pflag.Parse()
	admin := login("verify-admin", model.RoleTenantAdmin)
	player := login("verify-player", model.RoleParticipant)

	var ch model.Channel
	call(admin, http.MethodPost, "/channels", support.CreateChannelInput{
		Type:         model.ChannelSupport,
		Participants: []support.ParticipantInput{{UserID: "verify-player"}},
		Ticket:       &support.TicketInput{Subject: "Prize not received", Category: model.CategoryTournamentIssue, Priority: model.PriorityHigh},
	}, http.StatusCreated, &ch)
	base := "/channels/" + ch.ID

	var msg model.Message
	call(player, http.MethodPost, base+"/messages", map[string]string{"content": "Hello"}, http.StatusCreated, &msg)
	call(player, http.MethodPost, base+"/escalate", map[string]string{"reason": "please"}, http.StatusForbidden, nil)

	for _, step := range []struct {
		path string
		body any
		want model.ChannelStatus
	}{
		{"/escalate", map[string]string{"reason": "Needs platform"}, model.StatusEscalated},
		{"/resolve", map[string]string{"note": "Refunded"}, model.StatusResolved},
		{"/reopen", nil, model.StatusActive},
		{"/archive", nil, model.StatusArchived},
	} {
		var got model.Channel
		call(admin, http.MethodPost, base+step.path, step.body, http.StatusOK, &got)
		if got.Status != step.want {
			log.Fatalf("%s: status %s, want %s", step.path, got.Status, step.want)
		}
	}
	call(player, http.MethodPost, base+"/messages", map[string]string{"content": "anyone?"}, http.StatusConflict, nil)

	var page struct {
		Messages []model.Message `json:"messages"`
	}
	call(player, http.MethodGet, base+"/messages", nil, http.StatusOK, &page)
	if len(page.Messages) != 1 || page.Messages[0].ID != msg.ID {
		log.Fatalf("history = %+v", page.Messages)
	}
	fmt.Println("lifecycle verified for channel", ch.ID)
}
