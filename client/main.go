// Command client is an interactive terminal client for the websocket
// gateway. Lines are sent to the current channel; /help lists commands.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"github.com/mahaj/dupahar-support/pkg/auth"
	"github.com/mahaj/dupahar-support/pkg/model"
	"github.com/mahaj/dupahar-support/pkg/realtime"
)

const help = `commands:
  /channel <id>      switch the channel lines are sent to
  /join <id>         subscribe to a channel
  /leave <id>        unsubscribe from a channel
  /typing, /stop     send typing indicators
  /read <id> ...     mark messages read
  /quit`

func login(apiAddr string, req auth.LoginRequest) (string, error) {
	body, _ := json.Marshal(req)
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", b)
	}
	var out auth.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// incoming covers both events and replies.
type incoming struct {
	model.Event
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}

func render(in incoming) string {
	switch string(in.Type) {
	case realtime.ReplyAck:
		if in.Message != nil {
			return fmt.Sprintf("[sent #%d seq %d]", in.Message.ID, in.Message.Seq)
		}
		return "[ok " + in.RequestID + "]"
	case realtime.ReplyError:
		return fmt.Sprintf("[error %s] %s", in.Code, in.Error)
	}
	switch {
	case in.Type == model.EventNewMessage && in.Message != nil:
		return fmt.Sprintf("%s #%d %s: %s", in.ChannelID, in.Message.Seq, in.Message.SenderID, in.Message.Content)
	case in.Type == model.EventTyping:
		return fmt.Sprintf("%s: %s is typing...", in.ChannelID, in.UserID)
	case in.Type == model.EventStopTyping:
		return ""
	case in.Type == model.EventChannelStatusChanged && in.Channel != nil:
		return fmt.Sprintf("%s is now %s", in.ChannelID, in.Channel.Status)
	case in.Type == model.EventTicketEscalated:
		return fmt.Sprintf("%s escalated: %s", in.ChannelID, in.Reason)
	case in.Type == model.EventChannelCreated && in.Channel != nil:
		return fmt.Sprintf("%s opened (%s)", in.ChannelID, in.Channel.Type)
	case in.Type == model.EventChannelAssigned:
		return fmt.Sprintf("%s assigned to %s", in.ChannelID, in.AssigneeID)
	case in.Type == model.EventMessagesRead:
		return fmt.Sprintf("%s: %s read %v", in.ChannelID, in.UserID, in.MessageIDs)
	}
	return fmt.Sprintf("%+v", in)
}

// parse turns an input line into a frame for current. ok is false for lines
// that send nothing.
func parse(line, current string, seq int) (f realtime.Frame, next string, ok bool, err error) {
	next = current
	f.RequestID = strconv.Itoa(seq)
	fields := strings.Fields(line)
	if !strings.HasPrefix(line, "/") {
		if current == "" {
			return f, next, false, fmt.Errorf("no channel selected; use /channel <id>")
		}
		f.Type, f.ChannelID, f.Content = realtime.FrameSendMessage, current, line
		return f, next, true, nil
	}

	arg := func() (string, error) {
		if len(fields) < 2 {
			return "", fmt.Errorf("%s needs a channel id", fields[0])
		}
		return fields[1], nil
	}
	switch fields[0] {
	case "/channel":
		id, err := arg()
		return f, id, false, err
	case "/join", "/leave":
		id, err := arg()
		if err != nil {
			return f, next, false, err
		}
		f.Type, f.ChannelID = realtime.FrameJoinChannel, id
		if fields[0] == "/leave" {
			f.Type = realtime.FrameLeaveChannel
		}
		return f, next, true, nil
	case "/typing", "/stop":
		f.Type, f.ChannelID = realtime.FrameTyping, current
		if fields[0] == "/stop" {
			f.Type = realtime.FrameStopTyping
		}
		return f, next, true, nil
	case "/read":
		for _, s := range fields[1:] {
			id, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return f, next, false, fmt.Errorf("bad message id %q", s)
			}
			f.MessageIDs = append(f.MessageIDs, id)
		}
		f.Type, f.ChannelID = realtime.FrameMarkRead, current
		return f, next, true, nil
	}
	return f, next, false, fmt.Errorf("unknown command %s\n%s", fields[0], help)
}

func main() {
	gatewayAddr := pflag.String("addr", "localhost:8080", "gateway address")
	apiAddr := pflag.String("api", "http://localhost:8081", "api address")
	userID := pflag.String("user", "user1", "user id")
	tenantID := pflag.String("tenant", "tenant-1", "tenant id")
	role := pflag.String("role", string(model.RoleParticipant), "role to log in with")
	channelID := pflag.String("channel", "", "channel to send to")
	pflag.Parse()

	token, err := login(*apiAddr, auth.LoginRequest{UserID: *userID, TenantID: *tenantID, Role: model.Role(*role)})
	if err != nil {
		log.Fatal(err)
	}

	u := url.URL{Scheme: "ws", Host: *gatewayAddr, Path: "/ws"}
	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()
	log.Printf("connected to %s as %s", u.String(), *userID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var in incoming
			if err := c.ReadJSON(&in); err != nil {
				log.Println("read:", err)
				return
			}
			if line := render(in); line != "" {
				fmt.Printf("\r%s\n> ", line)
			}
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go func() {
		current := *channelID
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for seq := 1; scanner.Scan(); seq++ {
			line := strings.TrimSpace(scanner.Text())
			switch line {
			case "":
				fmt.Print("> ")
				continue
			case "/quit":
				interrupt <- os.Interrupt
				return
			case "/help":
				fmt.Print(help, "\n> ")
				continue
			}
			f, next, ok, err := parse(line, current, seq)
			current = next
			if err != nil {
				fmt.Printf("%v\n> ", err)
				continue
			}
			if ok {
				if err := c.WriteJSON(f); err != nil {
					log.Println("write:", err)
					return
				}
			}
			fmt.Print("> ")
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			log.Println("write close:", err)
			return
		}
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}
