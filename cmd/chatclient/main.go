// Command chatclient posts a query to /chat and prints the relayed events as
// they arrive.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"

	"chat-stt-gateway/internal/models"
	"chat-stt-gateway/internal/service/relay"
)

type relayed struct {
	Event          string `json:"event"`
	ConversationID string `json:"conversation_id"`
	AnswerPart     string `json:"answer_part"`
	FinalAnswer    string `json:"final_answer"`
	RawData        string `json:"raw_data"`
	Error          string `json:"error"`
}

func main() {
	serverURL := flag.String("server", "http://localhost:8000", "Gateway base URL")
	query := flag.String("query", "你好", "Question to send")
	conversation := flag.String("conversation", "", "Conversation id to continue")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	body, _ := json.Marshal(models.ChatRequest{Query: *query, ConversationID: *conversation})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *serverURL+"/chat", bytes.NewReader(body))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Fatal().Err(err).Msg("Request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		logger.Fatal().Int("status", resp.StatusCode).Str("body", string(msg)).Msg("Chat rejected")
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		kind, payload := relay.Classify(sc.Text())
		if kind != relay.LineData {
			continue
		}
		var ev relayed
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			logger.Warn().Err(err).Str("payload", payload).Msg("Undecodable event")
			continue
		}
		switch ev.Event {
		case relay.KindMessage:
			fmt.Print(ev.AnswerPart)
		case relay.KindWorkflowStarted:
			logger.Info().Str("conversationId", ev.ConversationID).Msg("Workflow started")
		case relay.KindWorkflowFinished:
			fmt.Println()
			logger.Info().Str("conversationId", ev.ConversationID).Int("answerChars", len([]rune(ev.FinalAnswer))).Msg("Workflow finished")
		case relay.KindRaw:
			logger.Warn().Str("raw", ev.RawData).Msg("Raw event")
		case relay.KindError:
			logger.Error().Str("error", ev.Error).Msg("Stream failed")
		default:
			logger.Debug().Str("event", ev.Event).Msg("Event")
		}
	}
	if err := sc.Err(); err != nil {
		logger.Error().Err(err).Msg("Read failed")
	}
}
