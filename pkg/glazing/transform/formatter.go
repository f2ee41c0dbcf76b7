// Package transform renders transcript messages for terminal output with
// user-supplied jq expressions.
package transform

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing"
	"github.com/itchyny/gojq"
	"go.uber.org/zap"
)

// DefaultQuery prefixes each message with its author.
const DefaultQuery = `(if .is_user then "you" else "bot" end) + "> " + .text`

// MessageFormatter applies a compiled jq query to messages. The query sees
// the message as an object with id, text, is_user, author and timestamp
// fields, and the connection endpoint as $endpoint.
//
// Each result becomes one output line: strings are printed as-is, anything
// else is JSON encoded. A query that produces nothing suppresses the message.
type MessageFormatter struct {
	query  string
	code   *gojq.Code
	logger *zap.Logger
}

func NewMessageFormatter(query string, logger *zap.Logger) (*MessageFormatter, error) {
	if strings.TrimSpace(query) == "" {
		query = DefaultQuery
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JQ query '%s': %w", query, err)
	}
	code, err := gojq.Compile(parsed, gojq.WithVariables([]string{"$endpoint"}))
	if err != nil {
		return nil, fmt.Errorf("failed to compile JQ query '%s': %w", query, err)
	}

	return &MessageFormatter{query: query, code: code, logger: logger}, nil
}

func (f *MessageFormatter) Query() string {
	return f.query
}

// Format renders msg. The second return value is false when the query
// produced no output.
func (f *MessageFormatter) Format(msg glazing.Message, endpoint string) (string, bool, error) {
	iter := f.code.Run(messageInput(msg), endpoint)

	var lines []string
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if haltErr, isHalt := err.(*gojq.HaltError); isHalt && haltErr.Value() == nil {
				break
			}
			f.logger.Debug("JQ format failed", zap.String("jq_query", f.query), zap.String("message_id", msg.ID), zap.Error(err))
			return "", false, fmt.Errorf("failed to format message: %w", err)
		}

		switch value := v.(type) {
		case string:
			lines = append(lines, value)
		default:
			data, err := json.Marshal(value)
			if err != nil {
				return "", false, fmt.Errorf("failed to encode JQ result: %w", err)
			}
			lines = append(lines, string(data))
		}
	}

	if len(lines) == 0 {
		return "", false, nil
	}
	return strings.Join(lines, "\n"), true, nil
}

func messageInput(msg glazing.Message) map[string]any {
	author := "bot"
	if msg.IsUser {
		author = "you"
	}
	return map[string]any{
		"id":        msg.ID,
		"text":      msg.Text,
		"is_user":   msg.IsUser,
		"author":    author,
		"timestamp": msg.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}
