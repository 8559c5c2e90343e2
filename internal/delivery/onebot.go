package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ErlanBelekov/df-notifier/internal/domain"
)

// OneBot sends messages through a OneBot v11 HTTP API (go-cqhttp, NapCat,
// Lagrange and similar adapters).
type OneBot struct {
	baseURL     string
	accessToken string
	http        *http.Client
	logger      *slog.Logger
}

func NewOneBot(baseURL, accessToken string, timeout time.Duration, logger *slog.Logger) *OneBot {
	return &OneBot{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		http:        &http.Client{Timeout: timeout},
		logger:      logger.With("component", "onebot"),
	}
}

type segment struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

type sendMsgRequest struct {
	MessageType string    `json:"message_type"`
	GroupID     int64     `json:"group_id,omitempty"`
	UserID      int64     `json:"user_id,omitempty"`
	Message     []segment `json:"message"`
}

type sendMsgResponse struct {
	Status  string `json:"status"`
	RetCode int    `json:"retcode"`
	Message string `json:"message"`
	Wording string `json:"wording"`
}

func (o *OneBot) Deliver(ctx context.Context, target domain.Target, msg domain.Message) error {
	id, err := strconv.ParseInt(target.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: onebot ids are numeric, got %q", domain.ErrInvalidTarget, target.ID)
	}

	req := sendMsgRequest{MessageType: string(target.Type), Message: segments(target, msg)}
	if target.Type == domain.TargetGroup {
		req.GroupID = id
	} else {
		req.UserID = id
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal send_msg: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/send_msg", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send_msg request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.accessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.accessToken)
	}

	resp, err := o.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send_msg: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send_msg: http %d", resp.StatusCode)
	}

	var out sendMsgResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode send_msg response: %w", err)
	}
	if out.RetCode != 0 || (out.Status != "" && out.Status != "ok") {
		reason := out.Wording
		if reason == "" {
			reason = out.Message
		}
		return fmt.Errorf("send_msg rejected (retcode %d): %s", out.RetCode, reason)
	}

	o.logger.DebugContext(ctx, "message sent", "target", target.Session())
	return nil
}

// segments builds the message chain: an optional mention in groups, then the
// image if present, otherwise the text.
func segments(target domain.Target, msg domain.Message) []segment {
	var out []segment
	text := msg.Text
	if msg.MentionUserID != "" && target.Type == domain.TargetGroup {
		out = append(out, segment{Type: "at", Data: map[string]string{"qq": msg.MentionUserID}})
		text = " " + text
	}
	if len(msg.Image) > 0 {
		return append(out, segment{Type: "image", Data: map[string]string{
			"file": "base64://" + base64.StdEncoding.EncodeToString(msg.Image),
		}})
	}
	return append(out, segment{Type: "text", Data: map[string]string{"text": text}})
}
